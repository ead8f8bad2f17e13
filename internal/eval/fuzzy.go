package eval

import (
	"fmt"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/market"
)

// defaultFuzzyEps is the smoothing width used by comparison kernels when
// the caller does not override it via WithEps.
const defaultFuzzyEps = 1e-12

// defaultEpsGuard is the branch-selection threshold (spec §4.7): a truth
// degree this close to 1 or 0 takes the corresponding branch outright
// instead of paying for a full fuzzy blend. It is independent of the
// comparison kernels' configurable smoothing width; WithEpsGuard
// overrides it.
const defaultEpsGuard = 1e-12

// FuzzyEvaluator replaces Evaluator's hard branches with a smoothed blend
// (spec C11, §4.7), so discontinuous payoffs (indicators, digitals) stay
// differentiable through the AD tape. Truth degrees live on the same
// numeric stack as ordinary values rather than a separate stack: a degree
// in [0,1] is itself an ad.Scalar, so comparisons, logical combinators and
// plain numeric assignment all compose without a fifth stack.
type FuzzyEvaluator struct {
	variables []Value
	requests  []*market.EventRequest

	numeric []ad.Scalar
	boolean []bool
	strings []string
	arrays  [][]Value

	scenario     *market.Scenario
	currentEvent int

	isLHSVariable bool
	lhsVariable   *ast.Node

	eps      float64
	epsGuard float64

	nestedLvl int
	store0    [][]Value
	store1    [][]Value
}

// NewFuzzy returns a FuzzyEvaluator with a variable store of the given
// size and per-level backup stores pre-sized to maxNestedIfs (the
// if-processor's reported deepest nesting), so no allocation happens
// inside the evaluation loop.
func NewFuzzy(size, maxNestedIfs int, scenario *market.Scenario, requests []*market.EventRequest) *FuzzyEvaluator {
	store0 := make([][]Value, maxNestedIfs)
	store1 := make([][]Value, maxNestedIfs)
	for i := range store0 {
		store0[i] = make([]Value, size)
		store1[i] = make([]Value, size)
	}
	return &FuzzyEvaluator{
		variables: make([]Value, size),
		requests:  requests,
		scenario:  scenario,
		eps:       defaultFuzzyEps,
		epsGuard:  defaultEpsGuard,
		store0:    store0,
		store1:    store1,
	}
}

// WithEps overrides the comparison kernels' smoothing width.
func (e *FuzzyEvaluator) WithEps(eps float64) *FuzzyEvaluator {
	e.eps = eps
	return e
}

// WithEpsGuard overrides the branch-collapse threshold.
func (e *FuzzyEvaluator) WithEpsGuard(epsGuard float64) *FuzzyEvaluator {
	e.epsGuard = epsGuard
	return e
}

// Variables returns a copy of the final variable store, keyed by slot.
func (e *FuzzyEvaluator) Variables() []Value {
	out := make([]Value, len(e.variables))
	copy(out, e.variables)
	return out
}

// VariableAt returns the value at the given slot.
func (e *FuzzyEvaluator) VariableAt(idx int) Value { return e.variables[idx] }

// Results builds the name->value mapping, consulting the indexer's
// name->slot map.
func (e *FuzzyEvaluator) Results(names map[string]int) map[string]Value {
	out := make(map[string]Value, len(names))
	for name, idx := range names {
		out[name] = e.variables[idx]
	}
	return out
}

// VisitEvents advances the event cursor from 0 upward, evaluating each
// event's tree against the correspondingly-indexed scenario slot.
func (e *FuzzyEvaluator) VisitEvents(trees []*ast.Node) error {
	for i, tree := range trees {
		e.currentEvent = i
		if err := e.eval(tree); err != nil {
			return fmt.Errorf("fuzzy eval: event %d: %w", i, err)
		}
	}
	return nil
}

func (e *FuzzyEvaluator) pushNum(v ad.Scalar) { e.numeric = append(e.numeric, v) }
func (e *FuzzyEvaluator) popNum() (ad.Scalar, error) {
	n := len(e.numeric)
	if n == 0 {
		return nil, fmt.Errorf("fuzzy eval: numeric stack underflow")
	}
	v := e.numeric[n-1]
	e.numeric = e.numeric[:n-1]
	return v, nil
}

func (e *FuzzyEvaluator) pushStr(v string) { e.strings = append(e.strings, v) }
func (e *FuzzyEvaluator) popStr() (string, error) {
	n := len(e.strings)
	if n == 0 {
		return "", fmt.Errorf("fuzzy eval: string stack underflow")
	}
	v := e.strings[n-1]
	e.strings = e.strings[:n-1]
	return v, nil
}

func (e *FuzzyEvaluator) pushArr(v []Value) { e.arrays = append(e.arrays, v) }
func (e *FuzzyEvaluator) popArr() ([]Value, error) {
	n := len(e.arrays)
	if n == 0 {
		return nil, fmt.Errorf("fuzzy eval: array stack underflow")
	}
	v := e.arrays[n-1]
	e.arrays = e.arrays[:n-1]
	return v, nil
}

// popAssignable mirrors Evaluator.popAssignable: whichever of the stacks
// is non-empty at the point of assignment is the dynamic type assigned.
// Comparisons, logical combinators and True/False literals all push onto
// the numeric stack in this evaluator (True as 1, False as 0); the boolean
// stack is filled only when a Bool-valued variable or array element is
// read back through pushValue.
func (e *FuzzyEvaluator) popAssignable() (Value, error) {
	nonEmpty := 0
	if len(e.boolean) > 0 {
		nonEmpty++
	}
	if len(e.strings) > 0 {
		nonEmpty++
	}
	if len(e.arrays) > 0 {
		nonEmpty++
	}
	if len(e.numeric) > 0 {
		nonEmpty++
	}
	if nonEmpty != 1 {
		return Value{}, fmt.Errorf("fuzzy eval: ambiguous assignment, %d stacks non-empty", nonEmpty)
	}
	switch {
	case len(e.boolean) > 0:
		n := len(e.boolean)
		v := e.boolean[n-1]
		e.boolean = e.boolean[:n-1]
		return BoolOf(v), nil
	case len(e.strings) > 0:
		v, err := e.popStr()
		return StringOf(v), err
	case len(e.arrays) > 0:
		v, err := e.popArr()
		return ArrayOf(v), err
	default:
		v, err := e.popNum()
		return NumberOf(v), err
	}
}

func (e *FuzzyEvaluator) pushValue(v Value) {
	switch v.Kind {
	case Bool:
		e.boolean = append(e.boolean, v.Bool)
	case String:
		e.pushStr(v.Str)
	case Array:
		e.pushArr(v.Arr)
	case Number:
		e.pushNum(v.Num)
	}
}

func (e *FuzzyEvaluator) currentScenarioEvent() (*market.EventScenarioData, error) {
	if e.scenario == nil || e.currentEvent >= len(e.scenario.Events) {
		return nil, fmt.Errorf("fuzzy eval: no scenario data for event %d", e.currentEvent)
	}
	return &e.scenario.Events[e.currentEvent], nil
}

func (e *FuzzyEvaluator) eval(n *ast.Node) error {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case ast.Base:
		return e.evalChildren(n)
	case ast.Variable:
		return e.evalVariable(n)
	case ast.Constant:
		e.pushNum(ad.ScalarOf(n.ConstValue))
		return nil
	case ast.StringLit:
		e.pushStr(n.StrValue)
		return nil
	case ast.True:
		e.pushNum(ad.ScalarOf(1))
		return nil
	case ast.False:
		e.pushNum(ad.ScalarOf(0))
		return nil
	case ast.Spot:
		ev, err := e.currentScenarioEvent()
		if err != nil {
			return err
		}
		v, err := at(ev.Fxs, n.VarIndex, "Spot")
		if err != nil {
			return err
		}
		e.pushNum(v)
		return nil
	case ast.Df:
		ev, err := e.currentScenarioEvent()
		if err != nil {
			return err
		}
		v, err := at(ev.Dfs, n.VarIndex, "Df")
		if err != nil {
			return err
		}
		e.pushNum(v)
		return nil
	case ast.RateIndex:
		ev, err := e.currentScenarioEvent()
		if err != nil {
			return err
		}
		v, err := at(ev.Fwds, n.VarIndex, "RateIndex")
		if err != nil {
			return err
		}
		e.pushNum(v)
		return nil
	case ast.Pays:
		return e.evalPays(n)
	case ast.Assign:
		return e.evalAssign(n)
	case ast.Add, ast.Sub, ast.Mul, ast.Div:
		return e.evalArith(n)
	case ast.UnaryPlus:
		return e.eval(n.Children[0])
	case ast.UnaryMinus:
		if err := e.eval(n.Children[0]); err != nil {
			return err
		}
		v, err := e.popNum()
		if err != nil {
			return err
		}
		e.pushNum(v.Neg())
		return nil
	case ast.Min, ast.Max:
		return e.evalMinMax(n)
	case ast.Exp, ast.Ln, ast.Sqrt:
		return e.evalUnaryIntrinsic(n)
	case ast.Pow:
		return e.evalPow(n)
	case ast.Fif:
		return e.evalFif(n)
	case ast.Cvg:
		return e.evalCvg(n)
	case ast.Append:
		return e.evalAppend(n)
	case ast.Mean, ast.Std:
		return e.evalMeanStd(n)
	case ast.List:
		return e.evalList(n)
	case ast.Range:
		return e.evalRange(n)
	case ast.Index:
		return e.evalIndex(n)
	case ast.Equal, ast.NotEqual:
		return e.evalEquality(n)
	case ast.Superior, ast.Inferior, ast.SuperiorOrEqual, ast.InferiorOrEqual:
		return e.evalCompare(n)
	case ast.And, ast.Or:
		return e.evalLogical(n)
	case ast.Not:
		if err := e.eval(n.Children[0]); err != nil {
			return err
		}
		v, err := e.popNum()
		if err != nil {
			return err
		}
		e.pushNum(ad.CombineSub(ad.ScalarOf(1), v))
		return nil
	case ast.If:
		return e.evalIf(n)
	case ast.ForEach:
		return e.evalForEach(n)
	default:
		return fmt.Errorf("fuzzy eval: unsupported node kind %d", n.Kind)
	}
}

func (e *FuzzyEvaluator) evalChildren(n *ast.Node) error {
	for _, c := range n.Children {
		if err := e.eval(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *FuzzyEvaluator) evalVariable(n *ast.Node) error {
	if e.isLHSVariable {
		e.lhsVariable = n
		return nil
	}
	if n.VarIndex == ast.NoIndex {
		return fmt.Errorf("fuzzy eval: variable %q not indexed", n.Name)
	}
	v := e.variables[n.VarIndex]
	if v.Kind == Null {
		return fmt.Errorf("fuzzy eval: variable %q read before initialisation", n.Name)
	}
	e.pushValue(v)
	return nil
}

func (e *FuzzyEvaluator) evalAssign(n *ast.Node) error {
	e.isLHSVariable = true
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	e.isLHSVariable = false

	if err := e.eval(n.Children[1]); err != nil {
		return err
	}

	target := e.lhsVariable
	if target == nil || target.Kind != ast.Variable {
		return fmt.Errorf("fuzzy eval: invalid assignment target")
	}
	if target.VarIndex == ast.NoIndex {
		return fmt.Errorf("fuzzy eval: variable %q not indexed", target.Name)
	}
	v, err := e.popAssignable()
	if err != nil {
		return err
	}
	e.variables[target.VarIndex] = v
	return nil
}

func (e *FuzzyEvaluator) evalPays(n *ast.Node) error {
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	amount, err := e.popNum()
	if err != nil {
		return err
	}
	ev, err := e.currentScenarioEvent()
	if err != nil {
		return err
	}
	if len(e.requests) <= e.currentEvent {
		return fmt.Errorf("fuzzy eval: no market request for event %d", e.currentEvent)
	}
	req := e.requests[e.currentEvent]
	if len(req.Dfs) == 0 {
		return fmt.Errorf("fuzzy eval: pays requires a discount factor request")
	}
	df, err := at(ev.Dfs, 0, "Df")
	if err != nil {
		return err
	}
	if ev.Numeraire == nil {
		return fmt.Errorf("fuzzy eval: scenario event has no numeraire")
	}
	contribution := ad.CombineMul(amount, df)
	if n.HasCurrency {
		fx, err := at(ev.Fxs, n.VarIndex, "Pays FX")
		if err != nil {
			return err
		}
		contribution = ad.CombineMul(contribution, fx)
	}
	contribution = ad.CombineDiv(contribution, ev.Numeraire)

	e.isLHSVariable = true
	if err := e.eval(n.Target); err != nil {
		return err
	}
	e.isLHSVariable = false
	target := e.lhsVariable
	if target == nil || target.Kind != ast.Variable || target.VarIndex == ast.NoIndex {
		return fmt.Errorf("fuzzy eval: invalid pays accumulator")
	}
	cur := e.variables[target.VarIndex]
	if cur.Kind == Null {
		cur = NumberOf(ad.Double(0))
	}
	if cur.Kind != Number {
		return fmt.Errorf("fuzzy eval: pays accumulator %q is not numeric", target.Name)
	}
	e.variables[target.VarIndex] = NumberOf(ad.CombineAdd(cur.Num, contribution))
	return nil
}

func (e *FuzzyEvaluator) evalArith(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	right, err := e.popNum()
	if err != nil {
		return err
	}
	left, err := e.popNum()
	if err != nil {
		return err
	}
	switch n.Kind {
	case ast.Add:
		e.pushNum(ad.CombineAdd(left, right))
	case ast.Sub:
		e.pushNum(ad.CombineSub(left, right))
	case ast.Mul:
		e.pushNum(ad.CombineMul(left, right))
	case ast.Div:
		e.pushNum(ad.CombineDiv(left, right))
	}
	return nil
}

func (e *FuzzyEvaluator) evalMinMax(n *ast.Node) error {
	if len(n.Children) == 0 {
		return fmt.Errorf("fuzzy eval: min/max requires at least one argument")
	}
	if err := e.evalChildren(n); err != nil {
		return err
	}
	vals := make([]ad.Scalar, len(n.Children))
	for i := len(vals) - 1; i >= 0; i-- {
		v, err := e.popNum()
		if err != nil {
			return err
		}
		vals[i] = v
	}
	result := vals[0]
	for _, v := range vals[1:] {
		if n.Kind == ast.Min {
			result = ad.MinScalar(result, v)
		} else {
			result = ad.MaxScalar(result, v)
		}
	}
	e.pushNum(result)
	return nil
}

func (e *FuzzyEvaluator) evalUnaryIntrinsic(n *ast.Node) error {
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	v, err := e.popNum()
	if err != nil {
		return err
	}
	switch n.Kind {
	case ast.Exp:
		e.pushNum(v.Exp())
	case ast.Ln:
		e.pushNum(v.Ln())
	case ast.Sqrt:
		e.pushNum(v.Sqrt())
	}
	return nil
}

func (e *FuzzyEvaluator) evalPow(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	exponent, err := e.popNum()
	if err != nil {
		return err
	}
	base, err := e.popNum()
	if err != nil {
		return err
	}
	e.pushNum(base.Pow(exponent))
	return nil
}

func (e *FuzzyEvaluator) evalFif(n *ast.Node) error {
	if len(n.Children) != 4 {
		return fmt.Errorf("fuzzy eval: fif requires exactly 4 arguments")
	}
	if err := e.evalChildren(n); err != nil {
		return err
	}
	eps, err := e.popNum()
	if err != nil {
		return err
	}
	b, err := e.popNum()
	if err != nil {
		return err
	}
	a, err := e.popNum()
	if err != nil {
		return err
	}
	x, err := e.popNum()
	if err != nil {
		return err
	}
	half := eps.Mul(ad.ScalarOf(0.5))
	inner := ad.MinScalar(ad.MaxScalar(ad.CombineAdd(x, half), ad.ScalarOf(0)), eps)
	e.pushNum(ad.CombineAdd(b, ad.CombineDiv(ad.CombineMul(ad.CombineSub(a, b), inner), eps)))
	return nil
}

func (e *FuzzyEvaluator) evalCvg(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	basis, err := e.popStr()
	if err != nil {
		return err
	}
	endStr, err := e.popStr()
	if err != nil {
		return err
	}
	startStr, err := e.popStr()
	if err != nil {
		return err
	}
	yf, err := cvgYearFraction(startStr, endStr, basis)
	if err != nil {
		return err
	}
	e.pushNum(ad.ScalarOf(yf))
	return nil
}

func (e *FuzzyEvaluator) evalAppend(n *ast.Node) error {
	e.isLHSVariable = true
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	e.isLHSVariable = false
	target := e.lhsVariable
	if target == nil || target.Kind != ast.Variable || target.VarIndex == ast.NoIndex {
		return fmt.Errorf("fuzzy eval: invalid append target")
	}
	if err := e.eval(n.Children[1]); err != nil {
		return err
	}
	v, err := e.popAssignable()
	if err != nil {
		return err
	}
	cur := e.variables[target.VarIndex]
	switch cur.Kind {
	case Array:
		cur.Arr = append(cur.Arr, v)
		e.variables[target.VarIndex] = cur
	case Null:
		e.variables[target.VarIndex] = ArrayOf([]Value{v})
	default:
		return fmt.Errorf("fuzzy eval: append on non-array variable %q", target.Name)
	}
	return nil
}

func (e *FuzzyEvaluator) evalMeanStd(n *ast.Node) error {
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	arr, err := e.popArr()
	if err != nil {
		return err
	}
	result, err := arrayMeanOrStd(arr, n.Kind == ast.Std)
	if err != nil {
		return err
	}
	e.pushNum(result)
	return nil
}

func (e *FuzzyEvaluator) evalList(n *ast.Node) error {
	elems := make([]Value, len(n.Children))
	for i, c := range n.Children {
		if err := e.eval(c); err != nil {
			return err
		}
		v, err := e.popAssignable()
		if err != nil {
			return err
		}
		elems[i] = v
	}
	e.pushArr(elems)
	return nil
}

func (e *FuzzyEvaluator) evalRange(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	end, err := e.popNum()
	if err != nil {
		return err
	}
	start, err := e.popNum()
	if err != nil {
		return err
	}
	e.pushArr(inclusiveRange(start, end))
	return nil
}

func (e *FuzzyEvaluator) evalIndex(n *ast.Node) error {
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	if err := e.eval(n.Children[1]); err != nil {
		return err
	}
	idxVal, err := e.popNum()
	if err != nil {
		return err
	}
	arr, err := e.popArr()
	if err != nil {
		return err
	}
	idx := int(idxVal.Value())
	if idx < 0 || idx >= len(arr) {
		return fmt.Errorf("fuzzy eval: array index %d out of bounds (length %d)", idx, len(arr))
	}
	e.pushValue(arr[idx])
	return nil
}

// evalCompare computes a call-spread truth degree for a strict or loose
// inequality, after transforming the comparison to "expression > 0" (spec
// §4.7: `a < b` becomes `(b - a) > 0`, etc).
func (e *FuzzyEvaluator) evalCompare(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	right, err := e.popNum()
	if err != nil {
		return err
	}
	left, err := e.popNum()
	if err != nil {
		return err
	}
	var x ad.Scalar
	switch n.Kind {
	case ast.Superior, ast.SuperiorOrEqual:
		x = ad.CombineSub(left, right)
	default:
		x = ad.CombineSub(right, left)
	}
	e.pushNum(callSpread(x, e.eps))
	return nil
}

// evalEquality computes a butterfly truth degree centred at zero. NotEqual
// is the logical negation of Equal's degree (product-sum `¬a = 1 - a`).
func (e *FuzzyEvaluator) evalEquality(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	right, err := e.popNum()
	if err != nil {
		return err
	}
	left, err := e.popNum()
	if err != nil {
		return err
	}
	dt := butterfly(ad.CombineSub(left, right), e.eps)
	if n.Kind == ast.NotEqual {
		dt = ad.CombineSub(ad.ScalarOf(1), dt)
	}
	e.pushNum(dt)
	return nil
}

// evalLogical combines truth degrees with the product-sum rules (spec
// §4.7): `a ∧ b = a·b`, `a ∨ b = a + b - a·b`.
func (e *FuzzyEvaluator) evalLogical(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	b, err := e.popNum()
	if err != nil {
		return err
	}
	a, err := e.popNum()
	if err != nil {
		return err
	}
	if n.Kind == ast.And {
		e.pushNum(ad.CombineMul(a, b))
	} else {
		e.pushNum(ad.CombineSub(ad.CombineAdd(a, b), ad.CombineMul(a, b)))
	}
	return nil
}

// callSpread is the call-spread kernel centred at zero with width eps:
// 0 below -eps/2, 1 above eps/2, linear in between.
func callSpread(x ad.Scalar, eps float64) ad.Scalar {
	half := eps * 0.5
	v := x.Value()
	if v < -half {
		return ad.ScalarOf(0)
	}
	if v > half {
		return ad.ScalarOf(1)
	}
	return x.Add(ad.ScalarOf(half)).Div(ad.ScalarOf(eps))
}

// butterfly is the equality kernel centred at zero with width eps: 1 at
// x=0, falling linearly to 0 at |x|=eps/2 and beyond.
func butterfly(x ad.Scalar, eps float64) ad.Scalar {
	half := eps * 0.5
	v := x.Value()
	if v < -half || v > half {
		return ad.ScalarOf(0)
	}
	return ad.CombineSub(ad.ScalarOf(half), x.Abs()).Div(ad.ScalarOf(half))
}

// evalIf implements the branch-selection and fuzzy-blend logic of spec
// §4.7: a truth degree close enough to 1 or 0 takes the corresponding
// branch outright; otherwise both branches run and their per-variable
// results are blended by dt.
func (e *FuzzyEvaluator) evalIf(n *ast.Node) error {
	if err := e.eval(n.Cond()); err != nil {
		return err
	}
	dt, err := e.popNum()
	if err != nil {
		return err
	}
	dtVal := dt.Value()

	lvl := e.nestedLvl
	e.nestedLvl++
	defer func() { e.nestedLvl = lvl }()

	if dtVal >= 1-e.epsGuard {
		for _, stmt := range n.ThenBlock() {
			if err := e.eval(stmt); err != nil {
				return err
			}
		}
		return nil
	}
	if dtVal <= e.epsGuard {
		for _, stmt := range n.ElseBlock() {
			if err := e.eval(stmt); err != nil {
				return err
			}
		}
		return nil
	}

	if lvl >= len(e.store0) {
		return fmt.Errorf("fuzzy eval: nested if depth %d exceeds pre-sized backup store (%d)", lvl, len(e.store0))
	}
	for _, idx := range n.AffectedVars {
		e.store0[lvl][idx] = e.variables[idx]
	}
	for _, stmt := range n.ThenBlock() {
		if err := e.eval(stmt); err != nil {
			return err
		}
	}
	for _, idx := range n.AffectedVars {
		e.store1[lvl][idx] = e.variables[idx]
		e.variables[idx] = e.store0[lvl][idx]
	}
	for _, stmt := range n.ElseBlock() {
		if err := e.eval(stmt); err != nil {
			return err
		}
	}
	for _, idx := range n.AffectedVars {
		thenV := e.store1[lvl][idx]
		elseV := e.variables[idx]
		if thenV.Kind != Number || elseV.Kind != Number {
			return fmt.Errorf("fuzzy eval: affected variable %d is not numeric in both branches", idx)
		}
		oneMinusDt := ad.CombineSub(ad.ScalarOf(1), dt)
		blended := ad.CombineAdd(ad.CombineMul(thenV.Num, dt), ad.CombineMul(elseV.Num, oneMinusDt))
		e.variables[idx] = NumberOf(blended)
	}
	return nil
}

func (e *FuzzyEvaluator) evalForEach(n *ast.Node) error {
	if err := e.eval(n.IterExpr); err != nil {
		return err
	}
	arr, err := e.popArr()
	if err != nil {
		return err
	}
	if n.VarIndex == ast.NoIndex {
		return fmt.Errorf("fuzzy eval: for-each loop variable %q not indexed", n.Name)
	}
	for _, v := range arr {
		e.variables[n.VarIndex] = v
		for _, stmt := range n.Body {
			if err := e.eval(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}
