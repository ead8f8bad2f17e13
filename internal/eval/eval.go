package eval

import (
	"fmt"
	"time"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/market"
	"github.com/aristath/derivscript/internal/market/daycount"
	"github.com/aristath/derivscript/pkg/stat"
)

// Evaluator is the deterministic tree-walker of spec §4.6: one numeric,
// boolean, string and array stack, a pre-sized variable store, and a
// cursor into the event stream and its matching scenario slots. Not safe
// for concurrent use; each scenario/worker constructs and discards its
// own Evaluator (spec §4.8's per-thread tape discipline mirrors this).
type Evaluator struct {
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

	// cashflowSink, when non-nil, is called with every pays statement's
	// undiscounted amount before the discount factor/FX/numéraire
	// arithmetic touches it (C13, spec §4.9). Wired by CashflowCollector;
	// nil for a plain Evaluator, which does no cashflow bookkeeping.
	cashflowSink func(currency string, date time.Time, amount ad.Scalar)
}

// New returns an Evaluator with a variable store of the given size (the
// indexer's reported Size), bound to one scenario and its per-event
// request list.
func New(size int, scenario *market.Scenario, requests []*market.EventRequest) *Evaluator {
	return &Evaluator{
		variables: make([]Value, size),
		requests:  requests,
		scenario:  scenario,
	}
}

// Variables returns a copy of the final variable store, keyed by slot.
func (e *Evaluator) Variables() []Value {
	out := make([]Value, len(e.variables))
	copy(out, e.variables)
	return out
}

// VariableAt returns the value at the given slot.
func (e *Evaluator) VariableAt(idx int) Value { return e.variables[idx] }

// Results builds the name->value mapping spec §4.6 describes as the
// evaluator's final output, consulting the indexer's name->slot map.
func (e *Evaluator) Results(names map[string]int) map[string]Value {
	out := make(map[string]Value, len(names))
	for name, idx := range names {
		out[name] = e.variables[idx]
	}
	return out
}

// VisitEvents advances the event cursor from 0 upward, evaluating each
// event's tree against the correspondingly-indexed scenario slot.
func (e *Evaluator) VisitEvents(trees []*ast.Node) error {
	for i, tree := range trees {
		e.currentEvent = i
		if err := e.eval(tree); err != nil {
			return fmt.Errorf("eval: event %d: %w", i, err)
		}
	}
	return nil
}

func (e *Evaluator) pushNum(v ad.Scalar) { e.numeric = append(e.numeric, v) }
func (e *Evaluator) popNum() (ad.Scalar, error) {
	n := len(e.numeric)
	if n == 0 {
		return nil, fmt.Errorf("eval: numeric stack underflow")
	}
	v := e.numeric[n-1]
	e.numeric = e.numeric[:n-1]
	return v, nil
}

func (e *Evaluator) pushBool(v bool) { e.boolean = append(e.boolean, v) }
func (e *Evaluator) popBool() (bool, error) {
	n := len(e.boolean)
	if n == 0 {
		return false, fmt.Errorf("eval: boolean stack underflow")
	}
	v := e.boolean[n-1]
	e.boolean = e.boolean[:n-1]
	return v, nil
}

func (e *Evaluator) pushStr(v string) { e.strings = append(e.strings, v) }
func (e *Evaluator) popStr() (string, error) {
	n := len(e.strings)
	if n == 0 {
		return "", fmt.Errorf("eval: string stack underflow")
	}
	v := e.strings[n-1]
	e.strings = e.strings[:n-1]
	return v, nil
}

func (e *Evaluator) pushArr(v []Value) { e.arrays = append(e.arrays, v) }
func (e *Evaluator) popArr() ([]Value, error) {
	n := len(e.arrays)
	if n == 0 {
		return nil, fmt.Errorf("eval: array stack underflow")
	}
	v := e.arrays[n-1]
	e.arrays = e.arrays[:n-1]
	return v, nil
}

// popAssignable reads whichever of the four stacks is currently non-empty,
// encoding the source language's dynamic typing (spec §4.6). More than one
// non-empty stack at the point of assignment is an evaluation error.
func (e *Evaluator) popAssignable() (Value, error) {
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
		return Value{}, fmt.Errorf("eval: ambiguous assignment, %d stacks non-empty", nonEmpty)
	}
	switch {
	case len(e.boolean) > 0:
		v, err := e.popBool()
		return BoolOf(v), err
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

func (e *Evaluator) pushValue(v Value) {
	switch v.Kind {
	case Bool:
		e.pushBool(v.Bool)
	case String:
		e.pushStr(v.Str)
	case Array:
		e.pushArr(v.Arr)
	case Number:
		e.pushNum(v.Num)
	}
}

func (e *Evaluator) currentScenarioEvent() (*market.EventScenarioData, error) {
	if e.scenario == nil || e.currentEvent >= len(e.scenario.Events) {
		return nil, fmt.Errorf("eval: no scenario data for event %d", e.currentEvent)
	}
	return &e.scenario.Events[e.currentEvent], nil
}

// eval drives its own recursion (rather than ast.Walk's generic dispatch)
// because evaluation order is operator-specific: If evaluates only one
// branch, Assign captures its left-hand target before evaluating its
// right-hand side, ForEach re-evaluates its body once per element.
func (e *Evaluator) eval(n *ast.Node) error {
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
		e.pushBool(true)
		return nil
	case ast.False:
		e.pushBool(false)
		return nil
	case ast.Spot:
		return e.evalMarketNumeric(n, func(ev *market.EventScenarioData) (ad.Scalar, error) {
			return at(ev.Fxs, n.VarIndex, "Spot")
		})
	case ast.Df:
		return e.evalMarketNumeric(n, func(ev *market.EventScenarioData) (ad.Scalar, error) {
			return at(ev.Dfs, n.VarIndex, "Df")
		})
	case ast.RateIndex:
		return e.evalMarketNumeric(n, func(ev *market.EventScenarioData) (ad.Scalar, error) {
			return at(ev.Fwds, n.VarIndex, "RateIndex")
		})
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
		v, err := e.popBool()
		if err != nil {
			return err
		}
		e.pushBool(!v)
		return nil
	case ast.If:
		return e.evalIf(n)
	case ast.ForEach:
		return e.evalForEach(n)
	default:
		return fmt.Errorf("eval: unsupported node kind %d", n.Kind)
	}
}

func (e *Evaluator) evalChildren(n *ast.Node) error {
	for _, c := range n.Children {
		if err := e.eval(c); err != nil {
			return err
		}
	}
	return nil
}

func at(xs []ad.Scalar, idx int, what string) (ad.Scalar, error) {
	if idx == ast.NoIndex {
		return nil, fmt.Errorf("eval: %s not indexed", what)
	}
	if idx < 0 || idx >= len(xs) {
		return nil, fmt.Errorf("eval: %s index %d out of bounds (have %d)", what, idx, len(xs))
	}
	return xs[idx], nil
}

func (e *Evaluator) evalMarketNumeric(n *ast.Node, get func(*market.EventScenarioData) (ad.Scalar, error)) error {
	ev, err := e.currentScenarioEvent()
	if err != nil {
		return err
	}
	v, err := get(ev)
	if err != nil {
		return err
	}
	e.pushNum(v)
	return nil
}

func (e *Evaluator) evalVariable(n *ast.Node) error {
	if e.isLHSVariable {
		e.lhsVariable = n
		return nil
	}
	if n.VarIndex == ast.NoIndex {
		return fmt.Errorf("eval: variable %q not indexed", n.Name)
	}
	v := e.variables[n.VarIndex]
	if v.Kind == Null {
		return fmt.Errorf("eval: variable %q read before initialisation", n.Name)
	}
	e.pushValue(v)
	return nil
}

func (e *Evaluator) evalAssign(n *ast.Node) error {
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
		return fmt.Errorf("eval: invalid assignment target")
	}
	if target.VarIndex == ast.NoIndex {
		return fmt.Errorf("eval: variable %q not indexed", target.Name)
	}
	v, err := e.popAssignable()
	if err != nil {
		return err
	}
	e.variables[target.VarIndex] = v
	return nil
}

func (e *Evaluator) evalPays(n *ast.Node) error {
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
		return fmt.Errorf("eval: no market request for event %d", e.currentEvent)
	}
	req := e.requests[e.currentEvent]
	if len(req.Dfs) == 0 {
		return fmt.Errorf("eval: pays requires a discount factor request")
	}
	if e.cashflowSink != nil {
		e.cashflowSink(paymentCurrency(n), req.Date, amount)
	}
	df, err := at(ev.Dfs, 0, "Df")
	if err != nil {
		return err
	}
	if ev.Numeraire == nil {
		return fmt.Errorf("eval: scenario event has no numeraire")
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
		return fmt.Errorf("eval: invalid pays accumulator")
	}
	cur := e.variables[target.VarIndex]
	if cur.Kind == Null {
		cur = NumberOf(ad.Double(0))
	}
	if cur.Kind != Number {
		return fmt.Errorf("eval: pays accumulator %q is not numeric", target.Name)
	}
	e.variables[target.VarIndex] = NumberOf(ad.CombineAdd(cur.Num, contribution))
	return nil
}

func (e *Evaluator) evalArith(n *ast.Node) error {
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	if err := e.eval(n.Children[1]); err != nil {
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

func (e *Evaluator) evalMinMax(n *ast.Node) error {
	if len(n.Children) == 0 {
		return fmt.Errorf("eval: min/max requires at least one argument")
	}
	for _, c := range n.Children {
		if err := e.eval(c); err != nil {
			return err
		}
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

func (e *Evaluator) evalUnaryIntrinsic(n *ast.Node) error {
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

func (e *Evaluator) evalPow(n *ast.Node) error {
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	if err := e.eval(n.Children[1]); err != nil {
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

// evalFif evaluates fif(x, a, b, eps) = b + (a-b)*clamp(x+eps/2, 0, eps)/eps.
func (e *Evaluator) evalFif(n *ast.Node) error {
	if len(n.Children) != 4 {
		return fmt.Errorf("eval: fif requires exactly 4 arguments")
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

func (e *Evaluator) evalCvg(n *ast.Node) error {
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

// cvgYearFraction implements cvg(start, end, daycount) (spec §4.6), shared
// by both evaluators.
func cvgYearFraction(startStr, endStr, basis string) (float64, error) {
	start, err := daycount.ParseDate(startStr)
	if err != nil {
		return 0, err
	}
	end, err := daycount.ParseDate(endStr)
	if err != nil {
		return 0, err
	}
	return daycount.Fraction(start, end, daycount.Convention(basis))
}

func (e *Evaluator) evalAppend(n *ast.Node) error {
	e.isLHSVariable = true
	if err := e.eval(n.Children[0]); err != nil {
		return err
	}
	e.isLHSVariable = false
	target := e.lhsVariable
	if target == nil || target.Kind != ast.Variable || target.VarIndex == ast.NoIndex {
		return fmt.Errorf("eval: invalid append target")
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
		return fmt.Errorf("eval: append on non-array variable %q", target.Name)
	}
	return nil
}

func (e *Evaluator) evalMeanStd(n *ast.Node) error {
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

// paymentCurrency returns the literal currency a pays statement names via
// its "in <ccy>" clause, or "" for the accumulator's local currency when no
// clause is present — the same empty-string sentinel convention the indexer
// uses for the implicit Dfs[0]/Fxs request (see indexer.VisitEvents).
func paymentCurrency(n *ast.Node) string {
	if n.HasCurrency && n.CurrencyExpr != nil && n.CurrencyExpr.Kind == ast.StringLit {
		return n.CurrencyExpr.StrValue
	}
	return ""
}

// arrayMeanOrStd filters an array's numeric elements and reduces them with
// pkg/stat (spec §4.6/§4.7 `.mean()`/`.std()`), shared by both evaluators.
func arrayMeanOrStd(arr []Value, std bool) (ad.Scalar, error) {
	nums := make([]ad.Scalar, 0, len(arr))
	for _, v := range arr {
		if v.Kind == Number {
			nums = append(nums, v.Num)
		}
	}
	if len(nums) == 0 {
		what := "mean"
		if std {
			what = "std"
		}
		return nil, fmt.Errorf("eval: %s of empty array", what)
	}
	if std {
		return stat.StdDev(nums), nil
	}
	return stat.Mean(nums), nil
}

func (e *Evaluator) evalList(n *ast.Node) error {
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

// evalRange builds an inclusive [start,end] integer array (spec §4.6
// for-each contract).
func (e *Evaluator) evalRange(n *ast.Node) error {
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

// inclusiveRange builds the [start,end] integer array range(...) resolves
// to (spec §4.6 for-each contract), shared by both evaluators.
func inclusiveRange(start, end ad.Scalar) []Value {
	s := int64(start.Value())
	en := int64(end.Value())
	arr := make([]Value, 0, en-s+1)
	for i := s; i <= en; i++ {
		arr = append(arr, NumberOf(ad.ScalarOf(float64(i))))
	}
	return arr
}

func (e *Evaluator) evalIndex(n *ast.Node) error {
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
		return fmt.Errorf("eval: array index %d out of bounds (length %d)", idx, len(arr))
	}
	e.pushValue(arr[idx])
	return nil
}

func (e *Evaluator) evalEquality(n *ast.Node) error {
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
	diff := left.Sub(right).Abs().Value()
	if n.Kind == ast.Equal {
		e.pushBool(diff < epsilon)
	} else {
		e.pushBool(diff >= epsilon)
	}
	return nil
}

const epsilon = 2.220446049250313e-16

func (e *Evaluator) evalCompare(n *ast.Node) error {
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
	l, r := left.Value(), right.Value()
	var result bool
	switch n.Kind {
	case ast.Superior:
		result = l > r
	case ast.Inferior:
		result = l < r
	case ast.SuperiorOrEqual:
		result = l >= r
	case ast.InferiorOrEqual:
		result = l <= r
	}
	e.pushBool(result)
	return nil
}

func (e *Evaluator) evalLogical(n *ast.Node) error {
	if err := e.evalChildren(n); err != nil {
		return err
	}
	right, err := e.popBool()
	if err != nil {
		return err
	}
	left, err := e.popBool()
	if err != nil {
		return err
	}
	if n.Kind == ast.And {
		e.pushBool(left && right)
	} else {
		e.pushBool(left || right)
	}
	return nil
}

func (e *Evaluator) evalIf(n *ast.Node) error {
	if err := e.eval(n.Cond()); err != nil {
		return err
	}
	isTrue, err := e.popBool()
	if err != nil {
		return err
	}
	if isTrue {
		for _, stmt := range n.ThenBlock() {
			if err := e.eval(stmt); err != nil {
				return err
			}
		}
		return nil
	}
	for _, stmt := range n.ElseBlock() {
		if err := e.eval(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) evalForEach(n *ast.Node) error {
	if err := e.eval(n.IterExpr); err != nil {
		return err
	}
	arr, err := e.popArr()
	if err != nil {
		return err
	}
	if n.VarIndex == ast.NoIndex {
		return fmt.Errorf("eval: for-each loop variable %q not indexed", n.Name)
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
