// Package domain implements the third annotation pass (spec C8, §4.5):
// constant propagation over variable slots and classification of each
// conditional's condition as AlwaysTrue, AlwaysFalse or Unknown.
package domain

import (
	"math"

	"github.com/aristath/derivscript/internal/lang/ast"
)

// Value is the abstract lattice element attached to one variable slot or
// expression result: either a known Constant or Any (unknown).
type Value struct {
	Kind  ast.DomainLattice
	Const float64
}

func constVal(c float64) Value { return Value{Kind: ast.DomainConstant, Const: c} }

var anyVal = Value{Kind: ast.DomainAny}

func (v Value) isConst() bool { return v.Kind == ast.DomainConstant }

func add(a, b Value) Value {
	if a.isConst() && b.isConst() {
		return constVal(a.Const + b.Const)
	}
	return anyVal
}
func sub(a, b Value) Value {
	if a.isConst() && b.isConst() {
		return constVal(a.Const - b.Const)
	}
	return anyVal
}
func mul(a, b Value) Value {
	if a.isConst() && b.isConst() {
		return constVal(a.Const * b.Const)
	}
	return anyVal
}
func div(a, b Value) Value {
	if a.isConst() && b.isConst() {
		return constVal(a.Const / b.Const)
	}
	return anyVal
}
func unary(a Value, f func(float64) float64) Value {
	if a.isConst() {
		return constVal(f(a.Const))
	}
	return anyVal
}

// union reduces two constants to their common value, or Any if they
// differ or either is unknown — spec §4.5: "union of two constants
// reduces to their common value or Any".
func union(a, b Value) Value {
	if a.isConst() && b.isConst() && math.Abs(a.Const-b.Const) < 1e-12 {
		return constVal(a.Const)
	}
	return anyVal
}

// condProp is the three-valued classification of a boolean expression.
type condProp uint8

const (
	condUnknown condProp = iota
	condAlwaysTrue
	condAlwaysFalse
)

// Processor runs the constant-propagation pass over an indexed,
// if-processed tree.
type Processor struct {
	varDomains []Value
	domStack   []Value
	condStack  []condProp
	lhsVar     bool
	lhsVarIdx  int
}

// New returns a Processor with nVar variable slots initialised to
// Constant(0), matching the variable store's Null-initial-state convention
// resolved to zero for constant-folding purposes.
func New(nVar int) *Processor {
	vd := make([]Value, nVar)
	for i := range vd {
		vd[i] = constVal(0)
	}
	return &Processor{varDomains: vd}
}

// VariableDomains returns the final abstract value of every variable slot.
func (p *Processor) VariableDomains() []Value {
	out := make([]Value, len(p.varDomains))
	copy(out, p.varDomains)
	return out
}

// Run processes the whole tree, propagating constants and classifying
// every If condition in place (n.AlwaysTrue / n.AlwaysFalse / n.Classified).
func (p *Processor) Run(root *ast.Node) error {
	return p.visit(root)
}

func (p *Processor) pushDom(v Value) { p.domStack = append(p.domStack, v) }
func (p *Processor) popDom() Value {
	if len(p.domStack) == 0 {
		return anyVal
	}
	v := p.domStack[len(p.domStack)-1]
	p.domStack = p.domStack[:len(p.domStack)-1]
	return v
}
func (p *Processor) pushCond(c condProp) { p.condStack = append(p.condStack, c) }
func (p *Processor) popCond() condProp {
	if len(p.condStack) == 0 {
		return condUnknown
	}
	c := p.condStack[len(p.condStack)-1]
	p.condStack = p.condStack[:len(p.condStack)-1]
	return c
}

func (p *Processor) visitChildren(n *ast.Node) error {
	for _, c := range n.Children {
		if err := p.visit(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) visit(n *ast.Node) error {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case ast.Add, ast.Sub, ast.Mul, ast.Div, ast.Pow, ast.Min, ast.Max, ast.Append, ast.Mean, ast.Std:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		if len(n.Children) == 0 {
			p.pushDom(anyVal)
			return nil
		}
		vals := make([]Value, len(n.Children))
		for i := range n.Children {
			vals[len(n.Children)-1-i] = p.popDom()
		}
		res := vals[0]
		for i := 1; i < len(vals); i++ {
			switch n.Kind {
			case ast.Add:
				res = add(res, vals[i])
			case ast.Sub:
				res = sub(res, vals[i])
			case ast.Mul:
				res = mul(res, vals[i])
			case ast.Div:
				res = div(res, vals[i])
			case ast.Pow:
				if res.isConst() && vals[i].isConst() {
					res = constVal(math.Pow(res.Const, vals[i].Const))
				} else {
					res = anyVal
				}
			case ast.Min:
				if res.isConst() && vals[i].isConst() {
					res = constVal(math.Min(res.Const, vals[i].Const))
				} else {
					res = anyVal
				}
			case ast.Max:
				if res.isConst() && vals[i].isConst() {
					res = constVal(math.Max(res.Const, vals[i].Const))
				} else {
					res = anyVal
				}
			default:
				res = anyVal
			}
		}
		p.pushDom(res)
		return nil

	case ast.UnaryPlus, ast.UnaryMinus, ast.Exp, ast.Ln, ast.Sqrt:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		arg := p.popDom()
		var res Value
		switch n.Kind {
		case ast.UnaryMinus:
			res = unary(arg, func(v float64) float64 { return -v })
		case ast.Exp:
			res = unary(arg, math.Exp)
		case ast.Ln:
			res = unary(arg, math.Log)
		case ast.Sqrt:
			res = unary(arg, math.Sqrt)
		default:
			res = arg
		}
		p.pushDom(res)
		return nil

	case ast.Fif, ast.Cvg:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		for range n.Children {
			p.popDom()
		}
		p.pushDom(anyVal)
		return nil

	case ast.Equal, ast.Superior, ast.Inferior, ast.SuperiorOrEqual, ast.InferiorOrEqual:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		right := p.popDom()
		left := p.popDom()
		diff := sub(left, right)
		prop := condUnknown
		if diff.isConst() {
			v := diff.Const
			switch n.Kind {
			case ast.Equal:
				if math.Abs(v) < 1e-12 {
					prop = condAlwaysTrue
				} else {
					prop = condAlwaysFalse
				}
			case ast.Superior:
				prop = boolToProp(v > 0)
			case ast.Inferior:
				prop = boolToProp(v < 0)
			case ast.SuperiorOrEqual:
				prop = boolToProp(v >= 0)
			case ast.InferiorOrEqual:
				prop = boolToProp(v <= 0)
			}
		}
		p.pushCond(prop)
		p.pushDom(anyVal)
		return nil

	case ast.Not:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		switch p.popCond() {
		case condAlwaysTrue:
			p.pushCond(condAlwaysFalse)
		case condAlwaysFalse:
			p.pushCond(condAlwaysTrue)
		default:
			p.pushCond(condUnknown)
		}
		return nil

	case ast.And:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		right := p.popCond()
		left := p.popCond()
		switch {
		case left == condAlwaysTrue && right == condAlwaysTrue:
			p.pushCond(condAlwaysTrue)
		case left == condAlwaysFalse || right == condAlwaysFalse:
			p.pushCond(condAlwaysFalse)
		default:
			p.pushCond(condUnknown)
		}
		return nil

	case ast.Or:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		right := p.popCond()
		left := p.popCond()
		switch {
		case left == condAlwaysTrue || right == condAlwaysTrue:
			p.pushCond(condAlwaysTrue)
		case left == condAlwaysFalse && right == condAlwaysFalse:
			p.pushCond(condAlwaysFalse)
		default:
			p.pushCond(condUnknown)
		}
		return nil

	case ast.True:
		p.pushCond(condAlwaysTrue)
		return nil
	case ast.False:
		p.pushCond(condAlwaysFalse)
		return nil

	case ast.If:
		return p.visitIf(n)

	case ast.Assign:
		p.lhsVar = true
		if err := p.visit(n.Children[0]); err != nil {
			return err
		}
		p.lhsVar = false
		if err := p.visit(n.Children[1]); err != nil {
			return err
		}
		v := p.popDom()
		if p.lhsVarIdx >= 0 && p.lhsVarIdx < len(p.varDomains) {
			p.varDomains[p.lhsVarIdx] = v
		}
		return nil

	case ast.Pays:
		p.lhsVar = true
		if err := p.visit(n.Target); err != nil {
			return err
		}
		p.lhsVar = false
		if err := p.visit(n.Children[0]); err != nil {
			return err
		}
		p.popDom()
		return nil

	case ast.Variable:
		if p.lhsVar {
			p.lhsVarIdx = n.VarIndex
			return nil
		}
		if n.VarIndex >= 0 && n.VarIndex < len(p.varDomains) {
			p.pushDom(p.varDomains[n.VarIndex])
		} else {
			p.pushDom(anyVal)
		}
		return nil

	case ast.Constant:
		p.pushDom(constVal(n.ConstValue))
		return nil

	case ast.ForEach:
		for _, c := range n.Body {
			if err := p.visit(c); err != nil {
				return err
			}
		}
		p.pushDom(anyVal)
		return nil

	default:
		if err := p.visitChildren(n); err != nil {
			return err
		}
		p.pushDom(anyVal)
		return nil
	}
}

func boolToProp(b bool) condProp {
	if b {
		return condAlwaysTrue
	}
	return condAlwaysFalse
}

func (p *Processor) visitIf(n *ast.Node) error {
	if err := p.visit(n.Cond()); err != nil {
		return err
	}
	prop := p.popCond()
	n.Classified = true
	n.AlwaysTrue = prop == condAlwaysTrue
	n.AlwaysFalse = prop == condAlwaysFalse

	switch prop {
	case condAlwaysTrue:
		for _, c := range n.ThenBlock() {
			if err := p.visit(c); err != nil {
				return err
			}
		}
	case condAlwaysFalse:
		for _, c := range n.ElseBlock() {
			if err := p.visit(c); err != nil {
				return err
			}
		}
	default:
		before := make([]Value, len(n.AffectedVars))
		for i, idx := range n.AffectedVars {
			before[i] = p.varDomains[idx]
		}
		for _, c := range n.ThenBlock() {
			if err := p.visit(c); err != nil {
				return err
			}
		}
		afterTrue := make([]Value, len(n.AffectedVars))
		for i, idx := range n.AffectedVars {
			afterTrue[i] = p.varDomains[idx]
			p.varDomains[idx] = before[i]
		}
		for _, c := range n.ElseBlock() {
			if err := p.visit(c); err != nil {
				return err
			}
		}
		for i, idx := range n.AffectedVars {
			p.varDomains[idx] = union(p.varDomains[idx], afterTrue[i])
		}
	}
	return nil
}
