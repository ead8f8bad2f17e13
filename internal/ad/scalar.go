package ad

import "math"

// Scalar is the uniform numeric contract of spec C2: every evaluator in
// this module is written against Scalar so the same tree-walking code
// prices a scenario with plain doubles (fast path, no tape) or with AD
// leaves (sensitivity harness) without duplication.
//
// Var op Double folds into the constant-operand tape ops (AddConst/MulConst)
// so a script constant never grows the tape on its own. Double op Var does
// not: Double's methods only read the other operand's Value() and return a
// plain Double, dropping the Var's tape lineage. CombineAdd/Sub/Mul/Div pick
// the Var side as receiver (using ConstSub/ConstDiv where order matters) for
// operands whose concrete type is only known at runtime.
type Scalar interface {
	Add(Scalar) Scalar
	Sub(Scalar) Scalar
	Mul(Scalar) Scalar
	Div(Scalar) Scalar
	Neg() Scalar
	Ln() Scalar
	Exp() Scalar
	Sin() Scalar
	Cos() Scalar
	Sqrt() Scalar
	Abs() Scalar
	Pow(Scalar) Scalar
	Value() float64
}

// Double is the plain-double instantiation of Scalar: arithmetic on it
// never touches any tape, satisfying the invariant that plain-double
// operations are tape-free.
type Double float64

func (d Double) Value() float64 { return float64(d) }

func (d Double) Add(o Scalar) Scalar { return Double(float64(d) + o.Value()) }
func (d Double) Sub(o Scalar) Scalar { return Double(float64(d) - o.Value()) }
func (d Double) Mul(o Scalar) Scalar { return Double(float64(d) * o.Value()) }
func (d Double) Div(o Scalar) Scalar { return Double(float64(d) / o.Value()) }
func (d Double) Neg() Scalar         { return Double(-float64(d)) }
func (d Double) Ln() Scalar          { return Double(math.Log(float64(d))) }
func (d Double) Exp() Scalar         { return Double(math.Exp(float64(d))) }
func (d Double) Sin() Scalar         { return Double(math.Sin(float64(d))) }
func (d Double) Cos() Scalar         { return Double(math.Cos(float64(d))) }
func (d Double) Sqrt() Scalar        { return Double(math.Sqrt(float64(d))) }
func (d Double) Abs() Scalar         { return Double(math.Abs(float64(d))) }
func (d Double) Pow(o Scalar) Scalar { return Double(math.Pow(float64(d), o.Value())) }

// MinScalar and MaxScalar compare by value and return the chosen operand
// untouched, so a Var winner keeps its tape lineage and a Double winner
// stays tape-free.
func MinScalar(a, b Scalar) Scalar {
	if a.Value() <= b.Value() {
		return a
	}
	return b
}

func MaxScalar(a, b Scalar) Scalar {
	if a.Value() >= b.Value() {
		return a
	}
	return b
}

// Var satisfies Scalar. Binary ops against a Double operand use the
// constant-folding tape ops; binary ops against another Var record a full
// binary node.
func (a Var) Add(o Scalar) Scalar {
	if d, ok := o.(Double); ok {
		return a.AddC(float64(d))
	}
	return a.binary(o.(Var), OpAdd, func(x, y float64) float64 { return x + y })
}

func (a Var) Sub(o Scalar) Scalar {
	if d, ok := o.(Double); ok {
		return a.SubC(float64(d))
	}
	return a.binary(o.(Var), OpSub, func(x, y float64) float64 { return x - y })
}

func (a Var) Mul(o Scalar) Scalar {
	if d, ok := o.(Double); ok {
		return a.MulC(float64(d))
	}
	return a.binary(o.(Var), OpMul, func(x, y float64) float64 { return x * y })
}

func (a Var) Div(o Scalar) Scalar {
	if d, ok := o.(Double); ok {
		return a.DivC(float64(d))
	}
	return a.binary(o.(Var), OpDiv, func(x, y float64) float64 { return x / y })
}

func (a Var) Neg() Scalar  { return a.unary(OpNeg, func(x float64) float64 { return -x }) }
func (a Var) Ln() Scalar   { return a.unary(OpLn, math.Log) }
func (a Var) Exp() Scalar  { return a.unary(OpExp, math.Exp) }
func (a Var) Sin() Scalar  { return a.unary(OpSin, math.Sin) }
func (a Var) Cos() Scalar  { return a.unary(OpCos, math.Cos) }
func (a Var) Sqrt() Scalar { return a.unary(OpSqrt, math.Sqrt) }
func (a Var) Abs() Scalar  { return a.unary(OpAbs, math.Abs) }

func (a Var) Pow(o Scalar) Scalar {
	ob, ok := o.(Var)
	if !ok {
		ob = NewVar(a.tape, o.Value())
	}
	return a.Ln().(Var).Mul(ob).(Var).Exp()
}

// ScalarOf wraps a constant double so it can be passed wherever a Scalar
// is expected (e.g. comparisons, literal operands).
func ScalarOf(v float64) Scalar { return Double(v) }

// Combine{Add,Sub,Mul,Div} evaluate a binary op between two Scalars whose
// concrete type (Double or Var) is not known statically, e.g. two operands
// popped off the evaluator's numeric stack. They pick whichever operand is
// a Var as the receiver, so a Var never loses its tape lineage to a Double
// that happens to be written first. Use these instead of calling a.Op(b)
// directly whenever either a or b might be a Var depending on runtime data;
// when the Var side is already known statically, call its method directly.
func CombineAdd(a, b Scalar) Scalar {
	if av, ok := a.(Var); ok {
		return av.Add(b)
	}
	if bv, ok := b.(Var); ok {
		return bv.Add(a)
	}
	return a.Add(b)
}

func CombineSub(a, b Scalar) Scalar {
	if av, ok := a.(Var); ok {
		return av.Sub(b)
	}
	if bv, ok := b.(Var); ok {
		return CSub(a.Value(), bv)
	}
	return a.Sub(b)
}

func CombineMul(a, b Scalar) Scalar {
	if av, ok := a.(Var); ok {
		return av.Mul(b)
	}
	if bv, ok := b.(Var); ok {
		return bv.Mul(a)
	}
	return a.Mul(b)
}

func CombineDiv(a, b Scalar) Scalar {
	if av, ok := a.(Var); ok {
		return av.Div(b)
	}
	if bv, ok := b.(Var); ok {
		return CDiv(a.Value(), bv)
	}
	return a.Div(b)
}
