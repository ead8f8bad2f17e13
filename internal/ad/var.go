package ad

// Var is a handle to one value on a Tape: the computed value plus the
// index of the node that produced it. An elementary arithmetic operation on
// a Var appends one node to its owning tape and returns a new Var, except
// where a constant operand folds: a+0 and a*1 return a unchanged and append
// nothing, and a*0 appends a fresh zero leaf. Pow is built from Ln, Mul and
// Exp, so it appends three nodes, plus an input leaf for a non-Var
// exponent. Var's elementary operations are
// defined in scalar.go against the Scalar interface so the same code path
// handles Var-Var and Var-Double combinations.
type Var struct {
	tape *Tape
	idx  int
	val  float64
}

// NewVar records a fresh input leaf on t and returns a handle to it.
func NewVar(t *Tape, v float64) Var {
	idx := t.record(Node{Op: OpInput, Value: v, Left: noParent, Right: noParent})
	return Var{tape: t, idx: idx, val: v}
}

// Value returns the current numeric value. Reading it never fails and
// never touches the tape.
func (v Var) Value() float64 { return v.val }

// Index returns the tape position this handle refers to. Used by the
// sensitivity harness to seed backward sweeps and by the scenario engine
// to recognise which leaves are model parameters.
func (v Var) Index() int { return v.idx }

// Tape returns the tape this handle was recorded on.
func (v Var) Tape() *Tape { return v.tape }

func (v Var) unary(op Op, f func(float64) float64) Var {
	val := f(v.val)
	idx := v.tape.record(Node{Op: op, Value: val, Left: v.idx, Right: noParent})
	return Var{tape: v.tape, idx: idx, val: val}
}

func (a Var) binary(b Var, op Op, f func(x, y float64) float64) Var {
	val := f(a.val, b.val)
	idx := a.tape.record(Node{Op: op, Value: val, Left: a.idx, Right: b.idx})
	return Var{tape: a.tape, idx: idx, val: val}
}

// AddC returns a+c, folding a+0 to a.
func (a Var) AddC(c float64) Var {
	if c == 0 {
		return a
	}
	val := a.val + c
	idx := a.tape.record(Node{Op: OpAddConst, Value: val, Left: a.idx, Right: noParent, Const: c})
	return Var{tape: a.tape, idx: idx, val: val}
}

// SubC returns a-c.
func (a Var) SubC(c float64) Var { return a.AddC(-c) }

// CSub returns c-a.
func CSub(c float64, a Var) Var {
	val := c - a.val
	idx := a.tape.record(Node{Op: OpConstSub, Value: val, Left: a.idx, Right: noParent, Const: c})
	return Var{tape: a.tape, idx: idx, val: val}
}

// MulC returns a*c, folding a*1 to a and a*0 to a fresh zero leaf.
func (a Var) MulC(c float64) Var {
	if c == 1 {
		return a
	}
	if c == 0 {
		return NewVar(a.tape, 0)
	}
	val := a.val * c
	idx := a.tape.record(Node{Op: OpMulConst, Value: val, Left: a.idx, Right: noParent, Const: c})
	return Var{tape: a.tape, idx: idx, val: val}
}

// DivC returns a/c.
func (a Var) DivC(c float64) Var { return a.MulC(1 / c) }

// CDiv returns c/a.
func CDiv(c float64, a Var) Var {
	val := c / a.val
	idx := a.tape.record(Node{Op: OpConstDiv, Value: val, Left: a.idx, Right: noParent, Const: c})
	return Var{tape: a.tape, idx: idx, val: val}
}
