// Package ast defines the expression tree (spec C5): a tagged variant of
// node kinds sharing one Node type, walked by the visitor passes in
// internal/lang/indexer, internal/lang/ifprocessor, internal/lang/domain
// and by the evaluators in internal/eval.
package ast

// Kind tags which variant a Node instance represents.
type Kind uint8

const (
	Base Kind = iota
	Variable
	Constant
	StringLit
	Spot
	Df
	RateIndex
	Pays
	Add
	Sub
	Mul
	Div
	Assign
	Min
	Max
	Exp
	Pow
	Ln
	Sqrt
	Fif
	Cvg
	Append
	Mean
	Std
	Index
	UnaryPlus
	UnaryMinus
	True
	False
	Equal
	NotEqual
	And
	Or
	Not
	Superior
	Inferior
	SuperiorOrEqual
	InferiorOrEqual
	If
	ForEach
	Range
	List
)

// DomainLattice is the abstract value the domain processor (C8) attaches
// to a variable slot: {Constant(c), Any}.
type DomainLattice uint8

const (
	DomainUnknown DomainLattice = iota
	DomainConstant
	DomainAny
)

// NoIndex marks a not-yet-assigned index field.
const NoIndex = -1

// Node is the single tagged-variant representation for every expression
// tree node kind in §4.5. Children are stored in a single ordered slice
// regardless of fixed or variable arity; fixed-arity kinds access fields
// by position (e.g. Add's left is Children[0], right Children[1]).
type Node struct {
	Kind Kind
	Line int
	Col  int

	Children []*Node

	// Variable / ForEach loop variable / Spot / Df / RateIndex / Pays
	Name     string
	VarIndex int // NoIndex until the indexer assigns one

	// Constant
	ConstValue float64

	// StringLit
	StrValue string

	// Spot
	Currency1 string
	Currency2 string
	HasDate   bool
	DateExpr  *Node // optional explicit date expression; nil uses the enclosing event's date

	// Df / RateIndex
	CurveOrIndexName string
	StartExpr        *Node
	EndExpr          *Node

	// Pays
	Target       *Node // accumulator variable the discounted payoff is added to
	HasCurrency  bool
	CurrencyExpr *Node

	// If
	FirstElse    int // index within Children where the else-branch begins; -1 if no else
	AffectedVars []int
	AlwaysTrue   bool
	AlwaysFalse  bool
	Classified   bool // whether the domain processor has classified this condition

	// ForEach
	IterExpr *Node
	Body     []*Node

	// domain processor annotation (only meaningful for Variable/Constant
	// expression nodes that get folded)
	Domain      DomainLattice
	DomainConst float64
}

// NewBase returns an empty block/sequence node.
func NewBase() *Node { return &Node{Kind: Base, VarIndex: NoIndex, FirstElse: NoIndex} }

// NewVariable returns an unresolved variable reference.
func NewVariable(name string) *Node {
	return &Node{Kind: Variable, Name: name, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewConstant returns a numeric literal node.
func NewConstant(v float64) *Node {
	return &Node{Kind: Constant, ConstValue: v, VarIndex: NoIndex, FirstElse: NoIndex, Domain: DomainConstant, DomainConst: v}
}

// NewString returns a string literal node.
func NewString(s string) *Node {
	return &Node{Kind: StringLit, StrValue: s, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewBool returns a boolean literal node (True or False).
func NewBool(v bool) *Node {
	k := False
	if v {
		k = True
	}
	return &Node{Kind: k, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewBinary returns a two-child node of the given kind.
func NewBinary(k Kind, left, right *Node) *Node {
	return &Node{Kind: k, Children: []*Node{left, right}, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewUnary returns a one-child node of the given kind.
func NewUnary(k Kind, child *Node) *Node {
	return &Node{Kind: k, Children: []*Node{child}, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewCall returns an n-ary node (Min/Max/Append/Mean/Std/List/Range/...).
func NewCall(k Kind, args ...*Node) *Node {
	return &Node{Kind: k, Children: args, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewIf returns a conditional node: cond is Children[0], thenBlock follows,
// elseBlock (may be nil) follows after FirstElse.
func NewIf(cond *Node, thenBlock []*Node, elseBlock []*Node) *Node {
	children := make([]*Node, 0, 1+len(thenBlock)+len(elseBlock))
	children = append(children, cond)
	children = append(children, thenBlock...)
	firstElse := NoIndex
	if elseBlock != nil {
		firstElse = len(children)
		children = append(children, elseBlock...)
	}
	return &Node{Kind: If, Children: children, FirstElse: firstElse, VarIndex: NoIndex}
}

// Cond returns the condition expression of an If node.
func (n *Node) Cond() *Node { return n.Children[0] }

// ThenBlock returns the statements executed when Cond is true.
func (n *Node) ThenBlock() []*Node {
	if n.FirstElse == NoIndex {
		return n.Children[1:]
	}
	return n.Children[1:n.FirstElse]
}

// ElseBlock returns the statements executed when Cond is false, or nil.
func (n *Node) ElseBlock() []*Node {
	if n.FirstElse == NoIndex {
		return nil
	}
	return n.Children[n.FirstElse:]
}

// NewForEach returns a for-each loop node.
func NewForEach(varName string, iter *Node, body []*Node) *Node {
	return &Node{Kind: ForEach, Name: varName, IterExpr: iter, Body: body, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewSpot returns a market FX-spot reference node.
func NewSpot(ccy1, ccy2 string, date *Node) *Node {
	return &Node{Kind: Spot, Currency1: ccy1, Currency2: ccy2, DateExpr: date, HasDate: date != nil, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewDf returns a discount-factor reference node.
func NewDf(curve string, date *Node) *Node {
	return &Node{Kind: Df, CurveOrIndexName: curve, EndExpr: date, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewRateIndex returns a forward-rate reference node.
func NewRateIndex(name string, start, end *Node) *Node {
	return &Node{Kind: RateIndex, CurveOrIndexName: name, StartExpr: start, EndExpr: end, VarIndex: NoIndex, FirstElse: NoIndex}
}

// NewPays returns a pays-statement node: target pays expr [in ccy].
func NewPays(target, expr *Node, ccy *Node) *Node {
	return &Node{Kind: Pays, Target: target, Children: []*Node{expr}, CurrencyExpr: ccy, HasCurrency: ccy != nil, VarIndex: NoIndex, FirstElse: NoIndex}
}
