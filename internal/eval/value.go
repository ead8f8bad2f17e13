// Package eval implements the two tree-walking evaluators of spec §4.6/4.7:
// a deterministic evaluator that walks the annotated expression tree once
// per event against one scenario, and a fuzzy evaluator that replaces each
// If's crisp branch with a smooth blend so discontinuous payoffs stay
// differentiable under the AD tape. Both share the dynamically-typed Value
// representation and four-stack evaluation discipline defined here.
package eval

import "github.com/aristath/derivscript/internal/ad"

// Kind tags which field of a Value is meaningful, mirroring the source
// language's runtime-typed Value enum (Bool/Number/String/Array/Null).
type Kind uint8

const (
	Null Kind = iota
	Number
	Bool
	String
	Array
)

// Value is the dynamically-typed runtime value a variable slot holds.
// Number carries an ad.Scalar rather than a plain float64 so that a
// differentiating caller's tape lineage survives every variable read and
// write, not just the arithmetic between market data and payoff constants.
type Value struct {
	Kind Kind
	Num  ad.Scalar
	Bool bool
	Str  string
	Arr  []Value
}

// NumberOf wraps a Scalar as a numeric Value.
func NumberOf(v ad.Scalar) Value { return Value{Kind: Number, Num: v} }

// BoolOf wraps a bool as a boolean Value.
func BoolOf(v bool) Value { return Value{Kind: Bool, Bool: v} }

// StringOf wraps a string as a string Value.
func StringOf(v string) Value { return Value{Kind: String, Str: v} }

// ArrayOf wraps an element slice as an array Value.
func ArrayOf(v []Value) Value { return Value{Kind: Array, Arr: v} }
