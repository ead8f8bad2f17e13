// Package lexer turns derivscript script source into a token stream
// (spec §4.2).
package lexer

// Kind identifies a token's lexical category.
type Kind uint8

const (
	EOF Kind = iota
	Ident
	Int
	Float
	String

	// reserved words
	KwIf
	KwElse
	KwFor
	KwIn
	KwTrue
	KwFalse
	KwMin
	KwMax
	KwExp
	KwLn
	KwPow
	KwSqrt
	KwFif
	KwCvg
	KwSpot
	KwDf
	KwRateIndex
	KwPays
	KwRange
	KwMean
	KwStd
	KwAppend

	// punctuators
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Comma
	Semicolon
	Dot

	// operators
	Plus
	Minus
	Star
	Slash
	Assign
	Eq
	Neq
	Lt
	Gt
	Le
	Ge
	AndAnd
	OrOr
	PlusEq
	MinusEq
	StarEq
	SlashEq
)

var keywords = map[string]Kind{
	"if":        KwIf,
	"else":      KwElse,
	"for":       KwFor,
	"in":        KwIn,
	"True":      KwTrue,
	"False":     KwFalse,
	"min":       KwMin,
	"max":       KwMax,
	"exp":       KwExp,
	"ln":        KwLn,
	"pow":       KwPow,
	"sqrt":      KwSqrt,
	"fif":       KwFif,
	"cvg":       KwCvg,
	"Spot":      KwSpot,
	"Df":        KwDf,
	"RateIndex": KwRateIndex,
	"pays":      KwPays,
	"range":     KwRange,
	"mean":      KwMean,
	"std":       KwStd,
	"append":    KwAppend,
}

// Token is one lexeme with its source position.
type Token struct {
	Kind   Kind
	Lexeme string
	Num    float64
	Line   int
	Col    int
}
