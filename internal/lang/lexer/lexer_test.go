package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenizeArithmeticAndAssignment(t *testing.T) {
	toks, err := Tokenize(`x = 1 + 2 * 3;`)
	require.NoError(t, err)
	assert.Equal(t, []Kind{Ident, Assign, Int, Plus, Int, Star, Int, Semicolon, EOF}, kinds(toks))
}

func TestTokenizeKeywordsAndCalls(t *testing.T) {
	toks, err := Tokenize(`if x == 1 { z = Spot("CLP","USD"); } else { z = max(0, x); }`)
	require.NoError(t, err)
	assert.Equal(t, KwIf, toks[0].Kind)
	assert.Contains(t, kinds(toks), KwSpot)
	assert.Contains(t, kinds(toks), KwMax)
	assert.Contains(t, kinds(toks), KwElse)
}

func TestTokenizeCompoundAndLogicalOperators(t *testing.T) {
	toks, err := Tokenize(`x += 1; y -= 2; a = x >= y && y <= x || x != y;`)
	require.NoError(t, err)
	ks := kinds(toks)
	assert.Contains(t, ks, PlusEq)
	assert.Contains(t, ks, MinusEq)
	assert.Contains(t, ks, Ge)
	assert.Contains(t, ks, AndAnd)
	assert.Contains(t, ks, Le)
	assert.Contains(t, ks, OrOr)
	assert.Contains(t, ks, Neq)
}

func TestTokenizeFloatAndScientificNotation(t *testing.T) {
	toks, err := Tokenize(`x = 3.14; y = 1.5e-3; z = 2E+4;`)
	require.NoError(t, err)
	require.Equal(t, Float, toks[2].Kind)
	assert.InDelta(t, 3.14, toks[2].Num, 1e-12)
	assert.InDelta(t, 1.5e-3, toks[6].Num, 1e-12)
	assert.InDelta(t, 2e4, toks[10].Num, 1e-6)
}

func TestTokenizeStringLiteral(t *testing.T) {
	toks, err := Tokenize(`s = "2024-01-01";`)
	require.NoError(t, err)
	require.Equal(t, String, toks[2].Kind)
	assert.Equal(t, "2024-01-01", toks[2].Lexeme)
}

func TestTokenizeSkipsLineComments(t *testing.T) {
	toks, err := Tokenize("x = 1; // this is ignored\ny = 2;")
	require.NoError(t, err)
	ks := kinds(toks)
	assert.NotContains(t, ks, String)
	assert.Equal(t, 9, len(toks)) // x = 1 ; y = 2 ; EOF
}

func TestTokenizeUnrecognisedByteReportsPosition(t *testing.T) {
	_, err := Tokenize("x = 1 @ 2;")
	require.Error(t, err)
	lexErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 1, lexErr.Line)
	assert.Equal(t, 7, lexErr.Col)
}

func TestTokenizePaysKeyword(t *testing.T) {
	toks, err := Tokenize(`opt pays max(s - 900, 0) in "USD";`)
	require.NoError(t, err)
	assert.Contains(t, kinds(toks), KwPays)
	assert.Contains(t, kinds(toks), KwIn)
}
