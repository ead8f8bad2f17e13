package parser

import (
	"testing"

	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleAssignmentChain(t *testing.T) {
	tree, err := Parse(`x = 1; y = 2; z = x + y;`)
	require.NoError(t, err)
	require.Len(t, tree.Children, 3)
	assert.Equal(t, ast.Assign, tree.Children[0].Kind)
	assert.Equal(t, ast.Add, tree.Children[2].Children[1].Kind)
}

func TestParseIfElse(t *testing.T) {
	tree, err := Parse(`x = 2; if x == 1 { z = 3; } else { z = 4; }`)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	ifNode := tree.Children[1]
	assert.Equal(t, ast.If, ifNode.Kind)
	assert.Equal(t, ast.Equal, ifNode.Cond().Kind)
	require.Len(t, ifNode.ThenBlock(), 1)
	require.Len(t, ifNode.ElseBlock(), 1)
}

func TestParseElseIfChain(t *testing.T) {
	tree, err := Parse(`if x == 1 { y = 1; } else if x == 2 { y = 2; } else { y = 3; }`)
	require.NoError(t, err)
	outer := tree.Children[0]
	require.Len(t, outer.ElseBlock(), 1)
	assert.Equal(t, ast.If, outer.ElseBlock()[0].Kind)
}

func TestParsePaysStatementWithCurrency(t *testing.T) {
	tree, err := Parse(`opt = 0; opt pays max(s - 900, 0) in "USD";`)
	require.NoError(t, err)
	paysNode := tree.Children[1]
	assert.Equal(t, ast.Pays, paysNode.Kind)
	assert.Equal(t, ast.Variable, paysNode.Target.Kind)
	assert.Equal(t, "opt", paysNode.Target.Name)
	assert.True(t, paysNode.HasCurrency)
	assert.Equal(t, ast.Max, paysNode.Children[0].Kind)
}

func TestParsePaysStatementWithoutCurrency(t *testing.T) {
	tree, err := Parse(`opt = 0; s = Spot("CLP","USD"); opt pays max(s - 900, 0);`)
	require.NoError(t, err)
	spotNode := tree.Children[1].Children[1]
	assert.Equal(t, ast.Spot, spotNode.Kind)
	assert.Equal(t, "CLP", spotNode.Currency1)
	assert.Equal(t, "USD", spotNode.Currency2)

	paysNode := tree.Children[2]
	assert.False(t, paysNode.HasCurrency)
}

func TestParseArrayMeanStd(t *testing.T) {
	tree, err := Parse(`arr = [1,2,3]; m = arr.mean(); s = arr.std();`)
	require.NoError(t, err)
	require.Len(t, tree.Children, 3)
	assert.Equal(t, ast.List, tree.Children[0].Children[1].Kind)
	assert.Equal(t, ast.Mean, tree.Children[1].Children[1].Kind)
	assert.Equal(t, ast.Std, tree.Children[2].Children[1].Kind)
}

func TestParseForEachOverRange(t *testing.T) {
	tree, err := Parse(`total = 0; for i in range(1, 3) { total += i; }`)
	require.NoError(t, err)
	loop := tree.Children[1]
	assert.Equal(t, ast.ForEach, loop.Kind)
	assert.Equal(t, "i", loop.Name)
	assert.Equal(t, ast.Range, loop.IterExpr.Kind)
	require.Len(t, loop.Body, 1)
	assert.Equal(t, ast.Assign, loop.Body[0].Kind)
}

func TestParseCompoundAssignDesugarsToAssignPlus(t *testing.T) {
	tree, err := Parse(`x = 1; x += 2;`)
	require.NoError(t, err)
	compound := tree.Children[1]
	require.Equal(t, ast.Assign, compound.Kind)
	rhs := compound.Children[1]
	assert.Equal(t, ast.Add, rhs.Kind)
}

func TestParseFifIntrinsic(t *testing.T) {
	tree, err := Parse(`y = fif(x, 1, 0, 0.01);`)
	require.NoError(t, err)
	fifNode := tree.Children[0].Children[1]
	assert.Equal(t, ast.Fif, fifNode.Kind)
	require.Len(t, fifNode.Children, 4)
}

func TestParseCvgAndDf(t *testing.T) {
	tree, err := Parse(`cf = cvg("2024-01-01", "2024-07-01", "Actual360"); df = Df("USD_OIS", "2024-07-01");`)
	require.NoError(t, err)
	cvgNode := tree.Children[0].Children[1]
	assert.Equal(t, ast.Cvg, cvgNode.Kind)
	dfNode := tree.Children[1].Children[1]
	assert.Equal(t, ast.Df, dfNode.Kind)
	assert.Equal(t, "USD_OIS", dfNode.CurveOrIndexName)
}

func TestParseUnexpectedTokenReportsPosition(t *testing.T) {
	_, err := Parse(`x = ;`)
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 1, perr.Line)
}

func TestParseIndexAccess(t *testing.T) {
	tree, err := Parse(`arr = [1,2,3]; x = arr[1];`)
	require.NoError(t, err)
	idx := tree.Children[1].Children[1]
	assert.Equal(t, ast.Index, idx.Kind)
}
