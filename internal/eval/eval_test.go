package eval

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/lang/indexer"
	"github.com/aristath/derivscript/internal/lang/parser"
	"github.com/aristath/derivscript/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// build parses src as a single event and indexes it, returning the
// indexer (name->slot map, built request list) and the parsed tree.
func build(t *testing.T, src string) (*indexer.Indexer, *ast.Node) {
	t.Helper()
	tree, err := parser.Parse(src)
	require.NoError(t, err)
	ix := indexer.New()
	require.NoError(t, ix.VisitEvents([]indexer.Event{{Date: refDate, Expr: tree}}))
	return ix, tree
}

// oneEventScenario returns a scenario with one event whose discount
// factors, numéraire and FX/forward slots are populated to match req's
// shape (one value per request slot).
func oneEventScenario(req *market.EventRequest, numeraire float64, dfs, fxs, fwds []float64) *market.Scenario {
	data := market.EventScenarioData{Numeraire: ad.ScalarOf(numeraire)}
	for _, v := range dfs {
		data.Dfs = append(data.Dfs, ad.ScalarOf(v))
	}
	for _, v := range fxs {
		data.Fxs = append(data.Fxs, ad.ScalarOf(v))
	}
	for _, v := range fwds {
		data.Fwds = append(data.Fwds, ad.ScalarOf(v))
	}
	return &market.Scenario{Events: []market.EventScenarioData{data}}
}

func TestArithmeticAndAssignment(t *testing.T) {
	ix, tree := build(t, `x = 1; y = 2; z = x + y * 2;`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	zi, _ := ix.VariableIndex("z")
	assert.Equal(t, 5.0, e.VariableAt(zi).Num.Value())
}

func TestPaysAccumulatesDiscountedPayoff(t *testing.T) {
	ix, tree := build(t, `opt = 0; opt pays 100;`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{0.9}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	oi, _ := ix.VariableIndex("opt")
	assert.InDelta(t, 90.0, e.VariableAt(oi).Num.Value(), 1e-9)
}

func TestPaysInCurrencyAppliesFx(t *testing.T) {
	ix, tree := build(t, `opt = 0; opt pays 100 in "USD";`)
	req := ix.Requests()[0]
	require.Len(t, req.Fxs, 1)
	sc := oneEventScenario(req, 1, []float64{0.9}, []float64{900}, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	oi, _ := ix.VariableIndex("opt")
	assert.InDelta(t, 100*0.9*900, e.VariableAt(oi).Num.Value(), 1e-6)
}

func TestUninitializedVariableReadErrors(t *testing.T) {
	ix, tree := build(t, `y = x + 1;`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	err := e.VisitEvents([]*ast.Node{tree})
	assert.Error(t, err)
}

func TestArrayIndexOutOfBoundsErrors(t *testing.T) {
	ix, tree := build(t, `a = [1, 2, 3]; b = a[5];`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	err := e.VisitEvents([]*ast.Node{tree})
	assert.Error(t, err)
}

func TestForEachOverInclusiveRangeSumsElements(t *testing.T) {
	ix, tree := build(t, `sum = 0; for i in range(1, 3) { sum = sum + i; }`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	si, _ := ix.VariableIndex("sum")
	assert.Equal(t, 6.0, e.VariableAt(si).Num.Value())
}

func TestCvgComputesYearFraction(t *testing.T) {
	ix, tree := build(t, `y = cvg("2024-01-01", "2025-01-01", "Actual365");`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	yi, _ := ix.VariableIndex("y")
	assert.InDelta(t, 366.0/365.0, e.VariableAt(yi).Num.Value(), 1e-9)
}

func TestFifMatchesCallSpreadFormula(t *testing.T) {
	ix, tree := build(t, `y = fif(0.02, 1, 0, 0.1);`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	yi, _ := ix.VariableIndex("y")
	// b + (a-b) * clamp(x+eps/2, 0, eps) / eps, x=0.02, a=1, b=0, eps=0.1
	want := 0.0 + (1.0-0.0)*math.Min(math.Max(0.02+0.05, 0), 0.1)/0.1
	assert.InDelta(t, want, e.VariableAt(yi).Num.Value(), 1e-9)
}

func TestArrayMeanAndStdMatchSpecExample(t *testing.T) {
	ix, tree := build(t, `a = [1, 2, 3]; m = a.mean(); s = a.std();`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	mi, _ := ix.VariableIndex("m")
	si, _ := ix.VariableIndex("s")
	assert.Equal(t, 2.0, e.VariableAt(mi).Num.Value())
	assert.InDelta(t, 0.81649658, e.VariableAt(si).Num.Value(), 1e-6)
}

func TestDivisionByZeroPropagatesAsInfNotError(t *testing.T) {
	ix, tree := build(t, `y = 1 / 0;`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	yi, _ := ix.VariableIndex("y")
	assert.True(t, math.IsInf(e.VariableAt(yi).Num.Value(), 1))
}

func TestIfBranchExecutesOnlyTakenSide(t *testing.T) {
	ix, tree := build(t, `x = 5; if x > 0 { y = 1; } else { y = -1; }`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	yi, _ := ix.VariableIndex("y")
	assert.Equal(t, 1.0, e.VariableAt(yi).Num.Value())
}

func TestResultsMapsNamesToValues(t *testing.T) {
	ix, tree := build(t, `x = 42;`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{1}, nil, nil)
	e := New(ix.Size(), sc, ix.Requests())
	require.NoError(t, e.VisitEvents([]*ast.Node{tree}))

	results := e.Results(ix.Variables())
	assert.Equal(t, 42.0, results["x"].Num.Value())
}
