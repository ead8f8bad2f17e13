package eval

import (
	"testing"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateAveragesNumericVariableAcrossScenarios(t *testing.T) {
	ix, tree := build(t, `opt = 0; opt pays 100;`)
	req := ix.Requests()[0]
	scenarios := []*market.Scenario{
		oneEventScenario(req, 1, []float64{0.9}, nil, nil),
		oneEventScenario(req, 1, []float64{1.1}, nil, nil),
	}

	names := ix.Variables()
	out, err := Aggregate(ix.Size(), ix.Requests(), []*ast.Node{tree}, names, scenarios)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, out["opt"].Mean, 1e-9)
	assert.InDelta(t, 10.0, out["opt"].StdDev, 1e-9)
}

func TestAggregateErrorsOnEmptyBatch(t *testing.T) {
	ix, tree := build(t, `x = 1;`)
	_, err := Aggregate(ix.Size(), ix.Requests(), []*ast.Node{tree}, ix.Variables(), nil)
	assert.Error(t, err)
}

func TestCashflowCollectorRecordsUndiscountedAmountByCurrencyAndDate(t *testing.T) {
	ix, tree := build(t, `opt = 0; opt pays 100 in "USD";`)
	req := ix.Requests()[0]
	sc := oneEventScenario(req, 1, []float64{0.5}, []float64{2}, nil)

	c := NewCashflowCollector(ix.Size(), sc, ix.Requests())
	require.NoError(t, c.VisitEvents([]*ast.Node{tree}))

	flows := c.Cashflows()
	require.Len(t, flows, 1)
	for key, v := range flows {
		assert.Equal(t, "USD", key.Currency)
		assert.Equal(t, refDate, key.Date)
		assert.Equal(t, 100.0, v.Value())
	}
}

func TestAverageCashflowsTreatsMissingBucketAsZero(t *testing.T) {
	key := CashflowKey{Currency: "USD", Date: refDate}
	perScenario := []map[CashflowKey]ad.Scalar{
		{key: ad.ScalarOf(100)},
		{},
	}
	out := AverageCashflows(perScenario)
	assert.InDelta(t, 50.0, out[key], 1e-9)
}
