package scenario

import (
	"testing"
	"time"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/market"
	"github.com/aristath/derivscript/internal/market/curve"
	"github.com/aristath/derivscript/internal/market/fxstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() (*MarketModel, time.Time) {
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curves := curve.NewStore([]curve.Curve{
		{Name: "USD", Currency: "USD", ZeroRate: 0.05, ReferenceDate: ref},
		{Name: "CLP", Currency: "CLP", ZeroRate: 0.08, ReferenceDate: ref},
	})
	fx := fxstore.New(map[[2]string]float64{{"USD", "CLP"}: 900.0})
	return &MarketModel{
		Curves: curves,
		Fx:     fx,
		FxVol:  map[Pair]float64{{"USD", "CLP"}: 0.12},
	}, ref
}

func oneEventRequest(ref time.Time) []*market.EventRequest {
	ev := market.NewEventRequest(ref.AddDate(1, 0, 0))
	ev.Dfs = append(ev.Dfs, market.DfRequest{Curve: "USD"})
	ev.Fxs = append(ev.Fxs, market.FxRequest{Base: "USD", Quote: "CLP", Date: ev.Date})
	return []*market.EventRequest{ev}
}

func TestDeterministicPathIsReproducibleAndTapeFree(t *testing.T) {
	mm, ref := testModel()
	leaves, err := NewLeaves(nil, mm, []string{"USD", "CLP"}, []Pair{{"USD", "CLP"}}, HWHestonParams{})
	require.NoError(t, err)

	eng := NewEngine(Deterministic, "USD")
	events := oneEventRequest(ref)
	sc1, err := eng.GeneratePath(leaves, 42, 0, events)
	require.NoError(t, err)
	sc2, err := eng.GeneratePath(leaves, 42, 0, events)
	require.NoError(t, err)

	assert.Equal(t, sc1.Events[0].Fxs[0].Value(), sc2.Events[0].Fxs[0].Value())
	assert.InDelta(t, 900.0, sc1.Events[0].Fxs[0].Value(), 1e-9)
	assert.IsType(t, ad.Double(0), sc1.Events[0].Fxs[0])
}

func TestBlackScholesPathDiffersAcrossScenarioIndices(t *testing.T) {
	mm, ref := testModel()
	leaves, err := NewLeaves(nil, mm, []string{"USD", "CLP"}, []Pair{{"USD", "CLP"}}, HWHestonParams{})
	require.NoError(t, err)

	eng := NewEngine(BlackScholesFX, "USD")
	events := oneEventRequest(ref)
	sc1, err := eng.GeneratePath(leaves, 7, 0, events)
	require.NoError(t, err)
	sc2, err := eng.GeneratePath(leaves, 7, 1, events)
	require.NoError(t, err)

	assert.NotEqual(t, sc1.Events[0].Fxs[0].Value(), sc2.Events[0].Fxs[0].Value())
}

func TestBlackScholesPathIsReproducibleForSameSeedAndIndex(t *testing.T) {
	mm, ref := testModel()
	leaves, err := NewLeaves(nil, mm, []string{"USD", "CLP"}, []Pair{{"USD", "CLP"}}, HWHestonParams{})
	require.NoError(t, err)

	eng := NewEngine(BlackScholesFX, "USD")
	events := oneEventRequest(ref)
	sc1, err := eng.GeneratePath(leaves, 7, 3, events)
	require.NoError(t, err)
	sc2, err := eng.GeneratePath(leaves, 7, 3, events)
	require.NoError(t, err)

	assert.Equal(t, sc1.Events[0].Fxs[0].Value(), sc2.Events[0].Fxs[0].Value())
}

func TestLeavesProduceVarsWhenTapeNonNil(t *testing.T) {
	mm, _ := testModel()
	tape := ad.NewTape(64)
	leaves, err := NewLeaves(tape, mm, []string{"USD", "CLP"}, []Pair{{"USD", "CLP"}}, HWHestonParams{})
	require.NoError(t, err)
	_, ok := leaves.Spot[Pair{"USD", "CLP"}].(ad.Var)
	assert.True(t, ok)
}

func TestHullWhiteHestonPathProducesNonNegativeDiscountFactorsAndRates(t *testing.T) {
	mm, ref := testModel()
	leaves, err := NewLeaves(nil, mm, []string{"USD", "CLP"}, []Pair{{"USD", "CLP"}}, HWHestonParams{
		RateMeanReversion: 0.03,
		RateVol:           0.01,
		VarMeanReversion:  1.2,
		LongRunVariance:   0.04,
		VolOfVol:          0.3,
		InitialVariance:   0.04,
		Rho:               -0.3,
	})
	require.NoError(t, err)

	eng := NewEngine(HullWhiteHeston, "USD")
	events := oneEventRequest(ref)
	sc, err := eng.GeneratePath(leaves, 11, 2, events)
	require.NoError(t, err)

	require.Len(t, sc.Events, 1)
	assert.Greater(t, sc.Events[0].Dfs[0].Value(), 0.0)
	assert.Greater(t, sc.Events[0].Fxs[0].Value(), 0.0)
}

func TestCorrelationCholeskyRejectsInvalidRho(t *testing.T) {
	_, err := correlationCholesky(1.5)
	assert.Error(t, err)
}

func TestSpotOrOneFallsBackToInverseLeaf(t *testing.T) {
	mm, _ := testModel()
	leaves, err := NewLeaves(nil, mm, nil, []Pair{{"USD", "CLP"}}, HWHestonParams{})
	require.NoError(t, err)
	inv := leaves.spotOrOne("CLP", "USD")
	assert.InDelta(t, 1.0/900.0, inv.Value(), 1e-9)
}
