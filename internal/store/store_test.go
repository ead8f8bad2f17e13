package store

import (
	"context"
	"testing"

	"github.com/aristath/derivscript/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func samplePricingRequest() pricing.Request {
	return pricing.Request{
		MarketData: pricing.MarketData{
			ReferenceDate: "2024-01-01",
			LocalCurrency: "CLP",
			Fx:            []pricing.FxQuote{{Weak: "USD", Strong: "CLP", Value: 900}},
			Curves:        []pricing.CurveInput{{Name: "CLP", Currency: "CLP", Rate: 0}},
		},
		ScriptData: pricing.ScriptData{
			Events: []pricing.ScriptEvent{{Date: "2024-01-01", Script: `opt = 0;`}},
		},
		PriceVariable: "opt",
	}
}

// TestSaveAndGetRunRoundTrips confirms the msgpack-encoded response blob
// survives a store/load cycle unchanged.
func TestSaveAndGetRunRoundTrips(t *testing.T) {
	db := openTestDB(t)
	s := New(db)

	price := 900.0
	req := samplePricingRequest()
	resp := &pricing.Response{
		Variables: map[string]any{"opt": 900.0},
		Price:     &price,
		Sensitivities: map[string]float64{
			"USD/CLP": 1.0,
		},
	}

	id, err := s.SaveRun(context.Background(), req, resp)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "opt", rec.PriceVariable)
	require.NotNil(t, rec.Price)
	assert.InDelta(t, 900.0, *rec.Price, 1e-9)
	require.NotNil(t, rec.Response)
	assert.InDelta(t, 1.0, rec.Response.Sensitivities["USD/CLP"], 1e-9)
}

// TestGetRunMissingReturnsErrNotFound confirms a missing id is a typed
// sentinel error rather than a bare sql.ErrNoRows leak.
func TestGetRunMissingReturnsErrNotFound(t *testing.T) {
	db := openTestDB(t)
	s := New(db)

	_, err := s.GetRun(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestListRunsOrdersNewestFirst confirms the listing's ORDER BY actually
// surfaces the most recent run first.
func TestListRunsOrdersNewestFirst(t *testing.T) {
	db := openTestDB(t)
	s := New(db)

	req := samplePricingRequest()
	for i := 0; i < 3; i++ {
		_, err := s.SaveRun(context.Background(), req, &pricing.Response{Variables: map[string]any{}})
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.False(t, runs[0].CreatedAt.Before(runs[1].CreatedAt))
	assert.False(t, runs[1].CreatedAt.Before(runs[2].CreatedAt))
}

// TestHashRequestIsStable confirms identical requests hash identically,
// since internal/schedule relies on this to skip unchanged re-pricing.
func TestHashRequestIsStable(t *testing.T) {
	req := samplePricingRequest()
	h1, err := HashRequest(req)
	require.NoError(t, err)
	h2, err := HashRequest(req)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	req.MarketData.Fx[0].Value = 901
	h3, err := HashRequest(req)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
