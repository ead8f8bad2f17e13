package fxstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateTrivialSamecurrency(t *testing.T) {
	s := New(nil)
	r, err := s.Rate("USD", "USD")
	require.NoError(t, err)
	assert.Equal(t, 1.0, r)
}

func TestRateDirectQuote(t *testing.T) {
	s := New(map[[2]string]float64{{"USD", "CLP"}: 900.0})
	r, err := s.Rate("USD", "CLP")
	require.NoError(t, err)
	assert.Equal(t, 900.0, r)
}

func TestRateInverseQuote(t *testing.T) {
	s := New(map[[2]string]float64{{"USD", "CLP"}: 900.0})
	r, err := s.Rate("CLP", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/900.0, r, 1e-12)
}

func TestRateTriangulatesThroughIntermediateCurrency(t *testing.T) {
	s := New(map[[2]string]float64{
		{"USD", "CLP"}: 900.0,
		{"USD", "EUR"}: 0.9,
	})
	r, err := s.Rate("EUR", "CLP")
	require.NoError(t, err)
	assert.InDelta(t, 900.0/0.9, r, 1e-9)
}

func TestRateUnreachablePairReturnsError(t *testing.T) {
	s := New(map[[2]string]float64{{"USD", "CLP"}: 900.0})
	_, err := s.Rate("USD", "JPY")
	assert.Error(t, err)
}

func TestRateCachesTriangulatedResultBothDirections(t *testing.T) {
	s := New(map[[2]string]float64{
		{"USD", "CLP"}: 900.0,
		{"USD", "EUR"}: 0.9,
	})
	_, err := s.Rate("EUR", "CLP")
	require.NoError(t, err)

	s.cacheMu.Lock()
	_, fwd := s.cache[pair{"EUR", "CLP"}]
	_, rev := s.cache[pair{"CLP", "EUR"}]
	s.cacheMu.Unlock()
	assert.True(t, fwd)
	assert.True(t, rev)
}
