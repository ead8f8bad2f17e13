package curve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refDate() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestDiscountFactorAtReferenceDateIsOne(t *testing.T) {
	c := Curve{Name: "USD-OIS", Currency: "USD", ZeroRate: 0.05, ReferenceDate: refDate()}
	assert.InDelta(t, 1.0, c.DiscountFactor(refDate()), 1e-12)
}

func TestDiscountFactorDecreasesWithMaturity(t *testing.T) {
	c := Curve{Name: "USD-OIS", Currency: "USD", ZeroRate: 0.05, ReferenceDate: refDate()}
	near := c.DiscountFactor(refDate().AddDate(0, 1, 0))
	far := c.DiscountFactor(refDate().AddDate(1, 0, 0))
	assert.Greater(t, near, far)
	assert.Less(t, far, 1.0)
}

func TestZeroRateFromDfInvertsDiscountFactor(t *testing.T) {
	c := Curve{Name: "USD-OIS", Currency: "USD", ZeroRate: 0.05, ReferenceDate: refDate()}
	maturity := refDate().AddDate(2, 0, 0)
	df := c.DiscountFactor(maturity)
	t_ := maturity.Sub(refDate()).Hours() / 24 / 365
	assert.InDelta(t, 0.05, ZeroRateFromDf(df, t_), 1e-6)
}

func TestForwardRatePositiveForUpwardSlopingDf(t *testing.T) {
	c := Curve{Name: "USD-OIS", Currency: "USD", ZeroRate: 0.05, ReferenceDate: refDate()}
	fwd, err := c.ForwardRate(refDate().AddDate(0, 6, 0), refDate().AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.05, fwd, 1e-3)
}

func TestForwardRateRejectsNonPositiveAccrual(t *testing.T) {
	c := Curve{Name: "USD-OIS", Currency: "USD", ZeroRate: 0.05, ReferenceDate: refDate()}
	_, err := c.ForwardRate(refDate(), refDate())
	assert.Error(t, err)
}

func TestStoreGetUnknownCurveErrors(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Get("missing")
	assert.Error(t, err)
}

func TestStoreCurrencyCurveResolvesByCurrency(t *testing.T) {
	s := NewStore([]Curve{
		{Name: "USD-OIS", Currency: "USD", ZeroRate: 0.05, ReferenceDate: refDate()},
		{Name: "CLP-OIS", Currency: "CLP", ZeroRate: 0.08, ReferenceDate: refDate()},
	})
	c, err := s.CurrencyCurve("CLP")
	require.NoError(t, err)
	assert.Equal(t, "CLP-OIS", c.Name)
}

func TestStoreCurrencyCurveUnknownErrors(t *testing.T) {
	s := NewStore([]Curve{{Name: "USD-OIS", Currency: "USD", ZeroRate: 0.05, ReferenceDate: refDate()}})
	_, err := s.CurrencyCurve("JPY")
	assert.Error(t, err)
}
