// Package curve implements the narrow interest-rate term-structure and
// index interface spec.md §6 leaves external: discount factors and
// forward rates derived from a flat continuously-compounded zero rate per
// curve, keyed by curve name.
package curve

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/derivscript/internal/market/daycount"
)

// Curve is a flat zero-rate term structure: P(0,T) = exp(-r*T). Real
// term-structure construction (bootstrapping from market instruments) is
// explicitly out of scope (spec §1); the pricing request only ever
// supplies one flat rate per curve (spec §6 curves[].rate).
type Curve struct {
	Name           string
	Currency       string
	ZeroRate       float64
	ReferenceDate  time.Time
}

// DiscountFactor returns P(0,T) for maturity date.
func (c Curve) DiscountFactor(date time.Time) float64 {
	t := daycount.Years(c.ReferenceDate, date)
	return math.Exp(-c.ZeroRate * t)
}

// ZeroRateFromDf inverts DiscountFactor, used by the Black-Scholes FX
// flavour's r = -ln P(0,T)/T derivation (spec §4.8).
func ZeroRateFromDf(df float64, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return -math.Log(df) / t
}

// ForwardRate returns the simply-compounded forward rate implied by the
// curve between start and end, accrued Actual/365 (spec leaves accrual
// convention external; Actual/365 matches the teacher-language's simple
// annual compounding default).
func (c Curve) ForwardRate(start, end time.Time) (float64, error) {
	accrual, err := daycount.Fraction(start, end, daycount.Actual365)
	if err != nil {
		return 0, err
	}
	if accrual <= 0 {
		return 0, fmt.Errorf("curve: non-positive accrual period between %s and %s", start, end)
	}
	pStart := c.DiscountFactor(start)
	pEnd := c.DiscountFactor(end)
	return (pStart/pEnd - 1) / accrual, nil
}

// Store is a read-mostly container of curves, keyed by name; built once
// per pricing call and shared read-only across worker goroutines (spec §5
// "Shared-resource policy").
type Store struct {
	curves map[string]Curve
}

// NewStore builds a Store from a slice of curves.
func NewStore(curves []Curve) *Store {
	m := make(map[string]Curve, len(curves))
	for _, c := range curves {
		m[c.Name] = c
	}
	return &Store{curves: m}
}

// Get returns the named curve.
func (s *Store) Get(name string) (Curve, error) {
	c, ok := s.curves[name]
	if !ok {
		return Curve{}, fmt.Errorf("curve: unknown curve %q", name)
	}
	return c, nil
}

// CurrencyCurve returns the first curve found for the given currency, used
// to resolve a currency's discounting curve when the script doesn't name
// one explicitly (spec §4.8 numéraire derivation).
func (s *Store) CurrencyCurve(ccy string) (Curve, error) {
	for _, c := range s.curves {
		if c.Currency == ccy {
			return c, nil
		}
	}
	return Curve{}, fmt.Errorf("curve: no curve found for currency %q", ccy)
}
