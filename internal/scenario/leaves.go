// Package scenario implements the Monte Carlo scenario engine (spec.md
// §4.8): three flavours (deterministic, Black-Scholes log-normal FX,
// Hull-White short rate + Heston-style stochastic variance) producing
// per-scenario market.Scenario bundles from a per-event market.EventRequest
// stream.
package scenario

import (
	"fmt"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/market/curve"
	"github.com/aristath/derivscript/internal/market/fxstore"
)

// Pair is the map key for per-currency-pair leaves (spot, vol).
type Pair [2]string

// MarketModel bundles the read-only market resources an Engine draws from:
// built once per pricing call and shared across worker goroutines (spec §5
// "Shared-resource policy").
type MarketModel struct {
	Curves *curve.Store
	Fx     *fxstore.Store
	// FxVol holds the Black-Scholes/Heston FX volatility for a (base,
	// quote) pair, as supplied by the pricing request's fx[].vol field.
	FxVol map[Pair]float64
}

// Leaves holds every tape-resident model parameter an Engine needs,
// assembled once per worker thread before the per-scenario loop (spec
// §4.8 "AD interaction": "Model parameters ... are placed on the tape once
// per thread, before the per-path loop"). When built with a nil tape every
// leaf is an ad.Double and the whole pipeline degenerates to plain
// floating-point simulation at no extra cost (spec §4.1).
type Leaves struct {
	tape *ad.Tape

	// ZeroRate[curveName] is the curve's continuously-compounded zero
	// rate leaf.
	ZeroRate map[string]ad.Scalar
	// Spot[base,quote] is the FX spot leaf, 1 base = Spot quote units.
	Spot map[Pair]ad.Scalar
	// Vol[base,quote] is the FX volatility leaf feeding the
	// Black-Scholes and Hull-White/Heston flavours.
	Vol map[Pair]ad.Scalar

	// Hull-White/Heston parameters. Held as scalars (rather than plain
	// floats) since spec §4.8 names "mean-reversion, long-run variance"
	// among the parameters sensitivities may be requested for.
	RateMeanReversion ad.Scalar // a
	RateVol           ad.Scalar // sigma_r
	VarMeanReversion  ad.Scalar // kappa
	LongRunVariance   ad.Scalar // theta_v
	VolOfVol          ad.Scalar // xi
	InitialVariance   ad.Scalar // v0
	Rho               float64   // rho_SV, correlation between rate and variance shocks (a calibration constant, not a sensitivity target)
}

// leaf wraps v as a Var on tape if tape is non-nil, else as a tape-free
// Double; this is the single place that decides "are we differentiating".
func leaf(tape *ad.Tape, v float64) ad.Scalar {
	if tape == nil {
		return ad.Double(v)
	}
	return ad.NewVar(tape, v)
}

// curveRates builds one zero-rate leaf per curve in mm.
func curveRates(tape *ad.Tape, mm *MarketModel, curveNames []string) map[string]ad.Scalar {
	out := make(map[string]ad.Scalar, len(curveNames))
	for _, name := range curveNames {
		c, err := mm.Curves.Get(name)
		if err != nil {
			continue
		}
		out[name] = leaf(tape, c.ZeroRate)
	}
	return out
}

// HWHestonParams are the calibration inputs for the third flavour (spec
// §4.8). Supplied by the pricing request's hull_white_heston object (not
// its market data), since spec.md leaves calibration external to this
// engine (§1).
type HWHestonParams struct {
	RateMeanReversion float64
	RateVol           float64
	VarMeanReversion  float64
	LongRunVariance   float64
	VolOfVol          float64
	InitialVariance   float64
	Rho               float64
}

// NewLeaves assembles Leaves for one worker thread. tape is nil for a
// non-differentiating engine run, or the thread's own tape when
// sensitivities are requested; curveNames/pairs/vols enumerate every
// parameter the event stream will reference, so indexing them all once up
// front keeps the per-path loop allocation-free.
func NewLeaves(tape *ad.Tape, mm *MarketModel, curveNames []string, pairs []Pair, hw HWHestonParams) (*Leaves, error) {
	l := &Leaves{
		tape:     tape,
		ZeroRate: curveRates(tape, mm, curveNames),
		Spot:     make(map[Pair]ad.Scalar, len(pairs)),
		Vol:      make(map[Pair]ad.Scalar, len(pairs)),
	}
	for _, p := range pairs {
		rate, err := mm.Fx.Rate(p[0], p[1])
		if err != nil {
			return nil, fmt.Errorf("scenario: missing fx spot for %s/%s: %w", p[0], p[1], err)
		}
		l.Spot[p] = leaf(tape, rate)
		vol := mm.FxVol[p]
		l.Vol[p] = leaf(tape, vol)
	}
	l.RateMeanReversion = leaf(tape, hw.RateMeanReversion)
	l.RateVol = leaf(tape, hw.RateVol)
	l.VarMeanReversion = leaf(tape, hw.VarMeanReversion)
	l.LongRunVariance = leaf(tape, hw.LongRunVariance)
	l.VolOfVol = leaf(tape, hw.VolOfVol)
	l.InitialVariance = leaf(tape, hw.InitialVariance)
	l.Rho = hw.Rho
	return l, nil
}

// zeroRateOrZero returns the leaf for curveName, falling back to a
// tape-free zero if the curve was never registered (e.g. an event stream
// referencing a curve NewLeaves wasn't told about).
func (l *Leaves) zeroRateOrZero(curveName string) ad.Scalar {
	if v, ok := l.ZeroRate[curveName]; ok {
		return v
	}
	return ad.Double(0)
}

func (l *Leaves) spotOrOne(base, quote string) ad.Scalar {
	if base == quote {
		return ad.Double(1)
	}
	if v, ok := l.Spot[Pair{base, quote}]; ok {
		return v
	}
	if v, ok := l.Spot[Pair{quote, base}]; ok {
		// 1/v computed as v^-1 rather than Double(1).Div(v): when v is a
		// Var, the reciprocal must be recorded through v's own tape, and
		// Scalar binary ops only fold correctly when the potentially-Var
		// operand is the receiver (see Double's binary methods in scalar.go).
		return v.Pow(ad.ScalarOf(-1))
	}
	return ad.Double(0)
}

func (l *Leaves) volOrZero(base, quote string) ad.Scalar {
	if v, ok := l.Vol[Pair{base, quote}]; ok {
		return v
	}
	if v, ok := l.Vol[Pair{quote, base}]; ok {
		return v
	}
	return ad.Double(0)
}
