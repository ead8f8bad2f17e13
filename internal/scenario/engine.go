package scenario

import (
	"fmt"
	"math"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/market"
	"github.com/aristath/derivscript/internal/market/daycount"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"golang.org/x/exp/rand"
)

// Flavour selects which of the three scenario-generation models (spec
// §4.8) an Engine runs.
type Flavour uint8

const (
	Deterministic Flavour = iota
	BlackScholesFX
	HullWhiteHeston
)

// Engine generates scenarios for a fixed event stream under one Flavour.
// An Engine is immutable after construction and safe to share read-only
// across worker goroutines (spec §5); all per-path mutable state (the RNG,
// the running rate/variance) lives on the stack of GeneratePath.
type Engine struct {
	Flavour       Flavour
	LocalCurrency string
}

// NewEngine returns an Engine for the given flavour and local (accumulator)
// currency; the actual market parameters live in the Leaves passed to each
// GeneratePath call, built once per worker thread.
func NewEngine(flavour Flavour, localCurrency string) *Engine {
	return &Engine{Flavour: flavour, LocalCurrency: localCurrency}
}

// pathRNG is the per-scenario generator derived from a base seed and the
// scenario index (spec §4.8 "RNG discipline" — reproducible, embarrassingly
// parallel: seed = f(baseSeed, scenarioIndex)).
func pathRNG(baseSeed uint64, scenarioIndex int) *rand.Rand {
	src := rand.NewSource(baseSeed ^ (uint64(scenarioIndex)*0x9E3779B97F4A7C15 + 1))
	return rand.New(src)
}

// GeneratePath produces one scenario for scenarioIndex. leaves must already
// hold every parameter the events reference (built once per thread via
// NewLeaves, outside the per-path loop — spec §4.8 "AD interaction").
func (e *Engine) GeneratePath(leaves *Leaves, baseSeed uint64, scenarioIndex int, events []*market.EventRequest) (market.Scenario, error) {
	rng := pathRNG(baseSeed, scenarioIndex)
	switch e.Flavour {
	case Deterministic:
		return e.deterministicPath(leaves, events)
	case BlackScholesFX:
		return e.blackScholesPath(leaves, events, rng)
	case HullWhiteHeston:
		return e.hullWhiteHestonPath(leaves, events, rng)
	default:
		return market.Scenario{}, fmt.Errorf("scenario: unknown flavour %d", e.Flavour)
	}
}

// numeraireDf returns the Black-Scholes flavour's numéraire for the local
// currency L at t years from the reference date, read from curveName's
// zero-rate leaf. spec §4.8: "numéraire for the accumulator currency L is
// FX_{payccy->L}(T)/P_L(0,T)" — here the payment currency is always taken
// to be L itself, so the FX leg collapses to 1 and the numéraire is the
// reciprocal discount factor. The deterministic flavour uses a numéraire
// of 1 instead.
func (e *Engine) numeraireDf(leaves *Leaves, curveName string, t float64) ad.Scalar {
	r := leaves.zeroRateOrZero(curveName)
	df := expScalar(r.Mul(ad.ScalarOf(-t)))
	// reciprocal via df^-1, not Double(1).Div(df): see spotOrOne for why
	// the potentially-Var operand must be the receiver.
	return df.Pow(ad.ScalarOf(-1))
}

func expScalar(s ad.Scalar) ad.Scalar { return s.Exp() }

// deterministicPath reads every discount factor, forward and FX rate
// directly from the (tape-resident) leaves, with a numéraire of 1 (spec
// §4.8 "Deterministic").
func (e *Engine) deterministicPath(leaves *Leaves, events []*market.EventRequest) (market.Scenario, error) {
	out := market.Scenario{Events: make([]market.EventScenarioData, len(events))}
	if len(events) == 0 {
		return out, nil
	}
	for i, ev := range events {
		data := market.EventScenarioData{Numeraire: ad.ScalarOf(1)}
		for _, df := range ev.Dfs {
			r := leaves.zeroRateOrZero(e.resolveCurve(df.Curve))
			horizon := daycount.Years(events[0].Date, ev.Date)
			data.Dfs = append(data.Dfs, expScalar(r.Mul(ad.ScalarOf(-horizon))))
		}
		for _, fwd := range ev.Fwds {
			accrual := daycount.Years(fwd.Start, fwd.End)
			if accrual <= 0 {
				accrual = 1e-8
			}
			rStart := leaves.zeroRateOrZero(e.LocalCurrency)
			tStart := daycount.Years(events[0].Date, fwd.Start)
			tEnd := daycount.Years(events[0].Date, fwd.End)
			pStart := expScalar(rStart.Mul(ad.ScalarOf(-tStart)))
			pEnd := expScalar(rStart.Mul(ad.ScalarOf(-tEnd)))
			ratio := pStart.Div(pEnd)
			data.Fwds = append(data.Fwds, ratio.Sub(ad.ScalarOf(1)).Div(ad.ScalarOf(accrual)))
		}
		for _, fx := range ev.Fxs {
			data.Fxs = append(data.Fxs, leaves.spotOrOne(fx.Base, e.resolveQuote(fx.Quote)))
		}
		out.Events[i] = data
	}
	return out, nil
}

// resolveQuote substitutes the engine's local currency for the empty-quote
// sentinel the indexer writes for an implicit "pays ... in <ccy>" FX
// request (see indexer.indexPays).
func (e *Engine) resolveQuote(quote string) string {
	if quote == "" {
		return e.LocalCurrency
	}
	return quote
}

// resolveCurve substitutes the engine's local currency for the empty-Curve
// sentinel the indexer writes into every event's Dfs[0] (see
// indexer.VisitEvents); named Df(...) requests pass their curve through
// unchanged.
func (e *Engine) resolveCurve(curve string) string {
	if curve == "" {
		return e.LocalCurrency
	}
	return curve
}

// blackScholesPath evolves each FX request under a one-step log-normal GBM
// from the reference date to its own maturity (spec §4.8 "Black-Scholes
// log-normal FX"); discount factors and forwards stay deterministic, and
// each event's numéraire comes from numeraireDf.
func (e *Engine) blackScholesPath(leaves *Leaves, events []*market.EventRequest, rng *rand.Rand) (market.Scenario, error) {
	out, err := e.deterministicPath(leaves, events)
	if err != nil {
		return out, err
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	refDate := events[0].Date
	for i, ev := range events {
		out.Events[i].Numeraire = e.numeraireDf(leaves, e.curveForCurrency(e.LocalCurrency), daycount.Years(refDate, ev.Date))
		for j, fx := range ev.Fxs {
			quote := e.resolveQuote(fx.Quote)
			t := daycount.Years(refDate, ev.Date)
			if t <= 0 {
				continue
			}
			rQuote := leaves.zeroRateOrZero(e.curveForCurrency(quote))
			rBase := leaves.zeroRateOrZero(e.curveForCurrency(fx.Base))
			sigma := leaves.volOrZero(fx.Base, quote)
			spot := leaves.spotOrOne(fx.Base, quote)
			z := norm.Rand()

			halfVarT := sigma.Mul(sigma).Mul(ad.ScalarOf(0.5 * t))
			drift := rQuote.Sub(rBase).Mul(ad.ScalarOf(t)).Sub(halfVarT)
			diffusion := sigma.Mul(ad.ScalarOf(math.Sqrt(t) * z))
			logReturn := drift.Add(diffusion)
			out.Events[i].Fxs[j] = spot.Mul(expScalar(logReturn))
		}
	}
	return out, nil
}

// curveForCurrency resolves a currency's discounting curve by naming
// convention "<CCY>" as used throughout the pricing-request curve list
// (spec §6); real currency-to-curve resolution happens one layer up in
// curve.Store.CurrencyCurve, this only needs the curve's lookup key, which
// is its Name — by convention the curve named after its currency.
func (e *Engine) curveForCurrency(ccy string) string { return ccy }

// hullWhiteHestonPath simulates an exact Hull-White short-rate step and a
// truncated Milstein variance step between consecutive event dates, using
// correlated normals with fixed correlation leaves.Rho (spec §4.8 third
// flavour). The simulated rate drives the numéraire, discount factors and
// forwards. FX is evolved from the simulated variance alone, as a
// driftless log-normal step with its own independent normal draw; the rate
// path does not enter the FX value.
func (e *Engine) hullWhiteHestonPath(leaves *Leaves, events []*market.EventRequest, rng *rand.Rand) (market.Scenario, error) {
	out := market.Scenario{Events: make([]market.EventScenarioData, len(events))}
	if len(events) == 0 {
		return out, nil
	}
	refDate := events[0].Date
	localCurveName := e.curveForCurrency(e.LocalCurrency)
	a := leaves.RateMeanReversion.Value()
	sigmaR := leaves.RateVol.Value()
	kappa := leaves.VarMeanReversion.Value()
	thetaV := leaves.LongRunVariance.Value()
	xi := leaves.VolOfVol.Value()
	rho := leaves.Rho

	chol, err := correlationCholesky(rho)
	if err != nil {
		return out, err
	}

	r := leaves.zeroRateOrZero(localCurveName).Value()
	v := leaves.InitialVariance.Value()
	prevDate := refDate

	for i, ev := range events {
		dt := daycount.Years(prevDate, ev.Date)
		if dt > 0 {
			zr, zv := correlatedNormals(rng, chol)

			if a > 0 {
				// exact Hull-White step around the curve's flat long-run
				// rate target theta_r (spec §4.8 "exact Hull-White step")
				thetaR := leaves.zeroRateOrZero(localCurveName).Value()
				decay := math.Exp(-a * dt)
				r = r*decay + thetaR*(1-decay) + sigmaR*math.Sqrt((1-math.Exp(-2*a*dt))/(2*a))*zr
			} else {
				r += sigmaR * math.Sqrt(dt) * zr
			}

			vDrift := kappa * (thetaV - math.Max(v, 0)) * dt
			vDiffusion := xi * math.Sqrt(math.Max(v, 0)) * math.Sqrt(dt) * zv
			vCorrection := 0.25 * xi * xi * dt * (zv*zv - 1)
			v = math.Max(0, v+vDrift+vDiffusion+vCorrection)
		}

		data := market.EventScenarioData{Numeraire: ad.Double(math.Exp(r * daycount.Years(refDate, ev.Date)))}
		for range ev.Dfs {
			t := daycount.Years(refDate, ev.Date)
			data.Dfs = append(data.Dfs, ad.Double(math.Exp(-r*t)))
		}
		for _, fwd := range ev.Fwds {
			accrual := daycount.Years(fwd.Start, fwd.End)
			if accrual <= 0 {
				accrual = 1e-8
			}
			tS := daycount.Years(refDate, fwd.Start)
			tE := daycount.Years(refDate, fwd.End)
			pS := math.Exp(-r * tS)
			pE := math.Exp(-r * tE)
			data.Fwds = append(data.Fwds, ad.Double((pS/pE-1)/accrual))
		}
		for _, fx := range ev.Fxs {
			t := daycount.Years(refDate, ev.Date)
			spot := leaves.spotOrOne(fx.Base, e.resolveQuote(fx.Quote)).Value()
			if t <= 0 {
				data.Fxs = append(data.Fxs, ad.Double(spot))
				continue
			}
			zfx := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}.Rand()
			sqrtV := math.Sqrt(math.Max(v, 0))
			logReturn := -0.5*v*t + sqrtV*math.Sqrt(t)*zfx
			data.Fxs = append(data.Fxs, ad.Double(spot*math.Exp(logReturn)))
		}
		out.Events[i] = data
		prevDate = ev.Date
	}
	return out, nil
}

// correlationCholesky factors the 2x2 correlation matrix [[1,rho],[rho,1]]
// so correlated rate/variance normals can be built from two independent
// standard normals (spec §4.8 "correlated normals with fixed rho_SV").
func correlationCholesky(rho float64) (*mat.Cholesky, error) {
	corr := mat.NewSymDense(2, []float64{1, rho, rho, 1})
	var chol mat.Cholesky
	if ok := chol.Factorize(corr); !ok {
		return nil, fmt.Errorf("scenario: correlation matrix with rho=%g is not positive definite", rho)
	}
	return &chol, nil
}

func correlatedNormals(rng *rand.Rand, chol *mat.Cholesky) (float64, float64) {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	z := mat.NewVecDense(2, []float64{norm.Rand(), norm.Rand()})
	var lz mat.VecDense
	var l mat.TriDense
	chol.LTo(&l)
	lz.MulVec(&l, z)
	return lz.AtVec(0), lz.AtVec(1)
}
