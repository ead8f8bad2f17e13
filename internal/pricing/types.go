// Package pricing implements the external pricing call (spec.md §6): it
// parses a JSON-compatible request, drives the lexer/parser/indexer/
// if-processor/domain passes and the scenario engine, runs the
// aggregator or the sensitivity harness depending on whether Greeks were
// asked for, and shapes the result back into the JSON-compatible
// response §6 describes.
package pricing

import "fmt"

// ErrorKind classifies a pricing failure (spec §7).
type ErrorKind string

const (
	SyntaxError      ErrorKind = "syntax_error"
	UnexpectedToken  ErrorKind = "unexpected_token"
	EvaluationError  ErrorKind = "evaluation_error"
	NotFound         ErrorKind = "not_found"
	InvalidOperation ErrorKind = "invalid_operation"
	NumericError     ErrorKind = "numeric_error"
)

// Error is the single error type every pricing-call failure surfaces as
// (spec §7: "Parse, evaluation, and model errors are returned as a
// single error with a human-readable message and classification").
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pricing: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("pricing: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// FxQuote is one market_data.fx[] entry: the spot rate and (for the
// stochastic flavours) the volatility between a weak and a strong
// currency. By convention weak is the Leaves/Spot "base": weak per
// strong = value (one unit of the weak currency buys value units of the
// strong one), matching internal/scenario.Leaves' "1 base = Spot quote
// units" convention.
type FxQuote struct {
	Weak   string  `json:"weak"`
	Strong string  `json:"strong"`
	Value  float64 `json:"value"`
	Vol    float64 `json:"vol"`
}

// CurveInput is one market_data.curves[] entry: a flat continuously
// compounded zero rate for a named curve (internal/market/curve.Curve).
type CurveInput struct {
	Name     string  `json:"name"`
	Currency string  `json:"currency"`
	Rate     float64 `json:"rate"`
}

// MarketData is the request's market_data object (spec §6).
type MarketData struct {
	ReferenceDate string       `json:"reference_date"`
	LocalCurrency string       `json:"local_currency"`
	Fx            []FxQuote    `json:"fx"`
	Curves        []CurveInput `json:"curves"`
}

// ScriptEvent is one script_data.events[] entry.
type ScriptEvent struct {
	Date   string `json:"date"`
	Script string `json:"script"`
}

// ScriptData is the request's script_data object (spec §6).
type ScriptData struct {
	Events []ScriptEvent `json:"events"`
}

// HWHestonInput carries the Hull-White/Heston calibration constants
// (spec §4.8 third flavour); left nil for the other two flavours. Spec.md
// leaves calibration external to the core (§1), so these always come from
// the request rather than being fitted internally.
type HWHestonInput struct {
	RateMeanReversion float64 `json:"rate_mean_reversion"`
	RateVol           float64 `json:"rate_vol"`
	VarMeanReversion  float64 `json:"var_mean_reversion"`
	LongRunVariance   float64 `json:"long_run_variance"`
	VolOfVol          float64 `json:"vol_of_vol"`
	InitialVariance   float64 `json:"initial_variance"`
	Rho               float64 `json:"rho"`
}

// Request is the pricing call's JSON-compatible input (spec §6), plus
// the Monte Carlo controls the distilled schema leaves to configuration:
// a request may override them per call, falling back to internal/config
// defaults when zero-valued.
type Request struct {
	MarketData MarketData `json:"market_data"`
	ScriptData ScriptData `json:"script_data"`

	// Flavour selects the scenario engine (spec §4.8): "deterministic"
	// (default), "black_scholes_fx" or "hull_white_heston".
	Flavour         string         `json:"flavour,omitempty"`
	NumPaths        int            `json:"num_paths,omitempty"`
	Seed            uint64         `json:"seed,omitempty"`
	HullWhiteHeston *HWHestonInput `json:"hull_white_heston,omitempty"`

	// PriceVariable names the script variable the sensitivity harness
	// differentiates; empty skips the backward sweep entirely and the
	// response carries no Sensitivities.
	PriceVariable string `json:"price_variable,omitempty"`

	// IncludeCashflows runs the cashflow collector (C13) alongside the
	// aggregator/sensitivity harness and populates ExpectedCashflows.
	// Not part of spec §6's narrow response schema; included as a
	// supplement since C13 is a named module with no other home in the
	// external interface.
	IncludeCashflows bool `json:"include_cashflows,omitempty"`
}

// CashflowOut is one (currency, payment date) expected-cashflow bucket.
type CashflowOut struct {
	Currency string  `json:"currency"`
	Date     string  `json:"date"`
	Amount   float64 `json:"amount"`
}

// Response is the pricing call's JSON-compatible output (spec §6): a
// mapping from script variable name to value, and optionally a price and
// its sensitivities.
type Response struct {
	Variables         map[string]any  `json:"variables"`
	Price             *float64        `json:"price,omitempty"`
	Sensitivities     map[string]float64 `json:"sensitivities,omitempty"`
	ExpectedCashflows []CashflowOut   `json:"expected_cashflows,omitempty"`
}
