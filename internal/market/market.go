// Package market defines the per-event market request records (spec §3
// "Market request") and the market stores / scenario bundles built on top
// of them. Sub-packages daycount, curve and fxstore implement the
// concrete read-mostly containers; this package holds the shapes shared
// between the indexer, the scenario engine and the evaluators.
package market

import (
	"time"

	"github.com/aristath/derivscript/internal/ad"
)

// Compounding mirrors the narrow rate-index interface spec §1 leaves
// external; only simple compounding is produced by the indexer, matching
// the teacher-language evaluator's hardcoded choice.
type Compounding uint8

const (
	Simple Compounding = iota
	Continuous
)

// Frequency is the forward-rate accrual frequency. Only Annual is ever
// produced by RateIndex(...) script calls; the type exists so curve.go's
// forward-rate formula has a documented extension point.
type Frequency uint8

const (
	Annual Frequency = iota
	SemiAnnual
	Quarterly
	Monthly
)

// DfRequest asks for the discount factor of Curve at the event date.
type DfRequest struct {
	Curve string
}

// FwdRequest asks for a forward rate over [Start, End) fixed on an index.
type FwdRequest struct {
	Index       string
	Start       time.Time
	End         time.Time
	Compounding Compounding
	Frequency   Frequency
}

// FxRequest asks for the FX spot of Base/Quote at Date.
type FxRequest struct {
	Base, Quote string
	Date        time.Time
}

// EventRequest is the per-event record enumerating everything the script
// demands from the market model at one event's date.
type EventRequest struct {
	Date time.Time
	Dfs  []DfRequest
	Fwds []FwdRequest
	Fxs  []FxRequest
}

// NewEventRequest returns an empty request for the given date.
func NewEventRequest(date time.Time) *EventRequest {
	return &EventRequest{Date: date}
}

// EventScenarioData is one event's worth of realised market data under one
// scenario: a numéraire value plus parallel arrays indexed exactly like the
// EventRequest's Dfs/Fwds/Fxs. Values are ad.Scalar rather than plain
// float64 so that, when the scenario engine's caller is differentiating
// (tape-backed leaves for spot, vol, mean-reversion etc., placed once per
// thread per spec §4.8's "AD interaction"), every simulated value downstream
// of those leaves carries tape lineage through to the evaluator and the
// backward sweep. Non-differentiating callers pass ad.Double values, which
// is a tape-free, effectively free computation (spec §4.1).
type EventScenarioData struct {
	Numeraire ad.Scalar
	Dfs       []ad.Scalar
	Fwds      []ad.Scalar
	Fxs       []ad.Scalar
}

// Scenario is one simulated future state: one EventScenarioData per event,
// same length and order as the event stream and the request list.
type Scenario struct {
	Events []EventScenarioData
}
