package eval

import (
	"fmt"
	"time"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/market"
	"github.com/aristath/derivscript/pkg/stat"
)

// AggregateResult is one variable's batch-summarised value (C12, spec §4.9).
// Number variables carry the batch mean/stddev; everything else is taken
// from the first scenario and left unaggregated, as the spec prescribes.
type AggregateResult struct {
	Kind   Kind
	Mean   float64
	StdDev float64
	First  Value
}

// Aggregate runs a fresh Evaluator once per scenario and averages every
// numeric-typed variable by name: mean_i(v_i). String/boolean/array
// variables are taken from the first scenario and never averaged.
func Aggregate(size int, requests []*market.EventRequest, trees []*ast.Node, names map[string]int, scenarios []*market.Scenario) (map[string]AggregateResult, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("eval: aggregator requires at least one scenario")
	}
	batches := make(map[string][]float64, len(names))
	out := make(map[string]AggregateResult, len(names))
	for si, sc := range scenarios {
		e := New(size, sc, requests)
		if err := e.VisitEvents(trees); err != nil {
			return nil, fmt.Errorf("eval: aggregator scenario %d: %w", si, err)
		}
		for name, v := range e.Results(names) {
			if v.Kind == Number {
				batches[name] = append(batches[name], v.Num.Value())
				continue
			}
			if si == 0 {
				out[name] = AggregateResult{Kind: v.Kind, First: v}
			}
		}
	}
	for name, xs := range batches {
		out[name] = AggregateResult{
			Kind:   Number,
			Mean:   stat.BatchMean(xs),
			StdDev: stat.BatchStdDev(xs),
		}
	}
	return out, nil
}

// CashflowKey identifies one expected-cashflow bucket: a currency and the
// date the payment is made on.
type CashflowKey struct {
	Currency string
	Date     time.Time
}

// CashflowCollector is the evaluator of C13 (spec §4.9): behaviourally
// identical to Evaluator except that it also accumulates every pays
// statement's undiscounted amount under its (currency, payment date) key.
// Composed rather than duplicated — spec §9 "Cashflow collector as a second
// evaluator" explicitly allows either approach, and Evaluator already
// exposes a sink hook for exactly this purpose, so subclassing the sink
// rather than re-implementing four hundred lines of node handlers keeps the
// two evaluators' non-cashflow behaviour impossible to drift apart.
type CashflowCollector struct {
	*Evaluator
	flows map[CashflowKey]ad.Scalar
}

// NewCashflowCollector returns a CashflowCollector bound to one scenario,
// mirroring New's signature.
func NewCashflowCollector(size int, scenario *market.Scenario, requests []*market.EventRequest) *CashflowCollector {
	c := &CashflowCollector{
		Evaluator: New(size, scenario, requests),
		flows:     make(map[CashflowKey]ad.Scalar),
	}
	c.Evaluator.cashflowSink = c.record
	return c
}

func (c *CashflowCollector) record(currency string, date time.Time, amount ad.Scalar) {
	key := CashflowKey{Currency: currency, Date: date}
	if cur, ok := c.flows[key]; ok {
		c.flows[key] = ad.CombineAdd(cur, amount)
	} else {
		c.flows[key] = amount
	}
}

// Cashflows returns the accumulated undiscounted pays for this one scenario
// run, keyed by currency and payment date.
func (c *CashflowCollector) Cashflows() map[CashflowKey]ad.Scalar { return c.flows }

// AverageCashflows reduces one CashflowCollector run per scenario to the
// expected cashflow per (currency, date) bucket (spec §4.9: "averaged
// across scenarios date-by-date and currency-by-currency"). A bucket absent
// from a given scenario (its pays statement sat behind a branch that
// scenario never took) contributes zero to that scenario's share of the
// mean, exactly as a Monte Carlo expectation requires.
func AverageCashflows(perScenario []map[CashflowKey]ad.Scalar) map[CashflowKey]float64 {
	out := make(map[CashflowKey]float64)
	if len(perScenario) == 0 {
		return out
	}
	keys := make(map[CashflowKey]struct{})
	for _, m := range perScenario {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	n := float64(len(perScenario))
	for k := range keys {
		sum := 0.0
		for _, m := range perScenario {
			if v, ok := m[k]; ok {
				sum += v.Value()
			}
		}
		out[k] = sum / n
	}
	return out
}
