// Package sensitivity implements the sensitivity harness (spec.md C14):
// it drives the scenario engine and an evaluator across a Monte Carlo
// batch, averages numeric results the way the aggregator does, and
// replays the AD tape backward to extract Greeks with respect to the
// market parameters named in §6's pricing response ("a mapping from
// parameter identifier ... to a real-valued sensitivity").
//
// The concurrency model follows spec §5's "Tape discipline per worker":
// each worker owns a thread-local tape and a thread-local slice of
// Leaves, places every parameter on the tape once, marks it, then for
// each assigned scenario evaluates, extracts adjoints and rewinds to the
// mark before moving to the next scenario. Workers never share a tape or
// a Leaves value.
package sensitivity

import (
	"context"
	"fmt"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/eval"
	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/market"
	"github.com/aristath/derivscript/internal/scenario"
	"github.com/aristath/derivscript/pkg/stat"
	"golang.org/x/sync/errgroup"
)

// resultEvaluator is the common surface both the deterministic and the
// fuzzy evaluator expose that the harness actually needs. It lets Run
// drive either one without caring which (spec §4.7: the fuzzy evaluator
// is substituted in whenever the script's conditionals must stay smooth
// under differentiation).
type resultEvaluator interface {
	VisitEvents(trees []*ast.Node) error
	Results(names map[string]int) map[string]eval.Value
}

// Request bundles everything one sensitivity-aware batch run needs: the
// already-indexed and if-processed event trees, the market model the
// scenario engine draws from, and the batch's size and seed.
type Request struct {
	Trees        []*ast.Node
	EventReqs    []*market.EventRequest
	ResultNames  map[string]int
	Size         int // indexer.Size(): number of script variables
	Engine       *scenario.Engine
	Market       *scenario.MarketModel
	CurveNames   []string
	Pairs        []scenario.Pair
	HW           scenario.HWHestonParams
	NumPaths     int
	BaseSeed     uint64
	Workers      int
	Fuzzy        bool
	FuzzyEps     float64
	MaxNestedIfs int
	// PriceVariable, when non-empty, names the script variable whose
	// backward sweep yields the Sensitivities map (spec §6: "price and a
	// mapping from parameter identifier ... to a real-valued
	// sensitivity"). Left empty, Run skips the backward sweep entirely
	// and returns only the aggregated Means.
	PriceVariable string
	// OnProgress, when set, is called once per scenario completed by any
	// worker so a caller can stream batch completion counters (e.g. over
	// a websocket). Workers call it concurrently; it must be safe for
	// concurrent invocation.
	OnProgress func()
}

// Result is the sensitivity harness's output: per-variable batch means
// (and, for numeric variables, standard deviations) plus, when a price
// variable was named, its sensitivities to every market parameter the
// batch's Leaves placed on the tape.
type Result struct {
	Means         map[string]eval.AggregateResult
	Sensitivities map[string]float64
}

// workerShare is one worker's contribution to the batch: numeric samples
// per result-variable name (for the aggregator reduction) plus, when
// differentiating, the worker's running adjoint sums per parameter.
type workerShare struct {
	samples    map[string][]float64
	first      map[string]eval.Value
	adjointSum map[string]float64
}

// Run drives req.NumPaths scenarios across req.Workers goroutines,
// reduces per-variable numeric samples to batch means (C12's "average
// numeric-typed variables by name"), and — when req.PriceVariable is set
// — reduces per-worker adjoint sums to expected-value sensitivities
// (spec §4.8 "AD interaction": "adjoints on parameter leaves are summed
// and finally divided by N").
func Run(ctx context.Context, req Request) (*Result, error) {
	if req.NumPaths <= 0 {
		return nil, fmt.Errorf("sensitivity: NumPaths must be positive, got %d", req.NumPaths)
	}
	workers := req.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > req.NumPaths {
		workers = req.NumPaths
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	shares := make([]workerShare, workers)
	chunk := (req.NumPaths + workers - 1) / workers

	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunk
		hi := lo + chunk
		if hi > req.NumPaths {
			hi = req.NumPaths
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			out, err := runWorker(gCtx, req, lo, hi)
			if err != nil {
				return err
			}
			shares[w] = *out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return reduce(shares, req.NumPaths), nil
}

// differentiating reports whether this batch needs its own tape: only
// when a price variable was named is there anything to differentiate.
func (r Request) differentiating() bool { return r.PriceVariable != "" }

// runWorker evaluates scenarios [lo, hi) on a thread-local tape and
// Leaves, following spec §5's four-step tape discipline per worker.
func runWorker(ctx context.Context, req Request, lo, hi int) (*workerShare, error) {
	share := &workerShare{
		samples:    make(map[string][]float64),
		first:      make(map[string]eval.Value),
		adjointSum: make(map[string]float64),
	}

	var tape *ad.Tape
	if req.differentiating() {
		tape = ad.NewTape(64)
	}
	leaves, err := scenario.NewLeaves(tape, req.Market, req.CurveNames, req.Pairs, req.HW)
	if err != nil {
		return nil, err
	}
	paramNames := leafParamNames(leaves)
	if tape != nil {
		tape.SetMark()
	}

	for idx := lo; idx < hi; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sc, err := req.Engine.GeneratePath(leaves, req.BaseSeed, idx, req.EventReqs)
		if err != nil {
			return nil, fmt.Errorf("sensitivity: scenario %d: %w", idx, err)
		}

		var ev resultEvaluator
		if req.Fuzzy {
			ev = eval.NewFuzzy(req.Size, req.MaxNestedIfs, &sc, req.EventReqs).WithEps(req.FuzzyEps)
		} else {
			ev = eval.New(req.Size, &sc, req.EventReqs)
		}
		if err := ev.VisitEvents(req.Trees); err != nil {
			return nil, fmt.Errorf("sensitivity: scenario %d: %w", idx, err)
		}

		results := ev.Results(req.ResultNames)
		for name, v := range results {
			if v.Kind == eval.Number {
				share.samples[name] = append(share.samples[name], v.Num.Value())
				continue
			}
			if idx == 0 {
				share.first[name] = v
			}
		}

		if tape != nil {
			if priceVal, ok := results[req.PriceVariable]; ok && priceVal.Kind == eval.Number {
				if priceVar, ok := priceVal.Num.(ad.Var); ok {
					adjoints := tape.Backward(priceVar.Index())
					for name, leafIdx := range paramNames {
						share.adjointSum[name] += adjoints[leafIdx]
					}
				}
			}
			tape.RewindToMark()
		}

		if req.OnProgress != nil {
			req.OnProgress()
		}
	}
	return share, nil
}

// leafParamNames maps every Leaves scalar that is actually a tape Var to
// the parameter identifier spec §6 expects in the sensitivities map:
// "CLP/USD" for an FX pair, the bare curve name for a zero rate. The
// Hull-White/Heston calibration scalars are named too, as a supplement
// beyond the spec's two named examples, since they are no less
// differentiable leaves than a curve or an FX spot.
func leafParamNames(l *scenario.Leaves) map[string]int {
	out := make(map[string]int)
	add := func(name string, s ad.Scalar) {
		if v, ok := s.(ad.Var); ok {
			out[name] = v.Index()
		}
	}
	for name, s := range l.ZeroRate {
		add(name, s)
	}
	for pair, s := range l.Spot {
		add(pair[0]+"/"+pair[1], s)
	}
	for pair, s := range l.Vol {
		add(pair[0]+"/"+pair[1]+"/vol", s)
	}
	add("rate_mean_reversion", l.RateMeanReversion)
	add("rate_vol", l.RateVol)
	add("variance_mean_reversion", l.VarMeanReversion)
	add("long_run_variance", l.LongRunVariance)
	add("vol_of_vol", l.VolOfVol)
	add("initial_variance", l.InitialVariance)
	return out
}

// reduce merges every worker's share into the batch-level Result: numeric
// samples are concatenated and summarised with pkg/stat's batch
// diagnostics (the same reduction the aggregator uses), and per-parameter
// adjoint sums are added across workers and divided by N.
func reduce(shares []workerShare, numPaths int) *Result {
	batches := make(map[string][]float64)
	first := make(map[string]eval.Value)
	sensitivitySum := make(map[string]float64)

	for _, s := range shares {
		for name, xs := range s.samples {
			batches[name] = append(batches[name], xs...)
		}
		for name, v := range s.first {
			if _, ok := first[name]; !ok {
				first[name] = v
			}
		}
		for name, sum := range s.adjointSum {
			sensitivitySum[name] += sum
		}
	}

	means := make(map[string]eval.AggregateResult, len(batches)+len(first))
	for name, xs := range batches {
		means[name] = eval.AggregateResult{
			Kind:   eval.Number,
			Mean:   stat.BatchMean(xs),
			StdDev: stat.BatchStdDev(xs),
		}
	}
	for name, v := range first {
		means[name] = eval.AggregateResult{Kind: v.Kind, First: v}
	}

	var sensitivities map[string]float64
	if len(sensitivitySum) > 0 {
		sensitivities = make(map[string]float64, len(sensitivitySum))
		n := float64(numPaths)
		for name, sum := range sensitivitySum {
			sensitivities[name] = sum / n
		}
	}

	return &Result{Means: means, Sensitivities: sensitivities}
}
