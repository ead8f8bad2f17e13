package pricing

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aristath/derivscript/internal/ad"
	"github.com/aristath/derivscript/internal/config"
	"github.com/aristath/derivscript/internal/eval"
	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/lang/domain"
	"github.com/aristath/derivscript/internal/lang/ifprocessor"
	"github.com/aristath/derivscript/internal/lang/indexer"
	"github.com/aristath/derivscript/internal/lang/lexer"
	"github.com/aristath/derivscript/internal/lang/parser"
	"github.com/aristath/derivscript/internal/market"
	"github.com/aristath/derivscript/internal/market/curve"
	"github.com/aristath/derivscript/internal/market/daycount"
	"github.com/aristath/derivscript/internal/market/fxstore"
	"github.com/aristath/derivscript/internal/scenario"
	"github.com/aristath/derivscript/internal/sensitivity"
	"github.com/rs/zerolog"
)

// Price is the single entry point both cmd/pricer and the HTTP server
// call: it runs every pass of the script pipeline (spec §4: lex, parse,
// index, if-process, domain-classify), builds the market model the
// scenario engine draws from, then routes to the aggregator or the
// sensitivity harness depending on whether a price variable was named.
func Price(ctx context.Context, cfg *config.Config, log zerolog.Logger, req Request) (*Response, error) {
	return PriceWithProgress(ctx, cfg, log, req, nil)
}

// PriceWithProgress is Price plus an optional callback invoked once per
// scenario completed, letting a caller (internal/server's websocket
// progress endpoint) stream batch completion counters as the Monte Carlo
// run progresses. onProgress may be nil, in which case this is exactly
// Price.
func PriceWithProgress(ctx context.Context, cfg *config.Config, log zerolog.Logger, req Request, onProgress func(done, total int)) (*Response, error) {
	if len(req.ScriptData.Events) == 0 {
		return nil, newError(NotFound, nil, "script_data.events is empty")
	}

	events, trees, err := parseEvents(req.ScriptData.Events)
	if err != nil {
		return nil, err
	}

	ix := indexer.New()
	if err := ix.VisitEvents(events); err != nil {
		return nil, newError(EvaluationError, err, "indexing failed")
	}

	ifp := ifprocessor.New()
	if err := ifp.VisitEvents(events); err != nil {
		return nil, newError(EvaluationError, err, "if-processing failed")
	}

	dp := domain.New(ix.Size())
	for _, tree := range trees {
		if err := dp.Run(tree); err != nil {
			return nil, newError(EvaluationError, err, "domain classification failed")
		}
	}

	mm, curveNames, pairs, err := buildMarketModel(req.MarketData)
	if err != nil {
		return nil, err
	}

	flavour, err := parseFlavour(req.Flavour)
	if err != nil {
		return nil, err
	}
	engine := scenario.NewEngine(flavour, req.MarketData.LocalCurrency)

	numPaths := req.NumPaths
	if numPaths <= 0 {
		numPaths = cfg.DefaultPaths
	}
	seed := req.Seed
	if seed == 0 {
		seed = cfg.DefaultSeed
	}
	hw := hwParamsFrom(req.HullWhiteHeston)

	log.Debug().
		Str("flavour", req.Flavour).
		Int("num_paths", numPaths).
		Str("price_variable", req.PriceVariable).
		Msg("pricing request")

	resp := &Response{}

	if req.PriceVariable != "" {
		fuzzy := false
		for _, tree := range trees {
			if containsIf(tree) {
				fuzzy = true
				break
			}
		}
		workers := cfg.Workers
		if workers <= 0 {
			workers = 1
		}
		var onScenario func()
		if onProgress != nil {
			var done int64
			onScenario = func() {
				onProgress(int(atomic.AddInt64(&done, 1)), numPaths)
			}
		}
		sres, err := sensitivity.Run(ctx, sensitivity.Request{
			Trees:         trees,
			EventReqs:     ix.Requests(),
			ResultNames:   ix.Variables(),
			Size:          ix.Size(),
			Engine:        engine,
			Market:        mm,
			CurveNames:    curveNames,
			Pairs:         pairs,
			HW:            hw,
			NumPaths:      numPaths,
			BaseSeed:      seed,
			Workers:       workers,
			Fuzzy:         fuzzy,
			FuzzyEps:      cfg.FuzzyEpsilon,
			MaxNestedIfs:  ifp.MaxNestedIfs(),
			PriceVariable: req.PriceVariable,
			OnProgress:    onScenario,
		})
		if err != nil {
			return nil, newError(NumericError, err, "sensitivity run failed")
		}
		pv, ok := sres.Means[req.PriceVariable]
		if !ok {
			return nil, newError(NotFound, nil, "price_variable %q not found in script output", req.PriceVariable)
		}
		if pv.Kind != eval.Number {
			return nil, newError(InvalidOperation, nil, "price_variable %q is not numeric", req.PriceVariable)
		}
		resp.Variables = aggregateResultsToJSON(sres.Means)
		resp.Sensitivities = sres.Sensitivities
		price := pv.Mean
		resp.Price = &price
	} else {
		leaves, err := scenario.NewLeaves(nil, mm, curveNames, pairs, hw)
		if err != nil {
			return nil, newError(InvalidOperation, err, "building market leaves failed")
		}
		scenarios := make([]*market.Scenario, numPaths)
		for i := 0; i < numPaths; i++ {
			sc, err := engine.GeneratePath(leaves, seed, i, ix.Requests())
			if err != nil {
				return nil, newError(NumericError, err, "scenario %d generation failed", i)
			}
			scenarios[i] = &sc
			if onProgress != nil {
				onProgress(i+1, numPaths)
			}
		}
		means, err := eval.Aggregate(ix.Size(), ix.Requests(), trees, ix.Variables(), scenarios)
		if err != nil {
			return nil, newError(EvaluationError, err, "aggregation failed")
		}
		resp.Variables = aggregateResultsToJSON(means)
	}

	if req.IncludeCashflows {
		cashflows, err := collectCashflows(mm, engine, curveNames, pairs, hw, ix, trees, numPaths, seed)
		if err != nil {
			return nil, err
		}
		resp.ExpectedCashflows = cashflows
	}

	return resp, nil
}

// parseEvents parses every script_data.events[] entry, sorts them
// chronologically (spec §3: events are processed in date order), and
// builds the paired indexer.Event/ast.Node slices the rest of the
// pipeline consumes.
func parseEvents(raw []ScriptEvent) ([]indexer.Event, []*ast.Node, error) {
	type parsed struct {
		date time.Time
		tree *ast.Node
	}
	all := make([]parsed, 0, len(raw))
	for i, ev := range raw {
		date, err := daycount.ParseDate(ev.Date)
		if err != nil {
			return nil, nil, newError(InvalidOperation, err, "event %d: invalid date %q", i, ev.Date)
		}
		tree, err := parser.Parse(ev.Script)
		if err != nil {
			var lexErr *lexer.Error
			if errors.As(err, &lexErr) {
				return nil, nil, newError(SyntaxError, err, "event %d: malformed script", i)
			}
			return nil, nil, newError(UnexpectedToken, err, "event %d: unexpected token", i)
		}
		all = append(all, parsed{date: date, tree: tree})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].date.Before(all[j].date) })

	events := make([]indexer.Event, len(all))
	trees := make([]*ast.Node, len(all))
	for i, p := range all {
		events[i] = indexer.Event{Date: p.date, Expr: p.tree}
		trees[i] = p.tree
	}
	return events, trees, nil
}

// buildMarketModel turns the request's flat fx/curve lists into the
// read-only stores the scenario engine shares across worker goroutines
// (spec §5 "Shared-resource policy"). The request's weak currency is
// always the Leaves/Spot "base": weak per strong = value.
func buildMarketModel(md MarketData) (*scenario.MarketModel, []string, []scenario.Pair, error) {
	refDate, err := daycount.ParseDate(md.ReferenceDate)
	if err != nil {
		return nil, nil, nil, newError(InvalidOperation, err, "invalid market_data.reference_date %q", md.ReferenceDate)
	}

	curves := make([]curve.Curve, 0, len(md.Curves))
	curveNames := make([]string, 0, len(md.Curves))
	for _, c := range md.Curves {
		curves = append(curves, curve.Curve{
			Name:          c.Name,
			Currency:      c.Currency,
			ZeroRate:      c.Rate,
			ReferenceDate: refDate,
		})
		curveNames = append(curveNames, c.Name)
	}

	direct := make(map[[2]string]float64, len(md.Fx))
	fxVol := make(map[scenario.Pair]float64, len(md.Fx))
	pairs := make([]scenario.Pair, 0, len(md.Fx))
	for _, fx := range md.Fx {
		direct[[2]string{fx.Weak, fx.Strong}] = fx.Value
		pair := scenario.Pair{fx.Weak, fx.Strong}
		fxVol[pair] = fx.Vol
		pairs = append(pairs, pair)
	}

	mm := &scenario.MarketModel{
		Curves: curve.NewStore(curves),
		Fx:     fxstore.New(direct),
		FxVol:  fxVol,
	}
	return mm, curveNames, pairs, nil
}

func parseFlavour(s string) (scenario.Flavour, error) {
	switch s {
	case "", "deterministic":
		return scenario.Deterministic, nil
	case "black_scholes_fx":
		return scenario.BlackScholesFX, nil
	case "hull_white_heston":
		return scenario.HullWhiteHeston, nil
	default:
		return 0, newError(InvalidOperation, nil, "unknown flavour %q", s)
	}
}

func hwParamsFrom(in *HWHestonInput) scenario.HWHestonParams {
	if in == nil {
		return scenario.HWHestonParams{}
	}
	return scenario.HWHestonParams{
		RateMeanReversion: in.RateMeanReversion,
		RateVol:           in.RateVol,
		VarMeanReversion:  in.VarMeanReversion,
		LongRunVariance:   in.LongRunVariance,
		VolOfVol:          in.VolOfVol,
		InitialVariance:   in.InitialVariance,
		Rho:               in.Rho,
	}
}

// aggregateResultsToJSON flattens C12's AggregateResult map into
// plain JSON-encodable values: the batch mean for numeric variables, the
// first scenario's value for everything else.
func aggregateResultsToJSON(means map[string]eval.AggregateResult) map[string]any {
	out := make(map[string]any, len(means))
	for name, r := range means {
		if r.Kind == eval.Number {
			out[name] = r.Mean
			continue
		}
		out[name] = valueToAny(r.First)
	}
	return out
}

func valueToAny(v eval.Value) any {
	switch v.Kind {
	case eval.Number:
		return v.Num.Value()
	case eval.Bool:
		return v.Bool
	case eval.String:
		return v.Str
	case eval.Array:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = valueToAny(e)
		}
		return out
	default:
		return nil
	}
}

// collectCashflows runs the cashflow collector (C13) once per scenario,
// sequentially: a second, independent evaluator pass over the same
// scenario batch the aggregator or sensitivity harness already priced,
// observing every pays statement's undiscounted amount (spec §4.9).
func collectCashflows(mm *scenario.MarketModel, engine *scenario.Engine, curveNames []string, pairs []scenario.Pair, hw scenario.HWHestonParams, ix *indexer.Indexer, trees []*ast.Node, numPaths int, seed uint64) ([]CashflowOut, error) {
	leaves, err := scenario.NewLeaves(nil, mm, curveNames, pairs, hw)
	if err != nil {
		return nil, newError(InvalidOperation, err, "building market leaves for cashflow collection failed")
	}
	perScenario := make([]map[eval.CashflowKey]ad.Scalar, 0, numPaths)
	for i := 0; i < numPaths; i++ {
		sc, err := engine.GeneratePath(leaves, seed, i, ix.Requests())
		if err != nil {
			return nil, newError(NumericError, err, "scenario %d generation failed", i)
		}
		c := eval.NewCashflowCollector(ix.Size(), &sc, ix.Requests())
		if err := c.VisitEvents(trees); err != nil {
			return nil, newError(EvaluationError, err, "cashflow collection scenario %d failed", i)
		}
		perScenario = append(perScenario, c.Cashflows())
	}
	averaged := eval.AverageCashflows(perScenario)
	out := make([]CashflowOut, 0, len(averaged))
	for key, amount := range averaged {
		out = append(out, CashflowOut{
			Currency: key.Currency,
			Date:     key.Date.Format("2006-01-02"),
			Amount:   amount,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}
