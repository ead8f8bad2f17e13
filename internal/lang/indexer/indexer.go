// Package indexer implements the variable indexer (spec C6, §4.3): the
// first annotation pass over the expression tree, assigning a stable
// integer to every distinct identifier and market reference, and building
// the per-event market-request list the scenario engine consumes.
package indexer

import (
	"fmt"
	"time"

	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/market"
	"github.com/aristath/derivscript/internal/market/daycount"
)

// Event pairs one script event's date with its parsed expression tree,
// mirroring the source event stream the indexer walks event-by-event.
type Event struct {
	Date time.Time
	Expr *ast.Node
}

// Indexer assigns variable and market-request indices. It is not safe for
// concurrent use by multiple goroutines on the same tree; each pricing
// call constructs and discards its own Indexer.
type Indexer struct {
	variables map[string]int
	requests  []*market.EventRequest
	eventDate *time.Time
}

// New returns an empty Indexer.
func New() *Indexer {
	return &Indexer{variables: make(map[string]int)}
}

// VisitEvents indexes every event's tree in chronological order, pushing a
// fresh market request for each one. Every request's Dfs[0] is reserved
// for the accumulator's local-currency discount factor (the one `pays`
// always needs, spec §4.6), registered with an empty-string Curve
// sentinel the scenario engine substitutes its configured local currency
// for — the same convention indexPays uses for implicit FX requests, since
// the local currency is a pricing-call parameter the indexer never sees.
func (ix *Indexer) VisitEvents(events []Event) error {
	for _, ev := range events {
		d := ev.Date
		ix.eventDate = &d
		req := market.NewEventRequest(d)
		req.Dfs = append(req.Dfs, market.DfRequest{Curve: ""})
		ix.requests = append(ix.requests, req)
		if err := ast.Walk(ix, ev.Expr); err != nil {
			return err
		}
	}
	return nil
}

// Visit implements ast.MutatingVisitor.
func (ix *Indexer) Visit(n *ast.Node) error {
	switch n.Kind {
	case ast.Variable:
		ix.indexIdent(&n.VarIndex, n.Name)
	case ast.ForEach:
		ix.indexIdent(&n.VarIndex, n.Name)
	case ast.Spot:
		return ix.indexSpot(n)
	case ast.Df:
		return ix.indexDf(n)
	case ast.RateIndex:
		return ix.indexRateIndex(n)
	case ast.Pays:
		return ix.indexPays(n)
	}
	return nil
}

// indexPays registers the implicit FX conversion a "pays ... in <ccy>"
// statement needs: the payment currency is known at index time (a string
// literal, spec §6), but the accumulator's local currency is a pricing-call
// parameter the indexer never sees. The request is therefore recorded with
// an empty Quote, a sentinel the scenario engine substitutes its configured
// local currency for (see internal/scenario). Plain "pays expr" (no
// currency clause) needs no FX at all and is left untouched.
func (ix *Indexer) indexPays(n *ast.Node) error {
	if !n.HasCurrency || n.CurrencyExpr == nil || n.CurrencyExpr.Kind != ast.StringLit {
		return nil
	}
	if n.VarIndex != ast.NoIndex {
		return nil
	}
	req, err := ix.currentRequest()
	if err != nil {
		return err
	}
	idx := len(req.Fxs)
	req.Fxs = append(req.Fxs, market.FxRequest{Base: n.CurrencyExpr.StrValue, Quote: "", Date: req.Date})
	n.VarIndex = idx
	return nil
}

func (ix *Indexer) indexIdent(slot *int, name string) {
	if *slot != ast.NoIndex {
		ix.variables[name] = *slot
		return
	}
	if idx, ok := ix.variables[name]; ok {
		*slot = idx
		return
	}
	idx := len(ix.variables)
	ix.variables[name] = idx
	*slot = idx
}

func (ix *Indexer) currentRequest() (*market.EventRequest, error) {
	if len(ix.requests) == 0 {
		return nil, fmt.Errorf("indexer: no market requests found (visit outside an event)")
	}
	return ix.requests[len(ix.requests)-1], nil
}

// literalDate resolves a date sub-expression to a concrete time.Time: a
// string-literal date argument, or the enclosing event's date when the
// sub-expression is absent. Non-literal date expressions (computed at
// evaluation time) are not resolvable at index time and fall back to the
// enclosing event's date; see DESIGN.md.
func (ix *Indexer) literalDate(expr *ast.Node) (time.Time, error) {
	if expr == nil {
		if ix.eventDate == nil {
			return time.Time{}, fmt.Errorf("indexer: event date is not set")
		}
		return *ix.eventDate, nil
	}
	if expr.Kind == ast.StringLit {
		return daycount.ParseDate(expr.StrValue)
	}
	if ix.eventDate == nil {
		return time.Time{}, fmt.Errorf("indexer: event date is not set")
	}
	return *ix.eventDate, nil
}

func (ix *Indexer) indexSpot(n *ast.Node) error {
	if n.VarIndex != ast.NoIndex {
		return nil
	}
	req, err := ix.currentRequest()
	if err != nil {
		return err
	}
	date, err := ix.literalDate(n.DateExpr)
	if err != nil {
		return err
	}
	idx := len(req.Fxs)
	req.Fxs = append(req.Fxs, market.FxRequest{Base: n.Currency1, Quote: n.Currency2, Date: date})
	n.VarIndex = idx
	return nil
}

func (ix *Indexer) indexDf(n *ast.Node) error {
	if n.VarIndex != ast.NoIndex {
		return nil
	}
	req, err := ix.currentRequest()
	if err != nil {
		return err
	}
	if _, err := ix.literalDate(n.EndExpr); err != nil {
		return err
	}
	idx := len(req.Dfs)
	req.Dfs = append(req.Dfs, market.DfRequest{Curve: n.CurveOrIndexName})
	n.VarIndex = idx
	return nil
}

func (ix *Indexer) indexRateIndex(n *ast.Node) error {
	if n.VarIndex != ast.NoIndex {
		return nil
	}
	req, err := ix.currentRequest()
	if err != nil {
		return err
	}
	start, err := ix.literalDate(n.StartExpr)
	if err != nil {
		return err
	}
	end, err := ix.literalDate(n.EndExpr)
	if err != nil {
		return err
	}
	idx := len(req.Fwds)
	req.Fwds = append(req.Fwds, market.FwdRequest{
		Index:       n.CurveOrIndexName,
		Start:       start,
		End:         end,
		Compounding: market.Simple,
		Frequency:   market.Annual,
	})
	n.VarIndex = idx
	return nil
}

// VariableIndex returns the index assigned to name, if any.
func (ix *Indexer) VariableIndex(name string) (int, bool) {
	idx, ok := ix.variables[name]
	return idx, ok
}

// VariableName reverse-looks-up a name by index; O(n) since the indexer
// keeps only the name→index direction as its source of truth.
func (ix *Indexer) VariableName(index int) (string, bool) {
	for k, v := range ix.variables {
		if v == index {
			return k, true
		}
	}
	return "", false
}

// Variables returns a copy of the name→index map.
func (ix *Indexer) Variables() map[string]int {
	out := make(map[string]int, len(ix.variables))
	for k, v := range ix.variables {
		out[k] = v
	}
	return out
}

// Size reports the number of distinct variable slots, i.e. the required
// variable-store length.
func (ix *Indexer) Size() int { return len(ix.variables) }

// Requests returns the built per-event market-request list.
func (ix *Indexer) Requests() []*market.EventRequest { return ix.requests }

// Reset clears all accumulated state so the Indexer can be reused.
func (ix *Indexer) Reset() {
	ix.variables = make(map[string]int)
	ix.requests = nil
	ix.eventDate = nil
}
