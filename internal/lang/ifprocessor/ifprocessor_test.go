package ifprocessor

import (
	"testing"
	"time"

	ix "github.com/aristath/derivscript/internal/lang/indexer"
	"github.com/aristath/derivscript/internal/lang/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexedEvent(t *testing.T, src string) (ix.Event, *ix.Indexer) {
	t.Helper()
	tree, err := parser.Parse(src)
	require.NoError(t, err)
	ev := ix.Event{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Expr: tree}
	idx := ix.New()
	require.NoError(t, idx.VisitEvents([]ix.Event{ev}))
	return ev, idx
}

func TestIfProcessorNestedAffectedSets(t *testing.T) {
	ev, idx := indexedEvent(t, `x = 0; if x == 0 { y = 1; if y == 1 { z = 2; } w = 3; }`)

	p := New()
	require.NoError(t, p.Run(ev.Expr))

	outerIf := ev.Expr.Children[1]
	innerIf := outerIf.Children[2]

	yIdx, _ := idx.VariableIndex("y")
	zIdx, _ := idx.VariableIndex("z")
	wIdx, _ := idx.VariableIndex("w")

	assert.ElementsMatch(t, []int{yIdx, zIdx, wIdx}, outerIf.AffectedVars)
	assert.ElementsMatch(t, []int{zIdx}, innerIf.AffectedVars)
	assert.Equal(t, 2, p.MaxNestedIfs())
}

func TestIfProcessorElseBranchUnion(t *testing.T) {
	ev, idx := indexedEvent(t, `if a == 1 { x = 2; } else { y = 3; }`)
	p := New()
	require.NoError(t, p.Run(ev.Expr))

	ifNode := ev.Expr.Children[0]
	xIdx, _ := idx.VariableIndex("x")
	yIdx, _ := idx.VariableIndex("y")
	assert.ElementsMatch(t, []int{xIdx, yIdx}, ifNode.AffectedVars)
}

func TestIfProcessorDoesNotTrackReadsOnRHS(t *testing.T) {
	ev, idx := indexedEvent(t, `a = 1; if a == 1 { b = a + 1; }`)
	p := New()
	require.NoError(t, p.Run(ev.Expr))

	ifNode := ev.Expr.Children[1]
	aIdx, _ := idx.VariableIndex("a")
	bIdx, _ := idx.VariableIndex("b")
	assert.NotContains(t, ifNode.AffectedVars, aIdx, "reading a on the RHS must not mark it affected")
	assert.Contains(t, ifNode.AffectedVars, bIdx)
}

func TestIfProcessorPaysTargetCountsAsAffected(t *testing.T) {
	ev, idx := indexedEvent(t, `opt = 0; if opt == 0 { opt pays 5; }`)
	p := New()
	require.NoError(t, p.Run(ev.Expr))

	ifNode := ev.Expr.Children[1]
	optIdx, _ := idx.VariableIndex("opt")
	assert.Contains(t, ifNode.AffectedVars, optIdx)
}

func TestIfProcessorEventStream(t *testing.T) {
	tree1, err := parser.Parse(`if b == 0 { x = 1; }`)
	require.NoError(t, err)
	tree2, err := parser.Parse(`y = 2;`)
	require.NoError(t, err)

	events := []ix.Event{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Expr: tree1},
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Expr: tree2},
	}
	idx := ix.New()
	require.NoError(t, idx.VisitEvents(events))

	p := New()
	require.NoError(t, p.VisitEvents(events))

	ifNode := tree1.Children[0]
	assert.Len(t, ifNode.AffectedVars, 1)
	assert.Equal(t, 1, p.MaxNestedIfs())
}
