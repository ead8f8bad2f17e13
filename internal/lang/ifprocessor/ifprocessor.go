// Package ifprocessor implements the second annotation pass (spec C7,
// §4.4): for every If node, compute the set of variable indices its
// then/else blocks may mutate, and track the maximum If nesting depth so
// the fuzzy evaluator can pre-size its per-level backup stacks.
package ifprocessor

import (
	"sort"

	"github.com/aristath/derivscript/internal/lang/ast"
	"github.com/aristath/derivscript/internal/lang/indexer"
)

// Processor walks an already-indexed tree. It is stateful for the
// duration of one Run/VisitEvents call and should not be reused
// concurrently.
type Processor struct {
	varStack     []map[int]struct{}
	nestedLvl    int
	maxNestedIfs int
}

// New returns an empty Processor.
func New() *Processor { return &Processor{} }

// MaxNestedIfs reports the deepest If nesting level encountered since the
// last Reset.
func (p *Processor) MaxNestedIfs() int { return p.maxNestedIfs }

// VisitEvents runs the pass over every event's tree in order.
func (p *Processor) VisitEvents(events []indexer.Event) error {
	for _, ev := range events {
		if err := p.Run(ev.Expr); err != nil {
			return err
		}
	}
	return nil
}

// Run walks the whole tree, applying the custom If/Assign/Pays traversal:
// If skips its condition, Assign and Pays visit only their write target
// (not the right-hand side), so the affected-set records writes, never
// reads. This visitor drives its own recursion instead of ast.Walk's
// generic dispatch, because that generic recursion would visit an
// Assign's right-hand side and an If's condition, which must NOT
// contribute to the affected-variable set.
func (p *Processor) Run(root *ast.Node) error { return p.visit(root) }

func (p *Processor) visit(n *ast.Node) error {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case ast.If:
		return p.visitIf(n)
	case ast.Assign:
		if p.nestedLvl > 0 {
			return p.visit(n.Children[0])
		}
		return nil
	case ast.Pays:
		if p.nestedLvl > 0 {
			return p.visit(n.Target)
		}
		return nil
	case ast.Variable:
		if p.nestedLvl > 0 && len(p.varStack) > 0 {
			p.varStack[len(p.varStack)-1][n.VarIndex] = struct{}{}
		}
		return nil
	case ast.ForEach:
		for _, c := range n.Body {
			if err := p.visit(c); err != nil {
				return err
			}
		}
		return nil
	default:
		for _, c := range n.Children {
			if err := p.visit(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func (p *Processor) visitIf(n *ast.Node) error {
	p.nestedLvl++
	if p.nestedLvl > p.maxNestedIfs {
		p.maxNestedIfs = p.nestedLvl
	}
	p.varStack = append(p.varStack, make(map[int]struct{}))

	// skip the condition (Children[0]); visit then+else statements only
	for _, c := range n.Children[1:] {
		if err := p.visit(c); err != nil {
			return err
		}
	}

	frame := p.varStack[len(p.varStack)-1]
	p.varStack = p.varStack[:len(p.varStack)-1]

	affected := make([]int, 0, len(frame))
	for v := range frame {
		affected = append(affected, v)
	}
	sort.Ints(affected)
	n.AffectedVars = affected

	p.nestedLvl--
	if p.nestedLvl > 0 && len(p.varStack) > 0 {
		top := p.varStack[len(p.varStack)-1]
		for v := range frame {
			top[v] = struct{}{}
		}
	}
	return nil
}

// Reset clears nesting/depth state between independent trees.
func (p *Processor) Reset() {
	p.varStack = nil
	p.nestedLvl = 0
	p.maxNestedIfs = 0
}
