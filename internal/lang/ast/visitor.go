package ast

// MutatingVisitor walks and may rewrite annotation fields on the tree: the
// indexer is one; the if-processor and domain processor annotate the same
// tree through their own recursion instead of implementing Visit. Unlike the read-only evaluators, these run in a fixed order over the
// whole tree before any evaluation happens (spec §9: "deliberate choice to
// separate passes over a single mutable tree").
type MutatingVisitor interface {
	Visit(n *Node) error
}

// Walk applies v to n first and then recurses into every child (pre-order),
// taking Children left to right. Kinds with out-of-band children
// (ForEach's IterExpr/Body, Spot/Df/RateIndex's date sub-expressions,
// Pays's Target and CurrencyExpr) have those walked explicitly after
// Children.
func Walk(v MutatingVisitor, n *Node) error {
	if n == nil {
		return nil
	}
	if err := v.Visit(n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := Walk(v, c); err != nil {
			return err
		}
	}
	switch n.Kind {
	case ForEach:
		if err := Walk(v, n.IterExpr); err != nil {
			return err
		}
		for _, c := range n.Body {
			if err := Walk(v, c); err != nil {
				return err
			}
		}
	case Spot:
		if n.DateExpr != nil {
			if err := Walk(v, n.DateExpr); err != nil {
				return err
			}
		}
	case Df, RateIndex:
		if n.StartExpr != nil {
			if err := Walk(v, n.StartExpr); err != nil {
				return err
			}
		}
		if n.EndExpr != nil {
			if err := Walk(v, n.EndExpr); err != nil {
				return err
			}
		}
	case Pays:
		if err := Walk(v, n.Target); err != nil {
			return err
		}
		if n.CurrencyExpr != nil {
			if err := Walk(v, n.CurrencyExpr); err != nil {
				return err
			}
		}
	}
	return nil
}

// WalkPostOrder visits n's descendants depth-first, innermost first, then
// n itself. The if-processor needs this order: inner If affected-sets must
// be computed and merged into outer ones on the way up (spec §4.4).
func WalkPostOrder(n *Node, visit func(*Node) error) error {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if err := WalkPostOrder(c, visit); err != nil {
			return err
		}
	}
	switch n.Kind {
	case ForEach:
		if err := WalkPostOrder(n.IterExpr, visit); err != nil {
			return err
		}
		for _, c := range n.Body {
			if err := WalkPostOrder(c, visit); err != nil {
				return err
			}
		}
	case Spot:
		if n.DateExpr != nil {
			if err := WalkPostOrder(n.DateExpr, visit); err != nil {
				return err
			}
		}
	case Df, RateIndex:
		if n.StartExpr != nil {
			if err := WalkPostOrder(n.StartExpr, visit); err != nil {
				return err
			}
		}
		if n.EndExpr != nil {
			if err := WalkPostOrder(n.EndExpr, visit); err != nil {
				return err
			}
		}
	case Pays:
		if err := WalkPostOrder(n.Target, visit); err != nil {
			return err
		}
		if n.CurrencyExpr != nil {
			if err := WalkPostOrder(n.CurrencyExpr, visit); err != nil {
				return err
			}
		}
	}
	return visit(n)
}
