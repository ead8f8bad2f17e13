package pricing

import "github.com/aristath/derivscript/internal/lang/ast"

// containsIf reports whether tree has any If node anywhere in it,
// including inside ForEach bodies and Spot/Df/RateIndex/Pays' out-of-band
// children. Used to decide whether a price variable's evaluation needs
// the fuzzy evaluator at all (spec §4.7: fuzzy blending only matters when
// the tree actually branches).
func containsIf(tree *ast.Node) bool {
	found := false
	_ = ast.WalkPostOrder(tree, func(n *ast.Node) error {
		if n.Kind == ast.If {
			found = true
		}
		return nil
	})
	return found
}
