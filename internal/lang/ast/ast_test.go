package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingVisitor struct{ seen []Kind }

func (r *recordingVisitor) Visit(n *Node) error {
	r.seen = append(r.seen, n.Kind)
	return nil
}

func TestWalkVisitsChildrenInSourceOrder(t *testing.T) {
	tree := NewBinary(Add, NewConstant(1), NewConstant(2))
	rv := &recordingVisitor{}
	require := assert.New(t)
	require.NoError(Walk(rv, tree))
	require.Equal([]Kind{Add, Constant, Constant}, rv.seen)
}

func TestIfNodeSplitsThenAndElse(t *testing.T) {
	thenBlock := []*Node{NewUnary(UnaryPlus, NewConstant(3))}
	elseBlock := []*Node{NewUnary(UnaryPlus, NewConstant(4))}
	ifNode := NewIf(NewBool(true), thenBlock, elseBlock)

	assert.Equal(t, 1, len(ifNode.ThenBlock()))
	assert.Equal(t, 1, len(ifNode.ElseBlock()))
	assert.NotEqual(t, NoIndex, ifNode.FirstElse)
}

func TestIfNodeWithoutElse(t *testing.T) {
	thenBlock := []*Node{NewConstant(1)}
	ifNode := NewIf(NewBool(true), thenBlock, nil)
	assert.Equal(t, 1, len(ifNode.ThenBlock()))
	assert.Nil(t, ifNode.ElseBlock())
	assert.Equal(t, NoIndex, ifNode.FirstElse)
}

func TestWalkPostOrderVisitsInnerIfBeforeOuter(t *testing.T) {
	inner := NewIf(NewBool(true), []*Node{NewConstant(1)}, nil)
	outer := NewIf(NewBool(false), []*Node{inner}, nil)

	var order []*Node
	err := WalkPostOrder(outer, func(n *Node) error {
		if n.Kind == If {
			order = append(order, n)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []*Node{inner, outer}, order, "inner If must be visited before outer If")
}
