package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestInternal(cfg Config, entries ...LogicalAddr) *internalNode {
	n := newInternalNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 2}, cfg)
	for i, k := range entries {
		n.InsertAt(i, k, PhysAddr(k))
	}
	return n
}

func TestInternalLowerUpperBound(t *testing.T) {
	n := newTestInternal(DefaultConfig, 0, 10, 20)
	assert.Equal(t, 0, n.UpperBound(5)-1)
	assert.Equal(t, 2, n.UpperBound(20)-1)
}

func TestInternalSplitRelinksLiveChildren(t *testing.T) {
	cfg := Config{MaxEntries: 8, MinEntries: 4}
	n := newTestInternal(cfg, 0, 10, 20, 30, 40, 50, 60, 70)

	leafStub := newLeafNode(NodeMeta{Begin: 0, End: 10, Depth: 1}, cfg)
	n.SetChildPtr(0, childSlot{kind: childSlotLive, node: leafStub})

	left, right, _ := n.MakeSplitChildren(cfg)

	assert.Same(t, leafStub, left.ChildPtr(0).node)
	assert.Same(t, left, leafStub.Parent())
	assert.Equal(t, 4, left.GetSize())
	assert.Equal(t, 4, right.GetSize())
}

func TestInternalFullMergeRelinksBothHalves(t *testing.T) {
	cfg := Config{MaxEntries: 8, MinEntries: 4}
	left := newInternalNode(NodeMeta{Begin: MinKey, End: 100, Depth: 2}, cfg)
	left.InsertAt(0, 0, 0)
	right := newInternalNode(NodeMeta{Begin: 100, End: MaxKey, Depth: 2}, cfg)
	right.InsertAt(0, 100, 100)

	leftChild := newLeafNode(NodeMeta{Begin: 0, End: 100, Depth: 1}, cfg)
	rightChild := newLeafNode(NodeMeta{Begin: 100, End: MaxKey, Depth: 1}, cfg)
	left.SetChildPtr(0, childSlot{kind: childSlotLive, node: leftChild})
	right.SetChildPtr(0, childSlot{kind: childSlotLive, node: rightChild})

	merged := left.MakeFullMerge(right).(*internalNode)

	assert.Equal(t, 2, merged.GetSize())
	assert.Same(t, leftChild, merged.ChildPtr(0).node)
	assert.Same(t, rightChild, merged.ChildPtr(1).node)
	assert.Same(t, merged, leftChild.Parent())
	assert.Same(t, merged, rightChild.Parent())
}

func TestInternalRemoveChildPtrShiftsSlots(t *testing.T) {
	cfg := DefaultConfig
	n := newTestInternal(cfg, 0, 10, 20)
	c0 := newLeafNode(NodeMeta{}, cfg)
	c1 := newLeafNode(NodeMeta{}, cfg)
	c2 := newLeafNode(NodeMeta{}, cfg)
	n.SetChildPtr(0, childSlot{kind: childSlotLive, node: c0})
	n.SetChildPtr(1, childSlot{kind: childSlotLive, node: c1})
	n.SetChildPtr(2, childSlot{kind: childSlotLive, node: c2})

	n.RemoveAt(1)
	n.RemoveChildPtr(1)

	assert.Equal(t, 2, n.GetSize())
	assert.Same(t, c0, n.ChildPtr(0).node)
	assert.Same(t, c2, n.ChildPtr(1).node)
}
