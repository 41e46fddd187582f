package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLeaf(cfg Config, keys ...LogicalAddr) *leafNode {
	n := newLeafNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 1}, cfg)
	for i, k := range keys {
		n.InsertAt(i, k, ExtentRef{Paddr: PhysAddr(k), Len: 1})
	}
	return n
}

func TestLeafLowerUpperBound(t *testing.T) {
	n := newTestLeaf(DefaultConfig, 10, 20, 30, 40)

	assert.Equal(t, 0, n.LowerBound(5))
	assert.Equal(t, 0, n.LowerBound(10))
	assert.Equal(t, 1, n.LowerBound(11))
	assert.Equal(t, 4, n.LowerBound(100))

	assert.Equal(t, 1, n.UpperBound(10))
	assert.Equal(t, 0, n.UpperBound(5))
	assert.Equal(t, 4, n.UpperBound(40))
}

func TestLeafInsertRemoveKeepsOrder(t *testing.T) {
	n := newTestLeaf(DefaultConfig, 10, 30)
	n.InsertAt(n.LowerBound(20), 20, ExtentRef{Paddr: 20, Len: 1})

	assert.Equal(t, []LogicalAddr{10, 20, 30}, n.keys)

	n.RemoveAt(1)
	assert.Equal(t, []LogicalAddr{10, 30}, n.keys)
}

func TestLeafCloneIsIndependent(t *testing.T) {
	n := newTestLeaf(DefaultConfig, 1, 2, 3)
	clone := n.Clone().(*leafNode)

	clone.InsertAt(3, 4, ExtentRef{Paddr: 4, Len: 1})
	assert.Equal(t, 3, n.GetSize())
	assert.Equal(t, 4, clone.GetSize())
}

func TestLeafMakeSplitChildren(t *testing.T) {
	cfg := Config{MaxEntries: 8, MinEntries: 4}
	n := newTestLeaf(cfg, 1, 2, 3, 4, 5, 6, 7, 8)

	left, right, pivot := n.MakeSplitChildren(cfg)

	assert.Equal(t, 4, left.GetSize())
	assert.Equal(t, 4, right.GetSize())
	assert.Equal(t, n.keys[4], pivot)
	assert.Equal(t, MinKey, left.Meta().Begin)
	assert.Equal(t, pivot, left.Meta().End)
	assert.Equal(t, pivot, right.Meta().Begin)
	assert.Equal(t, MaxKey, right.Meta().End)
}

func TestLeafMakeFullMergeConcatenatesInKeyOrder(t *testing.T) {
	cfg := Config{MaxEntries: 8, MinEntries: 4}
	left := newLeafNode(NodeMeta{Begin: MinKey, End: 100, Depth: 1}, cfg)
	left.InsertAt(0, 10, ExtentRef{Paddr: 10, Len: 1})
	right := newLeafNode(NodeMeta{Begin: 100, End: MaxKey, Depth: 1}, cfg)
	right.InsertAt(0, 110, ExtentRef{Paddr: 110, Len: 1})

	merged := left.MakeFullMerge(right)
	assert.Equal(t, []LogicalAddr{10, 110}, merged.(*leafNode).keys)
	assert.Equal(t, MinKey, merged.Meta().Begin)
	assert.Equal(t, MaxKey, merged.Meta().End)

	// merging in the opposite argument order must produce the same result,
	// since orderedWith always sorts by Begin.
	mergedRev := right.MakeFullMerge(left)
	assert.Equal(t, merged.(*leafNode).keys, mergedRev.(*leafNode).keys)
}

func TestLeafBelowMinAndAtMaxCapacity(t *testing.T) {
	cfg := Config{MaxEntries: 4, MinEntries: 2}
	n := newTestLeaf(cfg, 1)
	assert.True(t, n.BelowMinCapacity())
	assert.False(t, n.AtMaxCapacity())

	n.InsertAt(1, 2, ExtentRef{})
	assert.False(t, n.BelowMinCapacity())
	assert.True(t, n.AtMinCapacity())

	n.InsertAt(2, 3, ExtentRef{})
	n.InsertAt(3, 4, ExtentRef{})
	assert.True(t, n.AtMaxCapacity())
}
