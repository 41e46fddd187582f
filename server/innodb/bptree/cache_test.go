package bptree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCacheAllocAndFetch(t *testing.T) {
	cache := NewMemCache()
	txn := cache.BeginTransaction(false)

	leaf := newLeafNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 1}, DefaultConfig)
	_, err := cache.AllocNewNonDataExtent(txn, leaf)
	require.NoError(t, err)
	require.NoError(t, cache.Commit(txn))

	readTxn := cache.BeginTransaction(true)
	got, err := cache.GetAbsentExtent(context.Background(), readTxn, leaf.Paddr(), ExtentKindLeaf, nil)
	require.NoError(t, err)
	assert.Equal(t, leaf.Paddr(), got.Paddr())
}

func TestMemCacheDuplicateForWriteCascadesToParent(t *testing.T) {
	cache := NewMemCache()
	txn := cache.BeginTransaction(false)

	parent := newInternalNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 2}, DefaultConfig)
	_, err := cache.AllocNewNonDataExtent(txn, parent)
	require.NoError(t, err)

	child := newLeafNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 1}, DefaultConfig)
	_, err = cache.AllocNewNonDataExtent(txn, child)
	require.NoError(t, err)

	parent.InsertAt(0, MinKey, child.Paddr())
	parent.SetChildPtr(0, childSlot{kind: childSlotLive, node: child})
	child.SetParent(parent)
	require.NoError(t, cache.Commit(txn))

	writeTxn := cache.BeginTransaction(false)
	dup, err := cache.DuplicateForWrite(writeTxn, child)
	require.NoError(t, err)
	assert.NotSame(t, child, dup)

	dupParent := dup.Parent().(InternalNode)
	assert.NotSame(t, parent, dupParent, "duplicating a child must cascade a private copy of its parent too")
	assert.Same(t, dup, dupParent.ChildPtr(0).node)
}

func TestMemCacheChecksumMismatchDetected(t *testing.T) {
	cache := NewMemCache()
	txn := cache.BeginTransaction(false)
	leaf := newLeafNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 1}, DefaultConfig)
	_, err := cache.AllocNewNonDataExtent(txn, leaf)
	require.NoError(t, err)
	require.NoError(t, cache.Commit(txn))

	leaf.InsertAt(0, 5, ExtentRef{Paddr: 5, Len: 1})

	readTxn := cache.BeginTransaction(true)
	_, err = cache.GetAbsentExtent(context.Background(), readTxn, leaf.Paddr(), ExtentKindLeaf, nil)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestMemCacheRetireExtentRemovesFromStable(t *testing.T) {
	cache := NewMemCache()
	txn := cache.BeginTransaction(false)
	leaf := newLeafNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 1}, DefaultConfig)
	_, err := cache.AllocNewNonDataExtent(txn, leaf)
	require.NoError(t, err)
	require.NoError(t, cache.Commit(txn))

	rmTxn := cache.BeginTransaction(false)
	require.NoError(t, cache.RetireExtent(rmTxn, leaf))
	require.NoError(t, cache.Commit(rmTxn))

	assert.Nil(t, cache.TestQueryCache(leaf.Paddr()))
}
