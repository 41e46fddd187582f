package bptree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// L1: after insert(k,v), lower_bound(k) yields exactly (k,v), and the
// inserted flag is true only when no prior live entry existed.
func TestPropertyInsertLowerBoundRoundtrip(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig
	cache, _ := mkfsTestTree(t, cfg)

	txn := cache.BeginTransaction(false)
	require.NoError(t, WithTree(ctx, cache, txn, cfg, func(tree *Tree) error {
		v := ExtentRef{Paddr: 0x2000, Len: 8}
		_, inserted, err := tree.Insert(ctx, txn, 77, v)
		require.NoError(t, err)
		assert.True(t, inserted)

		cur, err := tree.LowerBound(ctx, txn, 77)
		require.NoError(t, err)
		assert.Equal(t, LogicalAddr(77), cur.GetKey())
		assert.Equal(t, v, cur.GetVal())

		_, insertedAgain, err := tree.Insert(ctx, txn, 77, ExtentRef{Paddr: 0x3000, Len: 1})
		require.NoError(t, err)
		assert.False(t, insertedAgain)
		return nil
	}))
}

// L2: repeated update with the same value is idempotent.
func TestPropertyUpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig
	cache, _ := mkfsTestTree(t, cfg)

	txn := cache.BeginTransaction(false)
	require.NoError(t, WithTree(ctx, cache, txn, cfg, func(tree *Tree) error {
		_, _, err := tree.Insert(ctx, txn, 5, ExtentRef{Paddr: 1, Len: 1})
		require.NoError(t, err)

		v := ExtentRef{Paddr: 99, Len: 3}
		cur, err := tree.LowerBound(ctx, txn, 5)
		require.NoError(t, err)
		require.NoError(t, tree.Update(ctx, txn, cur, v))

		cur2, err := tree.LowerBound(ctx, txn, 5)
		require.NoError(t, err)
		require.NoError(t, tree.Update(ctx, txn, cur2, v))

		cur3, err := tree.LowerBound(ctx, txn, 5)
		require.NoError(t, err)
		assert.Equal(t, v, cur3.GetVal())
		return nil
	}))
}

// L3: insert(k,v); remove(lookup(k)) restores the prior multiset of pairs.
func TestPropertyInsertRemoveDuality(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MaxEntries: 4, MinEntries: 2}
	cache, _ := mkfsTestTree(t, cfg)

	txn := cache.BeginTransaction(false)
	require.NoError(t, WithTree(ctx, cache, txn, cfg, func(tree *Tree) error {
		base := []LogicalAddr{4, 8, 12, 16, 20}
		for _, k := range base {
			_, _, err := tree.Insert(ctx, txn, k, ExtentRef{Paddr: PhysAddr(k), Len: 1})
			require.NoError(t, err)
		}
		before := collectKeys(t, ctx, tree, txn)

		_, _, err := tree.Insert(ctx, txn, 14, ExtentRef{Paddr: 14, Len: 1})
		require.NoError(t, err)

		cur, err := tree.LowerBound(ctx, txn, 14)
		require.NoError(t, err)
		_, err = tree.Remove(ctx, txn, cur)
		require.NoError(t, err)

		after := collectKeys(t, ctx, tree, txn)
		assert.Equal(t, before, after)
		return nil
	}))
}

func TestUpdateAtEndIsRejected(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig
	cache, _ := mkfsTestTree(t, cfg)

	txn := cache.BeginTransaction(false)
	require.NoError(t, WithTree(ctx, cache, txn, cfg, func(tree *Tree) error {
		end, err := tree.End(ctx, txn)
		require.NoError(t, err)
		err = tree.Update(ctx, txn, end, ExtentRef{Paddr: 1, Len: 1})
		assert.ErrorIs(t, err, ErrTreeCorrupted)
		return nil
	}))
}

func collectKeys(t *testing.T, ctx context.Context, tree *Tree, txn Transaction) []LogicalAddr {
	t.Helper()
	cur, err := tree.Begin(ctx, txn)
	require.NoError(t, err)
	var got []LogicalAddr
	for !cur.IsEnd() {
		got = append(got, cur.GetKey())
		require.NoError(t, cur.Next(ctx))
	}
	return got
}
