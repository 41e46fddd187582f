package bptree

import (
	"context"

	"github.com/pkg/errors"
)

// internalSelector picks a child position within an internal node during
// descent; leafSelector picks the final position within the leaf reached.
type internalSelector func(InternalNode) int
type leafSelector func(LeafNode) int

// lookup is the shared descent engine behind LowerBound/UpperBound and the
// internal-only lookups used by UpdateInternalMapping. When minDepth > 1,
// descent stops at that depth: the node reached there is stored at
// cur.ancestors[minDepth-2] (selectInternal positions it, exactly as it
// would for any other ancestor), no leaf is materialized, and cur.leaf is
// left nil. Such cursors are for this package's internal use only; every
// exported lookup uses minDepth 1.
func (t *Tree) lookup(ctx context.Context, trans Transaction, selectInternal internalSelector, selectLeaf leafSelector, minDepth int) (*Cursor, error) {
	root, err := t.resolveRoot(ctx, trans)
	if err != nil {
		return nil, err
	}
	if int(t.block.Depth) > MaxDepth {
		return nil, errors.Wrap(ErrDepthExceeded, "bptree: root depth exceeds maximum")
	}

	cur := &Cursor{
		tree:      t,
		trans:     trans,
		ancestors: make([]*ancestorState, int(t.block.Depth)-1),
		tag:       cursorFull,
	}

	node := root
	for d := int(t.block.Depth); d > minDepth; d-- {
		in, ok := node.(InternalNode)
		if !ok {
			return nil, errors.Wrap(ErrTreeCorrupted, "bptree: expected internal node during descent")
		}
		pos := selectInternal(in)
		cur.ancestors[d-2] = &ancestorState{node: in, pos: pos}

		child, err := t.fetchChild(ctx, trans, in, pos, in.ChildAt(pos))
		if err != nil {
			return nil, err
		}
		node = child
	}

	if minDepth > 1 {
		in, ok := node.(InternalNode)
		if !ok {
			return nil, errors.Wrap(ErrTreeCorrupted, "bptree: expected internal node at minDepth")
		}
		cur.ancestors[minDepth-2] = &ancestorState{node: in, pos: selectInternal(in)}
		return cur, nil
	}

	leaf, ok := node.(LeafNode)
	if !ok {
		return nil, errors.Wrap(ErrTreeCorrupted, "bptree: expected leaf at bottom of descent")
	}
	cur.leaf = leaf
	cur.leafPos = selectLeaf(leaf)
	if cur.leafPos >= leaf.GetSize() {
		if err := cur.handleBoundary(ctx); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// LowerBound returns a cursor at the first entry with key >= k.
func (t *Tree) LowerBound(ctx context.Context, trans Transaction, k LogicalAddr) (*Cursor, error) {
	return t.lookup(ctx, trans,
		func(in InternalNode) int {
			p := in.UpperBound(k) - 1
			if p < 0 {
				p = 0
			}
			return p
		},
		func(lf LeafNode) int { return lf.LowerBound(k) },
		1,
	)
}

// UpperBound returns a cursor at the first entry with key > k.
func (t *Tree) UpperBound(ctx context.Context, trans Transaction, k LogicalAddr) (*Cursor, error) {
	cur, err := t.LowerBound(ctx, trans, k)
	if err != nil {
		return nil, err
	}
	if !cur.IsEnd() && cur.GetKey() == k {
		if err := cur.Next(ctx); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// UpperBoundRight returns lower_bound(k) unless the immediately preceding
// entry's value extends past k (prev.key + prev.val.Len > k), in which
// case it returns a cursor at that preceding entry instead. This lets
// range queries over variable-length extents catch a mapping that starts
// before k but still covers it.
func (t *Tree) UpperBoundRight(ctx context.Context, trans Transaction, k LogicalAddr) (*Cursor, error) {
	cur, err := t.LowerBound(ctx, trans, k)
	if err != nil {
		return nil, err
	}
	if cur.IsBegin() {
		return cur, nil
	}
	probe := cur.Clone()
	if err := probe.Prev(ctx); err != nil {
		return cur, nil
	}
	pv := probe.GetVal()
	if uint64(probe.GetKey())+uint64(pv.Len) > uint64(k) {
		return probe, nil
	}
	return cur, nil
}

// Begin returns a cursor at the tree's first entry.
func (t *Tree) Begin(ctx context.Context, trans Transaction) (*Cursor, error) {
	return t.LowerBound(ctx, trans, MinKey)
}

// End returns a cursor past the tree's last entry.
func (t *Tree) End(ctx context.Context, trans Transaction) (*Cursor, error) {
	return t.UpperBound(ctx, trans, MaxKey)
}

// fetchChild resolves the child at parent's position pos: the in-memory
// child-pointer cache first (spec §5), then the transaction's own overlay
// via GetExtent (spec §6.2, "the transaction's own overlay" is checked
// before the extent is considered absent), and only then faults through
// the Cache on a genuine miss.
func (t *Tree) fetchChild(ctx context.Context, trans Transaction, parent InternalNode, pos int, childPaddr PhysAddr) (Node, error) {
	if pos < parent.GetSize() {
		if slot := parent.ChildPtr(pos); slot.kind == childSlotLive {
			return slot.node, nil
		}
	}

	if n, presence := trans.GetExtent(childPaddr); presence == ExtentPresent {
		n.SetParent(parent)
		parent.SetChildPtr(pos, childSlot{kind: childSlotLive, node: n})
		return n, nil
	}

	kind := ExtentKindInternal
	if parent.Meta().Depth == 2 {
		kind = ExtentKindLeaf
	}

	child, err := t.cache.GetAbsentExtent(ctx, trans, childPaddr, kind, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "bptree: fetch child at pos %d", pos)
	}
	child.SetParent(parent)
	parent.SetChildPtr(pos, childSlot{kind: childSlotLive, node: child})
	return child, nil
}
