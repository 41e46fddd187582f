package bptree

import (
	"context"

	"github.com/pkg/errors"

	"github.com/xmysql-server/fixedkv-btree/logger"
)

// Tree is C5: a handle onto one tree's root plus the Cache it is stored
// in. A Tree is cheap to construct (WithTree does so per call) since all
// durable state lives in the Cache/RootBlock, not the handle.
type Tree struct {
	cache    Cache
	config   Config
	block    RootBlockRef
	rootNode Node
}

// Mkfs creates a brand-new, empty tree: a single empty leaf spanning
// [MinKey, MaxKey) at depth 1, with the root block pointed at it.
func Mkfs(ctx context.Context, cache Cache, trans Transaction, cfg Config) (*Tree, error) {
	cfg = cfg.normalized()
	leaf := newLeafNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: 1}, cfg)
	if _, err := cache.AllocNewNonDataExtent(trans, leaf); err != nil {
		return nil, errors.Wrap(err, "bptree: mkfs alloc root leaf")
	}

	rb, err := cache.DuplicateRootForWrite(trans)
	if err != nil {
		return nil, errors.Wrap(err, "bptree: mkfs acquire root block")
	}
	rb.Location = leaf.Paddr()
	rb.Depth = 1

	trans.Stats().Depth = 1
	trans.Stats().ExtentsNumDelta++

	logger.Infof("bptree: mkfs created empty tree, root leaf at paddr %d", leaf.Paddr())
	return &Tree{cache: cache, config: cfg, block: *rb, rootNode: leaf}, nil
}

// WithTree acquires the current root block from cache and invokes f with a
// handle onto it. Every exported Tree operation is meant to be called
// from inside such a block, one transaction at a time.
func WithTree(ctx context.Context, cache Cache, trans Transaction, cfg Config, f func(*Tree) error) error {
	rb, err := cache.GetRoot(ctx, trans)
	if err != nil {
		return errors.Wrap(err, "bptree: acquire root block")
	}
	t := &Tree{cache: cache, config: cfg.normalized(), block: rb}
	return f(t)
}

// Depth returns the tree's current depth (1 for a tree with only a root leaf).
func (t *Tree) Depth() int { return int(t.block.Depth) }

// RootBlock returns this handle's current copy of its root block, for
// callers that want (Location, Depth) without going through the Cache.
func (t *Tree) RootBlock() RootBlockRef { return t.block }

func (t *Tree) isActualRoot(n Node) bool { return n.Paddr() == t.block.Location }

func (t *Tree) resolveRoot(ctx context.Context, trans Transaction) (Node, error) {
	if t.rootNode != nil {
		return t.rootNode, nil
	}
	kind := ExtentKindLeaf
	if t.block.Depth > 1 {
		kind = ExtentKindInternal
	}
	root, err := t.cache.GetAbsentExtent(ctx, trans, t.block.Location, kind, func(n Node) error {
		if n.Meta() == (NodeMeta{}) {
			n.SetMeta(NodeMeta{Begin: MinKey, End: MaxKey, Depth: t.block.Depth})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "bptree: load root")
	}
	t.rootNode = root
	return root, nil
}

// IterateRepeat walks forward from start, calling visitor once per
// distinct leaf visited (the "mapped-space visitor" of the original
// implementation this spec distills) and body once per entry; it stops
// when body returns false, when it errors, or when the cursor reaches end.
func (t *Tree) IterateRepeat(ctx context.Context, cur *Cursor, body func(*Cursor) (bool, error), visitor func(Node) error) error {
	var lastLeaf PhysAddr
	for {
		if cur.IsEnd() {
			return nil
		}
		if visitor != nil && cur.leaf.Paddr() != lastLeaf {
			if err := visitor(cur.leaf); err != nil {
				return err
			}
			lastLeaf = cur.leaf.Paddr()
		}
		cont, err := body(cur)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		if err := cur.Next(ctx); err != nil {
			return err
		}
	}
}

// InitCachedExtent checks whether a node just faulted back into the Cache
// from the transaction's point of view is still live: it performs a fresh
// lower_bound on the node's begin key and compares the node found at the
// node's own depth against e by physical address.
func (t *Tree) InitCachedExtent(ctx context.Context, trans Transaction, e Node) (bool, error) {
	cur, err := t.LowerBound(ctx, trans, e.Meta().Begin)
	if err != nil {
		return false, err
	}
	if e.Meta().Depth == 1 {
		return cur.leaf.Paddr() == e.Paddr(), nil
	}
	idx := int(e.Meta().Depth) - 2
	if idx < 0 || idx >= len(cur.ancestors) {
		return false, nil
	}
	if err := cur.ensureFull(ctx); err != nil {
		return false, err
	}
	return cur.ancestors[idx].node.Paddr() == e.Paddr(), nil
}

// GetLeafIfLive returns the leaf at paddr if it is still reachable at
// logical address laddr, or nil if it has since been retired/replaced.
func (t *Tree) GetLeafIfLive(ctx context.Context, trans Transaction, paddr PhysAddr, laddr LogicalAddr) (LeafNode, error) {
	cur, err := t.LowerBound(ctx, trans, laddr)
	if err != nil {
		return nil, err
	}
	if cur.leaf.Paddr() != paddr {
		return nil, nil
	}
	return cur.leaf, nil
}

// GetInternalIfLive is GetLeafIfLive's counterpart for an internal node at
// a known depth.
func (t *Tree) GetInternalIfLive(ctx context.Context, trans Transaction, paddr PhysAddr, laddr LogicalAddr, depth int) (InternalNode, error) {
	cur, err := t.LowerBound(ctx, trans, laddr)
	if err != nil {
		return nil, err
	}
	if err := cur.ensureFull(ctx); err != nil {
		return nil, err
	}
	idx := depth - 2
	if idx < 0 || idx >= len(cur.ancestors) {
		return nil, nil
	}
	anc := cur.ancestors[idx]
	if anc.node.Paddr() != paddr {
		return nil, nil
	}
	return anc.node, nil
}

// CheckInvariants walks the whole tree from the root, asserting the
// structural properties P1-P5 from spec §8: strictly increasing keys
// within a node, capacity bounds on every non-root node, internal entries
// whose (begin,end) match their child's meta, depths that drop by one per
// level from the RootBlock's depth down to leaves at depth 1, and a
// child-pointer cache that never disagrees with the entry array it caches.
func (t *Tree) CheckInvariants(ctx context.Context, trans Transaction) error {
	root, err := t.resolveRoot(ctx, trans)
	if err != nil {
		return err
	}
	return t.checkSubtree(ctx, trans, root, true)
}

func (t *Tree) checkSubtree(ctx context.Context, trans Transaction, n Node, isRoot bool) error {
	meta := n.Meta()
	if !isRoot && n.BelowMinCapacity() {
		return errors.Wrapf(ErrTreeCorrupted, "node [%d,%d) below min capacity (size %d)", meta.Begin, meta.End, n.GetSize())
	}
	if n.GetSize() > t.config.MaxEntries {
		return errors.Wrapf(ErrTreeCorrupted, "node [%d,%d) exceeds max capacity (size %d)", meta.Begin, meta.End, n.GetSize())
	}
	if isRoot && meta.Depth != t.block.Depth {
		return errors.Wrapf(ErrTreeCorrupted, "root depth %d != root block depth %d", meta.Depth, t.block.Depth)
	}

	switch in := n.(type) {
	case LeafNode:
		if meta.Depth != 1 {
			return errors.Wrapf(ErrTreeCorrupted, "leaf [%d,%d) at depth %d", meta.Begin, meta.End, meta.Depth)
		}
		var prev LogicalAddr
		for i := 0; i < in.GetSize(); i++ {
			k := in.KeyAt(i)
			if i > 0 && k <= prev {
				return errors.Wrapf(ErrTreeCorrupted, "leaf keys not strictly increasing at %d", k)
			}
			if k < meta.Begin || k >= meta.End {
				return errors.Wrapf(ErrTreeCorrupted, "leaf key %d outside range [%d,%d)", k, meta.Begin, meta.End)
			}
			prev = k
		}
		return nil
	case InternalNode:
		var prevKey LogicalAddr
		for i := 0; i < in.GetSize(); i++ {
			k := in.KeyAt(i)
			if i > 0 && k <= prevKey {
				return errors.Wrapf(ErrTreeCorrupted, "internal keys not strictly increasing at %d", k)
			}
			prevKey = k

			childPaddr := in.ChildAt(i)
			child, err := t.fetchChild(ctx, trans, in, i, childPaddr)
			if err != nil {
				return err
			}
			childMeta := child.Meta()
			if childMeta.Depth+1 != meta.Depth {
				return errors.Wrapf(ErrTreeCorrupted, "child depth %d under node of depth %d", childMeta.Depth, meta.Depth)
			}
			if childMeta.Begin != k {
				return errors.Wrapf(ErrTreeCorrupted, "child begin %d != entry key %d", childMeta.Begin, k)
			}
			expectedEnd := meta.End
			if i+1 < in.GetSize() {
				expectedEnd = in.KeyAt(i + 1)
			}
			if childMeta.End != expectedEnd {
				return errors.Wrapf(ErrTreeCorrupted, "child end %d != expected %d", childMeta.End, expectedEnd)
			}
			if slot := in.ChildPtr(i); slot.kind == childSlotLive && slot.node.Paddr() != childPaddr {
				return errors.Wrap(ErrTreeCorrupted, "child-pointer cache disagrees with entry array")
			}
			if err := t.checkSubtree(ctx, trans, child, false); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}
