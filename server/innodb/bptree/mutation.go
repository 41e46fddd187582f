package bptree

import (
	"context"

	"github.com/pkg/errors"

	"github.com/xmysql-server/fixedkv-btree/logger"
)

// Insert finds the insertion point for k starting from lower_bound(k) and
// installs (k, v) if k is not already present. It returns the resulting
// cursor and whether an insertion actually happened.
func (t *Tree) Insert(ctx context.Context, trans Transaction, k LogicalAddr, v ExtentRef) (*Cursor, bool, error) {
	hint, err := t.LowerBound(ctx, trans, k)
	if err != nil {
		return nil, false, err
	}
	return t.InsertWithHint(ctx, trans, hint, k, v)
}

// InsertWithHint is Insert's counterpart taking a caller-supplied cursor
// (typically a stale lower_bound(k) the caller already had lying around)
// as a starting point, avoiding a second descent when the hint is still
// valid or only one leaf away from valid.
func (t *Tree) InsertWithHint(ctx context.Context, trans Transaction, hint *Cursor, k LogicalAddr, v ExtentRef) (*Cursor, bool, error) {
	cur, err := t.findInsertion(ctx, trans, hint, k)
	if err != nil {
		return nil, false, err
	}

	if cur.leafPos < cur.leaf.GetSize() && cur.leaf.KeyAt(cur.leafPos) == k {
		return cur, false, nil
	}

	if err := t.handleSplit(ctx, trans, cur); err != nil {
		return nil, false, err
	}

	leafNode, err := t.duplicateLeafForWrite(ctx, trans, cur)
	if err != nil {
		return nil, false, err
	}

	pos := leafNode.LowerBound(k)
	leafNode.InsertAt(pos, k, ExtentRef{
		Paddr: maybeAbsolute(leafNode.Paddr(), v.Paddr),
		Len:   v.Len,
		Flags: v.Flags,
	})
	cur.leafPos = pos

	trans.Stats().NumInserts++
	return cur, true, nil
}

// findInsertion cheaply repositions hint so that its leaf covers k: if
// hint already brackets k it is used as-is, otherwise it is stepped back
// once and pinned to the boundary of the (now correct) leaf, from which
// InsertWithHint's own lower_bound resolves the exact position.
func (t *Tree) findInsertion(ctx context.Context, trans Transaction, hint *Cursor, k LogicalAddr) (*Cursor, error) {
	cur := hint
	valid := cur.leaf.Meta().Begin <= k && (cur.IsEnd() || cur.GetKey() >= k)
	if valid {
		return cur, nil
	}
	if err := cur.Prev(ctx); err != nil {
		return nil, err
	}
	cur.leafPos = cur.leaf.GetSize()
	return cur, nil
}

func (t *Tree) duplicateLeafForWrite(ctx context.Context, trans Transaction, cur *Cursor) (LeafNode, error) {
	dup, err := t.cache.DuplicateForWrite(trans, cur.leaf)
	if err != nil {
		return nil, err
	}
	leafNode := dup.(LeafNode)
	if leafNode != cur.leaf {
		if t.isActualRoot(cur.leaf) {
			t.rootNode = leafNode
		}
		cur.leaf = leafNode
		if len(cur.ancestors) > 0 && cur.ancestors[0] != nil {
			cur.ancestors[0].node.SetChildPtr(cur.ancestors[0].pos, childSlot{kind: childSlotLive, node: leafNode})
		}
	}
	return leafNode, nil
}

// Update replaces the value at the cursor's current position in place;
// the cursor must not be at end.
func (t *Tree) Update(ctx context.Context, trans Transaction, cur *Cursor, v ExtentRef) error {
	if cur.IsEnd() {
		return errors.Wrap(ErrTreeCorrupted, "bptree: Update at end")
	}
	leafNode, err := t.duplicateLeafForWrite(ctx, trans, cur)
	if err != nil {
		return err
	}
	leafNode.UpdateAt(cur.leafPos, ExtentRef{
		Paddr: maybeAbsolute(leafNode.Paddr(), v.Paddr),
		Len:   v.Len,
		Flags: v.Flags,
	})
	trans.Stats().NumUpdates++
	return nil
}

// Remove deletes the entry at the cursor's current position, merging or
// rebalancing ancestors as needed, and returns a cursor at the entry that
// followed the removed one (running handle_boundary if that pushes past
// the end of the (possibly now-merged) leaf).
func (t *Tree) Remove(ctx context.Context, trans Transaction, cur *Cursor) (*Cursor, error) {
	if cur.IsEnd() {
		return nil, errors.Wrap(ErrTreeCorrupted, "bptree: Remove at end")
	}
	leafNode, err := t.duplicateLeafForWrite(ctx, trans, cur)
	if err != nil {
		return nil, err
	}
	leafNode.RemoveAt(cur.leafPos)

	if err := t.handleMerge(ctx, trans, cur); err != nil {
		return nil, err
	}
	if cur.IsEnd() {
		if err := cur.handleBoundary(ctx); err != nil {
			return nil, err
		}
	}

	trans.Stats().NumErases++
	return cur, nil
}

// handleSplit scans from the leaf upward for the first ancestor with room
// for one more entry (cur.checkSplit); if even the root is full, a new
// root is grown one level up first (via parentAt's isActualRoot check when
// the top split level looks for its parent). It then splits every full
// level from that boundary down to the leaf, re-seating cur into the half
// that still contains its old position.
func (t *Tree) handleSplit(ctx context.Context, trans Transaction, cur *Cursor) error {
	splitFrom, err := cur.checkSplit(ctx)
	if err != nil {
		return err
	}
	if splitFrom == 0 {
		return nil
	}

	origDepth := cur.Depth()
	upTo := splitFrom - 1
	if splitFrom > origDepth {
		upTo = origDepth
	}

	for d := 1; d <= upTo; d++ {
		if d == 1 {
			if err := t.splitLeafLevel(ctx, trans, cur); err != nil {
				return err
			}
		} else if err := t.splitInternalLevel(ctx, trans, cur, d); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) splitLeafLevel(ctx context.Context, trans Transaction, cur *Cursor) error {
	leaf := cur.leaf
	left, right, pivot := leaf.MakeSplitChildren(t.config)

	if _, err := t.cache.AllocNewNonDataExtent(trans, left); err != nil {
		return err
	}
	if _, err := t.cache.AllocNewNonDataExtent(trans, right); err != nil {
		return err
	}

	parent, err := t.parentAt(ctx, trans, cur, leaf, 2)
	if err != nil {
		return err
	}
	pos := parent.UpperBound(leaf.Meta().Begin) - 1
	if pos < 0 {
		pos = 0
	}

	parent.UpdateAt(pos, left.Paddr())
	parent.SetChildPtr(pos, childSlot{kind: childSlotLive, node: left})
	left.SetParent(parent)

	parent.InsertAt(pos+1, pivot, right.Paddr())
	parent.InsertChildPtr(pos+1, childSlot{kind: childSlotLive, node: right})
	right.SetParent(parent)

	if err := t.cache.RetireExtent(trans, leaf); err != nil {
		return err
	}

	leftSize := left.GetSize()
	if cur.leafPos <= leftSize {
		cur.leaf = left
		cur.ancestors[0] = &ancestorState{node: parent, pos: pos}
	} else {
		cur.leaf = right
		cur.leafPos -= leftSize
		cur.ancestors[0] = &ancestorState{node: parent, pos: pos + 1}
	}

	logger.Debugf("bptree: split leaf at pivot %d", pivot)
	return nil
}

func (t *Tree) splitInternalLevel(ctx context.Context, trans Transaction, cur *Cursor, depth int) error {
	node := cur.ancestors[depth-2].node
	curPos := cur.ancestors[depth-2].pos
	left, right, pivot := node.MakeSplitChildren(t.config)

	if _, err := t.cache.AllocNewNonDataExtent(trans, left); err != nil {
		return err
	}
	if _, err := t.cache.AllocNewNonDataExtent(trans, right); err != nil {
		return err
	}

	parent, err := t.parentAt(ctx, trans, cur, node, depth+1)
	if err != nil {
		return err
	}
	pos := parent.UpperBound(node.Meta().Begin) - 1
	if pos < 0 {
		pos = 0
	}

	parent.UpdateAt(pos, left.Paddr())
	parent.SetChildPtr(pos, childSlot{kind: childSlotLive, node: left})
	left.SetParent(parent)

	parent.InsertAt(pos+1, pivot, right.Paddr())
	parent.InsertChildPtr(pos+1, childSlot{kind: childSlotLive, node: right})
	right.SetParent(parent)

	if err := t.cache.RetireExtent(trans, node); err != nil {
		return err
	}

	leftSize := left.GetSize()
	if curPos < leftSize {
		cur.ancestors[depth-2] = &ancestorState{node: left, pos: curPos}
		cur.ancestors[depth-1] = &ancestorState{node: parent, pos: pos}
	} else {
		cur.ancestors[depth-2] = &ancestorState{node: right, pos: curPos - leftSize}
		cur.ancestors[depth-1] = &ancestorState{node: parent, pos: pos + 1}
	}

	logger.Debugf("bptree: split internal node at depth %d, pivot %d", depth, pivot)
	return nil
}

// parentAt returns the (possibly just-grown) mutable parent of node at
// parentDepth, materializing and duplicating the existing ancestor chain,
// or growing a new root first if node itself was the root.
func (t *Tree) parentAt(ctx context.Context, trans Transaction, cur *Cursor, node Node, parentDepth int) (InternalNode, error) {
	if t.isActualRoot(node) {
		if err := t.growRoot(ctx, trans, cur, node); err != nil {
			return nil, err
		}
		return cur.ancestors[len(cur.ancestors)-1].node, nil
	}
	dup, err := t.duplicateAncestor(ctx, trans, cur, parentDepth)
	if err != nil {
		return nil, err
	}
	return dup, nil
}

func (t *Tree) duplicateAncestor(ctx context.Context, trans Transaction, cur *Cursor, depth int) (InternalNode, error) {
	node, err := cur.ensureInternal(ctx, depth)
	if err != nil {
		return nil, err
	}
	dup, err := t.cache.DuplicateForWrite(trans, node)
	if err != nil {
		return nil, err
	}
	in := dup.(InternalNode)
	cur.ancestors[depth-2].node = in
	if t.isActualRoot(node) {
		t.rootNode = in
	}
	return in, nil
}

// growRoot allocates a fresh internal root one level above the current
// root, pointing its only entry at the old root, and repoints the tree's
// RootBlock at it. The cursor gains one more ancestor slot for the new
// level, positioned at 0 (its only entry).
func (t *Tree) growRoot(ctx context.Context, trans Transaction, cur *Cursor, oldRoot Node) error {
	newDepth := t.block.Depth + 1
	if int(newDepth) > MaxDepth {
		return errors.Wrap(ErrDepthExceeded, "bptree: root growth would exceed max depth")
	}

	newRoot := newInternalNode(NodeMeta{Begin: MinKey, End: MaxKey, Depth: newDepth}, t.config)
	if _, err := t.cache.AllocNewNonDataExtent(trans, newRoot); err != nil {
		return err
	}
	newRoot.InsertAt(0, MinKey, oldRoot.Paddr())
	newRoot.InsertChildPtr(0, childSlot{kind: childSlotLive, node: oldRoot})
	oldRoot.SetParent(newRoot)

	rb, err := t.cache.DuplicateRootForWrite(trans)
	if err != nil {
		return err
	}
	rb.Location = newRoot.Paddr()
	rb.Depth = newDepth
	t.block = *rb
	t.rootNode = newRoot
	trans.Stats().Depth = newDepth
	trans.Stats().ExtentsNumDelta++

	cur.ancestors = append(cur.ancestors, &ancestorState{node: newRoot, pos: 0})

	logger.Debugf("bptree: grew root to depth %d", newDepth)
	return nil
}

// handleMerge repeatedly merges or rebalances the leaf (and any ancestor
// left below minimum capacity by the level below it) with a sibling,
// stopping once a level is no longer below minimum capacity or the root is
// reached.
// Reaching the root with a single remaining entry collapses it.
func (t *Tree) handleMerge(ctx context.Context, trans Transaction, cur *Cursor) error {
	if t.isActualRoot(cur.leaf) || !cur.leaf.BelowMinCapacity() {
		return nil
	}
	return t.mergeCascade(ctx, trans, cur, 1)
}

func (t *Tree) mergeCascade(ctx context.Context, trans Transaction, cur *Cursor, depth int) error {
	if depth >= cur.Depth() {
		return nil
	}

	parent, err := t.duplicateAncestor(ctx, trans, cur, depth+1)
	if err != nil {
		return err
	}
	pos := cur.ancestors[depth-1].pos

	donorPos, takeRight := donorPosition(pos, parent.GetSize())
	donorRaw, err := t.fetchChild(ctx, trans, parent, donorPos, parent.ChildAt(donorPos))
	if err != nil {
		return err
	}
	donorDup, err := t.cache.DuplicateForWrite(trans, donorRaw)
	if err != nil {
		return err
	}

	if depth == 1 {
		if err := t.mergeLeafLevel(trans, cur, parent, pos, donorPos, takeRight, donorDup.(LeafNode)); err != nil {
			return err
		}
	} else {
		if err := t.mergeInternalLevel(trans, cur, depth, parent, pos, donorPos, takeRight, donorDup.(InternalNode)); err != nil {
			return err
		}
	}

	if parent.GetSize() == 1 && t.isActualRoot(parent) {
		return t.collapseRoot(ctx, trans, cur, parent)
	}
	if parent.BelowMinCapacity() {
		return t.mergeCascade(ctx, trans, cur, depth+1)
	}
	return nil
}

// donorPosition picks a sibling to borrow from or merge with: the right
// sibling unless pos is already the parent's last entry, in which case
// the left sibling is the only option.
func donorPosition(pos, parentSize int) (donorPos int, takeRight bool) {
	if pos+1 < parentSize {
		return pos + 1, true
	}
	return pos - 1, false
}

func (t *Tree) mergeLeafLevel(trans Transaction, cur *Cursor, parent InternalNode, pos, donorPos int, takeRight bool, donor LeafNode) error {
	leaf := cur.leaf
	l, r := leaf, donor
	leftPos, rightPos := pos, donorPos
	if !takeRight {
		l, r = donor, leaf
		leftPos, rightPos = donorPos, pos
	}

	if donor.AtMinCapacity() || donor.BelowMinCapacity() {
		merged := l.MakeFullMerge(r)
		if _, err := t.cache.AllocNewNonDataExtent(trans, merged); err != nil {
			return err
		}
		parent.UpdateAt(leftPos, merged.Paddr())
		parent.SetChildPtr(leftPos, childSlot{kind: childSlotLive, node: merged})
		merged.SetParent(parent)
		parent.RemoveAt(rightPos)
		parent.RemoveChildPtr(rightPos)

		if err := t.cache.RetireExtent(trans, l); err != nil {
			return err
		}
		if err := t.cache.RetireExtent(trans, r); err != nil {
			return err
		}

		offset := 0
		if !takeRight {
			offset = donor.GetSize()
		}
		cur.leaf = merged
		cur.leafPos += offset
		cur.ancestors[0] = &ancestorState{node: parent, pos: leftPos}
		return nil
	}

	pivotIdx := (l.GetSize() + r.GetSize()) / 2
	nl, nr, pivot := l.MakeBalanced(r, pivotIdx)
	if _, err := t.cache.AllocNewNonDataExtent(trans, nl); err != nil {
		return err
	}
	if _, err := t.cache.AllocNewNonDataExtent(trans, nr); err != nil {
		return err
	}

	parent.UpdateAt(leftPos, nl.Paddr())
	parent.SetChildPtr(leftPos, childSlot{kind: childSlotLive, node: nl})
	nl.SetParent(parent)
	parent.RemoveAt(rightPos)
	parent.InsertAt(rightPos, pivot, nr.Paddr())
	parent.SetChildPtr(rightPos, childSlot{kind: childSlotLive, node: nr})
	nr.SetParent(parent)

	if err := t.cache.RetireExtent(trans, l); err != nil {
		return err
	}
	if err := t.cache.RetireExtent(trans, r); err != nil {
		return err
	}

	absPos := cur.leafPos
	if !takeRight {
		absPos += donor.GetSize()
	}
	if absPos < nl.GetSize() {
		cur.leaf = nl
		cur.leafPos = absPos
		cur.ancestors[0] = &ancestorState{node: parent, pos: leftPos}
	} else {
		cur.leaf = nr
		cur.leafPos = absPos - nl.GetSize()
		cur.ancestors[0] = &ancestorState{node: parent, pos: rightPos}
	}
	return nil
}

func (t *Tree) mergeInternalLevel(trans Transaction, cur *Cursor, depth int, parent InternalNode, pos, donorPos int, takeRight bool, donor InternalNode) error {
	node := cur.ancestors[depth-2].node
	l, r := node, donor
	leftPos, rightPos := pos, donorPos
	if !takeRight {
		l, r = donor, node
		leftPos, rightPos = donorPos, pos
	}
	curPos := cur.ancestors[depth-2].pos

	if donor.AtMinCapacity() || donor.BelowMinCapacity() {
		merged := l.MakeFullMerge(r)
		if _, err := t.cache.AllocNewNonDataExtent(trans, merged); err != nil {
			return err
		}
		parent.UpdateAt(leftPos, merged.Paddr())
		parent.SetChildPtr(leftPos, childSlot{kind: childSlotLive, node: merged})
		merged.SetParent(parent)
		parent.RemoveAt(rightPos)
		parent.RemoveChildPtr(rightPos)

		if err := t.cache.RetireExtent(trans, l); err != nil {
			return err
		}
		if err := t.cache.RetireExtent(trans, r); err != nil {
			return err
		}

		offset := 0
		if !takeRight {
			offset = donor.GetSize()
		}
		cur.ancestors[depth-2] = &ancestorState{node: merged, pos: curPos + offset}
		cur.ancestors[depth-1] = &ancestorState{node: parent, pos: leftPos}
		return nil
	}

	pivotIdx := (l.GetSize() + r.GetSize()) / 2
	nl, nr, pivot := l.MakeBalanced(r, pivotIdx)
	if _, err := t.cache.AllocNewNonDataExtent(trans, nl); err != nil {
		return err
	}
	if _, err := t.cache.AllocNewNonDataExtent(trans, nr); err != nil {
		return err
	}

	parent.UpdateAt(leftPos, nl.Paddr())
	parent.SetChildPtr(leftPos, childSlot{kind: childSlotLive, node: nl})
	nl.SetParent(parent)
	parent.RemoveAt(rightPos)
	parent.InsertAt(rightPos, pivot, nr.Paddr())
	parent.SetChildPtr(rightPos, childSlot{kind: childSlotLive, node: nr})
	nr.SetParent(parent)

	if err := t.cache.RetireExtent(trans, l); err != nil {
		return err
	}
	if err := t.cache.RetireExtent(trans, r); err != nil {
		return err
	}

	absPos := curPos
	if !takeRight {
		absPos += donor.GetSize()
	}
	if absPos < nl.GetSize() {
		cur.ancestors[depth-2] = &ancestorState{node: nl, pos: absPos}
		cur.ancestors[depth-1] = &ancestorState{node: parent, pos: leftPos}
	} else {
		cur.ancestors[depth-2] = &ancestorState{node: nr, pos: absPos - nl.GetSize()}
		cur.ancestors[depth-1] = &ancestorState{node: parent, pos: rightPos}
	}
	return nil
}

// collapseRoot replaces a single-entry root with its only child, shrinking
// the tree by one level.
func (t *Tree) collapseRoot(ctx context.Context, trans Transaction, cur *Cursor, oldRoot InternalNode) error {
	childPaddr := oldRoot.ChildAt(0)
	child, err := t.fetchChild(ctx, trans, oldRoot, 0, childPaddr)
	if err != nil {
		return err
	}
	child.SetParent(nil)
	newMeta := child.Meta()
	newMeta.Begin, newMeta.End = MinKey, MaxKey
	child.SetMeta(newMeta)

	rb, err := t.cache.DuplicateRootForWrite(trans)
	if err != nil {
		return err
	}
	rb.Location = child.Paddr()
	rb.Depth = t.block.Depth - 1
	t.block = *rb
	t.rootNode = child
	trans.Stats().Depth = rb.Depth
	trans.Stats().ExtentsNumDelta--

	if err := t.cache.RetireExtent(trans, oldRoot); err != nil {
		return err
	}

	cur.ancestors = cur.ancestors[:len(cur.ancestors)-1]
	logger.Debugf("bptree: collapsed root to depth %d", rb.Depth)
	return nil
}

// RewriteExtent gives n a fresh physical address (its logical content is
// unchanged) and updates the single parent mapping that referenced its
// old address, retiring the original. It is the mechanism the block
// cache uses to relocate a node without the tree walking down to it again.
func (t *Tree) RewriteExtent(ctx context.Context, trans Transaction, n Node) (Node, error) {
	fresh := n.Clone()
	if _, err := t.cache.AllocNewNonDataExtent(trans, fresh); err != nil {
		return nil, err
	}
	if err := t.UpdateInternalMapping(ctx, trans, fresh.Meta().Depth, fresh.Meta().Begin, n.Paddr(), fresh); err != nil {
		return nil, err
	}
	if err := t.cache.RetireExtent(trans, n); err != nil {
		return nil, err
	}
	return fresh, nil
}

// UpdateInternalMapping repoints whichever parent entry maps (begin) at
// depth to oldPaddr so that it maps to newNode instead. When depth equals
// the tree's own depth, the "parent" is the RootBlock itself.
func (t *Tree) UpdateInternalMapping(ctx context.Context, trans Transaction, depth uint8, begin LogicalAddr, oldPaddr PhysAddr, newNode Node) error {
	if depth == t.block.Depth {
		if begin != MinKey || oldPaddr != t.block.Location {
			return errors.Wrap(ErrTreeCorrupted, "bptree: root rewrite mapping mismatch")
		}
		rb, err := t.cache.DuplicateRootForWrite(trans)
		if err != nil {
			return err
		}
		rb.Location = newNode.Paddr()
		t.block = *rb
		t.rootNode = newNode
		newNode.SetParent(nil)
		return nil
	}

	cur, err := t.lookup(ctx, trans,
		func(in InternalNode) int {
			p := in.UpperBound(begin) - 1
			if p < 0 {
				p = 0
			}
			return p
		},
		nil, int(depth)+1)
	if err != nil {
		return err
	}

	parentNode, err := t.duplicateAncestor(ctx, trans, cur, int(depth)+1)
	if err != nil {
		return err
	}
	pos := parentNode.UpperBound(begin) - 1
	if pos < 0 || pos >= parentNode.GetSize() || parentNode.KeyAt(pos) != begin || parentNode.ChildAt(pos) != oldPaddr {
		return errors.Wrap(ErrTreeCorrupted, "bptree: parent entry mismatch during rewrite")
	}
	parentNode.UpdateAt(pos, newNode.Paddr())
	parentNode.SetChildPtr(pos, childSlot{kind: childSlotLive, node: newNode})
	newNode.SetParent(parentNode)
	return nil
}
