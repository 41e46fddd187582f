package bptree

import (
	"context"

	"github.com/pkg/errors"
)

// ancestorState tracks one internal ancestor's node and the cursor's
// position within it, index 0 being the leaf's immediate parent (depth 2).
type ancestorState struct {
	node InternalNode
	pos  int
}

// cursorTag is a debug-only marker distinguishing a cursor whose ancestor
// stack is fully materialized from one that isn't yet; it has no bearing
// on correctness and exists only to make assertions cheap in tests.
type cursorTag uint8

const (
	cursorPartial cursorTag = iota
	cursorFull
)

// Cursor is C2: a position within the tree, expressed as a leaf and
// position within it plus a stack of ancestor (node, position) pairs up
// to the root. A cursor is partial when some ancestor slots are still nil
// (not yet materialized via ensureInternal); the leaf itself is always
// present and valid for the owning transaction.
type Cursor struct {
	tree  *Tree
	trans Transaction

	leaf    LeafNode
	leafPos int

	ancestors []*ancestorState
	tag       cursorTag
}

// Depth reports how many levels this cursor spans, leaf inclusive.
func (c *Cursor) Depth() int { return len(c.ancestors) + 1 }

// IsBegin reports whether the cursor is at the very first entry in the tree.
func (c *Cursor) IsBegin() bool {
	return c.leafPos == 0 && c.leaf.Meta().Begin == MinKey
}

// IsEnd reports whether the cursor has run off the end of its leaf. Per
// spec, this is the only externally visible notion of "end": a cursor
// past the last entry of the rightmost leaf, or transiently past the end
// of any leaf before handle_boundary resolves it.
func (c *Cursor) IsEnd() bool {
	return c.leafPos >= c.leaf.GetSize()
}

// IsFull reports whether every ancestor slot has been materialized.
func (c *Cursor) IsFull() bool { return c.tag == cursorFull }

// GetKey returns the key at the cursor's current position. Undefined if
// IsEnd().
func (c *Cursor) GetKey() LogicalAddr {
	return c.leaf.KeyAt(c.leafPos)
}

// GetVal returns the value at the cursor's current position, relativized
// against the owning leaf's physical address (spec §6.4; direction
// resolved against the original implementation's get_val(), which applies
// maybe_relative_to on the read path while storage stays absolute).
func (c *Cursor) GetVal() ExtentRef {
	raw := c.leaf.ValueAt(c.leafPos)
	return ExtentRef{
		Paddr: maybeRelativeTo(c.leaf.Paddr(), raw.Paddr),
		Len:   raw.Len,
		Flags: raw.Flags,
	}
}

// Clone returns an independent cursor at the same position; mutating one
// copy's position (via Next/Prev) does not affect the other. The two
// still refer to the same underlying nodes.
func (c *Cursor) Clone() *Cursor {
	clone := &Cursor{tree: c.tree, trans: c.trans, leaf: c.leaf, leafPos: c.leafPos, tag: c.tag}
	clone.ancestors = make([]*ancestorState, len(c.ancestors))
	for i, a := range c.ancestors {
		if a != nil {
			clone.ancestors[i] = &ancestorState{node: a.node, pos: a.pos}
		}
	}
	return clone
}

// Next advances the cursor by one entry, running handle_boundary when it
// walks off the end of the current leaf.
func (c *Cursor) Next(ctx context.Context) error {
	if c.IsEnd() {
		return errors.Wrap(ErrCursorAtEnd, "bptree: Next")
	}
	c.leafPos++
	if c.leafPos >= c.leaf.GetSize() {
		return c.handleBoundary(ctx)
	}
	return nil
}

// Prev moves the cursor back by one entry.
func (c *Cursor) Prev(ctx context.Context) error {
	if c.IsBegin() {
		return errors.Wrap(ErrCursorAtBegin, "bptree: Prev")
	}
	if c.leafPos > 0 {
		c.leafPos--
		return nil
	}
	if err := c.ensureFull(ctx); err != nil {
		return err
	}
	for i := 0; i < len(c.ancestors); i++ {
		anc := c.ancestors[i]
		if anc.pos > 0 {
			anc.pos--
			return c.descendLast(ctx, i)
		}
	}
	return errors.Wrap(ErrCursorAtBegin, "bptree: Prev")
}

// handleBoundary is called once leafPos has reached leaf.GetSize(): it
// finds the lowest ancestor with a right sibling still to visit, steps
// into it, and redescends via begin() at each level below. If no ancestor
// has a right sibling, the cursor is legitimately at end and is left as-is.
func (c *Cursor) handleBoundary(ctx context.Context) error {
	if err := c.ensureFull(ctx); err != nil {
		return err
	}
	for i := 0; i < len(c.ancestors); i++ {
		anc := c.ancestors[i]
		if anc.pos+1 < anc.node.GetSize() {
			anc.pos++
			return c.descendFirst(ctx, i)
		}
	}
	return nil
}

// descendFirst redescends from ancestors[idx] (already repositioned by the
// caller) picking the first entry (begin()) at every level below it,
// finishing at leafPos 0.
func (c *Cursor) descendFirst(ctx context.Context, idx int) error {
	anc := c.ancestors[idx]
	childPaddr := anc.node.ChildAt(anc.pos)
	child, err := c.tree.fetchChild(ctx, c.trans, anc.node, anc.pos, childPaddr)
	if err != nil {
		return err
	}
	for level := idx - 1; level >= 0; level-- {
		in, ok := child.(InternalNode)
		if !ok {
			return errors.Wrap(ErrTreeCorrupted, "bptree: expected internal node while descending")
		}
		c.ancestors[level] = &ancestorState{node: in, pos: 0}
		childPaddr = in.ChildAt(0)
		child, err = c.tree.fetchChild(ctx, c.trans, in, 0, childPaddr)
		if err != nil {
			return err
		}
	}
	leaf, ok := child.(LeafNode)
	if !ok {
		return errors.Wrap(ErrTreeCorrupted, "bptree: expected leaf at bottom of descent")
	}
	c.leaf = leaf
	c.leafPos = 0
	return nil
}

// descendLast is descendFirst's mirror image for Prev: it picks the last
// entry at every level below idx.
func (c *Cursor) descendLast(ctx context.Context, idx int) error {
	anc := c.ancestors[idx]
	childPaddr := anc.node.ChildAt(anc.pos)
	child, err := c.tree.fetchChild(ctx, c.trans, anc.node, anc.pos, childPaddr)
	if err != nil {
		return err
	}
	for level := idx - 1; level >= 0; level-- {
		in, ok := child.(InternalNode)
		if !ok {
			return errors.Wrap(ErrTreeCorrupted, "bptree: expected internal node while descending")
		}
		lastPos := in.GetSize() - 1
		c.ancestors[level] = &ancestorState{node: in, pos: lastPos}
		childPaddr = in.ChildAt(lastPos)
		child, err = c.tree.fetchChild(ctx, c.trans, in, lastPos, childPaddr)
		if err != nil {
			return err
		}
	}
	leaf, ok := child.(LeafNode)
	if !ok {
		return errors.Wrap(ErrTreeCorrupted, "bptree: expected leaf at bottom of descent")
	}
	c.leaf = leaf
	if leaf.GetSize() > 0 {
		c.leafPos = leaf.GetSize() - 1
	} else {
		c.leafPos = 0
	}
	return nil
}

// ensureInternal materializes the ancestor slot at depth (>=2), walking up
// from whatever is currently the lowest known node via its Parent()
// back-reference. Materialization proceeds strictly bottom-up: depth-1's
// slot must already be resolved (or be the leaf) before depth can be.
func (c *Cursor) ensureInternal(ctx context.Context, depth int) (InternalNode, error) {
	idx := depth - 2
	if idx < 0 || idx >= len(c.ancestors) {
		return nil, errors.Errorf("bptree: depth %d out of range for cursor of depth %d", depth, c.Depth())
	}
	if c.ancestors[idx] != nil {
		return c.ancestors[idx].node, nil
	}

	var child Node
	if idx == 0 {
		child = c.leaf
	} else {
		lower := c.ancestors[idx-1]
		if lower == nil {
			return nil, errors.Wrap(ErrTreeCorrupted, "bptree: cannot materialize ancestor out of order")
		}
		child = lower.node
	}

	parent, ok := child.Parent().(InternalNode)
	if !ok || parent == nil {
		return nil, errors.Wrap(ErrTreeCorrupted, "bptree: missing parent back-reference during materialization")
	}
	if err := c.checkViewable(parent); err != nil {
		return nil, err
	}
	pos := parent.UpperBound(child.Meta().Begin) - 1
	if pos < 0 {
		pos = 0
	}
	c.ancestors[idx] = &ancestorState{node: parent, pos: pos}
	if idx == len(c.ancestors)-1 {
		c.tag = cursorFull
	}
	return parent, nil
}

// checkViewable is spec §9's viewability assertion: a strong transaction
// must never materialize an ancestor that its own overlay has already
// retired. That can only happen if an earlier step of the same split/merge
// cascade retired this exact node while some other cursor still holds a
// Parent() back-reference to it; walking through it again would corrupt
// the tree. Weak (read-only) transactions never retire anything themselves
// and are exempt, per spec §6.2's is_weak().
func (c *Cursor) checkViewable(n Node) error {
	if c.trans.IsWeak() {
		return nil
	}
	if _, presence := c.trans.GetExtent(n.Paddr()); presence == ExtentAbsent {
		return errors.Wrap(ErrTreeCorrupted, "bptree: materialized ancestor already retired in this transaction")
	}
	return nil
}

// ensureFull materializes every ancestor slot.
func (c *Cursor) ensureFull(ctx context.Context) error {
	for depth := 2; depth-2 < len(c.ancestors); depth++ {
		if _, err := c.ensureInternal(ctx, depth); err != nil {
			return err
		}
	}
	c.tag = cursorFull
	return nil
}

// checkSplit returns the depth from which a split cascade must begin: 0 if
// the leaf isn't full, otherwise the depth of the first ancestor with room
// for one more entry (nothing at or above that depth needs splitting), or
// Depth()+1 if every ancestor up to and including the root is full, which
// signals that a new root must be grown before splitting proceeds.
func (c *Cursor) checkSplit(ctx context.Context) (int, error) {
	if !c.leaf.AtMaxCapacity() {
		return 0, nil
	}
	if err := c.ensureFull(ctx); err != nil {
		return 0, err
	}
	for depth := 2; depth-2 < len(c.ancestors); depth++ {
		anc := c.ancestors[depth-2]
		if !anc.node.AtMaxCapacity() {
			return depth, nil
		}
	}
	return c.Depth() + 1, nil
}
