package bptree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"

	"github.com/xmysql-server/fixedkv-btree/logger"
)

// RootBlockRef is the tiny piece of state a tree handle needs to find its
// own root: the root's physical address and the tree's current depth.
// Real deployments would persist this in a superblock; the reference
// Cache below keeps one per named tree in memory.
type RootBlockRef struct {
	Location PhysAddr
	Depth    uint8
}

// Cache is the external collaborator described in spec §6.1. The tree
// core never touches bytes on disk; it asks the Cache to allocate, fault
// in, duplicate-for-write, and retire extents, and to hand back the root.
//
// Deviation from spec's alloc_new_non_data_extent<T>(trans, size, hint,
// generation): since Go has no return-type generics, callers here build
// the fully-formed Node first (MakeSplitChildren, Mkfs's initial leaf,
// growRoot's new root) and pass it in; Alloc's job is only to assign it a
// physical address and register it with the transaction. Documented in
// DESIGN.md.
type Cache interface {
	AllocNewNonDataExtent(trans Transaction, n Node) (Node, error)
	DuplicateForWrite(trans Transaction, n Node) (Node, error)
	GetAbsentExtent(ctx context.Context, trans Transaction, paddr PhysAddr, kind ExtentKind, init func(Node) error) (Node, error)
	RetireExtent(trans Transaction, n Node) error

	GetRoot(ctx context.Context, trans Transaction) (RootBlockRef, error)
	GetRootFast(trans Transaction) (RootBlockRef, bool)
	DuplicateRootForWrite(trans Transaction) (*RootBlockRef, error)

	TestQueryCache(paddr PhysAddr) Node
}

// MemCache is the reference Cache: a fully in-memory extent store keyed by
// PhysAddr, grounded on the teacher's DefaultBPlusTreeManager (LRU node
// cache, dirty tracking) and buffer_pool.BufferPool (flush/checksum on
// commit). It has no notion of eviction pressure since it never spills to
// disk, and it keeps no LRU or access-time bookkeeping.
type MemCache struct {
	mu     sync.RWMutex
	stable map[PhysAddr]Node
	kinds  map[PhysAddr]ExtentKind
	sums   map[PhysAddr]uint64

	root      RootBlockRef
	nextPaddr uint64
	nextTxnID uint64
}

// NewMemCache creates an empty cache with no root; callers should follow
// with Mkfs to establish one.
func NewMemCache() *MemCache {
	return &MemCache{
		stable: make(map[PhysAddr]Node),
		kinds:  make(map[PhysAddr]ExtentKind),
		sums:   make(map[PhysAddr]uint64),
	}
}

// BeginTransaction starts a private overlay for a new transaction. weak
// transactions (spec §6.2) are read-only observers; the tree core consults
// IsWeak to skip the viewability assertion on materialized ancestors
// (cursor.go's checkViewable) but MemCache does not otherwise distinguish
// them.
func (c *MemCache) BeginTransaction(weak bool) *MemTransaction {
	id := atomic.AddUint64(&c.nextTxnID, 1)
	return &MemTransaction{
		id:      id,
		weak:    weak,
		cache:   c,
		dirty:   make(map[PhysAddr]Node),
		fresh:   make(map[PhysAddr]Node),
		retired: make(map[PhysAddr]bool),
	}
}

func mustMemTxn(trans Transaction) (*MemTransaction, error) {
	t, ok := trans.(*MemTransaction)
	if !ok {
		return nil, errors.New("bptree: MemCache requires a *MemTransaction")
	}
	return t, nil
}

func (c *MemCache) AllocNewNonDataExtent(trans Transaction, n Node) (Node, error) {
	t, err := mustMemTxn(trans)
	if err != nil {
		return nil, err
	}
	paddr := PhysAddr(atomic.AddUint64(&c.nextPaddr, 1))
	n.SetPaddr(paddr)
	t.fresh[paddr] = n
	t.stats.ExtentsNumDelta++
	return n, nil
}

// DuplicateForWrite clones n for private mutation within trans and
// cascades the duplication up through its parent chain so that a fresh
// lookup within the same transaction observes the mutable copy (spec §5:
// "child pointers held in a mutable parent are updated to point at
// mutable children"). Real on-disk caches instead reconcile this at
// commit time via the RootBlock and journaled parent updates; doing it
// eagerly here keeps the in-memory reference model simple to reason
// about and test against.
func (c *MemCache) DuplicateForWrite(trans Transaction, n Node) (Node, error) {
	t, err := mustMemTxn(trans)
	if err != nil {
		return nil, err
	}
	return c.duplicateForWrite(t, n)
}

func (c *MemCache) duplicateForWrite(t *MemTransaction, n Node) (Node, error) {
	if existing, presence := t.GetExtent(n.Paddr()); presence == ExtentPresent {
		return existing, nil
	}

	clone := n.Clone()
	t.dirty[n.Paddr()] = clone

	parent, ok := n.Parent().(InternalNode)
	if !ok || parent == nil {
		clone.SetParent(nil)
		return clone, nil
	}

	newParentNode, err := c.duplicateForWrite(t, parent)
	if err != nil {
		return nil, err
	}
	newParent := newParentNode.(InternalNode)
	clone.SetParent(newParent)

	pos := newParent.UpperBound(n.Meta().Begin) - 1
	if pos >= 0 && pos < newParent.GetSize() && newParent.ChildAt(pos) == n.Paddr() {
		newParent.SetChildPtr(pos, childSlot{kind: childSlotLive, node: clone})
	}
	return clone, nil
}

func (c *MemCache) GetAbsentExtent(ctx context.Context, trans Transaction, paddr PhysAddr, kind ExtentKind, init func(Node) error) (Node, error) {
	t, err := mustMemTxn(trans)
	if err != nil {
		return nil, err
	}
	if n, ok := t.dirty[paddr]; ok {
		return n, nil
	}
	if n, ok := t.fresh[paddr]; ok {
		return n, nil
	}

	c.mu.RLock()
	n, ok := c.stable[paddr]
	sum, hadSum := c.sums[paddr]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrIO, "bptree: no extent at paddr %d", paddr)
	}
	if hadSum && sum != checksumNode(n) {
		return nil, errors.Wrapf(ErrChecksumMismatch, "bptree: paddr %d", paddr)
	}
	if init != nil {
		if err := init(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (c *MemCache) RetireExtent(trans Transaction, n Node) error {
	t, err := mustMemTxn(trans)
	if err != nil {
		return err
	}
	t.retired[n.Paddr()] = true
	delete(t.dirty, n.Paddr())
	delete(t.fresh, n.Paddr())
	t.stats.ExtentsNumDelta--
	return nil
}

func (c *MemCache) GetRoot(ctx context.Context, trans Transaction) (RootBlockRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.root.Location == NullPaddr {
		return RootBlockRef{}, errors.Wrap(ErrIO, "bptree: no root block; call Mkfs first")
	}
	return c.root, nil
}

func (c *MemCache) GetRootFast(trans Transaction) (RootBlockRef, bool) {
	if t, ok := trans.(*MemTransaction); ok && t.root != nil {
		return *t.root, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.root.Location == NullPaddr {
		return RootBlockRef{}, false
	}
	return c.root, true
}

func (c *MemCache) DuplicateRootForWrite(trans Transaction) (*RootBlockRef, error) {
	t, err := mustMemTxn(trans)
	if err != nil {
		return nil, err
	}
	if t.root == nil {
		c.mu.RLock()
		rb := c.root
		c.mu.RUnlock()
		t.root = &rb
	}
	return t.root, nil
}

func (c *MemCache) TestQueryCache(paddr PhysAddr) Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stable[paddr]
}

// Commit publishes a transaction's overlay into the stable map, computing
// a checksum per touched extent so a later GetAbsentExtent can detect
// corruption (spec §7 ChecksumMismatch). Callers must not reuse trans
// after Commit or Abort.
func (c *MemCache) Commit(trans Transaction) error {
	t, err := mustMemTxn(trans)
	if err != nil {
		return err
	}
	if t.done {
		return errors.New("bptree: transaction already finalized")
	}
	t.done = true

	c.mu.Lock()
	defer c.mu.Unlock()

	for paddr := range t.retired {
		delete(c.stable, paddr)
		delete(c.kinds, paddr)
		delete(c.sums, paddr)
	}
	for paddr, n := range t.fresh {
		if t.retired[paddr] {
			continue
		}
		c.stable[paddr] = n
		c.kinds[paddr] = n.Kind()
		c.sums[paddr] = checksumNode(n)
	}
	for paddr, n := range t.dirty {
		if t.retired[paddr] {
			continue
		}
		c.stable[paddr] = n
		c.kinds[paddr] = n.Kind()
		c.sums[paddr] = checksumNode(n)
	}
	if t.root != nil {
		c.root = *t.root
	}
	logger.Debugf("bptree: committed txn %d (%d fresh, %d dirty, %d retired)",
		t.id, len(t.fresh), len(t.dirty), len(t.retired))
	return nil
}

// Abort discards a transaction's overlay without touching the stable map.
func (c *MemCache) Abort(trans Transaction) error {
	t, err := mustMemTxn(trans)
	if err != nil {
		return err
	}
	t.done = true
	logger.Debugf("bptree: aborted txn %d", t.id)
	return nil
}

// checksumNode hashes a node's logical content with xxhash, the teacher's
// own checksum dependency (used by its buffer-pool/page layer for the
// same purpose). The on-disk byte layout is out of scope (spec §6.4), so
// this hashes a stable textual encoding of the node's entries rather than
// a real page image; it still detects the corruption this reference Cache
// can actually inject (a hand-edited stable map in a test).
func checksumNode(n Node) uint64 {
	h := xxhash.New64()
	fmt.Fprintf(h, "%d|%d-%d-%d", n.Kind(), n.Meta().Begin, n.Meta().End, n.Meta().Depth)
	switch v := n.(type) {
	case LeafNode:
		for i := 0; i < v.GetSize(); i++ {
			val := v.ValueAt(i)
			fmt.Fprintf(h, "|%d:%d:%d:%d", v.KeyAt(i), val.Paddr, val.Len, val.Flags)
		}
	case InternalNode:
		for i := 0; i < v.GetSize(); i++ {
			fmt.Fprintf(h, "|%d:%d", v.KeyAt(i), v.ChildAt(i))
		}
	}
	return h.Sum64()
}
