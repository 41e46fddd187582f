package bptree

// ExtentPresence is the tri-state result of Transaction.GetExtent: a
// transaction-local view can find the extent, know it does not exist, or
// have no opinion (defer to the Cache).
type ExtentPresence int

const (
	ExtentUnknown ExtentPresence = iota
	ExtentPresent
	ExtentAbsent
)

// TreeStats is the per-tree, per-transaction bookkeeping described in
// spec §6.2: depth and the deltas the mutation engine accumulates so a
// caller can decide whether the tree grew/shrank without re-walking it.
type TreeStats struct {
	Depth           uint8
	ExtentsNumDelta int64
	NumInserts      uint64
	NumUpdates      uint64
	NumErases       uint64
}

// Transaction is the external collaborator described in spec §6.2. The
// tree core never opens or commits one; it only reads IsWeak, records
// stats, and asks whether an extent is locally known.
type Transaction interface {
	IsWeak() bool
	Stats() *TreeStats
	GetExtent(paddr PhysAddr) (Node, ExtentPresence)
}

// MemTransaction is the reference Transaction implementation backing
// MemCache, grounded on the teacher's DefaultBPlusTreeManager's dirty-node
// tracking: a private overlay of allocated/duplicated nodes plus a set of
// retired addresses, invisible to any other transaction until Commit.
type MemTransaction struct {
	id      uint64
	weak    bool
	cache   *MemCache
	dirty   map[PhysAddr]Node
	fresh   map[PhysAddr]Node
	retired map[PhysAddr]bool
	root    *RootBlockRef
	stats   TreeStats
	done    bool
}

func (t *MemTransaction) IsWeak() bool     { return t.weak }
func (t *MemTransaction) Stats() *TreeStats { return &t.stats }

func (t *MemTransaction) GetExtent(paddr PhysAddr) (Node, ExtentPresence) {
	if t.retired[paddr] {
		return nil, ExtentAbsent
	}
	if n, ok := t.dirty[paddr]; ok {
		return n, ExtentPresent
	}
	if n, ok := t.fresh[paddr]; ok {
		return n, ExtentPresent
	}
	return nil, ExtentUnknown
}
