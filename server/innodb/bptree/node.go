package bptree

// MaxDepth bounds the tree (spec §5): a root growth that would exceed it
// is a fatal, recoverable-by-abort condition, not a silent no-op.
const MaxDepth = 8

// ExtentKind identifies which node contract a physical extent was
// allocated to hold, so the Cache knows how to construct a blank instance
// on a fault.
type ExtentKind int

const (
	ExtentKindLeaf ExtentKind = iota
	ExtentKindInternal
)

func (k ExtentKind) String() string {
	if k == ExtentKindLeaf {
		return "leaf"
	}
	return "internal"
}

// childSlotKind distinguishes an unresolved child-pointer slot (consult
// the Cache on next descent) from one already resolved to a live in-memory
// Node. MemCache never partially evicts, so the "known absent" state a
// disk-backed cache would need collapses into childSlotNull here; see
// DESIGN.md.
type childSlotKind uint8

const (
	childSlotNull childSlotKind = iota // unknown: consult the cache on next descent
	childSlotLive                      // resolved to an in-memory Node
)

type childSlot struct {
	kind childSlotKind
	node Node
}

// Node is the contract shared by leaf and internal nodes (C1): identity,
// range/depth metadata, capacity, and the parent back-reference used to
// materialize cursor ancestors bottom-up.
type Node interface {
	Kind() ExtentKind
	Paddr() PhysAddr
	SetPaddr(PhysAddr)
	Meta() NodeMeta
	SetMeta(NodeMeta)
	Parent() Node
	SetParent(Node)

	GetSize() int
	AtMaxCapacity() bool
	BelowMinCapacity() bool
	AtMinCapacity() bool

	// Clone returns a deep, independent copy sharing no backing arrays
	// with the receiver. Used by Cache.DuplicateForWrite; callers must
	// not mutate a Node that was not obtained this way in the current
	// transaction.
	Clone() Node
}

// LeafNode holds the tree's actual (LogicalAddr, ExtentRef) mappings.
type LeafNode interface {
	Node

	LowerBound(k LogicalAddr) int
	UpperBound(k LogicalAddr) int
	KeyAt(i int) LogicalAddr
	ValueAt(i int) ExtentRef

	InsertAt(i int, k LogicalAddr, v ExtentRef)
	RemoveAt(i int)
	UpdateAt(i int, v ExtentRef)

	MakeSplitChildren(cfg Config) (left, right LeafNode, pivot LogicalAddr)
	MakeFullMerge(other LeafNode) LeafNode
	MakeBalanced(other LeafNode, pivotIdx int) (l, r LeafNode, pivot LogicalAddr)
}

// InternalNode holds (LogicalAddr, child PhysAddr) routing entries plus
// the in-memory child-pointer cache described in spec §5.
type InternalNode interface {
	Node

	LowerBound(k LogicalAddr) int
	UpperBound(k LogicalAddr) int
	KeyAt(i int) LogicalAddr
	ChildAt(i int) PhysAddr

	InsertAt(i int, k LogicalAddr, child PhysAddr)
	RemoveAt(i int)
	UpdateAt(i int, child PhysAddr)

	MakeSplitChildren(cfg Config) (left, right InternalNode, pivot LogicalAddr)
	MakeFullMerge(other InternalNode) InternalNode
	MakeBalanced(other InternalNode, pivotIdx int) (l, r InternalNode, pivot LogicalAddr)

	ChildPtr(i int) childSlot
	SetChildPtr(i int, slot childSlot)
	InsertChildPtr(i int, slot childSlot)
	RemoveChildPtr(i int)
}
