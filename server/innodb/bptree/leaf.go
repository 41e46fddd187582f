package bptree

// leafNode is the concrete LeafNode: a sorted, dense array of
// (LogicalAddr, ExtentRef) pairs covering meta.Begin..meta.End. Values are
// stored absolute; Cursor.GetVal applies the relative transform on the way
// out (spec §6.4, resolved against the original implementation's
// get_val()).
type leafNode struct {
	paddr  PhysAddr
	meta   NodeMeta
	parent Node

	keys []LogicalAddr
	vals []ExtentRef

	maxEntries int
	minEntries int
}

func newLeafNode(meta NodeMeta, cfg Config) *leafNode {
	cfg = cfg.normalized()
	return &leafNode{meta: meta, maxEntries: cfg.MaxEntries, minEntries: cfg.MinEntries}
}

func (n *leafNode) Kind() ExtentKind     { return ExtentKindLeaf }
func (n *leafNode) Paddr() PhysAddr      { return n.paddr }
func (n *leafNode) SetPaddr(p PhysAddr)  { n.paddr = p }
func (n *leafNode) Meta() NodeMeta       { return n.meta }
func (n *leafNode) SetMeta(m NodeMeta)   { n.meta = m }
func (n *leafNode) Parent() Node         { return n.parent }
func (n *leafNode) SetParent(p Node)     { n.parent = p }
func (n *leafNode) GetSize() int         { return len(n.keys) }
func (n *leafNode) AtMaxCapacity() bool  { return len(n.keys) >= n.maxEntries }
func (n *leafNode) BelowMinCapacity() bool { return len(n.keys) < n.minEntries }
func (n *leafNode) AtMinCapacity() bool  { return len(n.keys) == n.minEntries }

func (n *leafNode) Clone() Node {
	return &leafNode{
		paddr:      n.paddr,
		meta:       n.meta,
		parent:     n.parent,
		maxEntries: n.maxEntries,
		minEntries: n.minEntries,
		keys:       append([]LogicalAddr(nil), n.keys...),
		vals:       append([]ExtentRef(nil), n.vals...),
	}
}

// LowerBound returns the position of the first key >= k.
func (n *leafNode) LowerBound(k LogicalAddr) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keys[mid] < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// UpperBound returns the position of the first key > k.
func (n *leafNode) UpperBound(k LogicalAddr) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keys[mid] <= k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (n *leafNode) KeyAt(i int) LogicalAddr { return n.keys[i] }
func (n *leafNode) ValueAt(i int) ExtentRef { return n.vals[i] }

func (n *leafNode) InsertAt(i int, k LogicalAddr, v ExtentRef) {
	n.keys = append(n.keys, 0)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = k

	n.vals = append(n.vals, ExtentRef{})
	copy(n.vals[i+1:], n.vals[i:])
	n.vals[i] = v
}

func (n *leafNode) RemoveAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.vals = append(n.vals[:i], n.vals[i+1:]...)
}

func (n *leafNode) UpdateAt(i int, v ExtentRef) { n.vals[i] = v }

func (n *leafNode) MakeSplitChildren(cfg Config) (LeafNode, LeafNode, LogicalAddr) {
	mid := len(n.keys) / 2
	pivot := n.keys[mid]

	left := newLeafNode(NodeMeta{Begin: n.meta.Begin, End: pivot, Depth: n.meta.Depth}, cfg)
	left.keys = append([]LogicalAddr(nil), n.keys[:mid]...)
	left.vals = append([]ExtentRef(nil), n.vals[:mid]...)

	right := newLeafNode(NodeMeta{Begin: pivot, End: n.meta.End, Depth: n.meta.Depth}, cfg)
	right.keys = append([]LogicalAddr(nil), n.keys[mid:]...)
	right.vals = append([]ExtentRef(nil), n.vals[mid:]...)

	return left, right, pivot
}

func (n *leafNode) MakeFullMerge(otherI LeafNode) LeafNode {
	other := otherI.(*leafNode)
	lo, hi := n.orderedWith(other)

	merged := newLeafNode(
		NodeMeta{Begin: lo.meta.Begin, End: hi.meta.End, Depth: lo.meta.Depth},
		Config{MaxEntries: lo.maxEntries, MinEntries: lo.minEntries},
	)
	merged.keys = append(append([]LogicalAddr(nil), lo.keys...), hi.keys...)
	merged.vals = append(append([]ExtentRef(nil), lo.vals...), hi.vals...)
	return merged
}

func (n *leafNode) MakeBalanced(otherI LeafNode, pivotIdx int) (LeafNode, LeafNode, LogicalAddr) {
	other := otherI.(*leafNode)
	lo, hi := n.orderedWith(other)

	keys := append(append([]LogicalAddr(nil), lo.keys...), hi.keys...)
	vals := append(append([]ExtentRef(nil), lo.vals...), hi.vals...)

	idx := pivotIdx
	if idx <= 0 || idx >= len(keys) {
		idx = len(keys) / 2
	}
	pivot := keys[idx]
	cfg := Config{MaxEntries: lo.maxEntries, MinEntries: lo.minEntries}

	l := newLeafNode(NodeMeta{Begin: lo.meta.Begin, End: pivot, Depth: lo.meta.Depth}, cfg)
	l.keys = append([]LogicalAddr(nil), keys[:idx]...)
	l.vals = append([]ExtentRef(nil), vals[:idx]...)

	r := newLeafNode(NodeMeta{Begin: pivot, End: hi.meta.End, Depth: hi.meta.Depth}, cfg)
	r.keys = append([]LogicalAddr(nil), keys[idx:]...)
	r.vals = append([]ExtentRef(nil), vals[idx:]...)

	return l, r, pivot
}

func (n *leafNode) orderedWith(other *leafNode) (lo, hi *leafNode) {
	if n.meta.Begin <= other.meta.Begin {
		return n, other
	}
	return other, n
}
