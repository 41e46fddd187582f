package bptree

// internalNode is the concrete InternalNode: parallel key/child arrays
// plus the in-memory child-pointer cache (spec §5). The cache is a pure
// performance optimization over the entry array and must never be the
// only place a child association is recorded.
type internalNode struct {
	paddr  PhysAddr
	meta   NodeMeta
	parent Node

	keys      []LogicalAddr
	children  []PhysAddr
	childPtrs []childSlot

	maxEntries int
	minEntries int
}

func newInternalNode(meta NodeMeta, cfg Config) *internalNode {
	cfg = cfg.normalized()
	return &internalNode{meta: meta, maxEntries: cfg.MaxEntries, minEntries: cfg.MinEntries}
}

func (n *internalNode) Kind() ExtentKind       { return ExtentKindInternal }
func (n *internalNode) Paddr() PhysAddr        { return n.paddr }
func (n *internalNode) SetPaddr(p PhysAddr)    { n.paddr = p }
func (n *internalNode) Meta() NodeMeta         { return n.meta }
func (n *internalNode) SetMeta(m NodeMeta)     { n.meta = m }
func (n *internalNode) Parent() Node           { return n.parent }
func (n *internalNode) SetParent(p Node)       { n.parent = p }
func (n *internalNode) GetSize() int           { return len(n.keys) }
func (n *internalNode) AtMaxCapacity() bool    { return len(n.keys) >= n.maxEntries }
func (n *internalNode) BelowMinCapacity() bool { return len(n.keys) < n.minEntries }
func (n *internalNode) AtMinCapacity() bool    { return len(n.keys) == n.minEntries }

func (n *internalNode) Clone() Node {
	return &internalNode{
		paddr:      n.paddr,
		meta:       n.meta,
		parent:     n.parent,
		maxEntries: n.maxEntries,
		minEntries: n.minEntries,
		keys:       append([]LogicalAddr(nil), n.keys...),
		children:   append([]PhysAddr(nil), n.children...),
		childPtrs:  append([]childSlot(nil), n.childPtrs...),
	}
}

func (n *internalNode) LowerBound(k LogicalAddr) int {
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

func (n *internalNode) UpperBound(k LogicalAddr) int {
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

func (n *internalNode) KeyAt(i int) LogicalAddr { return n.keys[i] }
func (n *internalNode) ChildAt(i int) PhysAddr  { return n.children[i] }

func (n *internalNode) InsertAt(i int, k LogicalAddr, child PhysAddr) {
	n.keys = append(n.keys, 0)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = k

	n.children = append(n.children, NullPaddr)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = child
}

func (n *internalNode) RemoveAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i], n.children[i+1:]...)
}

func (n *internalNode) UpdateAt(i int, child PhysAddr) { n.children[i] = child }

func (n *internalNode) ChildPtr(i int) childSlot { return n.childPtrs[i] }
func (n *internalNode) SetChildPtr(i int, slot childSlot) {
	for len(n.childPtrs) <= i {
		n.childPtrs = append(n.childPtrs, childSlot{})
	}
	n.childPtrs[i] = slot
}

func (n *internalNode) InsertChildPtr(i int, slot childSlot) {
	for len(n.childPtrs) < len(n.keys)-1 {
		n.childPtrs = append(n.childPtrs, childSlot{})
	}
	n.childPtrs = append(n.childPtrs, childSlot{})
	copy(n.childPtrs[i+1:], n.childPtrs[i:])
	n.childPtrs[i] = slot
}

func (n *internalNode) RemoveChildPtr(i int) {
	if i >= len(n.childPtrs) {
		return
	}
	n.childPtrs = append(n.childPtrs[:i], n.childPtrs[i+1:]...)
}

func (n *internalNode) MakeSplitChildren(cfg Config) (InternalNode, InternalNode, LogicalAddr) {
	mid := len(n.keys) / 2
	pivot := n.keys[mid]

	left := newInternalNode(NodeMeta{Begin: n.meta.Begin, End: pivot, Depth: n.meta.Depth}, cfg)
	left.keys = append([]LogicalAddr(nil), n.keys[:mid]...)
	left.children = append([]PhysAddr(nil), n.children[:mid]...)
	left.relinkFrom(n, 0, mid)

	right := newInternalNode(NodeMeta{Begin: pivot, End: n.meta.End, Depth: n.meta.Depth}, cfg)
	right.keys = append([]LogicalAddr(nil), n.keys[mid:]...)
	right.children = append([]PhysAddr(nil), n.children[mid:]...)
	right.relinkFrom(n, mid, len(n.keys))

	return left, right, pivot
}

func (n *internalNode) MakeFullMerge(otherI InternalNode) InternalNode {
	other := otherI.(*internalNode)
	lo, hi := n.orderedWith(other)

	merged := newInternalNode(
		NodeMeta{Begin: lo.meta.Begin, End: hi.meta.End, Depth: lo.meta.Depth},
		Config{MaxEntries: lo.maxEntries, MinEntries: lo.minEntries},
	)
	merged.keys = append(append([]LogicalAddr(nil), lo.keys...), hi.keys...)
	merged.children = append(append([]PhysAddr(nil), lo.children...), hi.children...)
	merged.relinkFrom(lo, 0, len(lo.keys))
	merged.relinkFrom(hi, 0, len(hi.keys))
	return merged
}

func (n *internalNode) MakeBalanced(otherI InternalNode, pivotIdx int) (InternalNode, InternalNode, LogicalAddr) {
	other := otherI.(*internalNode)
	lo, hi := n.orderedWith(other)

	keys := append(append([]LogicalAddr(nil), lo.keys...), hi.keys...)
	children := append(append([]PhysAddr(nil), lo.children...), hi.children...)

	idx := pivotIdx
	if idx <= 0 || idx >= len(keys) {
		idx = len(keys) / 2
	}
	pivot := keys[idx]
	cfg := Config{MaxEntries: lo.maxEntries, MinEntries: lo.minEntries}

	l := newInternalNode(NodeMeta{Begin: lo.meta.Begin, End: pivot, Depth: lo.meta.Depth}, cfg)
	l.keys = append([]LogicalAddr(nil), keys[:idx]...)
	l.children = append([]PhysAddr(nil), children[:idx]...)

	r := newInternalNode(NodeMeta{Begin: pivot, End: hi.meta.End, Depth: hi.meta.Depth}, cfg)
	r.keys = append([]LogicalAddr(nil), keys[idx:]...)
	r.children = append([]PhysAddr(nil), children[idx:]...)

	combined := append(append([]*internalNode{}), lo, hi)
	assignRelinkAcross(combined, l, r, idx)

	return l, r, pivot
}

func (n *internalNode) orderedWith(other *internalNode) (lo, hi *internalNode) {
	if n.meta.Begin <= other.meta.Begin {
		return n, other
	}
	return other, n
}

// relinkFrom copies live child-pointer slots for entries [from,to) of src
// into n starting at n's current end, and re-parents the referenced
// children to n. Split/merge results always start with an empty
// childPtrs cache and get it populated here rather than reusing src's
// cache verbatim, since positions shift.
func (n *internalNode) relinkFrom(src *internalNode, from, to int) {
	for i := from; i < to; i++ {
		var slot childSlot
		if i < len(src.childPtrs) {
			slot = src.childPtrs[i]
		}
		n.childPtrs = append(n.childPtrs, slot)
		if slot.kind == childSlotLive {
			slot.node.SetParent(n)
		}
	}
}

// assignRelinkAcross rebuilds l/r's childPtrs caches from the combined
// (lo, hi) source pair after a rebalance and re-parents live children.
func assignRelinkAcross(src []*internalNode, l, r *internalNode, splitIdx int) {
	var flat []childSlot
	for _, s := range src {
		for i := 0; i < len(s.keys); i++ {
			var slot childSlot
			if i < len(s.childPtrs) {
				slot = s.childPtrs[i]
			}
			flat = append(flat, slot)
		}
	}
	for i, slot := range flat {
		var dst *internalNode
		var pos int
		if i < splitIdx {
			dst, pos = l, i
		} else {
			dst, pos = r, i-splitIdx
		}
		for len(dst.childPtrs) <= pos {
			dst.childPtrs = append(dst.childPtrs, childSlot{})
		}
		dst.childPtrs[pos] = slot
		if slot.kind == childSlotLive {
			slot.node.SetParent(dst)
		}
	}
}
