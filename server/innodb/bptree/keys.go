package bptree

// LogicalAddr is the fixed-width key type: a 64-bit logical address in the
// client-facing namespace the tree exposes. Every RootBlock's metadata
// range spans [MinKey, MaxKey).
type LogicalAddr uint64

const (
	// MinKey is the sentinel lower bound; the root's meta.Begin is always MinKey.
	MinKey LogicalAddr = 0
	// MaxKey is the sentinel upper bound; the root's meta.End is always MaxKey.
	MaxKey LogicalAddr = ^LogicalAddr(0)
)

// PhysAddr is a physical block address on the owning device, as maintained
// by the block cache. The tree never interprets its bits beyond equality
// and the relativization transform below.
type PhysAddr uint64

// NullPaddr marks the absence of a physical address: the root block's
// location before Mkfs, and a null address embedded in a value (which the
// relativization transform leaves unchanged).
const NullPaddr PhysAddr = 0

// ExtentRef is the fixed-width value type: a physical address plus a
// length (in blocks) and flags, exactly the record shape described in
// spec §1 ("a physical address plus length and flags").
type ExtentRef struct {
	Paddr PhysAddr
	Len   uint32
	Flags uint32
}

// maybeRelativeTo converts an absolute physical address into one relative
// to owner, for values that embed a same-device physical address (spec
// §6.4, §9). It is the inverse of maybeAbsolute; callers must apply the
// two symmetrically or the tree corrupts silently.
func maybeRelativeTo(owner PhysAddr, absolute PhysAddr) PhysAddr {
	if absolute == NullPaddr {
		return NullPaddr
	}
	return PhysAddr(uint64(absolute) - uint64(owner))
}

// maybeAbsolute is the inverse of maybeRelativeTo.
func maybeAbsolute(owner PhysAddr, relative PhysAddr) PhysAddr {
	if relative == NullPaddr {
		return NullPaddr
	}
	return PhysAddr(uint64(owner) + uint64(relative))
}
