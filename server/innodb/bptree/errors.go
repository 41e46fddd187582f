package bptree

import "errors"

// Error taxonomy (spec §7). ErrKeyNotFound and ErrKeyExists name the
// recovered cases; the tree reports those without an error, as an end
// cursor from a lookup and as Insert's false flag. Fatal errors
// (ErrChecksumMismatch, ErrTreeCorrupted, ErrDepthExceeded, ErrIO) mean the
// transaction cannot proceed; callers are expected to abort it. Call sites
// that need to attach context wrap these with github.com/pkg/errors so
// errors.Is against the sentinel still works after wrapping.
var (
	ErrKeyNotFound      = errors.New("bptree: key not found")
	ErrKeyExists        = errors.New("bptree: key already exists")
	ErrTreeCorrupted    = errors.New("bptree: tree invariant violated")
	ErrDepthExceeded    = errors.New("bptree: maximum tree depth exceeded")
	ErrChecksumMismatch = errors.New("bptree: extent checksum mismatch")
	ErrIO               = errors.New("bptree: cache i/o failure")
	ErrCursorAtBegin    = errors.New("bptree: cursor already at begin")
	ErrCursorAtEnd      = errors.New("bptree: cursor already at end")
)
