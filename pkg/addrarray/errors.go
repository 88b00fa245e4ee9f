package addrarray

import "errors"

var (
	// ErrClosed is returned by any operation after Close has run.
	ErrClosed = errors.New("addrarray: closed")

	// ErrOutOfRange is returned by Get/Set when the index exceeds the
	// array's current capacity.
	ErrOutOfRange = errors.New("addrarray: index out of range")

	// ErrRedoCorrupt is returned by Open when the checkpoint file fails
	// validation (length, magic or CRC). A malformed or truncated redo log
	// line does not produce it: replay simply stops at that line.
	ErrRedoCorrupt = errors.New("addrarray: redo log corrupt")
)
