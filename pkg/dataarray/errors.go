package dataarray

import "errors"

var (
	// ErrClosed is returned by any operation after Close has run.
	ErrClosed = errors.New("dataarray: closed")

	// ErrCorrupt is returned when a record's framing or checksum fails
	// validation while reading it back from a segment.
	ErrCorrupt = errors.New("dataarray: corrupt record")

	// ErrOutOfRange is not returned by this package's operations: an index
	// beyond the backing AddressArray's capacity surfaces as a wrapped
	// addrarray.ErrOutOfRange.
	ErrOutOfRange = errors.New("dataarray: index out of range")
)
