package linhash

import "errors"

var (
	// ErrClosed is returned by any operation on a Store after Close has run.
	ErrClosed = errors.New("linhash: closed")

	// ErrInvalidKey is returned for an empty key, which no operation accepts.
	ErrInvalidKey = errors.New("linhash: key must be non-empty")

	// ErrCodec classifies a malformed bucket record encountered while
	// decoding — a length mismatch or truncation, never a missing key.
	// On put, delete and split the controller recovers from it by resetting
	// the bucket rather than surfacing it to the caller; Get returns it
	// wrapped, so callers can detect it with errors.Is.
	ErrCodec = errors.New("linhash: malformed bucket record")
)
