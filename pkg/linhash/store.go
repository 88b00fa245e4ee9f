package linhash

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/kvstash/linhash/pkg/addrarray"
	"github.com/kvstash/linhash/pkg/dataarray"
)

// Store is the public handle for a linear-hashing key/value store: an
// AddressArray, a DataArray, and the controller gluing them together.
// Get is lock-free; Put/Delete/Clear/Rehash serialize through the
// controller's writer lock.
type Store struct {
	addr *addrarray.AddressArray
	data *dataarray.DataArray
	ctrl *controller

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates a store rooted at opts.HomeDir, bootstrapping a
// fresh AddressArray/DataArray pair if none exists yet.
func Open(opts Options) (*Store, error) {
	opts.setDefaults()

	if err := opts.validate(); err != nil {
		return nil, err
	}

	addr, err := addrarray.Open(addrarray.Options{
		Dir:          filepath.Join(opts.HomeDir, "addr"),
		UnitCapacity: opts.UnitCapacity,
		EntrySize:    opts.EntrySize,
		MaxEntries:   opts.MaxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("linhash: open address array: %w", err)
	}

	data, err := dataarray.Open(dataarray.Options{
		Dir:                  filepath.Join(opts.HomeDir, "data"),
		AddressArray:         addr,
		SegmentFileSizeMB:    opts.SegmentFileSizeMB,
		SegmentCompactFactor: opts.SegmentCompactFactor,
	})
	if err != nil {
		_ = addr.Close()
		return nil, fmt.Errorf("linhash: open data array: %w", err)
	}

	ctrl := newController(addr, data, opts)

	ctrl.mu.Lock()
	err = ctrl.bootstrap(opts.InitLevel)
	ctrl.mu.Unlock()

	if err != nil {
		_ = data.Close()
		_ = addr.Close()

		return nil, fmt.Errorf("linhash: bootstrap: %w", err)
	}

	return &Store{addr: addr, data: data, ctrl: ctrl}, nil
}

// Get returns the value stored under key, or (nil, false) if absent.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}

	if len(key) == 0 {
		return nil, false, ErrInvalidKey
	}

	return s.ctrl.get(key)
}

// Put stores value under key, replacing any existing value. A nil value
// means absent and delegates to Delete; pass a non-nil empty slice to store
// an actual empty value.
func (s *Store) Put(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if len(key) == 0 {
		return ErrInvalidKey
	}

	_, err := s.ctrl.put(key, value)

	return err
}

// Delete removes key, reporting whether it was present.
func (s *Store) Delete(key []byte) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	if len(key) == 0 {
		return false, ErrInvalidKey
	}

	return s.ctrl.delete(key)
}

// Clear empties the store's contents. (level, split) are left untouched, so
// capacity never shrinks.
func (s *Store) Clear() error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.ctrl.clear()
}

// Rehash drains any in-progress split pass; if no pass is in progress but
// the load factor is over threshold, it forces one full pass of splits
// instead.
func (s *Store) Rehash() error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.ctrl.rehash()
}

// Sync flushes pending writes without a full checkpoint.
func (s *Store) Sync() error {
	if s.closed.Load() {
		return ErrClosed
	}

	return errors.Join(s.data.Sync(), s.addr.Sync())
}

// Persist forces a full checkpoint of both collaborators.
func (s *Store) Persist() error {
	if s.closed.Load() {
		return ErrClosed
	}

	return errors.Join(s.data.Persist(), s.addr.Persist())
}

// Status returns a human-readable snapshot of (level, split, capacity,
// loadCount, loadFactor), intended for logging and diagnostics, not parsing.
func (s *Store) Status() string {
	return s.ctrl.status()
}

// KeyIterator returns a weakly-consistent, lazy sequence over every key
// currently in the store. No ordering, range, or prefix scan is offered:
// iteration order follows bucket index, an implementation detail.
func (s *Store) KeyIterator() KeySeq {
	return s.ctrl.keyIterator()
}

// Iterator is KeyIterator's (key, value) counterpart.
func (s *Store) Iterator() EntrySeq {
	return s.ctrl.entryIterator()
}

// Close closes both collaborators unconditionally; if either fails the
// errors are combined and returned together. Close is idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		dataErr := s.data.Close()
		addrErr := s.addr.Close()

		s.closeErr = errors.Join(dataErr, addrErr)
	})

	return s.closeErr
}
