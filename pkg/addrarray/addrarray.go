// Package addrarray implements the AddressArray collaborator: a dynamic
// array of 64-bit opaque locators, one per hash bucket, persisted as a
// checkpoint snapshot plus a batched redo log of updates since the last
// checkpoint.
package addrarray

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/kvstash/linhash/internal/fsx"
)

const checkpointMagic = "LHCK0001"

// Options configures an AddressArray.
type Options struct {
	// Dir is the directory owning the checkpoint and redo log files.
	Dir string

	// UnitCapacity is U, the fixed power-of-two sub-array growth unit.
	UnitCapacity uint64

	// EntrySize is the number of redo entries per flushed batch.
	EntrySize int

	// MaxEntries is the number of batches accumulated before an automatic
	// checkpoint.
	MaxEntries int
}

func (o *Options) setDefaults() {
	if o.UnitCapacity == 0 {
		o.UnitCapacity = 8
	}

	if o.EntrySize == 0 {
		o.EntrySize = 10000
	}

	if o.MaxEntries == 0 {
		o.MaxEntries = 5
	}
}

func (o Options) validate() error {
	if o.Dir == "" {
		return fmt.Errorf("addrarray: Dir is required")
	}

	if o.UnitCapacity == 0 || o.UnitCapacity&(o.UnitCapacity-1) != 0 {
		return fmt.Errorf("addrarray: UnitCapacity must be a power of two, got %d", o.UnitCapacity)
	}

	return nil
}

// AddressArray is a dynamic array of 64-bit locators addressable by bucket
// index, growing in units of UnitCapacity and persisted via checkpoint +
// redo log.
type AddressArray struct {
	mu sync.RWMutex

	dir          string
	unitCapacity uint64
	locators     []uint64
	redo         *redoLog
	closed       bool
}

func checkpointPath(dir string) string { return filepath.Join(dir, "addr.checkpoint") }
func redoPath(dir string) string       { return filepath.Join(dir, "addr.redo") }

// Open loads an AddressArray from dir, replaying its checkpoint and any redo
// entries recorded since, or creates an empty one if dir has no prior state.
func Open(opts Options) (*AddressArray, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("addrarray: create dir %q: %w", opts.Dir, err)
	}

	var locators []uint64

	data, err := os.ReadFile(checkpointPath(opts.Dir))
	switch {
	case err == nil:
		locators, err = decodeCheckpoint(data)
		if err != nil {
			return nil, fmt.Errorf("addrarray: load checkpoint: %w", err)
		}
	case os.IsNotExist(err):
		// fresh store, nothing to load
	default:
		return nil, fmt.Errorf("addrarray: read checkpoint: %w", err)
	}

	records, err := replayRedoLog(redoPath(opts.Dir))
	if err != nil {
		return nil, fmt.Errorf("addrarray: replay redo log: %w", err)
	}

	a := &AddressArray{
		dir:          opts.Dir,
		unitCapacity: opts.UnitCapacity,
		locators:     locators,
	}

	for _, rec := range records {
		a.growLocked(rec.Index + 1)
		a.locators[rec.Index] = rec.Locator
	}

	redo, err := openRedoLog(redoPath(opts.Dir), opts.EntrySize, opts.MaxEntries, a.checkpointLocked)
	if err != nil {
		return nil, err
	}

	a.redo = redo

	return a, nil
}

// Capacity returns the number of currently addressable bucket indices.
func (a *AddressArray) Capacity() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return uint64(len(a.locators))
}

// SubArrayLength returns U, the fixed growth unit.
func (a *AddressArray) SubArrayLength() uint64 {
	return a.unitCapacity
}

// Get returns the locator stored at i.
func (a *AddressArray) Get(i uint64) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, ErrClosed
	}

	if i >= uint64(len(a.locators)) {
		return 0, fmt.Errorf("%w: index %d, capacity %d", ErrOutOfRange, i, len(a.locators))
	}

	return a.locators[i], nil
}

// Set durably records the locator for bucket i.
func (a *AddressArray) Set(i uint64, locator uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	if i >= uint64(len(a.locators)) {
		return fmt.Errorf("%w: index %d, capacity %d", ErrOutOfRange, i, len(a.locators))
	}

	a.locators[i] = locator
	if err := a.redo.append(i, locator); err != nil {
		return fmt.Errorf("addrarray: persist locator %d: %w", i, err)
	}

	return nil
}

// ExpandCapacity ensures index n is addressable, growing by whole units of
// UnitCapacity if necessary. The growth itself is persisted through the redo
// log (as an entry for the newly-valid final index) so capacity survives a
// crash even when no bucket content is ever written to the new region.
func (a *AddressArray) ExpandCapacity(n uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	if n < uint64(len(a.locators)) {
		return nil
	}

	newCap := (n/a.unitCapacity + 1) * a.unitCapacity
	a.growLocked(newCap)

	if err := a.redo.append(newCap-1, a.locators[newCap-1]); err != nil {
		return fmt.Errorf("addrarray: persist capacity growth to %d: %w", newCap, err)
	}

	return nil
}

func (a *AddressArray) growLocked(n uint64) {
	if n <= uint64(len(a.locators)) {
		return
	}

	grown := make([]uint64, n)
	copy(grown, a.locators)
	a.locators = grown
}

// Reset zeroes every locator without changing capacity, then forces a
// checkpoint. Used by DataArray.Clear: bucket contents go away, but the
// address space already carved out stays addressable.
func (a *AddressArray) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	for i := range a.locators {
		a.locators[i] = 0
	}

	return a.checkpointLocked()
}

// Sync flushes the redo log without checkpointing.
func (a *AddressArray) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	return a.redo.flush()
}

// Persist forces a checkpoint of the whole array, regardless of the
// entrySize/maxEntries batching schedule.
func (a *AddressArray) Persist() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	return a.checkpointLocked()
}

func (a *AddressArray) checkpointLocked() error {
	data := encodeCheckpoint(a.locators)
	if err := fsx.WriteFile(checkpointPath(a.dir), data); err != nil {
		return fmt.Errorf("addrarray: write checkpoint: %w", err)
	}

	return a.redo.truncate()
}

// Close checkpoints and closes the redo log. Safe to call more than once.
func (a *AddressArray) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	a.closed = true

	checkpointErr := a.checkpointLocked()
	closeErr := a.redo.close()

	return errors.Join(checkpointErr, closeErr)
}

func encodeCheckpoint(locators []uint64) []byte {
	buf := make([]byte, 12+8*len(locators)+4)
	copy(buf, checkpointMagic)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(locators)))

	off := 12
	for _, l := range locators {
		binary.BigEndian.PutUint64(buf[off:], l)
		off += 8
	}

	crc := crc32.Checksum(buf[:off], redoCRCTable)
	binary.BigEndian.PutUint32(buf[off:], crc)

	return buf
}

func decodeCheckpoint(data []byte) ([]uint64, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: checkpoint too short (%d bytes)", ErrRedoCorrupt, len(data))
	}

	if string(data[:8]) != checkpointMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrRedoCorrupt)
	}

	count := binary.BigEndian.Uint32(data[8:12])
	bodyLen := 12 + 8*int(count)

	if len(data) != bodyLen+4 {
		return nil, fmt.Errorf("%w: length mismatch for %d entries", ErrRedoCorrupt, count)
	}

	wantCRC := crc32.Checksum(data[:bodyLen], redoCRCTable)
	gotCRC := binary.BigEndian.Uint32(data[bodyLen:])

	if wantCRC != gotCRC {
		return nil, fmt.Errorf("%w: crc mismatch", ErrRedoCorrupt)
	}

	locators := make([]uint64, count)
	off := 12

	for i := range locators {
		locators[i] = binary.BigEndian.Uint64(data[off:])
		off += 8
	}

	return locators, nil
}
