// Package dataarray implements the DataArray collaborator: a segmented,
// append-only log mapping bucket index to an opaque byte record, resolved
// through an AddressArray of locators.
package dataarray

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kvstash/linhash/pkg/addrarray"
)

// Options configures a DataArray.
type Options struct {
	// Dir is the home directory; segments live under Dir/segs.
	Dir string

	// AddressArray resolves bucket index to locator. Owned jointly: the
	// controller also calls ExpandCapacity on it directly during a split.
	AddressArray *addrarray.AddressArray

	SegmentFileSizeMB    int
	SegmentCompactFactor float64
}

func (o *Options) setDefaults() {
	if o.SegmentFileSizeMB == 0 {
		o.SegmentFileSizeMB = 256
	}

	if o.SegmentCompactFactor == 0 {
		o.SegmentCompactFactor = 0.5
	}
}

// DataArray maps bucket index → packed byte record via a segmented log.
type DataArray struct {
	mu sync.RWMutex

	addr *addrarray.AddressArray
	segs *segmentManager
	scn  atomic.Uint64

	closed bool
}

// Open loads (or creates) the segment set under opts.Dir/segs, seeding the
// SCN counter from the highest sequence number found among currently live
// records.
func Open(opts Options) (*DataArray, error) {
	opts.setDefaults()

	if opts.Dir == "" {
		return nil, fmt.Errorf("dataarray: Dir is required")
	}

	if opts.AddressArray == nil {
		return nil, fmt.Errorf("dataarray: AddressArray is required")
	}

	segs, err := openSegmentManager(opts.Dir, opts.SegmentFileSizeMB, opts.SegmentCompactFactor)
	if err != nil {
		return nil, err
	}

	d := &DataArray{addr: opts.AddressArray, segs: segs}

	maxSCN, err := d.scanMaxSCN()
	if err != nil {
		return nil, fmt.Errorf("dataarray: scan scn watermark: %w", err)
	}

	d.scn.Store(maxSCN)

	return d, nil
}

func (d *DataArray) scanMaxSCN() (uint64, error) {
	capacity := d.addr.Capacity()

	var max uint64

	for i := uint64(0); i < capacity; i++ {
		locator, err := d.addr.Get(i)
		if err != nil {
			return 0, err
		}

		if locator == 0 {
			continue
		}

		_, scn, err := d.segs.get(locator)
		if err != nil {
			return 0, err
		}

		if scn > max {
			max = scn
		}
	}

	return max, nil
}

// NextSCN returns the next monotonically increasing sequence number. Unlike
// a wall-clock SCN, this counter survives a restart correctly because it's
// reseeded from on-disk records, not the clock.
func (d *DataArray) NextSCN() uint64 {
	return d.scn.Add(1)
}

// Length returns the number of currently addressable bucket indices.
func (d *DataArray) Length() uint64 {
	return d.addr.Capacity()
}

// HasData reports whether bucket i currently holds a record.
func (d *DataArray) HasData(i uint64) (bool, error) {
	locator, err := d.addr.Get(i)
	if err != nil {
		return false, err
	}

	return locator != 0, nil
}

// Get returns the packed record at bucket i, or nil if the bucket is empty.
// The returned slice is an owned copy, safe for in-place codec mutation.
func (d *DataArray) Get(i uint64) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	locator, err := d.addr.Get(i)
	if err != nil {
		return nil, fmt.Errorf("dataarray: resolve bucket %d: %w", i, err)
	}

	if locator == 0 {
		return nil, nil
	}

	payload, _, err := d.segs.get(locator)
	if err != nil {
		return nil, fmt.Errorf("dataarray: read bucket %d: %w", i, err)
	}

	return payload, nil
}

// Set stores payload as bucket i's full record, tagged with scn. payload ==
// nil clears the bucket.
func (d *DataArray) Set(i uint64, payload []byte, scn uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	return d.setLocked(i, payload, scn)
}

// SetRange stores payload[off:off+length] as bucket i's new full record,
// tagged with scn. Used after an in-place shrink, when the caller already
// holds the full prior record and only a prefix of it survives.
func (d *DataArray) SetRange(i uint64, payload []byte, off, length int, scn uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	return d.setLocked(i, payload[off:off+length], scn)
}

func (d *DataArray) setLocked(i uint64, payload []byte, scn uint64) error {
	old, err := d.addr.Get(i)
	if err != nil {
		return fmt.Errorf("dataarray: resolve bucket %d: %w", i, err)
	}

	var newLocator uint64
	if payload != nil {
		newLocator, err = d.segs.append(payload, scn)
		if err != nil {
			return fmt.Errorf("dataarray: write bucket %d: %w", i, err)
		}
	}

	if err := d.addr.Set(i, newLocator); err != nil {
		return fmt.Errorf("dataarray: update locator for bucket %d: %w", i, err)
	}

	if old != 0 {
		if err := d.segs.release(old); err != nil {
			return fmt.Errorf("dataarray: release stale record for bucket %d: %w", i, err)
		}
	}

	return nil
}

// Sync flushes segment writes and the address array's redo log.
func (d *DataArray) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	return errors.Join(d.segs.sync(), d.addr.Sync())
}

// Persist checkpoints the address array without rotating segments.
func (d *DataArray) Persist() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	return errors.Join(d.segs.sync(), d.addr.Persist())
}

// Clear removes all segment files and zeroes every locator, without
// changing the address array's capacity.
func (d *DataArray) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	if err := d.segs.clear(); err != nil {
		return fmt.Errorf("dataarray: clear segments: %w", err)
	}

	if err := d.addr.Reset(); err != nil {
		return fmt.Errorf("dataarray: reset locators: %w", err)
	}

	return nil
}

// Compact rewrites records out of any segment whose live-byte ratio has
// fallen below SegmentCompactFactor into the active tail segment, then
// removes the reclaimed files. See pkg/dataarray/compact.go.
func (d *DataArray) Compact() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	return d.compactLocked()
}

// Close flushes and releases the segment set. Safe to call more than once.
func (d *DataArray) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	return d.segs.close()
}
