package linhash

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kvstash/linhash/internal/logging"
	"github.com/kvstash/linhash/pkg/addrarray"
	"github.com/kvstash/linhash/pkg/dataarray"
)

// readRetryGrace is how many index-mismatch retries a get() tolerates
// before it starts backing off instead of spinning. In practice the loop
// converges within 1-2 iterations; a few free retries cover that common
// case without ever sleeping.
const readRetryGrace = 2

// controller owns (level, split, levelCapacity, loadCount): index
// computation, the writer-serialized put/delete path, single-bucket splits,
// bootstrap, rehash and clear.
type controller struct {
	// mu serializes all writers (put, delete, clear, rehash, split). Readers
	// never take it.
	mu sync.Mutex

	addr *addrarray.AddressArray
	data *dataarray.DataArray
	hash HashFunction
	log  logging.Logger

	unitCapacity  uint64
	loadThreshold float64

	// level, split and levelCapacity are published with release semantics
	// (atomic stores) only after a split has redistributed bucket content,
	// and read with acquire semantics (atomic loads) by both readers and
	// writers, so a reader that observes the advanced counter also observes
	// the moved records.
	level         atomic.Uint64
	split         atomic.Uint64
	levelCapacity atomic.Uint64
	loadCount     atomic.Uint64
}

func newController(addr *addrarray.AddressArray, data *dataarray.DataArray, opts Options) *controller {
	c := &controller{
		addr:          addr,
		data:          data,
		hash:          opts.HashFunction,
		log:           opts.Logger,
		unitCapacity:  opts.UnitCapacity,
		loadThreshold: opts.HashLoadThreshold,
	}
	c.levelCapacity.Store(opts.UnitCapacity)

	return c
}

// index computes the bucket for hashed key h against the current
// (levelCapacity, split): buckets below the split point have already been
// redistributed to the doubled width, so they hash at that width instead.
// uint64 % is never negative, so no sign fixup is needed.
func (c *controller) index(h uint64) uint64 {
	lc := c.levelCapacity.Load()
	s := c.split.Load()

	i := h % lc
	if i < s {
		i = h % (lc * 2)
	}

	return i
}

func (c *controller) capacity() uint64 {
	return c.levelCapacity.Load() + c.split.Load()
}

// get is the lock-free read path: re-check the index after reading, and
// retry if a concurrent split moved the bucket out from under us.
func (c *controller) get(key []byte) ([]byte, bool, error) {
	h := c.hash(key)
	i := c.index(h)

	var (
		retries int
		boff    backoff.BackOff
	)

	for {
		record, err := c.data.Get(i)
		if err != nil {
			return nil, false, fmt.Errorf("linhash: get: %w", err)
		}

		if i2 := c.index(h); i2 != i {
			i = i2
			retries++

			if retries > readRetryGrace {
				if boff == nil {
					eb := backoff.NewExponentialBackOff()
					eb.InitialInterval = 50 * time.Microsecond
					eb.MaxInterval = 5 * time.Millisecond
					eb.MaxElapsedTime = 0
					boff = eb
				}

				time.Sleep(boff.NextBackOff())
			}

			continue
		}

		if record == nil {
			return nil, false, nil
		}

		value, ok, err := extractByKey(key, record)
		if err != nil {
			return nil, false, fmt.Errorf("linhash: get: %w", err)
		}

		return value, ok, nil
	}
}

// put stores value under key. A nil value delegates to delete.
func (c *controller) put(key, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == nil {
		_, err := c.deleteLocked(key)
		return true, err
	}

	if err := c.maintainLoad(); err != nil {
		return false, err
	}

	h := c.hash(key)
	i := c.index(h)

	rec, err := c.data.Get(i)
	if err != nil {
		return false, fmt.Errorf("linhash: put: %w", err)
	}

	if rec == nil {
		if err := c.data.Set(i, assembleNew(key, value), c.data.NextSCN()); err != nil {
			return false, fmt.Errorf("linhash: put: %w", err)
		}

		c.loadCount.Add(1)

		return true, nil
	}

	merged, err := assembleMerge(key, value, rec)
	if err != nil {
		c.log.Warningf("linhash: bucket %d malformed on put (%d bytes discarded), resetting: %v", i, len(rec), err)
		merged = assembleNew(key, value)
	}

	if err := c.data.Set(i, merged, c.data.NextSCN()); err != nil {
		return false, fmt.Errorf("linhash: put: %w", err)
	}

	return true, nil
}

func (c *controller) delete(key []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.deleteLocked(key)
}

func (c *controller) deleteLocked(key []byte) (bool, error) {
	if err := c.maintainLoad(); err != nil {
		return false, err
	}

	h := c.hash(key)
	i := c.index(h)

	rec, err := c.data.Get(i)
	if err != nil {
		return false, fmt.Errorf("linhash: delete: %w", err)
	}

	if rec == nil {
		return false, nil
	}

	newLen, err := removeByKey(key, rec)
	if err != nil {
		c.log.Warningf("linhash: bucket %d malformed on delete (%d bytes discarded), resetting: %v", i, len(rec), err)

		if err := c.data.Set(i, nil, c.data.NextSCN()); err != nil {
			return false, fmt.Errorf("linhash: delete: %w", err)
		}

		c.loadCount.Add(^uint64(0))

		return false, nil
	}

	switch {
	case newLen == 0:
		if err := c.data.Set(i, nil, c.data.NextSCN()); err != nil {
			return false, fmt.Errorf("linhash: delete: %w", err)
		}

		c.loadCount.Add(^uint64(0))

		return true, nil
	case newLen < len(rec):
		if err := c.data.SetRange(i, rec, 0, newLen, c.data.NextSCN()); err != nil {
			return false, fmt.Errorf("linhash: delete: %w", err)
		}

		return true, nil
	default:
		return false, nil
	}
}

func (c *controller) levelThreshold() uint64 {
	return uint64(float64(c.levelCapacity.Load()) * c.loadThreshold)
}

func (c *controller) maintainLoad() error {
	if c.split.Load() > 0 || c.loadCount.Load() > c.levelThreshold() {
		return c.performOneSplit()
	}

	return nil
}

// performOneSplit redistributes bucket `split` between itself and its
// sibling at the doubled width, then advances the split cursor, wrapping to
// the next level when the pass completes. Callers hold c.mu.
func (c *controller) performOneSplit() error {
	s := c.split.Load()
	lc := c.levelCapacity.Load()
	sibling := s + lc
	newLC := lc * 2

	if err := c.addr.ExpandCapacity(sibling); err != nil {
		return fmt.Errorf("linhash: split: expand capacity: %w", err)
	}

	rec, err := c.data.Get(s)
	if err != nil {
		return fmt.Errorf("linhash: split: read bucket %d: %w", s, err)
	}

	if rec != nil {
		if err := c.redistributeLocked(s, sibling, newLC, rec); err != nil {
			return err
		}
	}

	c.split.Store(s + 1)

	if s+1 == lc {
		c.split.Store(0)
		c.level.Add(1)
		c.levelCapacity.Store(newLC)
	}

	return nil
}

// redistributeLocked moves every entry in bucket s whose new index (under
// the doubled width newLC) is the sibling bucket, leaving the rest in s.
//
// entries is decoded once from rec and partitioned into "stayed" and
// "moved"; rec itself is never mutated in place. That matters: an earlier
// version rewrote bucket s incrementally via removeByKey on rec's own
// backing array while still holding pre-decoded entry slices into that same
// array, so inserting a moved entry into the sibling after removing it from
// s read back bytes the removal had already shifted out from under it.
// Building a fresh record for s from the "stayed" entries instead leaves
// every decoded slice valid for the whole function.
func (c *controller) redistributeLocked(s, sibling, newLC uint64, rec []byte) error {
	entries, err := decodeBucket(rec)
	if err != nil {
		c.log.Warningf("linhash: bucket %d malformed during split (%d bytes discarded): %v", s, len(rec), err)

		if err := c.data.Set(s, nil, c.data.NextSCN()); err != nil {
			return fmt.Errorf("linhash: split: reset malformed bucket %d: %w", s, err)
		}

		c.loadCount.Add(^uint64(0))

		return nil
	}

	stayed := make([]bucketEntry, 0, len(entries))

	var moved []bucketEntry

	for _, e := range entries {
		if c.hash(e.Key)%newLC == s {
			stayed = append(stayed, e)
			continue
		}

		moved = append(moved, e)
	}

	if len(moved) == 0 {
		return nil
	}

	var newRec []byte
	if len(stayed) > 0 {
		newRec = encodeBucket(stayed)
	}

	if err := c.data.Set(s, newRec, c.data.NextSCN()); err != nil {
		return fmt.Errorf("linhash: split: write remainder of bucket %d: %w", s, err)
	}

	if newRec == nil {
		c.loadCount.Add(^uint64(0))
	}

	for _, e := range moved {
		if err := c.putIntoBucketLocked(sibling, e.Key, e.Value); err != nil {
			return err
		}
	}

	return nil
}

func (c *controller) putIntoBucketLocked(idx uint64, key, value []byte) error {
	existing, err := c.data.Get(idx)
	if err != nil {
		return fmt.Errorf("linhash: split: read sibling bucket %d: %w", idx, err)
	}

	var newRec []byte

	if existing == nil {
		newRec = assembleNew(key, value)
		c.loadCount.Add(1)
	} else {
		newRec, err = assembleMerge(key, value, existing)
		if err != nil {
			c.log.Warningf("linhash: sibling bucket %d malformed during split, resetting: %v", idx, err)
			newRec = assembleNew(key, value)
		}
	}

	if err := c.data.Set(idx, newRec, c.data.NextSCN()); err != nil {
		return fmt.Errorf("linhash: split: write sibling bucket %d: %w", idx, err)
	}

	return nil
}

// bootstrap derives (level, split) from the address array's persisted
// capacity, re-splits the trailing unit (which may have been mid-split at
// the last shutdown), and recounts non-empty buckets. Callers hold c.mu
// (only ever called from Open, before the Store is published).
func (c *controller) bootstrap(initLevel int) error {
	u := c.unitCapacity

	if initLevel > 0 {
		preSize := u * pow2(uint64(initLevel))
		if err := c.addr.ExpandCapacity(preSize - 1); err != nil {
			return fmt.Errorf("linhash: bootstrap: pre-expand: %w", err)
		}
	}

	n := c.data.Length()

	unitCount := n / u
	if unitCount == 0 {
		unitCount = 1
	}

	if unitCount == 1 {
		c.level.Store(0)
		c.split.Store(0)
		c.levelCapacity.Store(u)

		if err := c.addr.ExpandCapacity(u - 1); err != nil {
			return fmt.Errorf("linhash: bootstrap: ensure initial capacity: %w", err)
		}
	} else {
		l := uint64(bits.Len64(unitCount-1) - 1)
		c.level.Store(l)
		c.split.Store((unitCount - pow2(l) - 1) * u)
		c.levelCapacity.Store(u * pow2(l))

		for i := uint64(0); i < u; i++ {
			if err := c.performOneSplit(); err != nil {
				return fmt.Errorf("linhash: bootstrap: re-split trailing unit: %w", err)
			}
		}
	}

	count, err := c.scanLoadCount()
	if err != nil {
		return fmt.Errorf("linhash: bootstrap: scan load count: %w", err)
	}

	c.loadCount.Store(count)

	return nil
}

func (c *controller) scanLoadCount() (uint64, error) {
	capacity := c.capacity()

	var count uint64

	for i := uint64(0); i < capacity; i++ {
		has, err := c.data.HasData(i)
		if err != nil {
			return 0, err
		}

		if has {
			count++
		}
	}

	return count, nil
}

// rehash drains any in-progress split pass; if none is in progress but the
// load factor is over threshold, it drives one complete level of splits.
func (c *controller) rehash() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.split.Load(); s > 0 {
		for c.split.Load() > 0 {
			if err := c.performOneSplit(); err != nil {
				return err
			}
		}

		return c.data.Sync()
	}

	if c.loadFactor() > c.loadThreshold {
		lc := c.levelCapacity.Load()
		for i := uint64(0); i < lc; i++ {
			if err := c.performOneSplit(); err != nil {
				return err
			}
		}

		return c.data.Sync()
	}

	return nil
}

// clear drops every record and zeroes loadCount. (level, split) are left
// untouched: the address space already carved out stays addressable.
func (c *controller) clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.Clear(); err != nil {
		return fmt.Errorf("linhash: clear: %w", err)
	}

	c.loadCount.Store(0)

	return nil
}

func (c *controller) loadFactor() float64 {
	capacity := c.capacity()
	if capacity == 0 {
		return 0
	}

	return float64(c.loadCount.Load()) / float64(capacity)
}

func (c *controller) status() string {
	level := c.level.Load()
	split := c.split.Load()
	capacity := c.capacity()
	loadCount := c.loadCount.Load()

	var loadFactor float64
	if capacity > 0 {
		loadFactor = float64(loadCount) / float64(capacity)
	}

	return fmt.Sprintf("level=%d split=%d capacity=%d loadCount=%d loadFactor=%.4f", level, split, capacity, loadCount, loadFactor)
}

func pow2(n uint64) uint64 {
	return 1 << n
}
