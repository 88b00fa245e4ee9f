package linhash

// Entry is a decoded (key, value) pair yielded by an EntrySeq.
type Entry struct {
	Key   []byte
	Value []byte
}

// KeySeq is a lazy, pull-free sequence of keys, in the range-over-func
// shape. This module's go directive (1.21) does not allow ranging over it,
// so callers invoke it with a yield callback:
// seq(func(k []byte) bool { ...; return true }). Iteration stops early
// when yield returns false.
type KeySeq func(yield func([]byte) bool)

// EntrySeq is the (key, value) counterpart to KeySeq.
type EntrySeq func(yield func(Entry) bool)

// keyIterator scans every bucket in [0, capacity), skips empty ones, and
// yields each decoded key. Weakly consistent:
// a concurrent split can cause an entry to be seen zero times (already
// passed) or twice (if it moves ahead of the cursor into a bucket not yet
// visited), but never more.
func (c *controller) keyIterator() KeySeq {
	return func(yield func([]byte) bool) {
		capacity := c.capacity()

		for i := uint64(0); i < capacity; i++ {
			rec, err := c.data.Get(i)
			if err != nil || rec == nil {
				continue
			}

			entries, err := decodeBucket(rec)
			if err != nil {
				continue
			}

			for _, e := range entries {
				key := make([]byte, len(e.Key))
				copy(key, e.Key)

				if !yield(key) {
					return
				}
			}
		}
	}
}

// entryIterator is keyIterator's (key, value) counterpart.
func (c *controller) entryIterator() EntrySeq {
	return func(yield func(Entry) bool) {
		capacity := c.capacity()

		for i := uint64(0); i < capacity; i++ {
			rec, err := c.data.Get(i)
			if err != nil || rec == nil {
				continue
			}

			entries, err := decodeBucket(rec)
			if err != nil {
				continue
			}

			for _, e := range entries {
				entry := Entry{
					Key:   append([]byte(nil), e.Key...),
					Value: append([]byte(nil), e.Value...),
				}

				if !yield(entry) {
					return
				}
			}
		}
	}
}
