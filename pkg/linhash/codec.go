package linhash

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// bucketEntry is one decoded (key, value) pair from a packed bucket record.
type bucketEntry struct {
	Key   []byte
	Value []byte
}

// decodeBucket parses a packed record (count, then count times
// keyLen/key/valueLen/value, all big-endian) into its entries. A length
// mismatch or truncation is an ErrCodec, not a panic: the controller decides
// how to recover.
func decodeBucket(rec []byte) ([]bucketEntry, error) {
	if len(rec) < 4 {
		return nil, fmt.Errorf("%w: record too short (%d bytes)", ErrCodec, len(rec))
	}

	count := int32(binary.BigEndian.Uint32(rec))
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrCodec, count)
	}

	entries := make([]bucketEntry, 0, count)
	off := 4

	for i := int32(0); i < count; i++ {
		if off+4 > len(rec) {
			return nil, fmt.Errorf("%w: truncated key length at entry %d", ErrCodec, i)
		}

		klen := int(binary.BigEndian.Uint32(rec[off:]))
		off += 4

		if klen < 0 || off+klen > len(rec) {
			return nil, fmt.Errorf("%w: invalid key length %d at entry %d", ErrCodec, klen, i)
		}

		key := rec[off : off+klen]
		off += klen

		if off+4 > len(rec) {
			return nil, fmt.Errorf("%w: truncated value length at entry %d", ErrCodec, i)
		}

		vlen := int(binary.BigEndian.Uint32(rec[off:]))
		off += 4

		if vlen < 0 || off+vlen > len(rec) {
			return nil, fmt.Errorf("%w: invalid value length %d at entry %d", ErrCodec, vlen, i)
		}

		value := rec[off : off+vlen]
		off += vlen

		entries = append(entries, bucketEntry{Key: key, Value: value})
	}

	if off != len(rec) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCodec, len(rec)-off)
	}

	return entries, nil
}

// extractByKey returns the value for k in R, or (nil, false) if absent.
func extractByKey(key, rec []byte) ([]byte, bool, error) {
	entries, err := decodeBucket(rec)
	if err != nil {
		return nil, false, err
	}

	for _, e := range entries {
		if bytes.Equal(e.Key, key) {
			v := make([]byte, len(e.Value))
			copy(v, e.Value)

			return v, true, nil
		}
	}

	return nil, false, nil
}

// assembleNew produces a fresh single-entry record: count=1, (key, value).
func assembleNew(key, value []byte) []byte {
	return encodeBucket([]bucketEntry{{Key: key, Value: value}})
}

// assembleMerge inserts-or-replaces key in rec: if key already exists its
// value is replaced, else the entry is appended.
func assembleMerge(key, value, rec []byte) ([]byte, error) {
	entries, err := decodeBucket(rec)
	if err != nil {
		return nil, err
	}

	replaced := false

	for i := range entries {
		if bytes.Equal(entries[i].Key, key) {
			entries[i].Value = value
			replaced = true

			break
		}
	}

	if !replaced {
		entries = append(entries, bucketEntry{Key: key, Value: value})
	}

	return encodeBucket(entries), nil
}

func encodeBucket(entries []bucketEntry) []byte {
	size := 4
	for _, e := range entries {
		size += 4 + len(e.Key) + 4 + len(e.Value)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf, uint32(len(entries)))

	off := 4

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(e.Key)))
		off += 4
		copy(buf[off:], e.Key)
		off += len(e.Key)

		binary.BigEndian.PutUint32(buf[off:], uint32(len(e.Value)))
		off += 4
		copy(buf[off:], e.Value)
		off += len(e.Value)
	}

	return buf
}

// removeByKey rewrites rec in place, removing key's entry by shifting the
// tail left over it and decrementing count. Returns the new length; if key
// was absent, returns len(rec) unchanged. If the removed entry was the
// bucket's last, returns 0 — the caller treats that as "bucket now empty".
func removeByKey(key, rec []byte) (int, error) {
	if len(rec) < 4 {
		return 0, fmt.Errorf("%w: record too short", ErrCodec)
	}

	count := int32(binary.BigEndian.Uint32(rec))
	off := 4

	for i := int32(0); i < count; i++ {
		entryStart := off

		if off+4 > len(rec) {
			return 0, fmt.Errorf("%w: truncated key length at entry %d", ErrCodec, i)
		}

		klen := int(binary.BigEndian.Uint32(rec[off:]))
		off += 4

		if klen < 0 || off+klen > len(rec) {
			return 0, fmt.Errorf("%w: invalid key length %d at entry %d", ErrCodec, klen, i)
		}

		k := rec[off : off+klen]
		off += klen

		if off+4 > len(rec) {
			return 0, fmt.Errorf("%w: truncated value length at entry %d", ErrCodec, i)
		}

		vlen := int(binary.BigEndian.Uint32(rec[off:]))
		off += 4

		if vlen < 0 || off+vlen > len(rec) {
			return 0, fmt.Errorf("%w: invalid value length %d at entry %d", ErrCodec, vlen, i)
		}

		off += vlen

		if !bytes.Equal(k, key) {
			continue
		}

		entryLen := off - entryStart
		copy(rec[entryStart:], rec[off:])
		newLen := len(rec) - entryLen

		binary.BigEndian.PutUint32(rec, uint32(count-1))

		if count-1 == 0 {
			return 0, nil
		}

		return newLen, nil
	}

	return len(rec), nil
}
