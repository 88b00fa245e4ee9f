package dataarray

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/kvstash/linhash/internal/fsx"
)

var dataCRCTable = crc32.MakeTable(crc32.Castagnoli)

const recordHeaderSize = 16 // payloadLen:u32 + scn:u64 + crc32c:u32

// segment is one fixed-size file in the data array's append-only log.
// Records are written with os.File.WriteAt (so appends never race a
// concurrent reader) and read back through a read-only mmap.
type segment struct {
	mu sync.Mutex

	seq  uint32
	id   string
	path string
	file *os.File

	tail      int64
	liveBytes int64
	dirty     bool

	mapped []byte
}

func (s *segment) ensureMappedLocked(minLen int64) error {
	if minLen <= int64(len(s.mapped)) {
		return nil
	}

	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("dataarray: stat segment %s: %w", s.id, err)
	}

	size := info.Size()
	if size == 0 {
		return nil
	}

	if s.mapped != nil {
		if err := syscall.Munmap(s.mapped); err != nil {
			return fmt.Errorf("dataarray: unmap segment %s: %w", s.id, err)
		}

		s.mapped = nil
	}

	data, err := syscall.Mmap(int(s.file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("dataarray: mmap segment %s: %w", s.id, err)
	}

	s.mapped = data

	return nil
}

func (s *segment) read(offset, length uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := int64(offset) + int64(length)
	if err := s.ensureMappedLocked(end); err != nil {
		return nil, err
	}

	if end > int64(len(s.mapped)) {
		return nil, fmt.Errorf("%w: offset %d len %d beyond segment %s size", ErrCorrupt, offset, length, s.id)
	}

	out := make([]byte, length)
	copy(out, s.mapped[offset:end])

	return out, nil
}

func (s *segment) appendLocked(payload []byte, scn uint64) (uint32, error) {
	rec := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint32(rec[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(rec[4:12], scn)
	binary.BigEndian.PutUint32(rec[12:16], crc32.Checksum(payload, dataCRCTable))
	copy(rec[recordHeaderSize:], payload)

	offset := s.tail

	if _, err := s.file.WriteAt(rec, offset); err != nil {
		return 0, fmt.Errorf("dataarray: append to segment %s: %w", s.id, err)
	}

	s.tail += int64(len(rec))
	s.liveBytes += int64(len(rec))
	s.dirty = true

	return uint32(offset), nil
}

func (s *segment) release(length int64) {
	s.mu.Lock()
	s.liveBytes -= length
	s.mu.Unlock()
}

func (s *segment) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("dataarray: sync segment %s: %w", s.id, err)
	}

	s.dirty = false

	return nil
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unmapErr error
	if s.mapped != nil {
		unmapErr = syscall.Munmap(s.mapped)
		s.mapped = nil
	}

	closeErr := s.file.Close()

	return errors.Join(unmapErr, closeErr)
}

type manifestEntry struct {
	Seq uint32 `json:"seq"`
	ID  string `json:"id"`
}

type manifestFile struct {
	NextSeq  uint32          `json:"nextSeq"`
	Segments []manifestEntry `json:"segments"`
}

// segmentManager owns the segs/ directory: the set of segment files, their
// creation order, and the stable seq→segment lookup that locators are keyed
// on (never a slice position, which would shift under compaction).
type segmentManager struct {
	mu sync.Mutex

	dir           string
	maxSize       int64
	compactFactor float64
	manifestPath  string

	nextSeq uint32
	order   []*segment
	bySeq   map[uint32]*segment
}

func openSegmentManager(homeDir string, segmentFileSizeMB int, compactFactor float64) (*segmentManager, error) {
	segsDir := filepath.Join(homeDir, "segs")
	if err := os.MkdirAll(segsDir, 0o755); err != nil {
		return nil, fmt.Errorf("dataarray: create segs dir: %w", err)
	}

	m := &segmentManager{
		dir:           segsDir,
		maxSize:       int64(segmentFileSizeMB) * 1024 * 1024,
		compactFactor: compactFactor,
		manifestPath:  filepath.Join(segsDir, "manifest.json"),
		bySeq:         make(map[uint32]*segment),
	}

	data, err := os.ReadFile(m.manifestPath)

	switch {
	case err == nil:
		var mf manifestFile
		if jerr := json.Unmarshal(data, &mf); jerr != nil {
			return nil, fmt.Errorf("dataarray: decode manifest: %w", jerr)
		}

		m.nextSeq = mf.NextSeq

		for _, entry := range mf.Segments {
			path := filepath.Join(segsDir, entry.ID+".seg")

			f, oerr := os.OpenFile(path, os.O_RDWR, 0o644)
			if oerr != nil {
				return nil, fmt.Errorf("dataarray: open segment %q: %w", path, oerr)
			}

			info, serr := f.Stat()
			if serr != nil {
				return nil, fmt.Errorf("dataarray: stat segment %q: %w", path, serr)
			}

			seg := &segment{seq: entry.Seq, id: entry.ID, path: path, file: f, tail: info.Size(), liveBytes: info.Size()}
			m.order = append(m.order, seg)
			m.bySeq[entry.Seq] = seg
		}
	case os.IsNotExist(err):
		// fresh store, no segments yet
	default:
		return nil, fmt.Errorf("dataarray: read manifest: %w", err)
	}

	return m, nil
}

func (m *segmentManager) tailLocked() *segment {
	if len(m.order) == 0 {
		return nil
	}

	return m.order[len(m.order)-1]
}

func (m *segmentManager) rotateLocked() error {
	id := uuid.New().String()
	path := filepath.Join(m.dir, id+".seg")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("dataarray: create segment %q: %w", path, err)
	}

	seg := &segment{seq: m.nextSeq, id: id, path: path, file: f}
	m.nextSeq++
	m.order = append(m.order, seg)
	m.bySeq[seg.seq] = seg

	return m.writeManifestLocked()
}

func (m *segmentManager) writeManifestLocked() error {
	mf := manifestFile{NextSeq: m.nextSeq, Segments: make([]manifestEntry, len(m.order))}
	for i, s := range m.order {
		mf.Segments[i] = manifestEntry{Seq: s.seq, ID: s.id}
	}

	data, err := json.Marshal(mf)
	if err != nil {
		return fmt.Errorf("dataarray: encode manifest: %w", err)
	}

	if err := fsx.WriteFile(m.manifestPath, data); err != nil {
		return fmt.Errorf("dataarray: write manifest: %w", err)
	}

	return nil
}

func encodeLocator(seq uint32, offset uint32) uint64 {
	return uint64(seq+1)<<32 | uint64(offset)
}

func decodeLocator(locator uint64) (seq uint32, offset uint32) {
	return uint32(locator>>32) - 1, uint32(locator)
}

// append writes payload as a new record to the current tail segment,
// rotating to a new one first if it would exceed maxSize. Returns the
// locator for the new record.
func (m *segmentManager) append(payload []byte, scn uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needed := int64(recordHeaderSize + len(payload))

	tail := m.tailLocked()
	if tail == nil || tail.tail+needed > m.maxSize {
		if err := m.rotateLocked(); err != nil {
			return 0, err
		}

		tail = m.tailLocked()
	}

	tail.mu.Lock()
	offset, err := tail.appendLocked(payload, scn)
	tail.mu.Unlock()

	if err != nil {
		return 0, err
	}

	return encodeLocator(tail.seq, offset), nil
}

func (m *segmentManager) lookupLocked(seq uint32) *segment {
	return m.bySeq[seq]
}

// get reads back the payload and SCN for locator. A zero locator (an empty
// bucket) returns (nil, 0, nil).
func (m *segmentManager) get(locator uint64) ([]byte, uint64, error) {
	if locator == 0 {
		return nil, 0, nil
	}

	seq, offset := decodeLocator(locator)

	m.mu.Lock()
	seg := m.lookupLocked(seq)
	m.mu.Unlock()

	if seg == nil {
		return nil, 0, fmt.Errorf("%w: unknown segment seq %d", ErrCorrupt, seq)
	}

	header, err := seg.read(offset, recordHeaderSize)
	if err != nil {
		return nil, 0, err
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	scn := binary.BigEndian.Uint64(header[4:12])
	wantCRC := binary.BigEndian.Uint32(header[12:16])

	payload, err := seg.read(offset+recordHeaderSize, payloadLen)
	if err != nil {
		return nil, 0, err
	}

	if crc32.Checksum(payload, dataCRCTable) != wantCRC {
		return nil, 0, fmt.Errorf("%w: checksum mismatch in segment %s at offset %d", ErrCorrupt, seg.id, offset)
	}

	return payload, scn, nil
}

// release marks the record at locator as garbage, decrementing its
// segment's live-byte count for compaction accounting.
func (m *segmentManager) release(locator uint64) error {
	if locator == 0 {
		return nil
	}

	seq, offset := decodeLocator(locator)

	m.mu.Lock()
	seg := m.lookupLocked(seq)
	m.mu.Unlock()

	if seg == nil {
		return nil
	}

	header, err := seg.read(offset, recordHeaderSize)
	if err != nil {
		return err
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	seg.release(int64(recordHeaderSize + payloadLen))

	return nil
}

func (m *segmentManager) segmentOf(locator uint64) uint32 {
	seq, _ := decodeLocator(locator)
	return seq
}

// compactionCandidates returns the seqs of non-tail segments whose
// live-byte ratio has fallen below compactFactor. It takes m.mu itself.
func (m *segmentManager) compactionCandidates() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []uint32

	for i, s := range m.order {
		if i == len(m.order)-1 {
			continue // never compact the active tail segment
		}

		s.mu.Lock()
		tail := s.tail
		live := s.liveBytes
		s.mu.Unlock()

		if tail == 0 {
			continue
		}

		if float64(live)/float64(tail) < m.compactFactor {
			candidates = append(candidates, s.seq)
		}
	}

	return candidates
}

// reclaim removes the segments identified by seqs from the manager, closing
// and deleting their backing files. Callers must have already rewritten any
// live records those segments held.
func (m *segmentManager) reclaim(seqs []uint32) error {
	m.mu.Lock()

	reclaim := make(map[uint32]bool, len(seqs))
	for _, seq := range seqs {
		reclaim[seq] = true
	}

	var kept, removed []*segment

	for _, s := range m.order {
		if reclaim[s.seq] {
			removed = append(removed, s)
			delete(m.bySeq, s.seq)
		} else {
			kept = append(kept, s)
		}
	}

	m.order = kept

	writeErr := m.writeManifestLocked()
	m.mu.Unlock()

	var errs []error
	if writeErr != nil {
		errs = append(errs, writeErr)
	}

	for _, s := range removed {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}

		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("dataarray: remove segment %q: %w", s.path, err))
		}
	}

	return errors.Join(errs...)
}

func (m *segmentManager) sync() error {
	m.mu.Lock()
	segs := append([]*segment(nil), m.order...)
	m.mu.Unlock()

	var errs []error
	for _, s := range segs {
		if err := s.sync(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *segmentManager) close() error {
	m.mu.Lock()
	segs := append([]*segment(nil), m.order...)
	m.mu.Unlock()

	var errs []error
	for _, s := range segs {
		if err := s.sync(); err != nil {
			errs = append(errs, err)
		}

		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// clear removes every segment file and resets the manager to empty.
func (m *segmentManager) clear() error {
	m.mu.Lock()
	segs := append([]*segment(nil), m.order...)
	m.order = nil
	m.bySeq = make(map[uint32]*segment)
	writeErr := m.writeManifestLocked()
	m.mu.Unlock()

	var errs []error
	if writeErr != nil {
		errs = append(errs, writeErr)
	}

	for _, s := range segs {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}

		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("dataarray: remove segment %q: %w", s.path, err))
		}
	}

	return errors.Join(errs...)
}
