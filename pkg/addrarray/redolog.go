package addrarray

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

var redoCRCTable = crc32.MakeTable(crc32.Castagnoli)

// redoRecord is one batched entry in the redo log: a locator update at an
// index, framed with its own CRC so a partial write from a crash mid-append
// is detected and replay simply stops there.
type redoRecord struct {
	Index   uint64 `json:"i"`
	Locator uint64 `json:"l"`
	CRC     uint32 `json:"c"`
}

func newRedoRecord(index, locator uint64) redoRecord {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], index)
	binary.BigEndian.PutUint64(buf[8:16], locator)

	return redoRecord{Index: index, Locator: locator, CRC: crc32.Checksum(buf[:], redoCRCTable)}
}

func (r redoRecord) verify() bool {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], r.Index)
	binary.BigEndian.PutUint64(buf[8:16], r.Locator)

	return crc32.Checksum(buf[:], redoCRCTable) == r.CRC
}

// replayRedoLog reads every well-formed, CRC-valid record from the log at
// path, in order. A malformed or truncated trailing line ends replay at
// that point rather than failing it: a crash mid-append leaves exactly one
// partial line, and everything before it is still good.
func replayRedoLog(path string) ([]redoRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("addrarray: open redo log %q: %w", path, err)
	}
	defer f.Close()

	var records []redoRecord

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec redoRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			break
		}

		if !rec.verify() {
			break
		}

		records = append(records, rec)
	}

	return records, nil
}

// redoLog is a batched append-only log of locator updates. Every entrySize
// appends, the buffered writer is flushed and fsynced (a "batch"); every
// maxEntries batches, checkpoint is invoked to snapshot the whole array and
// truncate the log.
type redoLog struct {
	path       string
	entrySize  int
	maxEntries int
	checkpoint func() error

	file   *os.File
	writer *bufio.Writer

	sinceFlush             int
	batchesSinceCheckpoint int
}

func openRedoLog(path string, entrySize, maxEntries int, checkpoint func() error) (*redoLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("addrarray: open redo log %q: %w", path, err)
	}

	return &redoLog{
		path:       path,
		entrySize:  entrySize,
		maxEntries: maxEntries,
		checkpoint: checkpoint,
		file:       f,
		writer:     bufio.NewWriter(f),
	}, nil
}

func (r *redoLog) append(index, locator uint64) error {
	rec := newRedoRecord(index, locator)

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("addrarray: encode redo entry: %w", err)
	}

	if _, err := r.writer.Write(line); err != nil {
		return fmt.Errorf("addrarray: append redo entry: %w", err)
	}

	if err := r.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("addrarray: append redo entry: %w", err)
	}

	r.sinceFlush++
	if r.sinceFlush < r.entrySize {
		return nil
	}

	if err := r.flushLocked(); err != nil {
		return err
	}

	r.sinceFlush = 0
	r.batchesSinceCheckpoint++

	if r.batchesSinceCheckpoint < r.maxEntries {
		return nil
	}

	r.batchesSinceCheckpoint = 0

	return r.checkpoint()
}

func (r *redoLog) flushLocked() error {
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("addrarray: flush redo log: %w", err)
	}

	return r.file.Sync()
}

func (r *redoLog) flush() error {
	return r.flushLocked()
}

// truncate is called right after a checkpoint snapshot lands durably: the
// entries covered by that snapshot no longer need replaying.
func (r *redoLog) truncate() error {
	if err := r.flushLocked(); err != nil {
		return err
	}

	if err := r.file.Truncate(0); err != nil {
		return fmt.Errorf("addrarray: truncate redo log: %w", err)
	}

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("addrarray: seek redo log: %w", err)
	}

	r.writer.Reset(r.file)
	r.sinceFlush = 0
	r.batchesSinceCheckpoint = 0

	return nil
}

func (r *redoLog) close() error {
	flushErr := r.flushLocked()
	closeErr := r.file.Close()

	return errors.Join(flushErr, closeErr)
}
