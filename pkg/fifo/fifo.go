// Package fifo implements the persistent, single-writer/single-reader
// durable queue described by §3/§4.2 of the specification: a client
// memory table backed by a disk-spill table and an append-only file,
// with ack-driven compaction and crash-recovery cleaning on open.
package fifo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"infologger/pkg/compression"
	apperrors "infologger/pkg/errors"
)

// ErrEmpty is returned by Read when timeout == 0 (non-blocking poll) and
// nothing is available.
var ErrEmpty = errors.New("fifo: empty")

// ErrTimeout is returned by Read when a positive timeout elapses with
// nothing becoming available.
var ErrTimeout = errors.New("fifo: read timeout")

// Item is one durable record: the id the FIFO assigned on write, and its
// raw (possibly decompressed) payload.
type Item struct {
	ID      uint64
	Payload []byte
}

// Config controls a FIFO's on-disk location and in-memory buffering.
type Config struct {
	Path string `yaml:"path"`

	// MemCapacity bounds how many items the client memory table holds
	// before further writes spill straight to the disk-spill table.
	MemCapacity int `yaml:"mem_capacity"`

	// SpillCapacity bounds how many items accumulate in the disk-spill
	// memory table before Write forces them out to the file.
	SpillCapacity int `yaml:"spill_capacity"`

	// Compression selects the codec applied to payloads before they
	// are written to the file (expansion of §4.2; never touches
	// in-memory items, only the on-disk representation).
	Compression compression.Algorithm `yaml:"compression"`
}

func (c *Config) setDefaults() {
	if c.MemCapacity <= 0 {
		c.MemCapacity = 256
	}
	if c.SpillCapacity <= 0 {
		c.SpillCapacity = 1024
	}
}

// FIFO is a durable, single-producer/single-consumer queue. All state is
// protected by mu; cond wakes a blocked Read when Write or Ack change
// what's available (§4.2 "Concurrency").
type FIFO struct {
	cfg    Config
	logger *logrus.Logger
	codec  compression.Codec

	mu   sync.Mutex
	cond *sync.Cond

	file *os.File

	lastAckID    uint64 // header.LastAckID
	currentID    uint64 // header.CurrentID: highest id ever assigned
	lastIdOnDisk uint64 // highest id physically present in the file
	lastReadID   uint64 // highest id ever handed to Read

	readOffset int64 // next file offset to load records from

	memQueue []*Item // client memory table, in ascending id order
	spill    []*Item // disk-spill memory table, pending a flush to file

	lastFlush time.Time

	closed bool
}

// Open opens (creating if absent) the FIFO file at cfg.Path, performs
// crash-recovery cleaning, and returns a ready FIFO. Cleaning drops any
// on-disk record with id <= lastAckId and renumbers survivors from 1, so
// currentId on disk always equals the surviving record count (§4.2
// "Crash recovery").
func Open(cfg Config, logger *logrus.Logger) (*FIFO, error) {
	cfg.setDefaults()
	codec, err := compression.New(cfg.Compression)
	if err != nil {
		return nil, apperrors.PersistenceError("open", err.Error())
	}

	f := &FIFO{
		cfg:    cfg,
		logger: logger,
		codec:  codec,
	}
	f.cond = sync.NewCond(&f.mu)

	if err := f.openAndClean(); err != nil {
		return nil, apperrors.PersistenceError("open", err.Error()).Wrap(err)
	}
	return f, nil
}

func (f *FIFO) openAndClean() error {
	survivors, lastAck, err := f.loadAndFilter()
	if err != nil {
		return err
	}

	file, err := os.OpenFile(f.cfg.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return fmt.Errorf("fifo: create %s: %w", f.cfg.Path, err)
	}

	header := mainHeader{Magic: fileTag, LastAckID: 0, CurrentID: uint64(len(survivors))}
	if err := writeMainHeader(file, header); err != nil {
		file.Close()
		return fmt.Errorf("fifo: write header: %w", err)
	}
	for i, payload := range survivors {
		if err := writeRecord(file, uint64(i+1), payload); err != nil {
			file.Close()
			return fmt.Errorf("fifo: rewrite record: %w", err)
		}
	}
	f.file = file
	f.lastAckID = 0
	f.currentID = uint64(len(survivors))
	f.lastIdOnDisk = uint64(len(survivors))
	f.lastReadID = 0
	f.readOffset = mainHeaderSize // survivors are read back from the first record
	f.lastFlush = time.Now()

	if f.logger != nil {
		f.logger.WithFields(logrus.Fields{
			"path":           f.cfg.Path,
			"survivors":      len(survivors),
			"prior_last_ack": lastAck,
		}).Info("fifo: crash-recovery clean complete")
	}
	return nil
}

// loadAndFilter reads an existing FIFO file (if any), returning the
// payload of every record with id > its own file's lastAckId, still
// compressed-at-rest since the caller rewrites them verbatim.
func (f *FIFO) loadAndFilter() (survivors [][]byte, lastAck uint64, err error) {
	file, err := os.Open(f.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	header, err := readMainHeader(file)
	if err != nil {
		// A corrupt or partial header means there is nothing worth
		// salvaging; start over with an empty FIFO rather than fail
		// the whole process (§7: persistence I/O failures degrade,
		// they do not take the collector down).
		if f.logger != nil {
			f.logger.WithError(err).Warn("fifo: unreadable header, starting fresh")
		}
		return nil, 0, nil
	}

	for {
		sub, err := readSubHeader(file)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if f.logger != nil {
				f.logger.WithError(err).Warn("fifo: truncated record, stopping recovery scan")
			}
			break
		}
		payload := make([]byte, sub.Size)
		if _, err := io.ReadFull(file, payload); err != nil {
			if f.logger != nil {
				f.logger.WithError(err).Warn("fifo: short record payload, stopping recovery scan")
			}
			break
		}
		if sub.ID <= header.LastAckID {
			continue
		}
		if xxhash.Sum64(payload) != sub.Checksum {
			if f.logger != nil {
				f.logger.WithField("id", sub.ID).Warn("fifo: checksum mismatch during recovery, dropping record")
			}
			continue
		}
		survivors = append(survivors, payload)
	}
	return survivors, header.LastAckID, nil
}

// Write copies payload, assigns the next id, and places it in the
// client memory table if there's room and nothing is already waiting in
// the spill table ahead of it; otherwise it goes to the spill table,
// which is flushed to disk once it reaches SpillCapacity (§4.2 "write").
func (f *FIFO) Write(payload []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, apperrors.PersistenceError("write", "fifo is closed")
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)

	f.currentID++
	id := f.currentID
	item := &Item{ID: id, Payload: stored}

	if len(f.spill) == 0 && len(f.memQueue) < f.cfg.MemCapacity {
		f.memQueue = append(f.memQueue, item)
	} else {
		f.spill = append(f.spill, item)
		if len(f.spill) >= f.cfg.SpillCapacity {
			if err := f.flushSpillLocked(); err != nil {
				return 0, apperrors.PersistenceError("write", err.Error()).Wrap(err)
			}
		}
	}

	f.cond.Broadcast()
	return id, nil
}

// Read returns the item with id == lastReadId+1, pulling from the
// client memory table, then the disk-spill table, then the file, in
// that order, per §4.2 "read". timeout == 0 polls once; timeout < 0
// blocks indefinitely; timeout > 0 blocks up to that long.
func (f *FIFO) Read(timeout time.Duration) (*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if item := f.popLocked(); item != nil {
			return item, nil
		}
		if f.closed {
			return nil, apperrors.PersistenceError("read", "fifo is closed")
		}
		if timeout == 0 {
			return nil, ErrEmpty
		}
		if timeout < 0 {
			f.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		timer := time.AfterFunc(remaining, func() {
			f.mu.Lock()
			f.cond.Broadcast()
			f.mu.Unlock()
		})
		f.cond.Wait()
		timer.Stop()
	}
}

// popLocked promotes items from the spill table and the file into the
// memory table as needed, then pops the head of the memory table. mu
// must already be held.
func (f *FIFO) popLocked() *Item {
	if len(f.memQueue) == 0 {
		f.promoteFromSpillLocked()
	}
	if len(f.memQueue) == 0 {
		f.promoteFromFileLocked()
	}
	if len(f.memQueue) == 0 {
		return nil
	}
	item := f.memQueue[0]
	f.memQueue = f.memQueue[1:]
	f.lastReadID = item.ID
	return item
}

func (f *FIFO) promoteFromSpillLocked() {
	if len(f.spill) == 0 {
		return
	}
	room := f.cfg.MemCapacity - len(f.memQueue)
	if room <= 0 {
		return
	}
	n := len(f.spill)
	if n > room {
		n = room
	}
	f.memQueue = append(f.memQueue, f.spill[:n]...)
	f.spill = f.spill[n:]
}

func (f *FIFO) promoteFromFileLocked() {
	if f.file == nil {
		return
	}
	room := f.cfg.MemCapacity - len(f.memQueue)
	if room <= 0 || f.lastIdOnDisk <= f.lastReadID {
		return
	}
	if _, err := f.file.Seek(f.readOffset, io.SeekStart); err != nil {
		if f.logger != nil {
			f.logger.WithError(err).Error("fifo: seek to read offset failed")
		}
		return
	}
	for len(f.memQueue) < f.cfg.MemCapacity {
		sub, err := readSubHeader(f.file)
		if err != nil {
			break
		}
		payload := make([]byte, sub.Size)
		if _, err := io.ReadFull(f.file, payload); err != nil {
			break
		}
		f.readOffset += int64(subHeaderSize) + int64(sub.Size)
		if sub.ID <= f.lastReadID {
			continue
		}
		if xxhash.Sum64(payload) != sub.Checksum {
			if f.logger != nil {
				f.logger.WithField("id", sub.ID).Error("fifo: checksum mismatch, skipping corrupt record")
			}
			continue
		}
		plain, derr := f.codec.Decompress(payload)
		if derr != nil {
			if f.logger != nil {
				f.logger.WithError(derr).WithField("id", sub.ID).Error("fifo: corrupt record payload, skipping")
			}
			continue
		}
		f.memQueue = append(f.memQueue, &Item{ID: sub.ID, Payload: plain})
	}
}

// flushSpillLocked persists every buffered item not yet written to disk —
// the spill table and any memory-table item ahead of it — in id order.
// mu must already be held. Items already on disk (id <= lastIdOnDisk)
// are skipped, making repeated calls idempotent. This is the durability
// boundary: a write only survives a crash once it has gone through here
// (§4.2 invariant iii).
func (f *FIFO) flushSpillLocked() error {
	if f.file == nil {
		return nil
	}

	// memQueue and spill are each internally in ascending id order, and
	// by construction (Write only appends to spill once it is
	// non-empty) every spill id is greater than every memQueue id, so
	// this concatenation is globally sorted.
	pending := make([]*Item, 0, len(f.memQueue)+len(f.spill))
	pending = append(pending, f.memQueue...)
	pending = append(pending, f.spill...)

	var toWrite []*Item
	for _, item := range pending {
		if item.ID > f.lastIdOnDisk {
			toWrite = append(toWrite, item)
		}
	}
	if len(toWrite) == 0 {
		f.spill = f.spill[:0]
		return nil
	}

	if _, err := f.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	for _, item := range toWrite {
		compressed, err := f.codec.Compress(item.Payload)
		if err != nil {
			return err
		}
		if err := writeRecord(f.file, item.ID, compressed); err != nil {
			return err
		}
		f.lastIdOnDisk = item.ID
	}
	f.spill = f.spill[:0]
	return f.persistHeaderLocked()
}

func (f *FIFO) persistHeaderLocked() error {
	if f.file == nil {
		return nil
	}
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return writeMainHeader(f.file, mainHeader{
		Magic:     fileTag,
		LastAckID: f.lastAckID,
		CurrentID: f.currentID,
	})
}

// Ack records that every item with id <= id has been durably delivered
// downstream. Acked items are dropped from the in-memory tables; if the
// ack reaches the highest id ever spilled to disk, the file is
// truncated back to just the header — the fast path for an empty,
// fully-drained queue (§4.2 "ack").
func (f *FIFO) Ack(id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id <= f.lastAckID {
		return nil
	}
	f.lastAckID = id

	f.memQueue = dropAcked(f.memQueue, id)
	f.spill = dropAcked(f.spill, id)

	if f.file == nil {
		return nil
	}

	if id >= f.lastIdOnDisk {
		if err := f.file.Truncate(mainHeaderSize); err != nil {
			return apperrors.PersistenceError("ack", err.Error()).Wrap(err)
		}
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			return apperrors.PersistenceError("ack", err.Error()).Wrap(err)
		}
		f.readOffset = mainHeaderSize
	}
	if err := f.persistHeaderLocked(); err != nil {
		return apperrors.PersistenceError("ack", err.Error()).Wrap(err)
	}
	return nil
}

func dropAcked(items []*Item, id uint64) []*Item {
	kept := items[:0]
	for _, it := range items {
		if it.ID > id {
			kept = append(kept, it)
		}
	}
	return kept
}

// Flush forces the spill table to disk if at least minInterval has
// passed since the previous flush; otherwise it is a no-op (§4.2
// "flush").
func (f *FIFO) Flush(minInterval time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.lastFlush) < minInterval {
		return nil
	}
	if err := f.flushSpillLocked(); err != nil {
		return apperrors.PersistenceError("flush", err.Error()).Wrap(err)
	}
	f.lastFlush = time.Now()
	return nil
}

// Close flushes any pending spill and closes the underlying file.
func (f *FIFO) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.cond.Broadcast()

	var err error
	if f.file != nil {
		if flushErr := f.flushSpillLocked(); flushErr != nil {
			err = flushErr
		}
		if closeErr := f.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Depth reports the number of items currently held (memory + spill),
// excluding whatever remains unread on disk. It exists for metrics, not
// for correctness decisions.
func (f *FIFO) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.memQueue) + len(f.spill)
}
