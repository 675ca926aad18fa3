// Package journal implements the write-ahead log shared across a
// keyspace's partitions. The engine core consumes it through a narrow
// surface — append a record, rotate, report disk usage, name the
// partitions that must flush before the oldest segment can be evicted —
// and this package is a deliberately small implementation of exactly that
// surface, not a production-grade log with its own recovery/compaction
// story.
//
// A journal is a sequence of on-disk segments. Each record is appended
// length-prefixed to the currently active segment. Manager tracks, per
// segment, which partitions have appended to it ("pinned" it) since it was
// opened; a partition that flushes releases its pin, and once a segment has
// no partitions pinning it, it becomes eligible to be dropped on the next
// Prune.
package journal

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/iamNilotpal/ignitekv/internal/value"
	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
	"github.com/iamNilotpal/ignitekv/pkg/filesys"
)

// Record is one journal entry:
// {partition_name, seqno, value_type, key, value}.
type Record struct {
	Partition string
	SeqNo     value.SeqNo
	Type      value.ValueType
	Key       []byte
	Value     []byte
}

// encode serializes a Record as
// [u32 total_len][u16 partition_len][partition][u64 seqno][u8 type]
// [u16 key_len][key][u32 value_len][value], mirroring the fixed-width,
// length-prefixed style internal/segment uses for its own Value records.
func encode(r Record) []byte {
	body := make([]byte, 0, 2+len(r.Partition)+8+1+2+len(r.Key)+4+len(r.Value))
	buf := bytes.NewBuffer(body)

	var tmp [8]byte
	binary.BigEndian.PutUint16(tmp[:2], uint16(len(r.Partition)))
	buf.Write(tmp[:2])
	buf.WriteString(r.Partition)

	binary.BigEndian.PutUint64(tmp[:8], uint64(r.SeqNo))
	buf.Write(tmp[:8])

	buf.WriteByte(byte(r.Type))

	binary.BigEndian.PutUint16(tmp[:2], uint16(len(r.Key)))
	buf.Write(tmp[:2])
	buf.Write(r.Key)

	binary.BigEndian.PutUint32(tmp[:4], uint32(len(r.Value)))
	buf.Write(tmp[:4])
	buf.Write(r.Value)

	framed := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(framed[:4], uint32(buf.Len()))
	copy(framed[4:], buf.Bytes())
	return framed
}

// decode reads one length-prefixed Record from r, returning io.EOF when no
// more records remain.
func decode(r io.Reader) (Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, err
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, err
	}

	pos := 0
	partitionLen := int(binary.BigEndian.Uint16(body[pos:]))
	pos += 2
	partition := string(body[pos : pos+partitionLen])
	pos += partitionLen

	seqno := value.SeqNo(binary.BigEndian.Uint64(body[pos:]))
	pos += 8

	vtype := value.ValueType(body[pos])
	pos++

	keyLen := int(binary.BigEndian.Uint16(body[pos:]))
	pos += 2
	key := append([]byte(nil), body[pos:pos+keyLen]...)
	pos += keyLen

	valLen := int(binary.BigEndian.Uint32(body[pos:]))
	pos += 4
	val := append([]byte(nil), body[pos:pos+valLen]...)

	return Record{Partition: partition, SeqNo: seqno, Type: vtype, Key: key, Value: val}, nil
}

// ReadAll replays every record in the segment file at path, in append
// order, invoking fn for each. Used by recovery to rebuild a partition's
// memtable.
func ReadAll(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "failed to open journal segment for replay").WithPath(path)
	}
	defer f.Close()

	for {
		rec, err := decode(f)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ignerrors.NewStorageError(err, ignerrors.ErrorCodePayloadReadFailure, "failed to decode journal record").WithPath(path)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// segmentState is one on-disk journal segment: its file, current size, and
// the set of partitions that have appended to it (and therefore pin it —
// it cannot be dropped until every pinning partition has flushed past the
// writes it contains).
type segmentState struct {
	id      uint64
	path    string
	file    *os.File
	size    uint64
	pinning map[string]struct{}
}

// Manager is the concrete, minimal journal implementation satisfying the
// interface the monitor and engine consume. State is guarded by a single
// RW lock: size/pin queries take the read lock, Append and Rotate take the
// write lock.
type Manager struct {
	mu           sync.RWMutex
	dir          string
	nextID       uint64
	maxSegSize   uint64
	segments     []*segmentState // oldest first
	activeWriter *segmentState
}

// Config bundles a Manager's construction parameters.
type Config struct {
	// Dir is the directory journal segment files are created in.
	Dir string
	// MaxSegmentSize rotates to a fresh segment once the active one
	// reaches this many bytes.
	MaxSegmentSize uint64
}

// Open creates (or re-opens) a journal manager rooted at cfg.Dir. Existing
// segment files are not replayed here — recovery composes Open with
// ReadAll over the discovered segment paths.
func Open(cfg Config) (*Manager, error) {
	if err := filesys.CreateDir(cfg.Dir, 0755, true); err != nil {
		return nil, ignerrors.ClassifyDirectoryCreationError(err, cfg.Dir)
	}

	m := &Manager{dir: cfg.Dir, maxSegSize: cfg.MaxSegmentSize}

	existing, err := discoverSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	m.segments = existing
	for _, s := range existing {
		if s.id >= m.nextID {
			m.nextID = s.id + 1
		}
	}

	if err := m.openNewSegment(); err != nil {
		return nil, err
	}
	return m, nil
}

func discoverSegments(dir string) ([]*segmentState, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "failed to list journal directory").WithPath(dir)
	}

	var out []*segmentState
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseSegmentFileName(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			return nil, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "failed to stat journal segment").
				WithSegmentID(id).WithPath(path)
		}
		// A segment left by a prior run stays pinned by every partition it
		// holds records for, until that partition flushes.
		pinning := map[string]struct{}{}
		if err := ReadAll(path, func(r Record) error {
			pinning[r.Partition] = struct{}{}
			return nil
		}); err != nil {
			return nil, err
		}
		out = append(out, &segmentState{id: id, path: path, size: uint64(info.Size()), pinning: pinning})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

const segmentFileExt = ".jrnl"

func parseSegmentFileName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentFileExt) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, segmentFileExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func segmentFileName(id uint64) string {
	return strconv.FormatUint(id, 10) + segmentFileExt
}

func (m *Manager) openNewSegment() error {
	id := m.nextID
	m.nextID++

	path := filepath.Join(m.dir, segmentFileName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return ignerrors.ClassifyFileOpenError(err, path, segmentFileName(id))
	}

	seg := &segmentState{id: id, path: path, file: f, pinning: map[string]struct{}{}}
	m.segments = append(m.segments, seg)
	m.activeWriter = seg
	return nil
}

// Append serializes record and appends it to the active journal segment,
// fsyncing before returning so the caller's durability contract holds: a
// write is durable before its seqno is observable to other readers. It
// returns the same seqno carried by the record, confirming durable
// placement.
func (m *Manager) Append(r Record) (value.SeqNo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSegSize > 0 && m.activeWriter.size >= m.maxSegSize {
		if err := m.rotateLocked(); err != nil {
			return 0, err
		}
	}

	data := encode(r)
	if _, err := m.activeWriter.file.Write(data); err != nil {
		return 0, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "failed to append journal record").
			WithSegmentID(m.activeWriter.id).
			WithPath(m.activeWriter.path).
			WithOffset(int64(m.activeWriter.size))
	}
	if err := m.activeWriter.file.Sync(); err != nil {
		return 0, ignerrors.ClassifySyncError(err, segmentFileName(m.activeWriter.id), m.activeWriter.path, int64(m.activeWriter.size))
	}

	m.activeWriter.size += uint64(len(data))
	m.activeWriter.pinning[r.Partition] = struct{}{}

	return r.SeqNo, nil
}

// Rotate forces a fresh active segment even if the current one hasn't
// reached MaxSegmentSize.
func (m *Manager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked()
}

func (m *Manager) rotateLocked() error {
	return m.openNewSegment()
}

// DiskSpaceUsed returns the total on-disk footprint, in bytes, of every
// journal segment still present.
func (m *Manager) DiskSpaceUsed() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, s := range m.segments {
		total += s.size
	}
	return total
}

// PartitionsPinningOldestSegment returns the names of every partition that
// has appended to the oldest still-present journal segment — the
// partitions that must flush before that segment can be pruned.
func (m *Manager) PartitionsPinningOldestSegment() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.segments) == 0 {
		return nil
	}
	oldest := m.segments[0]
	names := make([]string, 0, len(oldest.pinning))
	for name := range oldest.pinning {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release records that partitionName's frozen memtable has been durably
// flushed, unpinning it from every sealed journal segment. The active
// segment is left pinned: writes appended to it since the rotation that
// froze the flushed memtable are not covered by the flush, so only the
// journal prefix behind the active segment is released. Call this after a
// flush worker installs a segment into L0.
func (m *Manager) Release(partitionName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.segments {
		if s == m.activeWriter {
			continue
		}
		delete(s.pinning, partitionName)
	}
}

// Prune removes and deletes every segment older than the active one that
// no partition pins any longer, and (provided it isn't the active segment)
// closes its file handle first.
func (m *Manager) Prune() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.segments[:0:0]
	for _, s := range m.segments {
		if s == m.activeWriter || len(s.pinning) > 0 {
			kept = append(kept, s)
			continue
		}
		if s.file != nil {
			s.file.Close()
		}
		if err := filesys.DeleteFile(s.path); err != nil && !os.IsNotExist(err) {
			return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "failed to remove pruned journal segment").
				WithSegmentID(s.id).WithPath(s.path)
		}
	}
	m.segments = kept
	return nil
}

// Segments returns the full paths of every journal segment currently on
// disk, oldest first — used by recovery to replay them in order.
func (m *Manager) Segments() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, len(m.segments))
	for i, s := range m.segments {
		paths[i] = s.path
	}
	return paths
}

// Close closes every open segment file; each Append has already fsynced
// its record.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, s := range m.segments {
		if s.file == nil {
			continue
		}
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
