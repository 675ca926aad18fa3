package engine

import (
	"bytes"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/iamNilotpal/ignitekv/internal/blockcache"
	"github.com/iamNilotpal/ignitekv/internal/descriptor"
	"github.com/iamNilotpal/ignitekv/internal/memtable"
	"github.com/iamNilotpal/ignitekv/internal/segment"
	"github.com/iamNilotpal/ignitekv/internal/value"
)

// Partition is one named, independently-leveled LSM tree within a keyspace:
// its own active memtable, immutable-memtable queue, and per-level segment
// runs, sharing the keyspace's journal, descriptor table, oracle, and
// write-buffer budget. The shared pieces are held as sibling handles — the
// keyspace is the sole strong root; a partition never points back at it.
type Partition struct {
	name string

	maxMemtableSize uint32
	segmentsDir     string
	descriptors     *descriptor.Table
	blocks          *blockcache.Cache

	mu        sync.RWMutex
	active    *memtable.MemTable
	immutable []*memtable.MemTable
	levels    [][]*segment.Metadata // levels[0] is L0, most-recently-flushed last
}

func newPartition(name, segmentsDir string, maxMemtableSize uint32, levelCount uint8, descriptors *descriptor.Table, blocks *blockcache.Cache) *Partition {
	return &Partition{
		name:            name,
		maxMemtableSize: maxMemtableSize,
		segmentsDir:     segmentsDir,
		descriptors:     descriptors,
		blocks:          blocks,
		active:          memtable.New(maxMemtableSize),
		levels:          make([][]*segment.Metadata, levelCount),
	}
}

// Name satisfies internal/monitor.Partition.
func (p *Partition) Name() string { return p.name }

// ActiveMemtableSize satisfies internal/monitor.Partition.
func (p *Partition) ActiveMemtableSize() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return uint64(p.active.ApproximateSize())
}

// RotateMemtable freezes the active memtable into the immutable queue and
// allocates a fresh one, satisfying internal/monitor.Partition. It reports
// false without effect if the active memtable is empty, since there is
// nothing useful to flush.
func (p *Partition) RotateMemtable() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active.ApproximateSize() == 0 {
		return false, nil
	}

	p.immutable = append(p.immutable, p.active)
	p.active = memtable.New(p.maxMemtableSize)
	return true, nil
}

// Insert writes v directly into the active memtable. Callers are
// responsible for the journal append that makes v durable first — Insert
// itself never fails (see internal/memtable's infallible-insert contract).
func (p *Partition) Insert(v value.Value) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.active.Insert(v)
}

// levelDir returns the on-disk directory segments for level are created
// under.
func (p *Partition) levelDir(level int) string {
	return filepath.Join(p.segmentsDir, strconv.Itoa(level))
}

// oldestImmutable returns the oldest frozen memtable waiting for flush
// along with its approximate size captured at freeze time, or reports
// ok=false if none is queued. The memtable stays on the immutable queue —
// and therefore visible to readers — until installFlushed removes it; a
// flush that fails partway simply leaves it here for the next pass.
func (p *Partition) oldestImmutable() (m *memtable.MemTable, size uint64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.immutable) == 0 {
		return nil, 0, false
	}
	m = p.immutable[0]
	return m, uint64(m.ApproximateSize()), true
}

// installFlushed registers newly-flushed segments into L0 (and their blocks
// files with the shared descriptor table) and drops the now-durable source
// memtable from the immutable queue, all in one critical section: a reader
// taking p.mu between these two steps would otherwise see a window where
// the flushed keys are in neither the memtable nor L0.
func (p *Partition) installFlushed(metas []*segment.Metadata, flushed *memtable.MemTable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range metas {
		p.descriptors.Insert(filepath.Join(m.Path, "blocks"), m.ID)
		p.levels[0] = append(p.levels[0], m)
	}
	for i, m := range p.immutable {
		if m == flushed {
			p.immutable = append(p.immutable[:i], p.immutable[i+1:]...)
			break
		}
	}
}

// Get resolves the visible version of userKey, walking the active
// memtable, then the immutable queue newest-first, then each level's
// segments. atSeqno has the same contract as
// internal/memtable.MemTable.Get: nil means "newest," non-nil means "as of
// this read instant." A found tombstone is reported as io ok=false, since a
// tombstone is not a visible value to callers above this layer.
func (p *Partition) Get(userKey value.UserKey, atSeqno *value.SeqNo) (value.Value, bool, error) {
	p.mu.RLock()
	active := p.active
	immutable := append([]*memtable.MemTable(nil), p.immutable...)
	levelSnapshot := make([][]*segment.Metadata, len(p.levels))
	for i, l := range p.levels {
		levelSnapshot[i] = append([]*segment.Metadata(nil), l...)
	}
	p.mu.RUnlock()

	if v, ok := active.Get(userKey, atSeqno); ok {
		return resolveTombstone(v)
	}

	for i := len(immutable) - 1; i >= 0; i-- {
		if v, ok := immutable[i].Get(userKey, atSeqno); ok {
			return resolveTombstone(v)
		}
	}

	for level, segments := range levelSnapshot {
		// L0 runs may overlap and are flushed oldest-first; newer flushes
		// must shadow older ones, so scan back to front. Deeper levels are
		// non-overlapping sorted runs, where at most one segment can ever
		// contain the key, so scan order doesn't matter there.
		order := segments
		if level == 0 {
			order = reverseSegments(segments)
		}

		for _, meta := range order {
			if !keyInRange(userKey, meta) {
				continue
			}
			v, ok, err := p.getFromSegment(meta, userKey, atSeqno)
			if err != nil {
				return value.Value{}, false, err
			}
			if ok {
				return resolveTombstone(v)
			}
		}
	}

	return value.Value{}, false, nil
}

func (p *Partition) getFromSegment(meta *segment.Metadata, userKey value.UserKey, atSeqno *value.SeqNo) (value.Value, bool, error) {
	guard, err := p.descriptors.Access(meta.ID)
	if err != nil {
		return value.Value{}, false, err
	}
	defer guard.Release()

	reader, err := segment.OpenReaderWithFile(meta.Path, guard.File())
	if err != nil {
		return value.Value{}, false, err
	}
	defer reader.Close()

	return reader.WithCache(p.blocks).GetAt(userKey, atSeqno)
}

func resolveTombstone(v value.Value) (value.Value, bool, error) {
	if v.IsTombstone() {
		return value.Value{}, false, nil
	}
	return v, true, nil
}

func keyInRange(userKey value.UserKey, meta *segment.Metadata) bool {
	return bytes.Compare(userKey, meta.KeyRange.Min) >= 0 && bytes.Compare(userKey, meta.KeyRange.Max) <= 0
}

func reverseSegments(in []*segment.Metadata) []*segment.Metadata {
	out := make([]*segment.Metadata, len(in))
	for i, m := range in {
		out[len(in)-1-i] = m
	}
	return out
}

