// Package engine wires the engine's core components — memtable, segment
// writer, descriptor table, snapshot tracker, oracle, monitor, flush
// manager, and journal — into Keyspace, the coordinator that owns N named
// Partitions: independently-leveled LSM trees sharing one journal, one
// write-buffer budget, and one descriptor table.
package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamNilotpal/ignitekv/internal/blockcache"
	"github.com/iamNilotpal/ignitekv/internal/compaction"
	"github.com/iamNilotpal/ignitekv/internal/descriptor"
	"github.com/iamNilotpal/ignitekv/internal/flush"
	"github.com/iamNilotpal/ignitekv/internal/journal"
	"github.com/iamNilotpal/ignitekv/internal/monitor"
	"github.com/iamNilotpal/ignitekv/internal/segment"
	"github.com/iamNilotpal/ignitekv/internal/snapshot"
	"github.com/iamNilotpal/ignitekv/internal/tx"
	"github.com/iamNilotpal/ignitekv/internal/value"
	"github.com/iamNilotpal/ignitekv/pkg/filesys"
	"github.com/iamNilotpal/ignitekv/pkg/options"
)

// ErrKeyspaceClosed is returned when attempting to perform operations on a
// closed keyspace.
var ErrKeyspaceClosed = errors.New("operation failed: cannot access closed keyspace")

// monitorInterval is how often the background monitor loop polls for
// journal/write-buffer pressure.
const monitorInterval = 250 * time.Millisecond

// descriptorPoolSize is how many open file handles the descriptor table
// creates per segment on first access.
const descriptorPoolSize = 4

// Config bundles the parameters needed to open a Keyspace.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Keyspace is the coordinator owning every partition in a storage instance,
// the shared journal, the shared write-buffer counter, the descriptor
// table, the commit oracle, and the backpressure monitor.
type Keyspace struct {
	opts *options.Options
	log  *zap.SugaredLogger

	closed atomic.Bool

	seqno       *value.SeqnoCounter
	journal     *journal.Manager
	descriptors *descriptor.Table
	blocks      *blockcache.Cache
	tracker     *snapshot.Tracker
	oracle      *tx.Oracle
	flushMgr    *flush.Manager
	flushPool   *flush.Pool
	mon         *monitor.Monitor
	strategy    compaction.Strategy

	writeBufferSize atomic.Uint64

	// flushRunMu serializes whole flush passes: a pass peeks a partition's
	// oldest immutable memtable, flushes it, and only then removes it, so
	// two overlapping passes could otherwise flush the same memtable twice.
	flushRunMu sync.Mutex

	mu         sync.RWMutex
	partitions map[string]*Partition

	segmentsRoot string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates (or reopens) a keyspace rooted at cfg.Options.DataDir,
// recovering every existing partition's segments and replaying its journal
// before starting the background monitor, flush, and compaction loops.
func Open(ctx context.Context, cfg Config) (*Keyspace, error) {
	opts := cfg.Options
	if err := filesys.CreateDir(opts.DataDir, 0755, true); err != nil {
		return nil, err
	}

	journalDir := filepath.Join(opts.DataDir, "journal")
	journalMgr, err := journal.Open(journal.Config{
		Dir:            journalDir,
		MaxSegmentSize: opts.MaxJournalingSizeBytes / 4,
	})
	if err != nil {
		return nil, err
	}

	ks := &Keyspace{
		opts:         opts,
		log:          cfg.Logger,
		seqno:        value.NewSeqnoCounter(0),
		journal:      journalMgr,
		descriptors:  descriptor.New(int(opts.DescriptorTableLimit), descriptorPoolSize),
		blocks:       blockcache.New(int(opts.BlockCacheSize)),
		tracker:      snapshot.New(snapshot.DefaultSafetyGap),
		flushMgr:     flush.NewManager(),
		partitions:   make(map[string]*Partition),
		segmentsRoot: filepath.Join(opts.DataDir, opts.SegmentOptions.Directory),
	}
	ks.oracle = tx.New(ks.seqno, ks.tracker)
	ks.strategy = newStrategy(opts.CompactionStrategy, cfg.Logger)

	writerOpts := segment.WriterOptions{BlockSize: opts.SegmentOptions.BlockSize}
	ks.flushPool = flush.NewPool(ks.flushMgr, int(opts.FlushThreads), writerOpts)

	ks.mon = monitor.New(monitor.Config{
		MaxJournalingSizeBytes:  opts.MaxJournalingSizeBytes,
		MaxWriteBufferSizeBytes: opts.MaxWriteBufferSizeBytes,
		Journal:                 journalAdapter{mgr: journalMgr, ks: ks},
		Flush:                   ks.flushMgr,
		Partitions:              partitionSourceAdapter{ks: ks},
		WriteBufferSize:         &ks.writeBufferSize,
		Logger:                  cfg.Logger,
	})

	if err := ks.recover(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	ks.cancel = cancel
	ks.startBackgroundLoops(runCtx)

	return ks, nil
}

// newStrategy resolves a compaction.Strategy from the configured kind.
// Leveled compaction is not implemented yet, so requesting it falls back to
// size-tiered with a warning rather than silently no-op'ing.
func newStrategy(kind options.CompactionStrategyKind, log *zap.SugaredLogger) compaction.Strategy {
	if kind == options.CompactionStrategyLeveled {
		log.Warnw("engine: leveled compaction strategy requested but not implemented, falling back to size-tiered", "requested", kind)
	}
	return compaction.NewSizeTiered(0)
}

// startBackgroundLoops launches the monitor, flush, and compaction workers.
// They are stopped by cancelling ctx in Close, which waits for all three to
// return before Close itself returns — shutdown waits for in-flight work,
// it never hard-cancels it.
func (ks *Keyspace) startBackgroundLoops(ctx context.Context) {
	ks.wg.Add(3)
	go ks.monitorLoop(ctx)
	go ks.flushLoop(ctx)
	go ks.compactionLoop(ctx)
}

func (ks *Keyspace) monitorLoop(ctx context.Context) {
	defer ks.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ks.mon.Run()
		}
	}
}

func (ks *Keyspace) flushLoop(ctx context.Context) {
	defer ks.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ks.runFlushes()
		}
	}
}

// runFlushes enqueues any partition whose immutable queue has work and
// drains the flush pool once, installing resulting segments into each
// partition's L0 and releasing the partitions' journal pin once their
// segment is durable.
func (ks *Keyspace) runFlushes() {
	ks.flushRunMu.Lock()
	defer ks.flushRunMu.Unlock()

	ks.mu.RLock()
	partitions := make([]*Partition, 0, len(ks.partitions))
	for _, p := range ks.partitions {
		partitions = append(partitions, p)
	}
	ks.mu.RUnlock()

	for _, p := range partitions {
		mt, size, ok := p.oldestImmutable()
		if !ok {
			continue
		}
		// The memtable stays on the partition's immutable queue (and in the
		// read-set) while it is being flushed; only installFlushed removes
		// it, atomically with the L0 install.
		ks.flushMgr.Enqueue(flush.Task{
			Partition:  p.name,
			Memtable:   mt,
			SegmentDir: p.levelDir(0),
			QueuedSize: size,
		})
	}

	for _, result := range ks.flushPool.RunOnce() {
		if result.Err != nil {
			// The memtable is still on the partition's immutable queue; the
			// next pass retries it. Its bytes also stay charged against the
			// write-buffer budget so the monitor keeps applying backpressure
			// until the retry succeeds.
			ks.log.Errorw("engine: flush failed, will retry", "partition", result.Task.Partition, "error", result.Err)
			continue
		}
		if p, ok := ks.GetPartition(result.Task.Partition); ok {
			p.installFlushed(result.Segments, result.Task.Memtable)
		}
		ks.writeBufferSize.Add(^(result.Task.QueuedSize - 1)) // atomic subtract
		ks.journal.Release(result.Task.Partition)
	}

	if err := ks.journal.Prune(); err != nil {
		ks.log.Errorw("engine: journal prune failed", "error", err)
	}
}

func (ks *Keyspace) compactionLoop(ctx context.Context) {
	defer ks.wg.Done()
	ticker := time.NewTicker(ks.opts.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ks.runCompaction()
		}
	}
}

// runCompaction asks the configured strategy for a plan per partition and,
// if one is returned, merges the named source-level segments into a fresh
// run at the destination level.
func (ks *Keyspace) runCompaction() {
	ks.mu.RLock()
	partitions := make([]*Partition, 0, len(ks.partitions))
	for _, p := range ks.partitions {
		partitions = append(partitions, p)
	}
	ks.mu.RUnlock()

	for _, p := range partitions {
		plan := ks.strategy.Choose(levelManifest{partition: p})
		if plan == nil {
			continue
		}
		if err := ks.compactPartition(p, plan); err != nil {
			ks.log.Errorw("engine: compaction failed", "partition", p.name, "error", err)
		}
	}
}

func (ks *Keyspace) compactPartition(p *Partition, plan *compaction.Plan) error {
	p.mu.RLock()
	sources := p.levels[plan.SourceLevel]
	toCompact := make([]*segment.Metadata, 0, len(plan.SegmentIDs))
	wanted := make(map[string]struct{}, len(plan.SegmentIDs))
	for _, id := range plan.SegmentIDs {
		wanted[id] = struct{}{}
	}
	for _, s := range sources {
		if _, match := wanted[s.ID]; match {
			toCompact = append(toCompact, s)
		}
	}
	p.mu.RUnlock()

	// Source segments stay registered in their level — and therefore visible
	// to reads — until the merged run is fully written, so a Get running
	// concurrently with compaction never sees a window with neither the old
	// nor the new segments for a key.
	mw, err := segment.NewMultiWriter(p.levelDir(plan.DestLevel), segment.MultiWriterOptions{
		Writer:     segment.WriterOptions{BlockSize: ks.opts.SegmentOptions.BlockSize, EvictTombstones: plan.EvictTombstones},
		TargetSize: ks.opts.SegmentOptions.TargetSize,
	})
	if err != nil {
		return err
	}

	// Source segments (L0 especially) may overlap in key range, so their
	// items are collected and re-sorted by internal-key order before being
	// streamed into the writer: the writer's input must be one globally
	// sorted run.
	var items []value.Value
	for _, meta := range toCompact {
		guard, err := ks.descriptors.Access(meta.ID)
		if err != nil {
			return err
		}
		reader, err := segment.OpenReaderWithFile(meta.Path, guard.File())
		if err != nil {
			guard.Release()
			return err
		}
		err = reader.All(func(v value.Value) error {
			items = append(items, v)
			return nil
		})
		reader.Close()
		guard.Release()
		if err != nil {
			return err
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a := value.NewParsedInternalKey(items[i].Key, items[i].SeqNo, items[i].Type)
		b := value.NewParsedInternalKey(items[j].Key, items[j].SeqNo, items[j].Type)
		return value.Compare(a, b) < 0
	})

	for _, v := range items {
		if err := mw.Write(v); err != nil {
			return err
		}
	}

	merged, err := mw.Finish()
	if err != nil {
		return err
	}

	// Install the merged run and drop the compacted sources from the level
	// in one critical section: a reader taking p.mu between these never
	// observes a level missing both the old and the new segments for a key.
	p.mu.Lock()
	remaining := p.levels[plan.SourceLevel][:0:0]
	for _, s := range p.levels[plan.SourceLevel] {
		if _, match := wanted[s.ID]; !match {
			remaining = append(remaining, s)
		}
	}
	p.levels[plan.SourceLevel] = remaining
	for _, m := range merged {
		ks.descriptors.Insert(filepath.Join(m.Path, "blocks"), m.ID)
		p.levels[plan.DestLevel] = append(p.levels[plan.DestLevel], m)
	}
	p.mu.Unlock()

	for _, meta := range toCompact {
		ks.descriptors.Remove(meta.ID)
		ks.blocks.DropSegment(meta.ID)
		if err := filesys.DeleteDir(meta.Path); err != nil {
			ks.log.Warnw("engine: failed to remove compacted segment directory", "path", meta.Path, "error", err)
		}
	}
	return nil
}

// CreatePartition creates (or returns, if already present) the named
// partition, including its on-disk level directories.
func (ks *Keyspace) CreatePartition(name string) (*Partition, error) {
	if ks.closed.Load() {
		return nil, ErrKeyspaceClosed
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if p, ok := ks.partitions[name]; ok {
		return p, nil
	}

	segDir := filepath.Join(ks.segmentsRoot, name)
	p := newPartition(name, segDir, ks.opts.MaxMemtableSize, ks.opts.Levels, ks.descriptors, ks.blocks)
	for level := 0; level < int(ks.opts.Levels); level++ {
		if err := filesys.CreateDir(p.levelDir(level), 0755, true); err != nil {
			return nil, err
		}
	}

	ks.partitions[name] = p
	return p, nil
}

// GetPartition returns the named partition if it has been created.
func (ks *Keyspace) GetPartition(name string) (*Partition, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	p, ok := ks.partitions[name]
	return p, ok
}

// Write durably appends a live value to partitionName's journal and active
// memtable, creating the partition on first use.
func (ks *Keyspace) Write(partitionName string, key value.UserKey, val value.UserValue) (value.SeqNo, error) {
	return ks.write(partitionName, key, val, value.TypeValue)
}

// Delete durably appends a tombstone for key to partitionName.
func (ks *Keyspace) Delete(partitionName string, key value.UserKey) (value.SeqNo, error) {
	return ks.write(partitionName, key, nil, value.TypeTombstone)
}

func (ks *Keyspace) write(partitionName string, key value.UserKey, val value.UserValue, t value.ValueType) (value.SeqNo, error) {
	if ks.closed.Load() {
		return 0, ErrKeyspaceClosed
	}

	p, ok := ks.GetPartition(partitionName)
	if !ok {
		var err error
		if p, err = ks.CreatePartition(partitionName); err != nil {
			return 0, err
		}
	}

	seqno := ks.seqno.Next()
	if _, err := ks.journal.Append(journal.Record{
		Partition: partitionName,
		SeqNo:     seqno,
		Type:      t,
		Key:       key,
		Value:     val,
	}); err != nil {
		return 0, err
	}

	v := value.NewValue(key, val, seqno, t)
	p.Insert(v)
	ks.writeBufferSize.Add(uint64(v.Size()))
	if p.ActiveMemtableSize() > uint64(ks.opts.MaxMemtableSize) {
		// RotateMemtable never fails; the frozen memtable is picked up by
		// the next flush pass.
		_, _ = p.RotateMemtable()
	}
	return seqno, nil
}

// Get resolves the newest visible value for key in partitionName, outside
// any transaction.
func (ks *Keyspace) Get(partitionName string, key value.UserKey) (value.UserValue, bool, error) {
	if ks.closed.Load() {
		return nil, false, ErrKeyspaceClosed
	}
	p, ok := ks.GetPartition(partitionName)
	if !ok {
		return nil, false, nil
	}
	v, ok, err := p.Get(key, nil)
	if err != nil || !ok {
		return nil, ok, err
	}
	return v.UserValue, true, nil
}

// Close stops the background monitor, flush, and compaction loops, waits
// for them to return, and closes the journal and descriptor table. Every
// subsystem may fail to close; the errors are combined via
// go.uber.org/multierr rather than dropped.
func (ks *Keyspace) Close() error {
	if !ks.closed.CompareAndSwap(false, true) {
		return ErrKeyspaceClosed
	}

	ks.cancel()
	ks.wg.Wait()

	var err error
	err = multierr.Append(err, ks.journal.Close())
	ks.descriptors.Clear()
	return err
}

// journalAdapter satisfies internal/monitor.JournalManager, translating
// journal.Manager's partition-name view into the monitor.Partition handles
// it expects.
type journalAdapter struct {
	mgr *journal.Manager
	ks  *Keyspace
}

func (j journalAdapter) DiskSpaceUsed() uint64 { return j.mgr.DiskSpaceUsed() }

func (j journalAdapter) PartitionsToFlushForOldestJournalEviction() []monitor.Partition {
	names := j.mgr.PartitionsPinningOldestSegment()
	j.ks.mu.RLock()
	defer j.ks.mu.RUnlock()

	out := make([]monitor.Partition, 0, len(names))
	for _, name := range names {
		if p, ok := j.ks.partitions[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// partitionSourceAdapter satisfies internal/monitor.PartitionSource.
type partitionSourceAdapter struct {
	ks *Keyspace
}

func (a partitionSourceAdapter) Partitions() []monitor.Partition {
	a.ks.mu.RLock()
	defer a.ks.mu.RUnlock()

	out := make([]monitor.Partition, 0, len(a.ks.partitions))
	for _, p := range a.ks.partitions {
		out = append(out, p)
	}
	return out
}
