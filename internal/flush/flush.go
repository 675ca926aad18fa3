// Package flush implements the flush manager and worker pool that bridge a
// frozen (immutable) memtable to a new on-disk segment: a small pool of
// flush workers (configurable, default 4) and the queue the monitor
// consults so it never double-queues a partition.
package flush

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/iamNilotpal/ignitekv/internal/memtable"
	"github.com/iamNilotpal/ignitekv/internal/segment"
)

// Task describes one immutable memtable waiting to be serialized into a
// segment. QueuedSize is the memtable's ApproximateSize captured at freeze
// time: the shared write-buffer counter must be decremented by exactly the
// captured amount on flush completion, which is why it travels with the
// task rather than being re-read from the (by then possibly
// already-dropped) memtable.
type Task struct {
	Partition  string
	Memtable   *memtable.MemTable
	SegmentDir string
	QueuedSize uint64
}

// Manager tracks which partitions have a flush queued or in flight (so the
// monitor never double-queues one) and the running total of bytes queued
// for flush (so the monitor can compute the write-buffer residual).
type Manager struct {
	mu         sync.Mutex
	tasks      map[string]Task // enqueued, not yet claimed by a batch
	inFlight   map[string]Task // claimed by a RunOnce batch, not yet complete
	queuedSize atomic.Uint64
}

// NewManager creates an empty flush manager.
func NewManager() *Manager {
	return &Manager{tasks: make(map[string]Task), inFlight: make(map[string]Task)}
}

// Enqueue registers t for flushing. It returns false without modifying
// state if partition t.Partition already has a task queued or in flight —
// the caller must treat that as "already being handled."
func (m *Manager) Enqueue(t Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, queued := m.tasks[t.Partition]; queued {
		return false
	}
	if _, running := m.inFlight[t.Partition]; running {
		return false
	}
	m.tasks[t.Partition] = t
	m.queuedSize.Add(t.QueuedSize)
	return true
}

// Complete removes partition's queued or in-flight task and subtracts its
// captured size from the running total. Called for both successful and
// failed flush attempts: either way the task is no longer this manager's.
// On failure the memtable is still sitting on its partition's immutable
// queue (the flush path only removes it on successful install), so a later
// pass re-enqueues and retries it rather than losing its data.
func (m *Manager) Complete(partition string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.inFlight[partition]
	if ok {
		delete(m.inFlight, partition)
	} else if t, ok = m.tasks[partition]; ok {
		delete(m.tasks, partition)
	} else {
		return
	}
	m.queuedSize.Add(^(t.QueuedSize - 1)) // atomic subtract: Add(-t.QueuedSize)
}

// PartitionsWithTasks returns the set of partition names currently queued
// for flush, satisfying internal/monitor.FlushManager.
func (m *Manager) PartitionsWithTasks() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]struct{}, len(m.tasks)+len(m.inFlight))
	for name := range m.tasks {
		out[name] = struct{}{}
	}
	for name := range m.inFlight {
		out[name] = struct{}{}
	}
	return out
}

// QueuedSize returns the total bytes currently queued for flush, satisfying
// internal/monitor.FlushManager.
func (m *Manager) QueuedSize() uint64 {
	return m.queuedSize.Load()
}

// drain claims every currently queued task, moving it into the in-flight
// set so a concurrent batch cannot claim it again, while Enqueue keeps
// deduplicating against it until Complete is called per task.
func (m *Manager) drain() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tasks) == 0 {
		return nil
	}
	out := make([]Task, 0, len(m.tasks))
	for name, t := range m.tasks {
		out = append(out, t)
		m.inFlight[name] = t
		delete(m.tasks, name)
	}
	return out
}

// Result is what one flush worker produces for a completed task.
type Result struct {
	Task     Task
	Segments []*segment.Metadata
	Err      error
}

// Pool is the bounded flush worker pool: a small number of goroutines
// (default 4) that drain the manager's queue and serialize each frozen
// memtable into a new segment via segment.Writer.
type Pool struct {
	manager     *Manager
	concurrency int
	writerOpts  segment.WriterOptions
}

// NewPool creates a flush worker pool of the given concurrency draining mgr.
func NewPool(mgr *Manager, concurrency int, writerOpts segment.WriterOptions) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{manager: mgr, concurrency: concurrency, writerOpts: writerOpts}
}

// RunOnce drains every task currently queued and flushes each to a new
// segment, fanning out across the pool's concurrency limit via
// golang.org/x/sync/errgroup. It returns one Result per task, in
// unspecified order, once every task in this batch has been attempted.
// Tasks enqueued after RunOnce starts draining are left for the next call.
// There is no cancellation: an in-flight flush always runs to completion,
// and shutdown waits for it.
func (p *Pool) RunOnce() []Result {
	tasks := p.manager.drain()
	if len(tasks) == 0 {
		return nil
	}

	results := make([]Result, len(tasks))
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			metas, err := p.flushOne(t)
			results[i] = Result{Task: t, Segments: metas, Err: err}
			// Flush failures are per-task and don't cancel siblings: the
			// failed memtable stays in its partition's immutable queue and
			// is enqueued again on a later flush pass.
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		p.manager.Complete(r.Task.Partition)
	}
	return results
}

// flushOne serializes every entry in t.Memtable into a fresh segment run
// under t.SegmentDir via a MultiWriter, in ascending (key, descending
// seqno) order — exactly the order the memtable's skiplist already
// iterates in, so no sort is needed.
func (p *Pool) flushOne(t Task) ([]*segment.Metadata, error) {
	mw, err := segment.NewMultiWriter(t.SegmentDir, segment.MultiWriterOptions{
		Writer:     p.writerOpts,
		TargetSize: ^uint64(0), // a flush never rotates mid-memtable; one run per flush
	})
	if err != nil {
		return nil, err
	}

	next := t.Memtable.SeekPrefix(nil)
	for {
		v, ok := next()
		if !ok {
			break
		}
		if err := mw.Write(v); err != nil {
			return nil, err
		}
	}

	return mw.Finish()
}
