// Package monitor implements the cooperative, periodic backpressure task
// that rotates memtables when journal or write-buffer pressure crosses
// configured thresholds. It is not a background goroutine itself — callers
// invoke Run on a cadence and use the returned idle flag to pace sleeps.
package monitor

import (
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
)

// Partition is the subset of partition behavior the monitor needs: a name
// for dedup against the flush queue, the current active memtable's
// approximate size for sort-by-size, and the ability to rotate it out.
type Partition interface {
	Name() string
	ActiveMemtableSize() uint64
	// RotateMemtable freezes the active memtable if non-empty, returning
	// whether a rotation actually happened.
	RotateMemtable() (bool, error)
}

// JournalManager is the subset of journal behavior the monitor needs.
type JournalManager interface {
	DiskSpaceUsed() uint64
	// PartitionsToFlushForOldestJournalEviction returns the partitions
	// whose memtables must be rotated to let the oldest journal segment be
	// released.
	PartitionsToFlushForOldestJournalEviction() []Partition
}

// FlushManager is the subset of flush-manager behavior the monitor needs.
type FlushManager interface {
	// PartitionsWithTasks returns the set of partition names already
	// queued for flush, so the monitor never double-queues one.
	PartitionsWithTasks() map[string]struct{}
	QueuedSize() uint64
}

// PartitionSource supplies the full current partition set for the
// write-buffer pressure pass.
type PartitionSource interface {
	Partitions() []Partition
}

// Config bundles the thresholds and collaborators a Monitor needs.
type Config struct {
	MaxJournalingSizeBytes  uint64
	MaxWriteBufferSizeBytes uint64
	Journal                 JournalManager
	Flush                   FlushManager
	Partitions              PartitionSource
	WriteBufferSize         *atomic.Uint64
	Logger                  *zap.SugaredLogger
}

// Monitor applies backpressure by rotating memtables once journal or
// write-buffer usage crosses 50% of its configured budget.
type Monitor struct {
	cfg Config
}

// New creates a Monitor over cfg.
func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg}
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Run executes one pass of the two-phase backpressure algorithm and
// reports whether it found nothing to do (idle).
func (m *Monitor) Run() bool {
	idle := true

	if m.runJournalPressurePass() {
		idle = false
	}
	if m.runWriteBufferPressurePass() {
		idle = false
	}

	return idle
}

func (m *Monitor) runJournalPressurePass() bool {
	size := m.cfg.Journal.DiskSpaceUsed()
	if float64(size) <= float64(m.cfg.MaxJournalingSizeBytes)*0.5 {
		return false
	}

	m.cfg.Logger.Debugw("monitor: journal usage past 50% threshold, rotating pinning partitions", "diskSpaceUsed", size)

	candidates := m.cfg.Journal.PartitionsToFlushForOldestJournalEviction()
	queued := m.cfg.Flush.PartitionsWithTasks()

	for _, p := range candidates {
		if _, alreadyQueued := queued[p.Name()]; alreadyQueued {
			continue
		}
		m.cfg.Logger.Debugw("monitor: rotating partition for journal pressure", "partition", p.Name())
		if _, err := p.RotateMemtable(); err != nil {
			m.cfg.Logger.Errorw("monitor: memtable rotation failed", "partition", p.Name(), "error", err)
		}
	}

	return true
}

func (m *Monitor) runWriteBufferPressurePass() bool {
	writeBufferSize := m.cfg.WriteBufferSize.Load()
	queuedSize := m.cfg.Flush.QueuedSize()

	// This should never happen — queued bytes can't exceed total active
	// write-buffer bytes. saturatingSub is the defensive fallback in case
	// it ever does.
	if queuedSize >= writeBufferSize {
		m.cfg.Logger.Debugw("monitor: queued_size >= write_buffer_size, this is a bug", "queuedSize", queuedSize, "writeBufferSize", writeBufferSize)
	}
	residual := saturatingSub(writeBufferSize, queuedSize)

	if float64(residual) <= float64(m.cfg.MaxWriteBufferSizeBytes)*0.5 {
		return false
	}

	m.cfg.Logger.Debugw("monitor: write buffer past 50% threshold, rotating largest inactive partition", "residual", residual)

	partitions := m.cfg.Partitions.Partitions()
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].ActiveMemtableSize() > partitions[j].ActiveMemtableSize()
	})

	queued := m.cfg.Flush.PartitionsWithTasks()

	for _, p := range partitions {
		if _, alreadyQueued := queued[p.Name()]; alreadyQueued {
			continue
		}

		rotated, err := p.RotateMemtable()
		if err != nil {
			m.cfg.Logger.Errorw("monitor: memtable rotation failed", "partition", p.Name(), "error", err)
			continue
		}
		if rotated {
			m.cfg.Logger.Debugw("monitor: rotated partition for write-buffer pressure", "partition", p.Name())
			break
		}
	}

	return true
}
