package monitor

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePartition struct {
	name     string
	size     uint64
	rotates  int
	rotateOK bool
}

func (p *fakePartition) Name() string               { return p.name }
func (p *fakePartition) ActiveMemtableSize() uint64 { return p.size }
func (p *fakePartition) RotateMemtable() (bool, error) {
	p.rotates++
	return p.rotateOK, nil
}

type fakeJournal struct {
	used    uint64
	pinning []Partition
}

func (j *fakeJournal) DiskSpaceUsed() uint64 { return j.used }
func (j *fakeJournal) PartitionsToFlushForOldestJournalEviction() []Partition {
	return j.pinning
}

type fakeFlush struct {
	queued     map[string]struct{}
	queuedSize uint64
}

func (f *fakeFlush) PartitionsWithTasks() map[string]struct{} {
	if f.queued == nil {
		return map[string]struct{}{}
	}
	return f.queued
}
func (f *fakeFlush) QueuedSize() uint64 { return f.queuedSize }

type fakeSource struct {
	partitions []Partition
}

func (s *fakeSource) Partitions() []Partition {
	return append([]Partition(nil), s.partitions...)
}

func newTestMonitor(journal *fakeJournal, flush *fakeFlush, source *fakeSource, bufferUsed uint64) *Monitor {
	var buf atomic.Uint64
	buf.Store(bufferUsed)
	return New(Config{
		MaxJournalingSizeBytes:  1000,
		MaxWriteBufferSizeBytes: 1000,
		Journal:                 journal,
		Flush:                   flush,
		Partitions:              source,
		WriteBufferSize:         &buf,
		Logger:                  zap.NewNop().Sugar(),
	})
}

func TestMonitorIdleWhenUnderThresholds(t *testing.T) {
	p := &fakePartition{name: "p", size: 100, rotateOK: true}
	m := newTestMonitor(
		&fakeJournal{used: 400, pinning: []Partition{p}},
		&fakeFlush{},
		&fakeSource{partitions: []Partition{p}},
		100,
	)

	require.True(t, m.Run())
	require.Zero(t, p.rotates)
}

// Journal pressure rotates only the partitions pinning the oldest journal
// segment.
func TestMonitorJournalPressureRotatesPinningPartitions(t *testing.T) {
	pOld := &fakePartition{name: "p-old", size: 50, rotateOK: true}
	pNew := &fakePartition{name: "p-new", size: 500, rotateOK: true}

	m := newTestMonitor(
		&fakeJournal{used: 600, pinning: []Partition{pOld}},
		&fakeFlush{},
		&fakeSource{partitions: []Partition{pOld, pNew}},
		100, // write buffer under threshold: only the journal pass fires
	)

	require.False(t, m.Run())
	require.Equal(t, 1, pOld.rotates)
	require.Zero(t, pNew.rotates)
}

func TestMonitorJournalPressureSkipsQueuedPartitions(t *testing.T) {
	pQueued := &fakePartition{name: "queued", rotateOK: true}
	pFree := &fakePartition{name: "free", rotateOK: true}

	m := newTestMonitor(
		&fakeJournal{used: 600, pinning: []Partition{pQueued, pFree}},
		&fakeFlush{queued: map[string]struct{}{"queued": {}}},
		&fakeSource{partitions: []Partition{pQueued, pFree}},
		0,
	)

	require.False(t, m.Run())
	require.Zero(t, pQueued.rotates)
	require.Equal(t, 1, pFree.rotates)
}

// Write-buffer pressure walks partitions largest-first and stops at the
// first rotation that actually happens.
func TestMonitorWriteBufferPressureStopsAtFirstRotation(t *testing.T) {
	biggestButEmpty := &fakePartition{name: "big-empty", size: 300, rotateOK: false}
	middle := &fakePartition{name: "middle", size: 200, rotateOK: true}
	smallest := &fakePartition{name: "small", size: 100, rotateOK: true}

	m := newTestMonitor(
		&fakeJournal{used: 0},
		&fakeFlush{},
		&fakeSource{partitions: []Partition{smallest, biggestButEmpty, middle}},
		600,
	)

	require.False(t, m.Run())
	require.Equal(t, 1, biggestButEmpty.rotates) // tried first, reported empty
	require.Equal(t, 1, middle.rotates)          // rotated; loop stops here
	require.Zero(t, smallest.rotates)
}

func TestMonitorWriteBufferPressureSkipsQueuedPartition(t *testing.T) {
	queued := &fakePartition{name: "queued", size: 900, rotateOK: true}
	other := &fakePartition{name: "other", size: 100, rotateOK: true}

	m := newTestMonitor(
		&fakeJournal{used: 0},
		&fakeFlush{queued: map[string]struct{}{"queued": {}}, queuedSize: 100},
		&fakeSource{partitions: []Partition{queued, other}},
		1000, // residual after queued subtraction is 900, still over threshold
	)

	require.False(t, m.Run())
	require.Zero(t, queued.rotates)
	require.Equal(t, 1, other.rotates)
}
