package flush

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/ignitekv/internal/memtable"
	"github.com/iamNilotpal/ignitekv/internal/segment"
	"github.com/iamNilotpal/ignitekv/internal/value"
)

func newTestMemtable(t *testing.T, n int) *memtable.MemTable {
	t.Helper()
	mt := memtable.New(1 << 20)
	for i := 0; i < n; i++ {
		mt.Insert(value.NewValue(
			[]byte(fmt.Sprintf("key-%04d", i)),
			[]byte(fmt.Sprintf("value-%04d", i)),
			value.SeqNo(i+1),
			value.TypeValue,
		))
	}
	return mt
}

func TestManagerDeduplicatesPartitions(t *testing.T) {
	mgr := NewManager()
	mt := newTestMemtable(t, 1)

	require.True(t, mgr.Enqueue(Task{Partition: "p", Memtable: mt, QueuedSize: 100}))
	require.False(t, mgr.Enqueue(Task{Partition: "p", Memtable: mt, QueuedSize: 50}))
	require.EqualValues(t, 100, mgr.QueuedSize())

	queued := mgr.PartitionsWithTasks()
	require.Contains(t, queued, "p")
	require.Len(t, queued, 1)

	mgr.Complete("p")
	require.Zero(t, mgr.QueuedSize())
	require.Empty(t, mgr.PartitionsWithTasks())

	// Completing an already-completed partition must not underflow.
	mgr.Complete("p")
	require.Zero(t, mgr.QueuedSize())
}

func TestPoolFlushesMemtableToSegment(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager()
	pool := NewPool(mgr, 2, segment.WriterOptions{BlockSize: 1024})

	mt := newTestMemtable(t, 200)
	require.True(t, mgr.Enqueue(Task{
		Partition:  "users",
		Memtable:   mt,
		SegmentDir: dir,
		QueuedSize: uint64(mt.ApproximateSize()),
	}))

	results := pool.RunOnce()
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotEmpty(t, results[0].Segments)

	// The task is complete: queue empty, queued bytes released.
	require.Zero(t, mgr.QueuedSize())
	require.Empty(t, mgr.PartitionsWithTasks())

	var count uint64
	for _, meta := range results[0].Segments {
		r, err := segment.OpenReader(meta.Path)
		require.NoError(t, err)
		require.NoError(t, r.All(func(value.Value) error {
			count++
			return nil
		}))
		require.NoError(t, r.Close())
	}
	require.EqualValues(t, 200, count)
}

func TestPoolRunOnceEmptyQueue(t *testing.T) {
	pool := NewPool(NewManager(), 4, segment.WriterOptions{BlockSize: 1024})
	require.Nil(t, pool.RunOnce())
}

func TestPoolFlushesMultiplePartitionsConcurrently(t *testing.T) {
	mgr := NewManager()
	pool := NewPool(mgr, 4, segment.WriterOptions{BlockSize: 1024})

	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("partition-%d", i)
		mt := newTestMemtable(t, 50)
		require.True(t, mgr.Enqueue(Task{
			Partition:  name,
			Memtable:   mt,
			SegmentDir: t.TempDir(),
			QueuedSize: uint64(mt.ApproximateSize()),
		}))
	}

	results := pool.RunOnce()
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Err)
		require.NotEmpty(t, r.Segments)
	}
	require.Empty(t, mgr.PartitionsWithTasks())
}
