package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/ignitekv/internal/tx"
	"github.com/iamNilotpal/ignitekv/internal/value"
	"github.com/iamNilotpal/ignitekv/pkg/options"
)

func openTestKeyspace(t *testing.T, dir string) *Keyspace {
	t.Helper()

	opts := options.NewDefaultOptions()
	options.WithDataDir(dir)(&opts)
	options.WithMaxMemtableSize(1 << 20)(&opts)

	ks, err := Open(context.Background(), Config{
		Options: &opts,
		Logger:  zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return ks
}

func TestKeyspaceWriteGetDelete(t *testing.T) {
	ks := openTestKeyspace(t, t.TempDir())
	defer ks.Close()

	seqno, err := ks.Write("users", []byte("alice"), []byte("a1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, seqno)

	got, ok, err := ks.Get("users", []byte("alice"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("a1"), got)

	// A newer write shadows the old version.
	_, err = ks.Write("users", []byte("alice"), []byte("a2"))
	require.NoError(t, err)
	got, ok, err = ks.Get("users", []byte("alice"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("a2"), got)

	// A tombstone hides the key.
	_, err = ks.Delete("users", []byte("alice"))
	require.NoError(t, err)
	_, ok, err = ks.Get("users", []byte("alice"))
	require.NoError(t, err)
	require.False(t, ok)

	// Partitions are independent trees under the shared keyspace.
	_, ok, err = ks.Get("events", []byte("alice"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeyspaceFlushToSegmentAndReadBack(t *testing.T) {
	ks := openTestKeyspace(t, t.TempDir())
	defer ks.Close()

	for i := 0; i < 100; i++ {
		_, err := ks.Write("users", []byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("val-%04d", i)))
		require.NoError(t, err)
	}

	p, ok := ks.GetPartition("users")
	require.True(t, ok)

	rotated, err := p.RotateMemtable()
	require.NoError(t, err)
	require.True(t, rotated)

	ks.runFlushes()

	// Every byte the memtable held has been accounted back out of the
	// shared write-buffer counter once its segment was installed.
	require.Zero(t, ks.writeBufferSize.Load())

	p.mu.RLock()
	l0 := len(p.levels[0])
	immutables := len(p.immutable)
	p.mu.RUnlock()
	require.NotZero(t, l0)
	require.Zero(t, immutables)

	// Reads are now served from the flushed segment.
	for i := 0; i < 100; i++ {
		got, ok, err := ks.Get("users", []byte(fmt.Sprintf("key-%04d", i)))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, value.UserValue(fmt.Sprintf("val-%04d", i)), got)
	}
}

func TestKeyspaceRecoversFromJournalAndSegments(t *testing.T) {
	dir := t.TempDir()

	ks := openTestKeyspace(t, dir)
	for i := 0; i < 20; i++ {
		_, err := ks.Write("users", []byte(fmt.Sprintf("seg-%02d", i)), []byte("flushed"))
		require.NoError(t, err)
	}
	p, _ := ks.GetPartition("users")
	rotated, err := p.RotateMemtable()
	require.NoError(t, err)
	require.True(t, rotated)
	ks.runFlushes()

	// These stay in the journal only: no rotation before close.
	_, err = ks.Write("users", []byte("journal-only"), []byte("replayed"))
	require.NoError(t, err)
	lastSeqno, err := ks.Write("events", []byte("e1"), []byte("replayed-too"))
	require.NoError(t, err)
	require.NoError(t, ks.Close())

	reopened := openTestKeyspace(t, dir)
	defer reopened.Close()

	got, ok, err := reopened.Get("users", []byte("seg-00"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("flushed"), got)

	got, ok, err = reopened.Get("users", []byte("journal-only"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("replayed"), got)

	got, ok, err = reopened.Get("events", []byte("e1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("replayed-too"), got)

	// The shared counter resumes one past the highest replayed seqno, so
	// the first post-recovery write can never collide with a recovered one.
	seqno, err := reopened.Write("users", []byte("fresh"), []byte("v"))
	require.NoError(t, err)
	require.Equal(t, lastSeqno+1, seqno)
}

// Serializable conflict: tx2 began before tx1 committed, read a key tx1
// wrote, and must therefore be rejected at commit.
func TestTxnSerializableConflict(t *testing.T) {
	ks := openTestKeyspace(t, t.TempDir())
	defer ks.Close()

	tx2 := ks.BeginTxn()
	tx1 := ks.BeginTxn()

	tx1.Set("users", []byte("hello"), []byte("world"))
	outcome, err := tx1.Commit()
	require.NoError(t, err)
	require.Equal(t, tx.Ok, outcome)

	_, ok, err := tx2.Get("users", []byte("hello"))
	require.NoError(t, err)
	require.False(t, ok) // tx2's snapshot predates tx1's commit

	tx2.Set("users", []byte("hello"), []byte("world2"))
	outcome, err = tx2.Commit()
	require.NoError(t, err)
	require.Equal(t, tx.Conflicted, outcome)

	// The conflicted transaction's write never became visible.
	got, ok, err := ks.Get("users", []byte("hello"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("world"), got)
}

func TestTxnReadYourWritesAndRollback(t *testing.T) {
	ks := openTestKeyspace(t, t.TempDir())
	defer ks.Close()

	_, err := ks.Write("users", []byte("k"), []byte("committed"))
	require.NoError(t, err)

	txn := ks.BeginTxn()

	got, ok, err := txn.Get("users", []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("committed"), got)

	txn.Set("users", []byte("k"), []byte("buffered"))
	got, ok, err = txn.Get("users", []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("buffered"), got)

	txn.Delete("users", []byte("k"))
	_, ok, err = txn.Get("users", []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)

	txn.Rollback()

	// Nothing the transaction buffered ever reached the partition.
	got, ok, err = ks.Get("users", []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("committed"), got)

	// Committing after rollback is rejected.
	outcome, err := txn.Commit()
	require.Error(t, err)
	require.Equal(t, tx.Aborted, outcome)
}

func TestTxnCommitIsDurablyReadable(t *testing.T) {
	dir := t.TempDir()
	ks := openTestKeyspace(t, dir)

	txn := ks.BeginTxn()
	txn.Set("users", []byte("a"), []byte("1"))
	txn.Set("events", []byte("b"), []byte("2"))
	outcome, err := txn.Commit()
	require.NoError(t, err)
	require.Equal(t, tx.Ok, outcome)

	got, ok, err := ks.Get("users", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("1"), got)
	require.NoError(t, ks.Close())

	// The committed writes went through the journal, so they survive a
	// reopen even though no flush ever ran.
	reopened := openTestKeyspace(t, dir)
	defer reopened.Close()

	got, ok, err = reopened.Get("events", []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value.UserValue("2"), got)
}
