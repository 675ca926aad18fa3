package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

func writeItems(t *testing.T, dir string, n int) ([]*Metadata, []value.Value) {
	t.Helper()

	mw, err := NewMultiWriter(dir, MultiWriterOptions{
		Writer:     WriterOptions{BlockSize: 256},
		TargetSize: 4096,
	})
	require.NoError(t, err)

	items := make([]value.Value, 0, n)
	for i := 0; i < n; i++ {
		v := value.NewValue(
			[]byte(fmt.Sprintf("key-%05d", i)),
			[]byte(fmt.Sprintf("value-%05d-payload", i)),
			value.SeqNo(i+1),
			value.TypeValue,
		)
		items = append(items, v)
		require.NoError(t, mw.Write(v))
	}

	metas, err := mw.Finish()
	require.NoError(t, err)
	require.NotEmpty(t, metas)
	return metas, items
}

func TestWriterMultiWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	metas, items := writeItems(t, dir, 500)

	var readBack []value.Value
	for _, m := range metas {
		r, err := OpenReader(m.Path)
		require.NoError(t, err)

		require.Equal(t, m.ID, r.Metadata().ID)
		require.True(t, r.Metadata().IsCompressed)
		require.LessOrEqual(t, r.Metadata().Seqnos.Lo, r.Metadata().Seqnos.Hi)
		require.LessOrEqual(t, string(r.Metadata().KeyRange.Min), string(r.Metadata().KeyRange.Max))

		require.NoError(t, r.All(func(v value.Value) error {
			readBack = append(readBack, v)
			return nil
		}))
		require.NoError(t, r.Close())
	}

	require.Len(t, readBack, len(items))
	for i := range items {
		require.Equal(t, string(items[i].Key), string(readBack[i].Key))
		require.Equal(t, string(items[i].UserValue), string(readBack[i].UserValue))
		require.Equal(t, items[i].SeqNo, readBack[i].SeqNo)

		if i > 0 {
			require.True(t, string(readBack[i-1].Key) <= string(readBack[i].Key))
		}
	}
}

func TestWriterFinishEmptyDeletesDirectory(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, WriterOptions{BlockSize: 256})
	require.NoError(t, err)

	segDir := filepath.Join(dir, w.ID())
	_, err = os.Stat(segDir)
	require.NoError(t, err)

	meta, err := w.Finish()
	require.NoError(t, err)
	require.Nil(t, meta)

	_, err = os.Stat(segDir)
	require.True(t, os.IsNotExist(err))
}

func TestMultiWriterDropsFinalEmptyWriter(t *testing.T) {
	dir := t.TempDir()
	mw, err := NewMultiWriter(dir, MultiWriterOptions{
		Writer:     WriterOptions{BlockSize: 64},
		TargetSize: 128,
	})
	require.NoError(t, err)

	// Write enough to force several rotations. Rotation happens inside
	// Write, which then writes into the fresh writer, so no recorded
	// segment may be empty.
	for i := 0; i < 20; i++ {
		require.NoError(t, mw.Write(value.NewValue(
			[]byte(fmt.Sprintf("k%03d", i)), []byte("v"), value.SeqNo(i+1), value.TypeValue,
		)))
	}

	metas, err := mw.Finish()
	require.NoError(t, err)
	for _, m := range metas {
		require.NotZero(t, m.ItemCount)
	}
}

func TestWriterEvictsTombstonesWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, WriterOptions{BlockSize: 4096, EvictTombstones: true})
	require.NoError(t, err)

	require.NoError(t, w.Write(value.NewValue([]byte("a"), []byte("1"), 1, value.TypeValue)))
	require.NoError(t, w.Write(value.NewValue([]byte("b"), nil, 2, value.TypeTombstone)))
	require.NoError(t, w.Write(value.NewValue([]byte("c"), []byte("3"), 3, value.TypeValue)))

	meta, err := w.Finish()
	require.NoError(t, err)
	require.EqualValues(t, 2, meta.ItemCount)
	require.Zero(t, meta.TombstoneCount)
}
