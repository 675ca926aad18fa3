package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptorTableLimit(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"1", "2", "3"} {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	table := New(2, 1)
	require.EqualValues(t, 0, table.Size())

	table.Insert(filepath.Join(dir, "1"), "1")
	require.EqualValues(t, 0, table.Size())

	func() {
		g, err := table.Access("1")
		require.NoError(t, err)
		defer g.Release()
		require.EqualValues(t, 1, table.Size())
	}()

	table.Insert(filepath.Join(dir, "2"), "2")

	func() {
		require.EqualValues(t, 1, table.Size())
		g, err := table.Access("1")
		require.NoError(t, err)
		defer g.Release()
	}()

	func() {
		g, err := table.Access("2")
		require.NoError(t, err)
		defer g.Release()
		require.EqualValues(t, 2, table.Size())
	}()

	table.Insert(filepath.Join(dir, "3"), "3")
	require.EqualValues(t, 2, table.Size())

	func() {
		g, err := table.Access("3")
		require.NoError(t, err)
		defer g.Release()
		require.EqualValues(t, 2, table.Size())
	}()

	table.Remove("3")
	require.EqualValues(t, 1, table.Size())

	table.Remove("2")
	require.EqualValues(t, 0, table.Size())

	g, err := table.Access("1")
	require.NoError(t, err)
	defer g.Release()
	require.EqualValues(t, 1, table.Size())
}

func TestFileGuardExclusiveAccess(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "seg"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	table := New(10, 2)
	table.Insert(filepath.Join(dir, "seg"), "seg")

	g1, err := table.Access("seg")
	require.NoError(t, err)
	g2, err := table.Access("seg")
	require.NoError(t, err)

	require.NotSame(t, g1.File(), g2.File())

	g1.Release()
	g3, err := table.Access("seg")
	require.NoError(t, err)
	require.Same(t, g1.File(), g3.File())

	g2.Release()
	g3.Release()
}
