package blockcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

func items(key string) []value.Value {
	return []value.Value{value.NewValue([]byte(key), []byte("v"), 1, value.TypeValue)}
}

func TestCacheInsertGet(t *testing.T) {
	c := New(4)

	_, ok := c.Get("seg", 0)
	require.False(t, ok)

	c.Insert("seg", 0, items("a"))
	got, ok := c.Get("seg", 0)
	require.True(t, ok)
	require.Equal(t, []byte("a"), []byte(got[0].Key))
	require.Equal(t, 1, c.Len())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)

	c.Insert("seg", 0, items("a"))
	c.Insert("seg", 100, items("b"))

	// Touch block 0 so block 100 becomes the eviction victim.
	_, ok := c.Get("seg", 0)
	require.True(t, ok)

	c.Insert("seg", 200, items("c"))
	require.Equal(t, 2, c.Len())

	_, ok = c.Get("seg", 100)
	require.False(t, ok)
	_, ok = c.Get("seg", 0)
	require.True(t, ok)
	_, ok = c.Get("seg", 200)
	require.True(t, ok)
}

func TestCacheDropSegment(t *testing.T) {
	c := New(8)

	c.Insert("keep", 0, items("a"))
	c.Insert("drop", 0, items("b"))
	c.Insert("drop", 100, items("c"))

	c.DropSegment("drop")
	require.Equal(t, 1, c.Len())

	_, ok := c.Get("drop", 0)
	require.False(t, ok)
	_, ok = c.Get("keep", 0)
	require.True(t, ok)
}

func TestCacheZeroCapacityDisabled(t *testing.T) {
	c := New(0)
	c.Insert("seg", 0, items("a"))
	_, ok := c.Get("seg", 0)
	require.False(t, ok)
	require.Zero(t, c.Len())
}
