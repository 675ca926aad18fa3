package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

func seq(s value.SeqNo) *value.SeqNo { return &s }

func TestMemtableVersionQuery(t *testing.T) {
	m := New(1 << 20)

	m.Insert(value.NewValue(value.UserKey("abc"), value.UserValue("v0"), 0, value.TypeValue))
	m.Insert(value.NewValue(value.UserKey("abc"), value.UserValue("v99"), 99, value.TypeValue))
	m.Insert(value.NewValue(value.UserKey("abc"), value.UserValue("v255"), 255, value.TypeValue))

	got, ok := m.Get(value.UserKey("abc"), nil)
	require.True(t, ok)
	require.Equal(t, value.SeqNo(255), got.SeqNo)
	require.Equal(t, value.UserValue("v255"), got.UserValue)

	got, ok = m.Get(value.UserKey("abc"), seq(100))
	require.True(t, ok)
	require.Equal(t, value.SeqNo(99), got.SeqNo)
	require.Equal(t, value.UserValue("v99"), got.UserValue)

	got, ok = m.Get(value.UserKey("abc"), seq(50))
	require.True(t, ok)
	require.Equal(t, value.SeqNo(0), got.SeqNo)
	require.Equal(t, value.UserValue("v0"), got.UserValue)
}

func TestMemtablePrefixVsExact(t *testing.T) {
	m := New(1 << 20)

	m.Insert(value.NewValue(value.UserKey("abc0"), value.UserValue("v"), 0, value.TypeValue))
	m.Insert(value.NewValue(value.UserKey("abc"), value.UserValue("v"), 255, value.TypeValue))

	got, ok := m.Get(value.UserKey("abc"), nil)
	require.True(t, ok)
	require.Equal(t, value.SeqNo(255), got.SeqNo)
	require.Equal(t, value.UserKey("abc"), got.Key)

	got, ok = m.Get(value.UserKey("abc0"), nil)
	require.True(t, ok)
	require.Equal(t, value.SeqNo(0), got.SeqNo)
	require.Equal(t, value.UserKey("abc0"), got.Key)
}

func TestMemtableGetMissingKey(t *testing.T) {
	m := New(1 << 20)
	m.Insert(value.NewValue(value.UserKey("abc"), value.UserValue("v"), 0, value.TypeValue))

	_, ok := m.Get(value.UserKey("abd"), nil)
	require.False(t, ok)

	_, ok = m.Get(value.UserKey("ab"), nil)
	require.False(t, ok)
}

func TestMemtableSeekPrefix(t *testing.T) {
	m := New(1 << 20)
	m.Insert(value.NewValue(value.UserKey("apple"), value.UserValue("1"), 0, value.TypeValue))
	m.Insert(value.NewValue(value.UserKey("app"), value.UserValue("2"), 1, value.TypeValue))
	m.Insert(value.NewValue(value.UserKey("apricot"), value.UserValue("3"), 2, value.TypeValue))
	m.Insert(value.NewValue(value.UserKey("banana"), value.UserValue("4"), 3, value.TypeValue))

	next := m.SeekPrefix(value.UserKey("ap"))

	var got []string
	for {
		v, ok := next()
		if !ok {
			break
		}
		got = append(got, string(v.Key))
	}

	require.Equal(t, []string{"app", "apple", "apricot"}, got)
}

func TestMemtableNextSeqno(t *testing.T) {
	m := New(1 << 20)
	require.EqualValues(t, 0, m.NextSeqno())

	m.Insert(value.NewValue(value.UserKey("a"), value.UserValue("1"), 4, value.TypeValue))
	m.Insert(value.NewValue(value.UserKey("b"), value.UserValue("2"), 9, value.TypeValue))
	require.EqualValues(t, 10, m.NextSeqno())
}

func TestMemtableApproximateSizeMonotonic(t *testing.T) {
	m := New(1 << 20)
	require.EqualValues(t, 0, m.ApproximateSize())

	m.Insert(value.NewValue(value.UserKey("a"), value.UserValue("12345"), 0, value.TypeValue))
	first := m.ApproximateSize()
	require.Greater(t, first, uint32(0))

	m.Insert(value.NewValue(value.UserKey("b"), value.UserValue("67890"), 1, value.TypeValue))
	require.Greater(t, m.ApproximateSize(), first)
}
