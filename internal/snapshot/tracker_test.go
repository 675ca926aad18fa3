package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

func TestSeqnoTrackerReverseOrder(t *testing.T) {
	tr := New(5)

	for i := value.SeqNo(1); i <= 10; i++ {
		tr.Open(i)
	}
	for i := value.SeqNo(10); i >= 1; i-- {
		tr.Close(i)
	}

	tr.Open(11)
	tr.Close(11)
	tr.gc(11)

	require.EqualValues(t, 6, tr.GetSeqnoSafeToGC())
}

func TestSeqnoTrackerSimple(t *testing.T) {
	tr := New(5)

	tr.Open(1)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Open(2)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Open(3)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Open(4)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Open(5)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Open(6)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())

	tr.Close(1)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Close(2)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Close(3)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Close(4)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())
	tr.Close(5)
	require.EqualValues(t, 0, tr.GetSeqnoSafeToGC())

	tr.Close(6)
	tr.gc(6)
	require.EqualValues(t, 1, tr.GetSeqnoSafeToGC())

	tr.Open(7)
	tr.Close(7)
	tr.gc(7)
	require.EqualValues(t, 2, tr.GetSeqnoSafeToGC())

	tr.Open(8)
	tr.Open(9)
	tr.Close(9)
	tr.gc(9)
	require.EqualValues(t, 4, tr.GetSeqnoSafeToGC())

	tr.Close(8)
	tr.gc(8)
	require.EqualValues(t, 4, tr.GetSeqnoSafeToGC())
}
