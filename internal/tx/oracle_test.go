package tx

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/ignitekv/internal/snapshot"
	"github.com/iamNilotpal/ignitekv/internal/value"
)

var errApplyFailed = stderrors.New("apply failed")

// toyStore is a minimal stand-in for a partition's memtable, just enough to
// exercise Oracle.WithCommit's apply callback and conflict semantics
// without requiring the full engine.
type toyStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newToyStore() *toyStore { return &toyStore{data: make(map[string]string)} }

func (s *toyStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *toyStore) set(key, val string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
}

// newOracle returns an oracle plus the shared counter its transactions'
// applies stamp their writes from, the way Keyspace.write does.
func newOracle() (*Oracle, *value.SeqnoCounter) {
	counter := value.NewSeqnoCounter(0)
	return New(counter, snapshot.New(5)), counter
}

func TestOracleConflict(t *testing.T) {
	orc, counter := newOracle()
	store := newToyStore()

	tx1Instant := orc.BeginRead()
	tx2Instant := orc.BeginRead()

	tx1Checker := NewConflictChecker()
	tx1Checker.RecordWrite([]byte("hello"))
	outcome1, err := orc.WithCommit(tx1Instant, tx1Checker, func() error {
		counter.Next()
		store.set("hello", "world")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, Ok, outcome1)

	val, ok := store.get("hello")
	require.True(t, ok)
	require.Equal(t, "world", val)

	tx2Checker := NewConflictChecker()
	tx2Checker.RecordRead([]byte("hello"))
	tx2Checker.RecordWrite([]byte("hello"))
	outcome2, err := orc.WithCommit(tx2Instant, tx2Checker, func() error {
		store.set("hello", "world2")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, Conflicted, outcome2)

	// A conflicted commit's apply must never run.
	val, ok = store.get("hello")
	require.True(t, ok)
	require.Equal(t, "world", val)
}

func TestOracleAbortedApplyStillClosesSnapshot(t *testing.T) {
	orc, _ := newOracle()

	instant := orc.BeginRead()
	checker := NewConflictChecker()
	checker.RecordWrite([]byte("k"))

	outcome, err := orc.WithCommit(instant, checker, func() error {
		return errApplyFailed
	})
	require.Equal(t, Aborted, outcome)
	require.ErrorIs(t, err, errApplyFailed)
	require.Zero(t, orc.CommittedLen())

	// The snapshot was closed as part of WithCommit even though apply
	// failed; running gc at a far-future watermark must be able to retire
	// this instant rather than being blocked forever by a leaked open
	// snapshot.
	orc.tracker.Close(instant + 1000)
	require.Greater(t, orc.tracker.GetSeqnoSafeToGC(), instant)
}

func TestOracleCommittedLogBound(t *testing.T) {
	orc, counter := newOracle()
	store := newToyStore()

	runTx := func() {
		tx1 := orc.BeginRead()
		tx2 := orc.BeginRead()

		tx1Checker := NewConflictChecker()
		tx1Checker.RecordWrite([]byte("hello"))
		outcome, err := orc.WithCommit(tx1, tx1Checker, func() error {
			counter.Next()
			store.set("hello", "world")
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, Ok, outcome)

		tx2Checker := NewConflictChecker()
		tx2Checker.RecordRead([]byte("hello"))
		tx2Checker.RecordWrite([]byte("hello"))
		outcome, err = orc.WithCommit(tx2, tx2Checker, func() error {
			store.set("hello", "world2")
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, Conflicted, outcome)
	}

	for i := 0; i < 250; i++ {
		runTx()
	}
	require.Less(t, orc.CommittedLen(), 200)

	for i := 0; i < 200; i++ {
		runTx()
	}
	require.Less(t, orc.CommittedLen(), 200)
}
