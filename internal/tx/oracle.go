// Package tx implements snapshot isolation with optional serializable
// commit validation: the Oracle (shared sequence counter + committed-write
// log, guarded by a single serializing mutex) and the ConflictChecker used
// to detect read/write overlap between concurrent transactions.
package tx

import (
	"sort"
	"sync"

	"github.com/iamNilotpal/ignitekv/internal/snapshot"
	"github.com/iamNilotpal/ignitekv/internal/value"
	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
)

// Outcome is the result of a transaction commit attempt.
type Outcome int

const (
	// Ok means the transaction's writes are now durable and visible.
	Ok Outcome = iota
	// Conflicted means a later-visible committer wrote a key this
	// transaction read; the caller must retry.
	Conflicted
	// Aborted means apply() itself returned an error; the transaction's
	// writes were never made durable.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "Ok"
	case Conflicted:
		return "Conflicted"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

type committedEntry struct {
	ts      value.SeqNo
	checker *ConflictChecker
}

// Oracle serializes transaction commits, validating each one's
// ConflictChecker against every committer visible to it (those whose
// commit_ts is >= this transaction's read instant + 1) before allowing the
// caller's durable write (apply) to run.
type Oracle struct {
	mu      sync.Mutex
	seqno   *value.SeqnoCounter
	tracker *snapshot.Tracker

	// committed is kept sorted ascending by ts. Because every append to it
	// happens while mu is held and ts is read from the same monotonic
	// counter under that same critical section, appends are always
	// non-decreasing and the slice never needs re-sorting.
	committed []committedEntry
}

// New creates an Oracle sharing seqno and tracker with the rest of the
// keyspace (both are also used directly by memtables and reads).
func New(seqno *value.SeqnoCounter, tracker *snapshot.Tracker) *Oracle {
	return &Oracle{seqno: seqno, tracker: tracker}
}

// BeginRead mints a new read-instant and opens it in the snapshot tracker.
// Callers pass instant+1 to MemTable.Get for inclusive point-in-time
// semantics (see the memtable package's Get contract).
func (o *Oracle) BeginRead() value.SeqNo {
	instant := o.seqno.Get()
	o.tracker.Open(instant)
	return instant
}

// WithCommit runs the six-step commit sequence for a transaction that read
// and wrote at read-instant `instant`, summarized by checker. apply is the
// caller's durable write (e.g. journal append + memtable install); it is
// only invoked if no conflict is found, and its error (if any) is returned
// alongside an Aborted outcome rather than being swallowed — the
// transaction was never recorded as committed, but the caller still needs
// the underlying cause.
//
// Closing the transaction's snapshot happens unconditionally once conflict
// detection completes, before apply runs — so even an aborted apply still
// releases its read view. This is deliberate: there is no correctness
// reason to keep holding a read view open for a transaction whose writes,
// successful or not, are already decided.
//
// The commit timestamp recorded in the committed log is the counter's
// current value after apply returns: apply stamps its writes from the same
// shared counter, so that value is at or above every seqno the transaction
// wrote and, when apply wrote anything, strictly above any instant that
// began before this commit.
func (o *Oracle) WithCommit(instant value.SeqNo, checker *ConflictChecker, apply func() error) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	conflicted := o.hasVisibleConflict(instant, checker)

	o.tracker.Close(instant)
	safeToGC := o.tracker.GetSeqnoSafeToGC()
	o.pruneCommittedLocked(safeToGC)

	if conflicted {
		return Conflicted, nil
	}

	if err := apply(); err != nil {
		return Aborted, ignerrors.NewConcurrencyError(err, ignerrors.ConcurrencyKindCommitAborted, "transaction apply failed")
	}

	o.committed = append(o.committed, committedEntry{ts: o.seqno.Get(), checker: checker})
	return Ok, nil
}

// hasVisibleConflict tests checker against every committed transaction
// visible to it: those with commit_ts >= instant+1 (committed strictly
// after this transaction began reading).
func (o *Oracle) hasVisibleConflict(instant value.SeqNo, checker *ConflictChecker) bool {
	lowerBound := instant + 1
	idx := sort.Search(len(o.committed), func(i int) bool {
		return o.committed[i].ts >= lowerBound
	})
	for _, entry := range o.committed[idx:] {
		if checker.HasConflict(entry.checker) {
			return true
		}
	}
	return false
}

// pruneCommittedLocked drops every committed entry whose ts is at or below
// safeToGC, bounding the committed log's size.
func (o *Oracle) pruneCommittedLocked(safeToGC value.SeqNo) {
	idx := sort.Search(len(o.committed), func(i int) bool {
		return o.committed[i].ts > safeToGC
	})
	if idx > 0 {
		o.committed = append(o.committed[:0], o.committed[idx:]...)
	}
}

// CommittedLen reports the current size of the committed-write log, used by
// tests asserting the log stays bounded under sustained commit traffic.
func (o *Oracle) CommittedLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.committed)
}
