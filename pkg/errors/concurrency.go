package errors

import (
	stdErrors "errors"

	cockroacherr "github.com/cockroachdb/errors"
)

// ConcurrencyKind narrows a ConcurrencyError down to the transaction/locking
// outcome that produced it: a poisoned lock (fatal), or one of the two
// expected-but-not-fatal transaction outcomes the oracle returns to
// callers.
type ConcurrencyKind string

const (
	// ConcurrencyKindLockPoisoned marks a process invariant violation: a
	// mutex the engine depends on was left in an inconsistent state by a
	// panicking holder. Treated as unrecoverable.
	ConcurrencyKindLockPoisoned ConcurrencyKind = "LOCK_POISONED"

	// ConcurrencyKindCommitConflicted marks a transaction that lost
	// optimistic-concurrency validation: another transaction committed a
	// write to a key this one read. Callers are expected to retry.
	ConcurrencyKindCommitConflicted ConcurrencyKind = "COMMIT_CONFLICTED"

	// ConcurrencyKindCommitAborted marks a transaction whose apply()
	// closure returned a user error. The wrapped cause is that user error,
	// not an engine fault.
	ConcurrencyKindCommitAborted ConcurrencyKind = "COMMIT_ABORTED"
)

// ConcurrencyError is the typed error for the oracle's transaction outcomes
// and for lock-poisoning invariant violations. Unlike SegmentError or
// StorageError, CommitConflicted and CommitAborted are expected, routine
// outcomes rather than faults — they are still modeled as errors here so
// that callers outside internal/tx get the same errors.Is/As ergonomics as
// every other typed error in this package.
type ConcurrencyError struct {
	*baseError
	kind ConcurrencyKind
}

// NewConcurrencyError creates a new concurrency-layer error. cause is
// wrapped through cockroachdb/errors so a stack trace is attached the first
// time a poisoned-lock panic or a user apply() error is seen.
func NewConcurrencyError(cause error, kind ConcurrencyKind, msg string) *ConcurrencyError {
	wrapped := cause
	if wrapped != nil {
		wrapped = cockroacherr.Wrap(cause, msg)
	}
	code := ErrorCodeInternal
	if kind == ConcurrencyKindCommitAborted {
		code = ErrorCodeInvalidInput
	}
	return &ConcurrencyError{
		baseError: NewBaseError(wrapped, code, msg),
		kind:      kind,
	}
}

// Kind reports which transaction outcome or locking fault this error
// represents.
func (ce *ConcurrencyError) Kind() ConcurrencyKind {
	return ce.kind
}

// IsConcurrencyError reports whether err is, or wraps, a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return stdErrors.As(err, &ce)
}

// AsConcurrencyError extracts a ConcurrencyError from err's chain, if any.
func AsConcurrencyError(err error) (*ConcurrencyError, bool) {
	var ce *ConcurrencyError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
