package engine

import (
	"bytes"
	"errors"

	"github.com/google/uuid"

	"github.com/iamNilotpal/ignitekv/internal/tx"
	"github.com/iamNilotpal/ignitekv/internal/value"
)

// errTxnFinished is returned by Commit when the transaction was already
// committed or rolled back.
var errTxnFinished = errors.New("transaction already committed or rolled back")

// pendingWrite is one buffered mutation inside an open transaction. It is
// only made durable — via Keyspace.write, which mints its own seqno and
// appends to the journal — if the transaction's Commit validates cleanly.
type pendingWrite struct {
	partition string
	key       value.UserKey
	val       value.UserValue
	vtype     value.ValueType
}

// Txn is an optimistic, serializable transaction spanning any number of
// partitions in one keyspace. Reads are served at a fixed read-instant
// established when the transaction begins; writes are buffered locally and
// invisible to any other reader or transaction until Commit succeeds.
type Txn struct {
	ks      *Keyspace
	id      uuid.UUID
	instant value.SeqNo
	checker *tx.ConflictChecker
	writes  []pendingWrite
	done    bool
}

// BeginTxn opens a new transaction: it mints a read-instant from the oracle
// and opens it in the snapshot tracker, pinning it against GC until Commit
// or Rollback releases it. The handle is tagged with an opaque UUID so
// logs can correlate a commit's outcome with the transaction that produced
// it without leaking the internal seqno as a caller-facing identity.
func (ks *Keyspace) BeginTxn() *Txn {
	return &Txn{ks: ks, id: uuid.New(), instant: ks.oracle.BeginRead(), checker: tx.NewConflictChecker()}
}

// ID returns this transaction's opaque handle, stable for its lifetime.
func (t *Txn) ID() uuid.UUID { return t.id }

// fullKey namespaces a user key by partition so the oracle's conflict
// checker — which tracks a single flat key fingerprint set per transaction
// — never confuses identical keys living in two different partitions.
func fullKey(partition string, key value.UserKey) []byte {
	out := make([]byte, 0, len(partition)+1+len(key))
	out = append(out, partition...)
	out = append(out, 0)
	out = append(out, key...)
	return out
}

// Get resolves key in partitionName as of this transaction's read-instant,
// checking this transaction's own buffered writes first (read-your-writes)
// before falling back to the partition's committed state. The read is
// recorded in the transaction's ConflictChecker regardless of which path
// answered it, since a later committer writing this key must still be able
// to conflict with this transaction.
func (t *Txn) Get(partitionName string, key value.UserKey) (value.UserValue, bool, error) {
	t.checker.RecordRead(fullKey(partitionName, key))

	for i := len(t.writes) - 1; i >= 0; i-- {
		w := t.writes[i]
		if w.partition == partitionName && bytes.Equal(w.key, key) {
			if w.vtype.IsTombstone() {
				return nil, false, nil
			}
			return w.val, true, nil
		}
	}

	p, ok := t.ks.GetPartition(partitionName)
	if !ok {
		return nil, false, nil
	}

	readAt := t.instant + 1 // Oracle's documented inclusive-read contract.
	v, ok, err := p.Get(key, &readAt)
	if err != nil || !ok {
		return nil, false, err
	}
	return v.UserValue, true, nil
}

// Set buffers a live-value write, visible to this transaction's own
// subsequent Gets but not durable or visible to any other reader until
// Commit succeeds.
func (t *Txn) Set(partitionName string, key value.UserKey, val value.UserValue) {
	t.checker.RecordWrite(fullKey(partitionName, key))
	t.writes = append(t.writes, pendingWrite{partition: partitionName, key: key, val: val, vtype: value.TypeValue})
}

// Delete buffers a tombstone write for key in partitionName.
func (t *Txn) Delete(partitionName string, key value.UserKey) {
	t.checker.RecordWrite(fullKey(partitionName, key))
	t.writes = append(t.writes, pendingWrite{partition: partitionName, key: key, vtype: value.TypeTombstone})
}

// Commit runs the oracle's validate-then-apply sequence: if any transaction
// visible to this one (committed after this transaction's read-instant)
// wrote a key this transaction read, Commit returns
// tx.Conflicted and none of this transaction's writes take effect.
// Otherwise every buffered write is applied durably, in buffer order, via
// the same journal-append-then-memtable-insert path a non-transactional
// write uses.
//
// Commit may only be called once per transaction; calling it again (or
// after Rollback) returns tx.Aborted without re-running validation.
//
// On tx.Aborted the returned error carries the underlying cause (a journal
// I/O failure, usually); on tx.Ok and tx.Conflicted it is nil.
func (t *Txn) Commit() (tx.Outcome, error) {
	if t.done {
		return tx.Aborted, errTxnFinished
	}
	t.done = true

	outcome, err := t.ks.oracle.WithCommit(t.instant, t.checker, func() error {
		for _, w := range t.writes {
			if _, err := t.ks.write(w.partition, w.key, w.val, w.vtype); err != nil {
				return err
			}
		}
		return nil
	})

	t.ks.log.Debugw("engine: transaction commit", "txn", t.id, "outcome", outcome, "writes", len(t.writes))
	return outcome, err
}

// Rollback discards a transaction's buffered writes and releases its
// read-instant without attempting to commit. Safe to call on a
// already-committed transaction (a no-op in that case).
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.ks.tracker.Close(t.instant)
}
