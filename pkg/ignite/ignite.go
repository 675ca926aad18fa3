// Package ignite is the public facade over the storage engine: a small,
// friendly surface (Instance, Txn) wired on top of internal/engine's
// Keyspace so callers never need to reach into internal packages directly.
package ignite

import (
	"context"

	"github.com/google/uuid"

	"github.com/iamNilotpal/ignitekv/internal/engine"
	"github.com/iamNilotpal/ignitekv/internal/tx"
	"github.com/iamNilotpal/ignitekv/internal/value"
	ignerrors "github.com/iamNilotpal/ignitekv/pkg/errors"
	"github.com/iamNilotpal/ignitekv/pkg/logger"
	"github.com/iamNilotpal/ignitekv/pkg/options"
)

// maxKeyLen is the largest user key the on-disk formats can represent: both
// the segment Value layout and the journal record frame carry the key
// behind a u16 length prefix.
const maxKeyLen = 1<<16 - 1

// validateKey rejects inputs the write path cannot represent before they
// reach the journal: an empty partition name (the journal's per-partition
// pinning has no home for it), an empty key, or a key too large for the
// u16 length prefix.
func validateKey(partition, key string) error {
	if partition == "" {
		return ignerrors.NewRequiredFieldError("partition")
	}
	if key == "" {
		return ignerrors.NewRequiredFieldError("key")
	}
	if len(key) > maxKeyLen {
		return ignerrors.NewFieldRangeError("key", len(key), 1, maxKeyLen)
	}
	return nil
}

// Instance is the primary entry point for interacting with the storage
// engine. It encapsulates the underlying keyspace — its journal, memtables,
// segments, descriptor table, oracle, and background monitor/flush/
// compaction loops — and the options that configured it.
type Instance struct {
	keyspace *engine.Keyspace
	options  *options.Options
}

// NewInstance opens (or reopens) an Instance rooted at the configured data
// directory, applying any functional options over the documented defaults,
// and starts its background monitor, flush, and compaction loops.
func NewInstance(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	cfg := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	ks, err := engine.Open(ctx, engine.Config{Logger: log, Options: &cfg})
	if err != nil {
		return nil, err
	}

	return &Instance{keyspace: ks, options: &cfg}, nil
}

// Set durably writes key/value into the named partition, creating the
// partition on first use. The operation returns only once the write is
// fsync'd to the journal.
func (i *Instance) Set(partition, key string, val []byte) error {
	if err := validateKey(partition, key); err != nil {
		return err
	}
	_, err := i.keyspace.Write(partition, value.UserKey(key), value.UserValue(val))
	return err
}

// Get reads the newest visible value for key in partition, outside any
// transaction.
func (i *Instance) Get(partition, key string) ([]byte, bool, error) {
	if err := validateKey(partition, key); err != nil {
		return nil, false, err
	}
	val, ok, err := i.keyspace.Get(partition, value.UserKey(key))
	if err != nil || !ok {
		return nil, ok, err
	}
	return []byte(val), true, nil
}

// Delete durably writes a tombstone for key in partition.
func (i *Instance) Delete(partition, key string) error {
	if err := validateKey(partition, key); err != nil {
		return err
	}
	_, err := i.keyspace.Delete(partition, value.UserKey(key))
	return err
}

// BeginTxn opens a new optimistic, serializable transaction over this
// instance's keyspace, spanning any number of partitions.
func (i *Instance) BeginTxn() *Txn {
	return &Txn{inner: i.keyspace.BeginTxn()}
}

// Close gracefully shuts down the instance: stops the background monitor,
// flush, and compaction loops, waits for them to return, and closes the
// journal and descriptor table.
func (i *Instance) Close() error {
	return i.keyspace.Close()
}

// Txn is a handle on one open transaction. Reads observe a fixed snapshot
// taken at BeginTxn; writes are invisible to every other reader until
// Commit returns tx.Ok.
type Txn struct {
	inner *engine.Txn
}

// ID returns this transaction's opaque handle, stable for its lifetime and
// useful for correlating log lines with a particular commit attempt.
func (t *Txn) ID() uuid.UUID {
	return t.inner.ID()
}

// Get resolves key in partition as of this transaction's snapshot,
// observing the transaction's own not-yet-committed writes first.
func (t *Txn) Get(partition, key string) ([]byte, bool, error) {
	if err := validateKey(partition, key); err != nil {
		return nil, false, err
	}
	val, ok, err := t.inner.Get(partition, value.UserKey(key))
	if err != nil || !ok {
		return nil, ok, err
	}
	return []byte(val), true, nil
}

// Set buffers a live-value write, visible to this transaction's own
// subsequent reads but durable only if Commit succeeds.
func (t *Txn) Set(partition, key string, val []byte) error {
	if err := validateKey(partition, key); err != nil {
		return err
	}
	t.inner.Set(partition, value.UserKey(key), value.UserValue(val))
	return nil
}

// Delete buffers a tombstone write for key in partition.
func (t *Txn) Delete(partition, key string) error {
	if err := validateKey(partition, key); err != nil {
		return err
	}
	t.inner.Delete(partition, value.UserKey(key))
	return nil
}

// Commit validates this transaction against every committer visible to it
// and, if clean, durably applies its buffered writes. Outcome is one of
// tx.Ok, tx.Conflicted, or tx.Aborted — callers that receive tx.Conflicted
// should retry the transaction from the top rather than treating it as an
// error. The error is non-nil only for tx.Aborted, carrying the underlying
// cause of the failed apply.
func (t *Txn) Commit() (tx.Outcome, error) {
	return t.inner.Commit()
}

// Rollback discards this transaction's buffered writes and releases its
// snapshot without attempting to commit.
func (t *Txn) Rollback() {
	t.inner.Rollback()
}
