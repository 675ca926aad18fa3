// Package memtable implements the per-partition, in-memory sorted write
// buffer: a lock-free ordered map keyed by ParsedInternalKey, backed by an
// arena skiplist so concurrent inserts never serialize behind a single
// mutex.
package memtable

import (
	"sync/atomic"

	"github.com/andy-kimball/arenaskl"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

// arenaSlack is the multiplier applied to the configured max-memtable-size
// when reserving the skiplist's backing arena. The keyspace rotates a
// memtable once its approximate size crosses the configured threshold,
// well before the arena itself could be exhausted, so Insert never has to
// report failure in the common path.
const arenaSlack = 2

// MemTable is the concurrent, insert-only, ordered write buffer for a single
// partition. Keys are never deleted or overwritten in place: a logical
// delete is a new entry with value.TypeTombstone, and supersession is
// resolved purely by seqno ordering (internal/value.Compare).
//
// All operations are infallible from the caller's point of view: the only
// failure mode is arena exhaustion, which indicates this memtable was not
// rotated before it grew past its configured budget and is
// treated as an unrecoverable invariant violation — the process panics
// rather than limping along with a write it cannot store.
type MemTable struct {
	skl *arenaskl.Skiplist

	// approximateSize is an insert-only accounting of bytes added. It is
	// never decremented; when a memtable is frozen for flush, its final
	// value is captured by the flush manager and the MemTable itself is
	// discarded.
	approximateSize atomic.Uint32
}

// New allocates a fresh, empty memtable with a backing arena sized for
// maxSizeBytes worth of entries.
func New(maxSizeBytes uint32) *MemTable {
	arena := arenaskl.NewArena(maxSizeBytes * arenaSlack)
	return &MemTable{skl: arenaskl.NewSkiplist(arena)}
}

// Insert adds an entry to the memtable. Multiple concurrent inserts are
// permitted; the call never blocks on other writers.
func (m *MemTable) Insert(v value.Value) {
	key := value.NewParsedInternalKey(v.Key, v.SeqNo, v.Type)
	encoded := value.EncodeKey(key)

	var it arenaskl.Iterator
	it.Init(m.skl)
	if err := it.Add(encoded, v.UserValue, 0); err != nil {
		if err == arenaskl.ErrRecordExists {
			// Same (user_key, seqno, type) inserted twice; the second
			// write is a harmless no-op, since no reader can distinguish
			// the two entries.
			return
		}
		// ErrArenaFull: the memtable outgrew the capacity it was allocated
		// with, which should have been prevented by the monitor rotating
		// it first. There is no way to service this insert.
		panic("memtable: arena exhausted, memtable rotation policy failed: " + err.Error())
	}

	m.approximateSize.Add(uint32(v.Size()))
}

// Get looks up the visible version of userKey.
//
// If atSeqno is nil, the newest version of the key is returned.
// If atSeqno is non-nil, the first entry with entry.SeqNo < *atSeqno is
// returned (strict inequality). Callers implementing inclusive point-in-time
// reads (e.g. the oracle's snapshot reads) pass readInstant+1.
//
// Get returns entries that are tombstones as well as live values; callers
// that need delete semantics must check value.IsTombstone() themselves —
// the memtable layer never filters.
func (m *MemTable) Get(userKey value.UserKey, atSeqno *value.SeqNo) (value.Value, bool) {
	lower := value.NewParsedInternalKey(userKey, value.MaxSeqNo, value.TypeTombstone)

	var it arenaskl.Iterator
	it.Init(m.skl)
	it.Seek(value.EncodeKey(lower))

	for ; it.Valid(); it.Next() {
		key := value.DecodeKey(it.Key())

		if !hasPrefix(key.UserKey, userKey) || !equalKey(key.UserKey, userKey) {
			return value.Value{}, false
		}

		if atSeqno != nil {
			if key.SeqNo < *atSeqno {
				return value.NewValue(key.UserKey, append([]byte(nil), it.Value()...), key.SeqNo, key.Type), true
			}
			continue
		}

		return value.NewValue(key.UserKey, append([]byte(nil), it.Value()...), key.SeqNo, key.Type), true
	}

	return value.Value{}, false
}

func equalKey(a, b value.UserKey) bool {
	return len(a) == len(b) && hasPrefix(a, b)
}

func hasPrefix(key, prefix value.UserKey) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// SeekPrefix returns an iterator positioned at the first entry whose user
// key starts with prefix. The returned function yields successive entries
// and reports false once the prefix boundary is exceeded; it never returns
// an entry whose key does not start with prefix even when a byte-adjacent
// key exists.
func (m *MemTable) SeekPrefix(prefix value.UserKey) func() (value.Value, bool) {
	lower := value.NewParsedInternalKey(prefix, value.MaxSeqNo, value.TypeTombstone)
	it := new(arenaskl.Iterator)
	it.Init(m.skl)
	it.Seek(value.EncodeKey(lower))

	return func() (value.Value, bool) {
		if !it.Valid() {
			return value.Value{}, false
		}

		key := value.DecodeKey(it.Key())
		if !hasPrefix(key.UserKey, prefix) {
			return value.Value{}, false
		}

		v := value.NewValue(key.UserKey, append([]byte(nil), it.Value()...), key.SeqNo, key.Type)
		it.Next()
		return v, true
	}
}

// NextSeqno returns the highest seqno currently stored plus one, or zero if
// the memtable is empty. Used on journal-replay recovery to reseed the
// shared sequence counter.
func (m *MemTable) NextSeqno() value.SeqNo {
	var it arenaskl.Iterator
	it.Init(m.skl)

	var maxSeqno value.SeqNo
	found := false

	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := value.DecodeKey(it.Key())
		if !found || key.SeqNo > maxSeqno {
			maxSeqno = key.SeqNo
			found = true
		}
	}

	if !found {
		return 0
	}
	return maxSeqno + 1
}

// ApproximateSize returns the insert-only byte accounting used to decide
// when this memtable should be rotated. It is guaranteed to be less than or
// equal to the true serialized size.
func (m *MemTable) ApproximateSize() uint32 {
	return m.approximateSize.Load()
}
