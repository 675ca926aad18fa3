// Package snapshot tracks open read-instants (MVCC snapshots) and publishes
// a monotonic "safe to GC below" watermark that compaction uses to decide
// when a tombstone's deletion is visible to no live reader and can be
// dropped.
package snapshot

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

// DefaultSafetyGap is how often (in seqno units) Close triggers a gc pass,
// and how far behind the oldest retained instant the published watermark is
// allowed to trail.
const DefaultSafetyGap uint64 = 100

// Tracker is a concurrent multiset of open read-instants with a reference
// count per instant.
type Tracker struct {
	data      *xsync.MapOf[uint64, int64]
	safetyGap uint64

	mu                 sync.RWMutex
	lowestFreedInstant value.SeqNo
}

// New creates a Tracker with the given safety gap. A gap of 0 falls back to
// DefaultSafetyGap.
func New(safetyGap uint64) *Tracker {
	if safetyGap == 0 {
		safetyGap = DefaultSafetyGap
	}
	return &Tracker{
		data:      xsync.NewMapOf[uint64, int64](),
		safetyGap: safetyGap,
	}
}

// Open registers a new reader at seqno, bumping its refcount.
func (t *Tracker) Open(seqno value.SeqNo) {
	t.data.Compute(uint64(seqno), func(old int64, loaded bool) (int64, bool) {
		if !loaded {
			return 1, false
		}
		return old + 1, false
	})
}

// Close releases a reader at seqno. Every safetyGap-th seqno, it also runs a
// gc pass.
func (t *Tracker) Close(seqno value.SeqNo) {
	t.data.Compute(uint64(seqno), func(old int64, loaded bool) (int64, bool) {
		return old - 1, false
	})

	if uint64(seqno)%t.safetyGap == 0 {
		t.gc(seqno)
	}
}

// GetSeqnoSafeToGC returns the current published watermark: every seqno at
// or below it has no live reader, and none will ever be issued one that low
// again (new readers always get instants above the current watermark).
func (t *Tracker) GetSeqnoSafeToGC() value.SeqNo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lowestFreedInstant
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// gc removes every tracked instant with a zero refcount that is also at or
// below watermark-safetyGap, then advances the published watermark to just
// below the lowest surviving instant — never moving it backward.
func (t *Tracker) gc(watermark value.SeqNo) {
	threshold := saturatingSub(uint64(watermark), t.safetyGap)

	var lowestRetained uint64
	haveRetained := false
	var toDelete []uint64

	t.data.Range(func(k uint64, v int64) bool {
		shouldRetain := v > 0 || k > threshold
		if shouldRetain {
			if !haveRetained || k < lowestRetained {
				lowestRetained = k
				haveRetained = true
			}
		} else {
			toDelete = append(toDelete, k)
		}
		return true
	})

	for _, k := range toDelete {
		t.data.Delete(k)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	candidate := value.SeqNo(saturatingSub(lowestRetained, 1))
	if candidate > t.lowestFreedInstant {
		t.lowestFreedInstant = candidate
	}
}
