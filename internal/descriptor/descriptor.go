// Package descriptor implements a bounded pool of reusable open file
// descriptors shared across reader goroutines, avoiding reopen syscalls on
// hot segments while respecting a global handle budget.
package descriptor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentOpens bounds how many os.Open syscalls createPool issues in
// flight at once when populating a segment's descriptor pool — the pool
// itself may hold many more handles than this, it's only the creation burst
// that's throttled.
const maxConcurrentOpens = 4

// FdWrapper is a single open file descriptor plus an in-use flag used to
// hand it out exclusively to one caller at a time.
type FdWrapper struct {
	file   *os.File
	isUsed atomic.Bool
}

// File returns the underlying open file. Callers must only use it while
// holding the FileGuard that was handed out for this descriptor.
func (w *FdWrapper) File() *os.File { return w.file }

// FileGuard is a held descriptor; its caller must call Release (or Close)
// when done, which clears the in-use flag so another caller can claim it.
type FileGuard struct {
	fd *FdWrapper
}

// File returns the guarded file.
func (g *FileGuard) File() *os.File { return g.fd.File() }

// Release clears the descriptor's in-use flag, making it available again.
func (g *FileGuard) Release() { g.fd.isUsed.Store(false) }

// Close is an alias for Release so FileGuard satisfies io.Closer.
func (g *FileGuard) Close() error {
	g.Release()
	return nil
}

// fileHandle is the pool of descriptors registered for one segment.
type fileHandle struct {
	mu          sync.RWMutex
	descriptors []*FdWrapper
	path        string
}

type tableState struct {
	table map[string]*fileHandle
	lru   *lruList
	size  atomic.Int64
}

// Table is a bounded pool of open file handles shared across reader
// goroutines. `limit` bounds the total number of open descriptors across
// all segments; `concurrency` is the pool size created per segment on first
// access.
type Table struct {
	mu          sync.RWMutex
	state       tableState
	concurrency int
	limit       int
}

// New creates an empty descriptor table.
func New(limit, concurrency int) *Table {
	return &Table{
		state: tableState{
			table: make(map[string]*fileHandle, 100),
			lru:   newLruList(),
		},
		concurrency: concurrency,
		limit:       limit,
	}
}

// Size reports the total number of currently-open descriptors across all
// registered segments. This is best-effort and may briefly lag under
// concurrent eviction.
func (t *Table) Size() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.size.Load()
}

// Insert registers a segment's blocks-file path under id with an empty
// descriptor pool. Idempotent per id; calling it again for an id that
// already exists simply resets its pool.
func (t *Table) Insert(path string, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.table[id] = &fileHandle{path: path}
	t.state.lru.refresh(id)
}

// Remove drops id from the table, closing no descriptors itself (any
// FileGuard already issued keeps its *os.File alive until released and
// garbage collected) and subtracting its pool size from the running total.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item, ok := t.state.table[id]; ok {
		item.mu.RLock()
		n := len(item.descriptors)
		item.mu.RUnlock()
		t.state.size.Add(-int64(n))
		delete(t.state.table, id)
	}
	t.state.lru.remove(id)
}

// Clear empties the table, dropping every registered segment's descriptor
// pool and resetting the LRU and size counter. It closes no files itself,
// neither pooled ones nor those in flight under a FileGuard.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.table = make(map[string]*fileHandle, 100)
	t.state.lru = newLruList()
	t.state.size.Store(0)
}

// Access returns an exclusively-held descriptor for segment id, lazily
// creating its pool of `concurrency` open file handles on first access. If
// the pool already has descriptors, it spins, trying to CAS an unused one
// to in-use, bounded by pool size.
func (t *Table) Access(id string) (*FileGuard, error) {
	for {
		t.mu.RLock()
		item, ok := t.state.table[id]
		if !ok {
			t.mu.RUnlock()
			panic("descriptor: segment " + id + " not registered in descriptor table")
		}

		item.mu.RLock()
		descriptors := item.descriptors
		item.mu.RUnlock()

		if len(descriptors) == 0 {
			// First access, or the pool was evicted while we waited.
			t.mu.RUnlock()
			return t.createPool(id)
		}

		for _, fd := range descriptors {
			if fd.isUsed.CompareAndSwap(false, true) {
				t.mu.RUnlock()
				return &FileGuard{fd: fd}, nil
			}
		}

		t.mu.RUnlock()
		runtime.Gosched()
	}
}

func (t *Table) createPool(id string) (*FileGuard, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.state.table[id]
	if !ok {
		panic("descriptor: segment " + id + " not registered in descriptor table")
	}

	item.mu.Lock()
	if len(item.descriptors) != 0 {
		// Another goroutine raced us and already created the pool; claim a
		// descriptor from it instead of creating a second one.
		descriptors := item.descriptors
		item.mu.Unlock()
		for {
			for _, fd := range descriptors {
				if fd.isUsed.CompareAndSwap(false, true) {
					return &FileGuard{fd: fd}, nil
				}
			}
			runtime.Gosched()
		}
	}

	descriptors, err := openDescriptorsConcurrently(item.path, t.concurrency)
	if err != nil {
		item.mu.Unlock()
		return nil, err
	}
	item.descriptors = append(item.descriptors, descriptors...)
	last := descriptors[len(descriptors)-1]
	last.isUsed.Store(true)
	item.mu.Unlock()

	sizeNow := t.state.size.Add(int64(t.concurrency))
	if sizeNow > int64(t.limit) {
		if oldest, ok := t.state.lru.getLeastRecentlyUsed(); ok && oldest != id {
			if oldestItem, ok := t.state.table[oldest]; ok {
				oldestItem.mu.Lock()
				t.state.size.Add(-int64(len(oldestItem.descriptors)))
				oldestItem.descriptors = nil
				oldestItem.mu.Unlock()
			}
		}
	}

	return &FileGuard{fd: last}, nil
}

// openDescriptorsConcurrently opens n independent handles to path, bounded
// to maxConcurrentOpens in flight at a time. If any open fails, every handle
// successfully opened so far is closed and the error is returned.
func openDescriptorsConcurrently(path string, n int) ([]*FdWrapper, error) {
	descriptors := make([]*FdWrapper, n)
	sem := semaphore.NewWeighted(maxConcurrentOpens)
	g, ctx := errgroup.WithContext(context.Background())

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			descriptors[i] = &FdWrapper{file: f}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, fd := range descriptors {
			if fd != nil {
				fd.file.Close()
			}
		}
		return nil, err
	}
	return descriptors, nil
}
