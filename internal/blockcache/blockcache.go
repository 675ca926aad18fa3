// Package blockcache implements the shared cache of decoded segment blocks
// consulted on the read path: before a reader decompresses a block from
// disk, it asks the cache; after decoding one, it inserts it. Capacity is
// counted in blocks and eviction is least-recently-used.
package blockcache

import (
	"container/list"
	"sync"

	"github.com/iamNilotpal/ignitekv/internal/value"
)

// cacheKey identifies one block: the segment it belongs to and the block's
// offset within that segment's blocks file. Offsets are stable for the
// lifetime of a segment because segments are immutable.
type cacheKey struct {
	segmentID string
	offset    uint64
}

// entry is what one list element carries: its key (so eviction can delete
// the map slot) and the decoded items.
type entry struct {
	key   cacheKey
	items []value.Value
}

// Cache is a fixed-capacity LRU cache of decoded blocks, safe for
// concurrent use by every reader goroutine in a keyspace. A map gives O(1)
// lookup; a doubly linked list maintains recency order with the most
// recently used block at the front.
type Cache struct {
	mu       sync.Mutex
	capacity int
	elements map[cacheKey]*list.Element
	order    *list.List
}

// New creates a Cache holding at most capacity decoded blocks. A capacity
// of 0 or less disables caching: Get always misses and Insert is a no-op.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		elements: make(map[cacheKey]*list.Element),
		order:    list.New(),
	}
}

// Get returns the decoded items of the block at (segmentID, offset) and
// marks it most recently used, or reports a miss. Callers must not mutate
// the returned slice.
func (c *Cache) Get(segmentID string, offset uint64) ([]value.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[cacheKey{segmentID: segmentID, offset: offset}]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).items, true
}

// Insert stores a decoded block, evicting the least recently used block if
// the cache is at capacity. Inserting a block that is already present
// refreshes its recency instead of duplicating it.
func (c *Cache) Insert(segmentID string, offset uint64, items []value.Value) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{segmentID: segmentID, offset: offset}
	if el, ok := c.elements[key]; ok {
		el.Value.(*entry).items = items
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		delete(c.elements, oldest.Value.(*entry).key)
		c.order.Remove(oldest)
	}

	c.elements[key] = c.order.PushFront(&entry{key: key, items: items})
}

// DropSegment removes every cached block belonging to segmentID, called
// when a segment is deleted after compaction so its blocks don't linger in
// the cache holding memory for data no reader can reach anymore.
func (c *Cache) DropSegment(segmentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); e.key.segmentID == segmentID {
			delete(c.elements, e.key)
			c.order.Remove(el)
		}
		el = next
	}
}

// Len returns the number of blocks currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
