package cache

import (
	"sync"
	"time"

	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

const defaultMemoryEntries = 256

// MemoryStore is the in-process tier: a least recently used map bounded by
// entry count. Entries never expire by age.
type MemoryStore struct {
	capacity  int
	items     map[string]*lruItem
	head      *lruItem
	tail      *lruItem
	mu        sync.Mutex
	evictions int64
	onEvicted EvictionCallback
}

// lruItem represents a node in the doubly-linked list
type lruItem struct {
	key        string
	entry      *Entry
	accessTime time.Time
	createTime time.Time
	prev       *lruItem
	next       *lruItem
}

// NewMemoryStore creates a memory tier holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryEntries
	}
	c := &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*lruItem),
	}

	// Initialize sentinel nodes
	c.head = &lruItem{}
	c.tail = &lruItem{}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns a copy of the entry and marks it as recently used.
func (c *MemoryStore) Get(key models.QueryKey) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key.String()]
	if !exists {
		return nil, ErrNotFound
	}
	c.moveToFront(item)
	item.accessTime = time.Now()
	return item.entry.Clone(), nil
}

// Put stores a copy of e, replacing any entry under the same key.
func (c *MemoryStore) Put(e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if item, exists := c.items[e.Key]; exists {
		item.entry = e.Clone()
		item.accessTime = now
		c.moveToFront(item)
		return nil
	}

	for len(c.items) >= c.capacity {
		c.evictOldest()
	}

	item := &lruItem{
		key:        e.Key,
		entry:      e.Clone(),
		accessTime: now,
		createTime: now,
	}
	c.items[e.Key] = item
	c.addToFront(item)
	return nil
}

// Delete removes an entry.
func (c *MemoryStore) Delete(key models.QueryKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key.String()]; exists {
		c.removeItem(item)
	}
	return nil
}

// Clear removes all entries.
func (c *MemoryStore) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruItem)
	c.head.next = c.tail
	c.tail.prev = c.head
	return nil
}

// Close is a no-op.
func (c *MemoryStore) Close() error {
	return nil
}

// Len returns the number of entries held.
func (c *MemoryStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Evictions returns how many entries were pushed out by capacity.
func (c *MemoryStore) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// SetEvictionCallback sets the callback function called when entries are evicted
func (c *MemoryStore) SetEvictionCallback(callback EvictionCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvicted = callback
}

// Private methods

func (c *MemoryStore) moveToFront(item *lruItem) {
	c.removeFromList(item)
	c.addToFront(item)
}

func (c *MemoryStore) addToFront(item *lruItem) {
	item.prev = c.head
	item.next = c.head.next
	c.head.next.prev = item
	c.head.next = item
}

func (c *MemoryStore) removeFromList(item *lruItem) {
	item.prev.next = item.next
	item.next.prev = item.prev
}

func (c *MemoryStore) removeItem(item *lruItem) {
	delete(c.items, item.key)
	c.removeFromList(item)
}

func (c *MemoryStore) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	logging.LogDebugf("Evicting cache entry: key=%s, age=%v", oldest.key, time.Since(oldest.createTime))
	c.removeItem(oldest)
	c.evictions++
	if c.onEvicted != nil {
		c.onEvicted(oldest.key, oldest.entry)
	}
}
