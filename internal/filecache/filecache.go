// Package filecache bounds the number of simultaneously open immutable
// segment file handles with a strict LRU policy.
package filecache

import (
	"container/list"
	"sync"

	"github.com/epokhe/kvengine/internal/segment"
)

// Cache maps segment id to an open *segment.Segment, evicting the
// least-recently-used handle once Capacity is reached. The cache lock is
// released before any I/O is performed against a returned handle.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[uint64]*list.Element
	order    *list.List // front = most recently used
}

type entry struct {
	id  uint64
	seg *segment.Segment
}

// New creates a cache bounded to capacity open handles.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		items:    make(map[uint64]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached handle for id, promoting it to most-recently-used,
// or calls open to obtain one and inserts it, evicting and closing the
// least-recently-used handle first if the cache is at capacity.
func (c *Cache) Get(id uint64, open func(uint64) (*segment.Segment, error)) (*segment.Segment, error) {
	c.mu.Lock()
	if el, ok := c.items[id]; ok {
		c.order.MoveToFront(el)
		seg := el.Value.(*entry).seg
		c.mu.Unlock()
		return seg, nil
	}
	c.mu.Unlock()

	// Open outside the lock: file I/O must never block cache bookkeeping
	// for unrelated segments.
	seg, err := open(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have raced us to open the same id.
	if el, ok := c.items[id]; ok {
		c.order.MoveToFront(el)
		_ = seg.Close()
		return el.Value.(*entry).seg, nil
	}

	el := c.order.PushFront(&entry{id: id, seg: seg})
	c.items[id] = el

	if c.order.Len() > c.capacity {
		c.evictLRULocked()
	}

	return seg, nil
}

// Invalidate drops and closes the cached handle for id, if present. Used by
// compaction right before a segment's file is unlinked.
func (c *Cache) Invalidate(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.items, id)
	_ = el.Value.(*entry).seg.Close()
}

// Len returns the number of handles currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close closes every cached handle and empties the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for el := c.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*entry).seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.items = make(map[uint64]*list.Element)
	c.order.Init()
	return firstErr
}

func (c *Cache) evictLRULocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.order.Remove(el)
	e := el.Value.(*entry)
	delete(c.items, e.id)
	_ = e.seg.Close()
}
