// Package cache implements the buffer pool's bounded, LRU-ordered table of
// resident pages.
package cache

import (
	"container/list"
	"sync"

	"github.com/arkdb/txstore/internal/storage"
)

// entry is the value stored in each list.Element: a resident page plus the
// identity it's keyed by, so eviction can report which PageID it picked
// without a second map lookup.
type entry struct {
	pid  storage.PageID
	page *storage.Page
}

// Cache is a bounded pid -> page table with LRU eviction ordering, backed
// by container/list. Cache owns the pages directly rather than opaque
// list elements, since the buffer pool needs to inspect a page's dirty
// marker to pick a stealable eviction victim.
//
// Cache is safe for concurrent use, but callers that need a read-evict-
// write sequence to be atomic (as the buffer pool does) must still take
// their own lock around the sequence.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[storage.PageID]*list.Element
	order    *list.List // front = most recently used, back = least
}

// New constructs an empty Cache with the given capacity. Capacity is
// advisory: Cache itself never refuses a Put, since the decision of
// whether to evict first belongs to the buffer pool, which must hold its
// own lock across "choose a victim, remove it, then insert" as one step.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		items:    make(map[storage.PageID]*list.Element),
		order:    list.New(),
	}
}

// Capacity returns the cache's configured page limit.
func (c *Cache) Capacity() int { return c.capacity }

// Len returns the number of pages currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Contains reports whether pid is resident, without affecting LRU order.
func (c *Cache) Contains(pid storage.PageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[pid]
	return ok
}

// Get returns the resident page for pid, marking it most-recently-used.
func (c *Cache) Get(pid storage.PageID) (*storage.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[pid]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).page, true
}

// Put inserts or replaces the resident page for pid, marking it
// most-recently-used.
func (c *Cache) Put(pid storage.PageID, page *storage.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[pid]; ok {
		el.Value.(*entry).page = page
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{pid: pid, page: page})
	c.items[pid] = el
}

// Remove evicts pid from the cache, if resident.
func (c *Cache) Remove(pid storage.PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[pid]; ok {
		c.order.Remove(el)
		delete(c.items, pid)
	}
}

// Keys returns every resident PageID, in no particular order.
func (c *Cache) Keys() []storage.PageID {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]storage.PageID, 0, len(c.items))
	for pid := range c.items {
		out = append(out, pid)
	}
	return out
}

// ChooseEvictionVictim scans from least- to most-recently-used and returns
// the first clean page it finds. Dirty pages are never stolen, so it
// returns ok == false if every resident page is dirty, meaning nothing can
// be evicted right now.
func (c *Cache) ChooseEvictionVictim() (pid storage.PageID, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if _, dirty := e.page.IsDirty(); !dirty {
			return e.pid, true
		}
	}
	return storage.PageID{}, false
}
