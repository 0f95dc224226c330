// lru.go implements the bounded set of message ids the engine has already
// seen.
//
// A relay may deliver the same message twice (for instance after a
// reconnect re-subscribes while a frame was in flight), and a participant
// must never apply its own broadcast. The engine records every id it sends
// or applies; anything already present is discarded. Old ids fall off the
// back of the list once the capacity is reached.

package sync

import (
	"container/list"
	"sync"
	"time"
)

// seenCache is a thread-safe LRU set of message ids with the time each id
// was first seen.
type seenCache struct {
	size      int
	evictList *list.List
	items     map[string]*list.Element
	mu        sync.Mutex
}

type seenEntry struct {
	id   string
	seen time.Time
}

// newSeenCache creates a cache holding at most size ids. Non-positive sizes
// use the default of 1000.
func newSeenCache(size int) *seenCache {
	if size <= 0 {
		size = 1000
	}
	return &seenCache{
		size:      size,
		evictList: list.New(),
		items:     make(map[string]*list.Element),
	}
}

// Observe records id and reports whether it was already present. A repeat
// sighting refreshes the id's position.
func (c *seenCache) Observe(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[id]; exists {
		c.evictList.MoveToFront(elem)
		return true
	}

	elem := c.evictList.PushFront(&seenEntry{id: id, seen: now})
	c.items[id] = elem
	if c.evictList.Len() > c.size {
		c.removeOldest()
	}
	return false
}

// FirstSeen returns when id was recorded.
func (c *seenCache) FirstSeen(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[id]; exists {
		return elem.Value.(*seenEntry).seen, true
	}
	return time.Time{}, false
}

// Contains checks for id without touching the eviction order.
func (c *seenCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.items[id]
	return exists
}

// Forget removes id.
func (c *seenCache) Forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[id]; exists {
		c.removeElement(elem)
		return true
	}
	return false
}

// Clear removes every id.
func (c *seenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
}

// Len returns the number of ids held.
func (c *seenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictList.Len()
}

func (c *seenCache) removeOldest() {
	if elem := c.evictList.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *seenCache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	delete(c.items, elem.Value.(*seenEntry).id)
}
