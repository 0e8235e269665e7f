// Package cache provides a content-addressed result cache with TTL expiry
// and LRU eviction. Only successful executions are stored; failures are
// never cached, and a cache failure is always treated as a miss.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// entry is one cached value with its expiry.
type entry struct {
	key       string
	value     interface{}
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a fixed-size LRU with per-entry TTL. All access is serialized
// under a single mutex: LRU order updates and TTL checks are mutations, so
// reads take the same lock as writes. There is deliberately no single-flight
// de-duplication — two concurrent identical requests may both execute, and
// whichever completes last wins the slot.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	ll      *list.List
	items   map[string]*list.Element
	now     func() time.Time
}

// New creates a cache holding at most maxSize entries, each valid for ttl.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns the cached value for key, refreshing its LRU position.
// Expired entries are removed and reported as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry when
// at capacity.
func (c *Cache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.maxSize {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}

	c.items[key] = c.ll.PushFront(&entry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	})
}

// Sweep removes every expired entry and returns how many were dropped.
// Called periodically by the maintenance scheduler.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if now.After(e.expiresAt) {
			c.ll.Remove(el)
			delete(c.items, e.key)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the current number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Key derives a deterministic cache key from any JSON-encodable value.
// Struct field order makes the encoding canonical for a given type.
func Key(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Unencodable values cannot be cached; an impossible key keeps
		// them as permanent misses.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
