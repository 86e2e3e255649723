package cache

import (
	"container/list"
	"sync"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache evicts the least recently used entry when it grows past maxSize.
type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	obs     observer
	evictFn EvictCallback[V]
}

func newLRUCache[V any](maxSize int, opts *cacheOptions[V]) (*lruCache[V], error) {
	obs, err := newObserver(opts, "newLRUCache")
	if err != nil {
		return nil, err
	}
	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		obs:     obs,
		evictFn: opts.evictCallback,
	}, nil
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.obs.miss()
		var zero V
		return zero, false
	}
	c.order.MoveToFront(element)
	value := element.Value.(*lruEntry[V]).value
	c.mu.Unlock()

	c.obs.hit()
	return value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		size := len(c.items)
		c.mu.Unlock()
		c.obs.set(size)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	var evicted *lruEntry[V]
	if len(c.items) > c.maxSize {
		evicted = c.removeOldest()
	}
	size := len(c.items)
	c.mu.Unlock()

	c.obs.set(size)
	if evicted != nil {
		c.obs.evicted()
		if c.evictFn != nil {
			c.evictFn(evicted.key, evicted.value)
		}
	}
	return true, nil
}

func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	entry := c.remove(element)
	size := len(c.items)
	c.mu.Unlock()

	c.obs.deleted(size)
	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	return true, nil
}

func (c *lruCache[V]) Clear() error {
	c.mu.Lock()
	old := c.order
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.mu.Unlock()

	c.obs.stats.UpdateSize(0)
	if c.evictFn != nil {
		for e := old.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*lruEntry[V])
			c.evictFn(entry.key, entry.value)
		}
	}
	return nil
}

func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys from most to least recently used.
func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry[V]).key)
	}
	return keys
}

func (c *lruCache[V]) Stats() *Statistics { return c.obs.stats }

func (c *lruCache[V]) Close() error { return c.Clear() }

// removeOldest must be called with c.mu held.
func (c *lruCache[V]) removeOldest() *lruEntry[V] {
	back := c.order.Back()
	if back == nil {
		return nil
	}
	return c.remove(back)
}

// remove must be called with c.mu held.
func (c *lruCache[V]) remove(element *list.Element) *lruEntry[V] {
	entry := c.order.Remove(element).(*lruEntry[V])
	delete(c.items, entry.key)
	return entry
}
