package app

import (
	"container/list"
	"sync"
)

type thumbKey struct {
	id   string
	size int
}

type thumbEntry struct {
	key  thumbKey
	data []byte
}

// thumbCache keeps the most recently used encoded thumbnails.
type thumbCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[thumbKey]*list.Element
}

func newThumbCache(capacity int) *thumbCache {
	return &thumbCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[thumbKey]*list.Element),
	}
}

func (c *thumbCache) get(k thumbKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*thumbEntry).data, true
}

func (c *thumbCache) put(k thumbKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		el.Value.(*thumbEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	c.items[k] = c.order.PushFront(&thumbEntry{key: k, data: data})
	for c.order.Len() > c.cap {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*thumbEntry).key)
	}
}

func (c *thumbCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
