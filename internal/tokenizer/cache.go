package tokenizer

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// CachingAdapter wraps any Adapter with a thread-safe, bounded LRU cache
// keyed by (adapter_id, model_name, sha256(text)[:16], len(text)).
type CachingAdapter struct {
	inner    Adapter
	capacity int

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value TokenCount
}

// NewCachingAdapter wraps inner with an LRU cache holding up to capacity
// entries.
func NewCachingAdapter(inner Adapter, capacity int) *CachingAdapter {
	if capacity <= 0 {
		capacity = 1024
	}
	return &CachingAdapter{
		inner:    inner,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *CachingAdapter) AdapterID() string { return c.inner.AdapterID() }
func (c *CachingAdapter) ModelName() string { return c.inner.ModelName() }
func (c *CachingAdapter) MaxTokens() int    { return c.inner.MaxTokens() }

func cacheKey(adapterID, model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s|%s|%s|%d", adapterID, model, hex.EncodeToString(sum[:])[:16], len(text))
}

func (c *CachingAdapter) CountTokens(text string) (TokenCount, error) {
	key := cacheKey(c.inner.AdapterID(), c.inner.ModelName(), text)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		v := el.Value.(*cacheEntry).value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	tc, err := c.inner.CountTokens(text)
	if err != nil {
		return TokenCount{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).value = tc
		return tc, nil
	}
	el := c.ll.PushFront(&cacheEntry{key: key, value: tc})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
	return tc, nil
}

// Len reports the current number of cached entries.
func (c *CachingAdapter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
