package synth

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/stagecue/stagecue/internal/response"
)

// Cache is a bounded in-memory store of synthesized WAV data keyed by voice
// and normalized text. When full, the least recently used entry is evicted.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	hits    int64
	misses  int64
}

type cacheEntry struct {
	key  string
	data []byte
}

// NewCache creates a [Cache] holding at most max entries. A max of zero or
// less disables caching entirely.
func NewCache(max int) *Cache {
	return &Cache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// cacheKey hashes voice and normalized text so near-identical phrasings of
// the same reply share one entry.
func cacheKey(text, voice string) string {
	h := sha256.Sum256([]byte(voice + ":" + response.NormalizeText(text)))
	return hex.EncodeToString(h[:])
}

// Get returns cached audio for (text, voice) and marks it recently used.
func (c *Cache) Get(text, voice string) ([]byte, bool) {
	if c.max <= 0 {
		return nil, false
	}
	key := cacheKey(text, voice)

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*cacheEntry).data, true
}

// Put stores audio for (text, voice), evicting the coldest entry if the
// cache is full.
func (c *Cache) Put(text, voice string, data []byte) {
	if c.max <= 0 {
		return
	}
	key := cacheKey(text, voice)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, data: data})
	if c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
