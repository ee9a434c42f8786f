package scan

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// CacheKey is md5("direction:filename:text"), with ":kind" appended when a
// content kind was supplied.
func CacheKey(direction, filename, text, kind string) string {
	raw := direction + ":" + filename + ":" + text
	if kind != "" {
		raw += ":" + kind
	}
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	report  Report
	expires time.Time
}

// Cache is a size- and TTL-bounded results cache. One mutex guards reads
// and writes; expiry is checked on read and swept on write.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, cacheEntry]
	ttl time.Duration
	now func() time.Time
}

func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	lru, _ := simplelru.NewLRU[string, cacheEntry](maxEntries, nil)
	return &Cache{lru: lru, ttl: ttl, now: time.Now}
}

// Get returns the stored report for key if it has not expired.
func (c *Cache) Get(key string) (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return Report{}, false
	}
	if !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return Report{}, false
	}
	return e.report, true
}

func (c *Cache) Put(key string, r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	c.lru.Add(key, cacheEntry{report: r, expires: now.Add(c.ttl)})
}

// sweep drops expired entries from the cold end. Entries share one TTL, so
// the walk can stop at the first live one. Must hold mu.
func (c *Cache) sweep(now time.Time) {
	for {
		_, e, ok := c.lru.GetOldest()
		if !ok || now.Before(e.expires) {
			return
		}
		c.lru.RemoveOldest()
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
