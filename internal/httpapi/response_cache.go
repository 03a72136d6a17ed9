package httpapi

import (
	"time"

	"github.com/coocood/freecache"
)

// ResponseCache keeps encoded API responses in memory for a short time.
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Del(key string)
}

type freeResponseCache struct {
	cache *freecache.Cache
	ttl   int
}

// NewResponseCache returns a no-op cache when sizeMB or ttl is not positive.
func NewResponseCache(sizeMB int, ttl time.Duration) ResponseCache {
	if sizeMB <= 0 || ttl <= 0 {
		return noopResponseCache{}
	}
	return &freeResponseCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   max(int(ttl.Seconds()), 1),
	}
}

func (c *freeResponseCache) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *freeResponseCache) Set(key string, value []byte) {
	_ = c.cache.Set([]byte(key), value, c.ttl)
}

func (c *freeResponseCache) Del(key string) {
	c.cache.Del([]byte(key))
}

type noopResponseCache struct{}

func (noopResponseCache) Get(string) ([]byte, bool) { return nil, false }
func (noopResponseCache) Set(string, []byte)        {}
func (noopResponseCache) Del(string)                {}
