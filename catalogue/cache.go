package catalogue

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/nci/gomemcache/memcache"
)

// ResponseCache memoises metadata responses in memcached, keyed by
// the md5 of the request URI. A nil cache is inert so callers need no
// guards.
type ResponseCache struct {
	mc *memcache.Client
}

// NewResponseCache connects to memcached. An empty address disables
// caching.
func NewResponseCache(address string) *ResponseCache {
	if address == "" {
		return nil
	}
	return &ResponseCache{mc: memcache.New(address)}
}

func cacheKey(uri string) string {
	buff := md5.Sum([]byte(uri))
	return hex.EncodeToString(buff[:])
}

// Get returns the cached body for a request URI.
func (c *ResponseCache) Get(uri string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	item, err := c.mc.Get(cacheKey(uri))
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

// Put stores a response body. Errors are ignored; memcache may evict
// the entry at any time anyway.
func (c *ResponseCache) Put(uri string, body []byte) {
	if c == nil {
		return
	}
	c.mc.Set(&memcache.Item{Key: cacheKey(uri), Value: body})
}
