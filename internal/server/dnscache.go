package server

import (
	"net"
	"sync"
	"time"
)

// dnsCache memoizes reverse/forward lookups so the Request Context
// builder never blocks the same name twice within ttl. Failures are
// cached as empty strings per spec's "SHOULD treat failures as empty
// strings" guidance.
type dnsCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]dnsEntry
}

type dnsEntry struct {
	value     string
	expiresAt time.Time
}

func newDNSCache(ttl time.Duration) *dnsCache {
	return &dnsCache{ttl: ttl, entries: make(map[string]dnsEntry)}
}

func (c *dnsCache) reverse(addr string) string {
	return c.resolve("ptr:"+addr, func() string {
		names, err := net.LookupAddr(addr)
		if err != nil || len(names) == 0 {
			return ""
		}
		return names[0]
	})
}

func (c *dnsCache) forward(host string) string {
	return c.resolve("a:"+host, func() string {
		addrs, err := net.LookupHost(host)
		if err != nil || len(addrs) == 0 {
			return ""
		}
		return addrs[0]
	})
}

func (c *dnsCache) resolve(key string, lookup func() string) string {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value
	}
	c.mu.Unlock()

	v := lookup()

	c.mu.Lock()
	c.entries[key] = dnsEntry{value: v, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return v
}
