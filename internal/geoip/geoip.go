// Package geoip resolves a sender address to a country code for logging
// and metrics purposes only. It never blocks the rewrite evaluator: the
// Request Context is always built first, and this lookup happens
// alongside or after that, never inside it.
package geoip

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

type cacheEntry struct {
	country   string
	expiresAt time.Time
}

// Lookup resolves an IP to a country code via a configurable HTTP
// endpoint, with an in-memory TTL cache keyed by IP. Failures resolve to
// "" rather than propagating an error, per its minimal-contract role.
type Lookup struct {
	endpoint string
	client   *http.Client
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New returns a Lookup against endpoint (expected to accept "?ip=<addr>"
// and answer {"country":"XX"}), or a disabled Lookup if endpoint is empty.
func New(endpoint string, timeout time.Duration, ttl time.Duration) *Lookup {
	return &Lookup{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
	}
}

type lookupResponse struct {
	Country string `json:"country"`
}

// Country returns the ISO country code for addr, or "" if the lookup is
// disabled, times out, or the endpoint errors.
func (l *Lookup) Country(addr string) string {
	if l.endpoint == "" {
		return ""
	}

	l.mu.Lock()
	if e, ok := l.cache[addr]; ok && time.Now().Before(e.expiresAt) {
		l.mu.Unlock()
		return e.country
	}
	l.mu.Unlock()

	country := l.fetch(addr)

	l.mu.Lock()
	l.cache[addr] = cacheEntry{country: country, expiresAt: time.Now().Add(l.ttl)}
	l.mu.Unlock()

	return country
}

func (l *Lookup) fetch(addr string) string {
	resp, err := l.client.Get(fmt.Sprintf("%s?ip=%s", l.endpoint, url.QueryEscape(addr)))
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Country
}
