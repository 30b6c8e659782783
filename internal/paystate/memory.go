package paystate

import (
	"context"
	"sync"
	"time"
)

const pruneThreshold = 1024

type cacheEntry struct {
	status  Status
	expires time.Time
}

type MemoryCache struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[int64]cacheEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{TTL: ttl, Now: time.Now, entries: map[int64]cacheEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, paymentID int64) (Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[paymentID]
	if !ok {
		return Status{}, false, nil
	}
	if !c.Now().Before(e.expires) {
		delete(c.entries, paymentID)
		return Status{}, false, nil
	}
	return e.status, true, nil
}

func (c *MemoryCache) Set(_ context.Context, paymentID int64, s Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	if len(c.entries) >= pruneThreshold {
		for id, e := range c.entries {
			if !now.Before(e.expires) {
				delete(c.entries, id)
			}
		}
	}
	c.entries[paymentID] = cacheEntry{status: s, expires: now.Add(c.TTL)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, paymentID int64) error {
	c.mu.Lock()
	delete(c.entries, paymentID)
	c.mu.Unlock()
	return nil
}

type MemoryThrottle struct {
	Window time.Duration
	Now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryThrottle(window time.Duration) *MemoryThrottle {
	return &MemoryThrottle{Window: window, Now: time.Now, last: map[string]time.Time{}}
}

func (t *MemoryThrottle) Reserve(_ context.Context, key string) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.Now()
	if len(t.last) >= pruneThreshold {
		for k, at := range t.last {
			if now.Sub(at) >= t.Window {
				delete(t.last, k)
			}
		}
	}
	if at, ok := t.last[key]; ok {
		if elapsed := now.Sub(at); elapsed < t.Window {
			return false, t.Window - elapsed, nil
		}
	}
	t.last[key] = now
	return true, 0, nil
}
