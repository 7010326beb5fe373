package cache

import (
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingMetrics struct {
	mu                           sync.Mutex
	hits, misses, shared, failed int
}

func (m *countingMetrics) CacheHit(string)         { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *countingMetrics) CacheMiss(string)        { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *countingMetrics) CacheShared(string)      { m.mu.Lock(); m.shared++; m.mu.Unlock() }
func (m *countingMetrics) CacheFetchFailed(string) { m.mu.Lock(); m.failed++; m.mu.Unlock() }
