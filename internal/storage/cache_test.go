package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache[V any](capacity int, ttl time.Duration) (*LRUCache[V], *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[V](capacity, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRUCache_GetSet(t *testing.T) {
	c, _ := newTestCache[string](2, time.Minute)

	c.Set("a", "1")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_Expiry(t *testing.T) {
	c, clock := newTestCache[int](10, time.Minute)

	c.Set("a", 1)
	c.SetWithTTL("b", 2, 5*time.Minute)

	clock.Advance(2 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRUCache_Touch(t *testing.T) {
	c, clock := newTestCache[int](10, time.Minute)
	c.Set("s", 1)

	clock.Advance(50 * time.Second)
	assert.True(t, c.Touch("s", time.Minute))

	clock.Advance(50 * time.Second)
	_, ok := c.Get("s")
	assert.True(t, ok, "touch extended the lifetime")

	clock.Advance(2 * time.Minute)
	assert.False(t, c.Touch("s", time.Minute))
	assert.False(t, c.Touch("never", time.Minute))
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c, clock := newTestCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.SetWithTTL("c", 3, time.Hour)

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 2, c.CleanupExpired())
	assert.Equal(t, 1, c.Len())

	c.Delete("c")
	assert.Equal(t, 0, c.Len())

	c.Set("d", 4)
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
