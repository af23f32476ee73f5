package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_BasicOperations(t *testing.T) {
	c := NewLRU(10, time.Minute)

	c.Set("a", []byte("1"), 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Set("a", []byte("2"), 0)
	v, _ = c.Get("a")
	assert.Equal(t, "2", string(v))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLRU_ReturnsCopies(t *testing.T) {
	c := NewLRU(10, time.Minute)
	src := []byte("abc")
	c.Set("k", src, 0)
	src[0] = 'z'

	v, _ := c.Get("k")
	assert.Equal(t, "abc", string(v))
	v[0] = 'y'
	v, _ = c.Get("k")
	assert.Equal(t, "abc", string(v))
}

func TestLRU_Expiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewLRU(10, time.Minute).WithClock(func() time.Time { return now })

	c.Set("short", []byte("x"), time.Second)
	c.Set("long", []byte("y"), time.Hour)

	now = now.Add(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, c.CleanupExpired())
	assert.Zero(t, c.Stats().Size)
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU(2, time.Minute)
	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("2"), 0)
	c.Get("a") // a becomes most recent
	c.Set("c", []byte("3"), 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRU_Invalidate(t *testing.T) {
	c := NewLRU(10, time.Minute)
	c.Set("session:1", []byte("a"), 0)
	c.Set("session:2", []byte("b"), 0)
	c.Set("catalog:1", []byte("c"), 0)

	assert.Equal(t, 1, c.Invalidate("catalog:1"))
	assert.Equal(t, 0, c.Invalidate("catalog:1"))
	assert.Equal(t, 2, c.Invalidate("session:*"))
	assert.Zero(t, c.Stats().Size)

	c.Set("x", []byte("1"), 0)
	c.Clear()
	assert.Zero(t, c.Stats().Size)
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c := NewLRU(50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*j)%80)
				c.Set(key, []byte("v"), 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Size, 50)
}
