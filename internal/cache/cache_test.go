package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemorySetGet(t *testing.T) {
	c := NewMemory(0)

	c.Set("qrcode", []byte("payload"), time.Minute)

	got, ok := c.Get("qrcode")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestMemoryMissingKey(t *testing.T) {
	c := NewMemory(0)

	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory(0)

	c.Set("short", []byte("x"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
}

func TestMemoryJanitorEvicts(t *testing.T) {
	c := NewMemory(20 * time.Millisecond).(*memoryCache)
	defer c.Stop()

	c.Set("short", []byte("x"), 10*time.Millisecond)
	c.Set("long", []byte("y"), time.Hour)

	assert.Eventually(t, func() bool {
		stats := c.Stats()
		return stats.CurrentSize == 1 && stats.Evictions == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryJanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewMemory(10 * time.Millisecond).(*memoryCache)
	c.Set("a", []byte("1"), time.Minute)
	c.Stop()
}

func TestMemoryDeleteAndClear(t *testing.T) {
	c := NewMemory(0)

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryStats(t *testing.T) {
	c := NewMemory(0)

	c.Set("a", []byte("1"), time.Minute)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestNoopStoresNothing(t *testing.T) {
	c := NewNoop()

	c.Set("a", []byte("1"), time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, c.Stats())
}
