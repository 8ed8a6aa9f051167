package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Cache {
	config := LocalConfig{
		MaxSize:           100,
		DefaultExpiration: 5 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	}
	all := map[string]Cache{
		"local":   NewLocalCache(config),
		"gocache": NewGoCache(config),
		"layered": NewLayeredCache(config, NewGoCache(config), nil),
	}
	t.Cleanup(func() {
		for _, c := range all {
			_ = c.Close()
		}
	})
	return all
}

func TestCacheBackends(t *testing.T) {
	ctx := context.Background()

	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("Set and Get", func(t *testing.T) {
				require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
				got, ok := c.Get(ctx, "k")
				require.True(t, ok)
				assert.Equal(t, []byte("v"), got)
				assert.True(t, c.Exists(ctx, "k"))
			})

			t.Run("SetNX only once", func(t *testing.T) {
				ok, err := c.SetNX(ctx, "once", []byte("first"), time.Minute)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = c.SetNX(ctx, "once", []byte("second"), time.Minute)
				require.NoError(t, err)
				assert.False(t, ok)

				got, _ := c.Get(ctx, "once")
				assert.Equal(t, []byte("first"), got)
			})

			t.Run("expiry", func(t *testing.T) {
				require.NoError(t, c.Set(ctx, "short", []byte("x"), 20*time.Millisecond))
				time.Sleep(60 * time.Millisecond)
				_, ok := c.Get(ctx, "short")
				assert.False(t, ok)

				ok, err := c.SetNX(ctx, "short", []byte("y"), time.Minute)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("Delete", func(t *testing.T) {
				require.NoError(t, c.Set(ctx, "gone", []byte("x"), time.Minute))
				require.NoError(t, c.Delete(ctx, "gone"))
				assert.False(t, c.Exists(ctx, "gone"))
			})
		})
	}
}

func TestLocalCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(LocalConfig{MaxSize: 2})
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	assert.True(t, c.Exists(ctx, "a"))
	assert.False(t, c.Exists(ctx, "b"))
	assert.True(t, c.Exists(ctx, "c"))
}

func TestLocalCacheSetNXConcurrent(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(LocalConfig{})
	defer c.Close()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := c.SetNX(ctx, "race", []byte(fmt.Sprint(i)), time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestNewCacheRejectsUnknownType(t *testing.T) {
	_, err := NewCache(Config{Type: "memcached"})
	assert.Error(t, err)

	c, err := NewCache(Config{})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
