package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localItem struct {
	value      []byte
	expiration time.Time
}

func (i localItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// localCache is a size-bounded LRU with lazy expiry plus a periodic sweep.
type localCache struct {
	config LocalConfig
	items  *lru.Cache[string, localItem]

	// guards check-and-set in SetNX
	mu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

func NewLocalCache(config LocalConfig) Cache {
	config = config.withDefaults()
	items, _ := lru.New[string, localItem](config.MaxSize)
	lc := &localCache{
		config: config,
		items:  items,
		stop:   make(chan struct{}),
	}
	go lc.startCleanup()
	return lc
}

func (lc *localCache) ttl(expiration time.Duration) time.Time {
	if expiration <= 0 {
		expiration = lc.config.DefaultExpiration
	}
	return time.Now().Add(expiration)
}

func (lc *localCache) Get(ctx context.Context, key string) ([]byte, bool) {
	item, ok := lc.items.Get(key)
	if !ok {
		return nil, false
	}
	if item.expired(time.Now()) {
		lc.items.Remove(key)
		return nil, false
	}
	return item.value, true
}

func (lc *localCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	lc.items.Add(key, localItem{value: value, expiration: lc.ttl(expiration)})
	return nil
}

func (lc *localCache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if item, ok := lc.items.Peek(key); ok && !item.expired(time.Now()) {
		return false, nil
	}
	lc.items.Add(key, localItem{value: value, expiration: lc.ttl(expiration)})
	return true, nil
}

func (lc *localCache) Delete(ctx context.Context, key string) error {
	lc.items.Remove(key)
	return nil
}

func (lc *localCache) Exists(ctx context.Context, key string) bool {
	_, ok := lc.Get(ctx, key)
	return ok
}

func (lc *localCache) Close() error {
	lc.stopOnce.Do(func() { close(lc.stop) })
	return nil
}

func (lc *localCache) startCleanup() {
	ticker := time.NewTicker(lc.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lc.cleanup()
		case <-lc.stop:
			return
		}
	}
}

func (lc *localCache) cleanup() {
	now := time.Now()
	for _, key := range lc.items.Keys() {
		if item, ok := lc.items.Peek(key); ok && item.expired(now) {
			lc.items.Remove(key)
		}
	}
}
