package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NewCache builds the backend named by config.Type.
func NewCache(config Config) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "", "local":
		return NewLocalCache(config.Local), nil
	case "gocache":
		return NewGoCache(config.Local), nil
	case "redis":
		return NewRedisCache(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

// NewCacheWithOptions puts a local tier in front of redis when options ask for it.
func NewCacheWithOptions(config Config, options *Options) (Cache, error) {
	if options == nil {
		options = DefaultOptions()
	}
	if options.UseLocalCache && strings.ToLower(config.Type) == "redis" {
		distributed, err := NewRedisCache(config.Redis)
		if err != nil {
			return nil, err
		}
		return NewLayeredCache(config.Local, distributed, options), nil
	}
	return NewCache(config)
}

// NewLayeredCache fronts distributed with an LRU tier.
func NewLayeredCache(localConfig LocalConfig, distributed Cache, options *Options) Cache {
	if options == nil {
		options = DefaultOptions()
	}
	if options.LocalExpiration > 0 {
		localConfig.DefaultExpiration = options.LocalExpiration
	}
	return &layeredCache{
		local:       NewLocalCache(localConfig),
		distributed: distributed,
		options:     options,
	}
}

// layeredCache reads local first and backfills it. Writes go to the
// distributed tier first so it stays authoritative.
type layeredCache struct {
	local       Cache
	distributed Cache
	options     *Options
}

func (lc *layeredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := lc.local.Get(ctx, key); ok {
		return value, true
	}
	if value, ok := lc.distributed.Get(ctx, key); ok {
		_ = lc.local.Set(ctx, key, value, lc.options.LocalExpiration)
		return value, true
	}
	return nil, false
}

func (lc *layeredCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := lc.distributed.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.local.Set(ctx, key, value, lc.localTTL(expiration))
}

// localTTL never lets the local tier outlive the distributed entry.
func (lc *layeredCache) localTTL(expiration time.Duration) time.Duration {
	if expiration > 0 && (lc.options.LocalExpiration <= 0 || expiration < lc.options.LocalExpiration) {
		return expiration
	}
	return lc.options.LocalExpiration
}

// SetNX must be decided by the distributed tier alone.
func (lc *layeredCache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	ok, err := lc.distributed.SetNX(ctx, key, value, expiration)
	if err != nil || !ok {
		return ok, err
	}
	_ = lc.local.Delete(ctx, key)
	return true, nil
}

func (lc *layeredCache) Delete(ctx context.Context, key string) error {
	if err := lc.local.Delete(ctx, key); err != nil {
		return err
	}
	return lc.distributed.Delete(ctx, key)
}

func (lc *layeredCache) Exists(ctx context.Context, key string) bool {
	return lc.local.Exists(ctx, key) || lc.distributed.Exists(ctx, key)
}

func (lc *layeredCache) Close() error {
	if err := lc.local.Close(); err != nil {
		return err
	}
	return lc.distributed.Close()
}
