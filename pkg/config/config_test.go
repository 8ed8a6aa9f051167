package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("CHAT_RATE", "")
	t.Setenv("CACHE_TYPE", "")
	t.Setenv("NOTIFY_CHANNEL_TIMEOUT", "")

	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "20-M", cfg.ChatRate)
	assert.Equal(t, "local", cfg.Cache.Type)
	assert.Equal(t, 10*time.Second, cfg.Push.ChannelTimeout)
	assert.Equal(t, 10*time.Minute, cfg.IdempotencyTTL)
	assert.False(t, cfg.Push.WebPushEnabled())
	assert.False(t, cfg.Storage.Enabled())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_RATE", "5-S")
	t.Setenv("NOTIFY_CHANNEL_TIMEOUT", "2s")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	t.Setenv("REDIS_DB", "3")

	cfg := FromEnv()
	assert.Equal(t, "5-S", cfg.ChatRate)
	assert.Equal(t, 2*time.Second, cfg.Push.ChannelTimeout)
	assert.True(t, cfg.Push.WebPushEnabled())
	assert.Equal(t, 3, cfg.Cache.Redis.DB)
}

func TestOverlayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
jwt_secret: from-file
push:
  channel_timeout: 3s
cache:
  type: gocache
`), 0o600))

	cfg := FromEnv()
	cfg.ChatRate = "7-M"
	require.NoError(t, overlayFile(cfg, path))

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 3*time.Second, cfg.Push.ChannelTimeout)
	assert.Equal(t, "gocache", cfg.Cache.Type)
	assert.Equal(t, "7-M", cfg.ChatRate)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	cfg.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "s"
	cfg.Cache.Type = "memcached"
	assert.Error(t, cfg.Validate())

	cfg.Cache.Type = "redis"
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt_secret: loaded\n"), 0o600))
	t.Setenv("APP_ENV", "test")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CACHE_TYPE", "local")

	require.NoError(t, Load())
	require.NotNil(t, GlobalConfig)
	assert.Equal(t, "loaded", GlobalConfig.JWTSecret)
}
