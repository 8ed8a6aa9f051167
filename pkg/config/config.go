package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"SafeCircle/pkg/cache"
	constants "SafeCircle/pkg/constant"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/util"
	"SafeCircle/pkg/websocket"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr     string `env:"ADDR" yaml:"addr"`
	Mode     string `env:"MODE" yaml:"mode"`
	DBDriver string `env:"DB_DRIVER" yaml:"db_driver"`
	DSN      string `env:"DSN" yaml:"dsn"`

	JWTSecret string `env:"JWT_SECRET" yaml:"jwt_secret"`

	// ulule/limiter formatted rates, e.g. "20-M"
	ChatRate string `env:"CHAT_RATE" yaml:"chat_rate"`
	APIRate  string `env:"API_RATE" yaml:"api_rate"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" yaml:"idempotency_ttl"`

	Cache     cache.Config     `yaml:"cache"`
	Push      PushConfig       `yaml:"push"`
	Storage   StorageConfig    `yaml:"storage"`
	WebSocket websocket.Config `yaml:"websocket"`
	Log       logger.LogConfig `yaml:"log"`
}

type PushConfig struct {
	ExpoAccessToken string        `env:"EXPO_ACCESS_TOKEN" yaml:"expo_access_token"`
	VAPIDPublicKey  string        `env:"VAPID_PUBLIC_KEY" yaml:"vapid_public_key"`
	VAPIDPrivateKey string        `env:"VAPID_PRIVATE_KEY" yaml:"vapid_private_key"`
	VAPIDSubscriber string        `env:"VAPID_SUBSCRIBER" yaml:"vapid_subscriber"`
	ChannelTimeout  time.Duration `env:"NOTIFY_CHANNEL_TIMEOUT" yaml:"channel_timeout"`
}

// WebPushEnabled reports whether a VAPID key pair is configured.
func (p PushConfig) WebPushEnabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

type StorageConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT" yaml:"endpoint"`
	AccessKey string `env:"MINIO_ACCESS_KEY" yaml:"access_key"`
	SecretKey string `env:"MINIO_SECRET_KEY" yaml:"secret_key"`
	Bucket    string `env:"MINIO_BUCKET" yaml:"bucket"`
	UseSSL    bool   `env:"MINIO_USE_SSL" yaml:"use_ssl"`
	PublicURL string `env:"MINIO_PUBLIC_URL" yaml:"public_url"`
	// upload size limit in bytes
	MaxUpload int64 `env:"MINIO_MAX_UPLOAD" yaml:"max_upload"`
}

func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

var GlobalConfig *Config

// Load reads .env.<APP_ENV>, the environment and then the optional CONFIG_FILE overlay into GlobalConfig.
func Load() error {
	env := util.GetEnvDefault("APP_ENV", constants.ENV_DEVELOPMENT)
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg := FromEnv()
	if path := util.GetEnv("CONFIG_FILE"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// FromEnv builds a Config from process environment with defaults applied.
func FromEnv() *Config {
	return &Config{
		Addr:           util.GetEnvDefault("ADDR", ":8080"),
		Mode:           util.GetEnvDefault("MODE", "debug"),
		DBDriver:       util.GetEnvDefault("DB_DRIVER", util.DriverSQLite),
		DSN:            util.GetEnvDefault("DSN", "safecircle.db"),
		JWTSecret:      util.GetEnv("JWT_SECRET"),
		ChatRate:       util.GetEnvDefault("CHAT_RATE", "20-M"),
		APIRate:        util.GetEnvDefault("API_RATE", "120-M"),
		IdempotencyTTL: util.GetDurationEnv("IDEMPOTENCY_TTL", 10*time.Minute),
		Cache: cache.Config{
			Type: util.GetEnvDefault("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:         util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password:     util.GetEnv("REDIS_PASSWORD"),
				DB:           int(util.GetIntEnv("REDIS_DB")),
				PoolSize:     int(util.GetIntEnvDefault("REDIS_POOL_SIZE", 10)),
				MinIdleConns: int(util.GetIntEnvDefault("REDIS_MIN_IDLE_CONNS", 5)),
				DialTimeout:  util.GetDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
				ReadTimeout:  util.GetDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
				WriteTimeout: util.GetDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			},
			Local: cache.LocalConfig{
				MaxSize:           int(util.GetIntEnvDefault("LOCAL_CACHE_MAX_SIZE", 1000)),
				DefaultExpiration: util.GetDurationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   util.GetDurationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		Push: PushConfig{
			ExpoAccessToken: util.GetEnv("EXPO_ACCESS_TOKEN"),
			VAPIDPublicKey:  util.GetEnv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: util.GetEnv("VAPID_PRIVATE_KEY"),
			VAPIDSubscriber: util.GetEnvDefault("VAPID_SUBSCRIBER", "mailto:alerts@safecircle.local"),
			ChannelTimeout:  util.GetDurationEnv("NOTIFY_CHANNEL_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:  util.GetEnv("MINIO_ENDPOINT"),
			AccessKey: util.GetEnv("MINIO_ACCESS_KEY"),
			SecretKey: util.GetEnv("MINIO_SECRET_KEY"),
			Bucket:    util.GetEnv("MINIO_BUCKET"),
			UseSSL:    util.GetBoolEnv("MINIO_USE_SSL"),
			PublicURL: util.GetEnv("MINIO_PUBLIC_URL"),
			MaxUpload: util.GetIntEnvDefault("MINIO_MAX_UPLOAD", 20<<20),
		},
		WebSocket: *websocket.LoadConfigFromEnv(),
		Log: logger.LogConfig{
			Level:      util.GetEnvDefault("LOG_LEVEL", "info"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
	}
}

// overlayFile decodes a YAML file on top of cfg; keys absent from the file keep their env values.
func overlayFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Cache.Type {
	case "local", "gocache", "redis":
	default:
		return fmt.Errorf("unsupported CACHE_TYPE %q", c.Cache.Type)
	}
	if err := websocket.ValidateConfig(&c.WebSocket); err != nil {
		return err
	}
	if c.Push.ChannelTimeout <= 0 {
		return fmt.Errorf("NOTIFY_CHANNEL_TIMEOUT must be positive")
	}
	return nil
}
