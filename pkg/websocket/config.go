package websocket

import (
	"fmt"
	"strings"
	"time"

	"SafeCircle/pkg/util"
)

type Config struct {
	MaxConnections    int64         `yaml:"max_connections"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	// per-connection send queue
	MessageBufferSize int `yaml:"message_buffer_size"`
	// hub emit queue shared by all rooms
	MessageQueueSize  int  `yaml:"message_queue_size"`
	ReadBufferSize    int  `yaml:"read_buffer_size"`
	WriteBufferSize   int  `yaml:"write_buffer_size"`
	MaxMessageSize    int  `yaml:"max_message_size"`
	EnableCompression bool `yaml:"enable_compression"`
	CompressionLevel  int  `yaml:"compression_level"`
	// drop a frame for a slow connection instead of waiting SendTimeout
	DropOnFull          bool          `yaml:"drop_on_full"`
	CloseOnBackpressure bool          `yaml:"close_on_backpressure"`
	SendTimeout         time.Duration `yaml:"send_timeout"`
	// hosts allowed in the Origin header, empty means any
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func DefaultConfig() *Config {
	return &Config{
		MaxConnections:      DefaultMaxConnections,
		HeartbeatInterval:   DefaultHeartbeatInterval * time.Second,
		ConnectionTimeout:   DefaultConnectionTimeout * time.Second,
		MessageBufferSize:   DefaultMessageBufferSize,
		MessageQueueSize:    DefaultMessageQueueSize,
		ReadBufferSize:      DefaultReadBufferSize,
		WriteBufferSize:     DefaultWriteBufferSize,
		MaxMessageSize:      DefaultMaxMessageSize,
		EnableCompression:   false,
		CompressionLevel:    0,
		DropOnFull:          true,
		CloseOnBackpressure: false,
		SendTimeout:         50 * time.Millisecond,
	}
}

// LoadConfigFromEnv overlays WEBSOCKET_* variables on DefaultConfig.
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if n := util.GetIntEnv(EnvWebSocketMaxConnections); n > 0 {
		config.MaxConnections = n
	}
	config.HeartbeatInterval = util.GetDurationEnv(EnvWebSocketHeartbeatInterval, config.HeartbeatInterval)
	config.ConnectionTimeout = util.GetDurationEnv(EnvWebSocketConnectionTimeout, config.ConnectionTimeout)
	if n := util.GetIntEnv(EnvWebSocketMessageBufferSize); n > 0 {
		config.MessageBufferSize = int(n)
	}
	if n := util.GetIntEnv(EnvWebSocketMessageQueueSize); n > 0 {
		config.MessageQueueSize = int(n)
	}
	if v := util.GetEnv(EnvWebSocketEnableCompression); v != "" {
		config.EnableCompression = util.GetBoolEnv(EnvWebSocketEnableCompression)
	}
	if n := util.GetIntEnv(EnvWebSocketCompressionLevel); n != 0 {
		config.CompressionLevel = int(n)
	}
	if v := util.GetEnv(EnvWebSocketDropOnFull); v != "" {
		config.DropOnFull = util.GetBoolEnv(EnvWebSocketDropOnFull)
	}
	if n := util.GetIntEnv(EnvWebSocketReadBufferSize); n > 0 {
		config.ReadBufferSize = int(n)
	}
	if n := util.GetIntEnv(EnvWebSocketWriteBufferSize); n > 0 {
		config.WriteBufferSize = int(n)
	}
	if n := util.GetIntEnv(EnvWebSocketMaxMessageSize); n > 0 {
		config.MaxMessageSize = int(n)
	}
	if v := util.GetEnv(EnvWebSocketCloseOnBackpressure); v != "" {
		config.CloseOnBackpressure = util.GetBoolEnv(EnvWebSocketCloseOnBackpressure)
	}
	if ms := util.GetIntEnv(EnvWebSocketSendTimeoutMs); ms > 0 {
		config.SendTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := util.GetEnv(EnvWebSocketAllowedOrigins); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}
	return config
}

func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("websocket config is nil")
	}
	if config.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if config.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if config.MessageBufferSize <= 0 {
		return fmt.Errorf("message buffer size must be positive")
	}
	if config.MessageQueueSize <= 0 {
		return fmt.Errorf("message queue size must be positive")
	}
	if config.CompressionLevel < -2 || config.CompressionLevel > 9 {
		return fmt.Errorf("compression level must be within [-2, 9]")
	}
	if config.ReadBufferSize <= 0 || config.WriteBufferSize <= 0 {
		return fmt.Errorf("read/write buffer sizes must be positive")
	}
	if config.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive")
	}
	if config.HeartbeatInterval >= config.ConnectionTimeout {
		return fmt.Errorf("heartbeat interval must be shorter than connection timeout")
	}
	if config.CloseOnBackpressure && !config.DropOnFull && config.SendTimeout <= 0 {
		return fmt.Errorf("send timeout required when closing on backpressure")
	}
	return nil
}

// GetConfigSummary is the config part of the stats endpoint.
func GetConfigSummary(config *Config) map[string]interface{} {
	return map[string]interface{}{
		"max_connections":       config.MaxConnections,
		"heartbeat_interval":    config.HeartbeatInterval.String(),
		"connection_timeout":    config.ConnectionTimeout.String(),
		"message_buffer_size":   config.MessageBufferSize,
		"message_queue_size":    config.MessageQueueSize,
		"max_message_size":      config.MaxMessageSize,
		"enable_compression":    config.EnableCompression,
		"drop_on_full":          config.DropOnFull,
		"close_on_backpressure": config.CloseOnBackpressure,
		"send_timeout":          config.SendTimeout.String(),
	}
}
