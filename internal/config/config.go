// Package config loads chatsync configuration in three layers: built-in
// defaults, an optional YAML file, then CHATSYNC_* environment variables.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Socket  SocketConfig  `koanf:"socket"`
	Chat    ChatConfig    `koanf:"chat"`
	Breaker BreakerConfig `koanf:"breaker"`
	Prefs   PrefsConfig   `koanf:"prefs"`
	NATS    NATSConfig    `koanf:"nats"`
	Metrics MetricsConfig `koanf:"metrics"`
	Logging LoggingConfig `koanf:"logging"`
}

// APIConfig configures the REST gateway.
type APIConfig struct {
	BaseURL       string        `koanf:"base_url" validate:"required,url"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	RefreshPath   string        `koanf:"refresh_path" validate:"required,startswith=/"`
	DefaultLocale string        `koanf:"default_locale" validate:"required"`
}

// SocketConfig configures the live-event connection.
type SocketConfig struct {
	URL              string        `koanf:"url" validate:"required,url"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
	PingInterval     time.Duration `koanf:"ping_interval" validate:"gt=0"`
	PongTimeout      time.Duration `koanf:"pong_timeout" validate:"gt=0"`
	ReconnectMin     time.Duration `koanf:"reconnect_min" validate:"gt=0"`
	ReconnectMax     time.Duration `koanf:"reconnect_max" validate:"gtefield=ReconnectMin"`
	OutboxSize       int           `koanf:"outbox_size" validate:"gte=0"`
}

// ChatConfig holds store tuning.
type ChatConfig struct {
	ConversationPageSize int           `koanf:"conversation_page_size" validate:"gt=0"`
	MessagePageSize      int           `koanf:"message_page_size" validate:"gt=0"`
	ReadRefreshDelay     time.Duration `koanf:"read_refresh_delay" validate:"gte=0"`
	ReceiptRefreshDelay  time.Duration `koanf:"receipt_refresh_delay" validate:"gte=0"`
	SendLimit            int           `koanf:"send_limit" validate:"gt=0"`
	SendWindow           time.Duration `koanf:"send_window" validate:"gt=0"`
}

// BreakerConfig configures the gateway circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests" validate:"gt=0"`
	Interval     time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MinRequests  uint32        `koanf:"min_requests" validate:"gt=0"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,lte=1"`
}

// PrefsConfig selects the persisted client-state backend.
type PrefsConfig struct {
	Driver    string `koanf:"driver" validate:"oneof=badger redis memory"`
	Path      string `koanf:"path" validate:"required_if=Driver badger"`
	RedisAddr string `koanf:"redis_addr" validate:"required_if=Driver redis"`
	Namespace string `koanf:"namespace" validate:"required"`
}

// NATSConfig configures the optional event mirror.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url" validate:"required_if=Enabled true"`
	Name          string        `koanf:"name"`
	SubjectPrefix string        `koanf:"subject_prefix" validate:"required_if=Enabled true"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	MaxReconnects int           `koanf:"max_reconnects"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr" validate:"required_if=Enabled true"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "http://localhost:3000/api/v1",
			Timeout:       30 * time.Second,
			RefreshPath:   "/auth/refresh",
			DefaultLocale: "en",
		},
		Socket: SocketConfig{
			URL:              "ws://localhost:3000/ws",
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     25 * time.Second,
			PongTimeout:      20 * time.Second,
			ReconnectMin:     1 * time.Second,
			ReconnectMax:     32 * time.Second,
			OutboxSize:       256,
		},
		Chat: ChatConfig{
			ConversationPageSize: 10,
			MessagePageSize:      20,
			ReadRefreshDelay:     500 * time.Millisecond,
			ReceiptRefreshDelay:  1 * time.Second,
			SendLimit:            5,
			SendWindow:           10 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
		Prefs: PrefsConfig{
			Driver:    "badger",
			Path:      "./data/prefs",
			RedisAddr: "localhost:6379",
			Namespace: "chatsync",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			Name:          "chatsync",
			SubjectPrefix: "chatsync",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
