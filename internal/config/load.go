package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CHATSYNC_CONFIG"

// EnvPrefix is stripped from environment variables before mapping.
const EnvPrefix = "CHATSYNC_"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"chatsync.yaml",
	"chatsync.yml",
	"/etc/chatsync/chatsync.yaml",
}

// Load builds the configuration from defaults, file and environment and
// validates the result.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom is Load with an explicit file path; an empty path skips the file
// layer.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps CHATSYNC_-stripped, lowercased names to koanf paths.
// Section names never contain underscores but field names do, so the split
// cannot be derived mechanically.
var envMappings = map[string]string{
	"api_base_url":       "api.base_url",
	"api_timeout":        "api.timeout",
	"api_refresh_path":   "api.refresh_path",
	"api_default_locale": "api.default_locale",

	"socket_url":               "socket.url",
	"socket_handshake_timeout": "socket.handshake_timeout",
	"socket_ping_interval":     "socket.ping_interval",
	"socket_pong_timeout":      "socket.pong_timeout",
	"socket_reconnect_min":     "socket.reconnect_min",
	"socket_reconnect_max":     "socket.reconnect_max",
	"socket_outbox_size":       "socket.outbox_size",

	"chat_conversation_page_size": "chat.conversation_page_size",
	"chat_message_page_size":      "chat.message_page_size",
	"chat_read_refresh_delay":     "chat.read_refresh_delay",
	"chat_receipt_refresh_delay":  "chat.receipt_refresh_delay",
	"chat_send_limit":             "chat.send_limit",
	"chat_send_window":            "chat.send_window",

	"breaker_max_requests":  "breaker.max_requests",
	"breaker_interval":      "breaker.interval",
	"breaker_timeout":       "breaker.timeout",
	"breaker_min_requests":  "breaker.min_requests",
	"breaker_failure_ratio": "breaker.failure_ratio",

	"prefs_driver":     "prefs.driver",
	"prefs_path":       "prefs.path",
	"prefs_redis_addr": "prefs.redis_addr",
	"prefs_namespace":  "prefs.namespace",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_name":           "nats.name",
	"nats_subject_prefix": "nats.subject_prefix",

	"metrics_enabled":     "metrics.enabled",
	"metrics_listen_addr": "metrics.listen_addr",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps CHATSYNC_SOCKET_URL to socket.url. Unknown variables
// map to "" and are skipped by the provider.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}
