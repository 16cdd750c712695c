// Package config loads runtime settings from the environment and the intake
// dialogue table from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the settings read once at startup.
type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	OpenAIKey     string
	OpenAIBaseURL string
	ChatModel     string
	SummaryModel  string
	MessageCap    int
	EchoSettle    time.Duration
	SessionTTL    time.Duration
	GeocoderURL   string
	TopicsFile    string
	LogLevel      string
	NotifyChannel string
}

// Defaults.
const (
	DefaultPort          = "8080"
	DefaultMessageCap    = 50
	DefaultEchoSettle    = 600 * time.Millisecond
	DefaultSessionTTL    = 2 * time.Hour
	DefaultGeocoderURL   = "https://nominatim.openstreetmap.org"
	DefaultNotifyChannel = "report_ready"
)

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load reads the configuration through getenv.  Unset values take their
// defaults; malformed numbers are reported rather than silently ignored.
func Load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:          getenv("PORT"),
		DatabaseURL:   getenv("DATABASE_URL"),
		RedisURL:      getenv("REDIS_URL"),
		OpenAIKey:     getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL"),
		ChatModel:     getenv("OPENAI_MODEL_CHAT"),
		SummaryModel:  getenv("OPENAI_MODEL_SUMMARY"),
		MessageCap:    DefaultMessageCap,
		EchoSettle:    DefaultEchoSettle,
		SessionTTL:    DefaultSessionTTL,
		GeocoderURL:   getenv("GEOCODER_URL"),
		TopicsFile:    getenv("TOPICS_FILE"),
		LogLevel:      getenv("LOG_LEVEL"),
		NotifyChannel: getenv("POSTGRES_NOTIFY_CHANNEL"),
	}
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.GeocoderURL == "" {
		cfg.GeocoderURL = DefaultGeocoderURL
	}
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = DefaultNotifyChannel
	}
	if v := getenv("MESSAGE_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: MESSAGE_CAP must be a positive integer, got %q", v)
		}
		cfg.MessageCap = n
	}
	if v := getenv("ECHO_SETTLE_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: ECHO_SETTLE_MS must be a non-negative integer, got %q", v)
		}
		cfg.EchoSettle = time.Duration(n) * time.Millisecond
	}
	if v := getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: SESSION_TTL must be a positive duration, got %q", v)
		}
		cfg.SessionTTL = d
	}
	return cfg, nil
}

// GenerationEnabled reports whether an API key is configured.
func (c Config) GenerationEnabled() bool { return c.OpenAIKey != "" }
