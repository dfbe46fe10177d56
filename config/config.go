// Package config loads server configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all server configuration.
type Config struct {
	Port       int    `envconfig:"PORT" default:"8080"`
	PhonePort  int    `envconfig:"PHONE_PORT" default:"8081"` // used when ServerType is "both"
	ServerType string `envconfig:"SERVER_TYPE" default:"websocket"` // "websocket", "phone", or "both"

	// GeminiAPIKey authenticates against the Gemini API. Never log it.
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" required:"true"`
	LiveModel    string `envconfig:"LIVE_MODEL" default:""` // empty selects the built-in default
	ChatModel    string `envconfig:"CHAT_MODEL" default:""`
	Voice        string `envconfig:"TUTOR_VOICE" default:"Zephyr"`

	TargetLanguage   string `envconfig:"TARGET_LANGUAGE" default:"Japanese"`
	NativeLanguage   string `envconfig:"NATIVE_LANGUAGE" default:"Spanish"`
	ProficiencyLevel string `envconfig:"PROFICIENCY_LEVEL" default:"beginner"`
	ResponseFormat   string `envconfig:"RESPONSE_FORMAT" default:"json"` // "json" or "delimited"

	RedisURL      string `envconfig:"REDIS_URL" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	MaxSessions     int           `envconfig:"MAX_SESSIONS" default:"100"`
	SessionTimeout  time.Duration `envconfig:"SESSION_TIMEOUT" default:"30m"`
	MaxBufferSize   int           `envconfig:"MAX_BUFFER_SIZE" default:"5242880"` // bytes per session
	KeepAlivePeriod time.Duration `envconfig:"KEEPALIVE_PERIOD" default:"30s"`
	TTSCacheTTL     time.Duration `envconfig:"TTS_CACHE_TTL" default:"168h"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	MetricsAddr    string   `envconfig:"METRICS_ADDR" default:""` // empty disables the metrics endpoint

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"` // "console" or "json"
}

// LoadConfig loads configuration from environment variables with defaults.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	switch c.ServerType {
	case "websocket", "phone", "both":
	default:
		return fmt.Errorf("invalid SERVER_TYPE: must be 'websocket', 'phone', or 'both'")
	}

	switch c.ResponseFormat {
	case "json", "delimited":
	default:
		return fmt.Errorf("invalid RESPONSE_FORMAT: must be 'json' or 'delimited'")
	}

	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	if c.MaxBufferSize <= 0 {
		return fmt.Errorf("MAX_BUFFER_SIZE must be positive, got %d", c.MaxBufferSize)
	}
	return nil
}
