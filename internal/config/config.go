package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all environment configuration values for the server.
// These values are loaded from a .env file at startup.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// DataDir is where the pebble document store keeps its files
	DataDir string

	// CORSOrigins lists the allowed browser origins
	CORSOrigins []string

	// PushAPIURL is the base URL of the push notification service
	PushAPIURL string

	// PushAccessToken is sent as a bearer token to the push service when set
	PushAccessToken string

	// PushRatePerSec bounds outbound push requests
	PushRatePerSec float64

	// PresenceTTL is how long a presence record counts as active without a heartbeat
	PresenceTTL time.Duration

	// PresenceSweepInterval is how often stale presence records are removed
	PresenceSweepInterval time.Duration

	// FanoutBatchSize is the maximum number of users per push token lookup
	FanoutBatchSize int

	// SendRatePerSec and SendBurst throttle message sends per sender
	SendRatePerSec float64
	SendBurst      int

	// LogLevel is one of debug, info, warn, error
	LogLevel string

	// LogPretty switches to console log output
	LogPretty bool
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Not an error if it doesn't exist: production uses real environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{
		ServerPort:            getEnv("PORT", "8080"),
		DataDir:               getEnv("DATA_DIR", "./data"),
		CORSOrigins:           splitList(getEnv("CORS_ORIGINS", "http://localhost:8081,http://localhost:19006")),
		PushAPIURL:            getEnv("PUSH_API_URL", "https://exp.host"),
		PushAccessToken:       getEnv("PUSH_ACCESS_TOKEN", ""),
		PushRatePerSec:        getFloat("PUSH_RATE_PER_SEC", 100),
		PresenceTTL:           getDuration("PRESENCE_TTL", 2*time.Minute),
		PresenceSweepInterval: getDuration("PRESENCE_SWEEP_INTERVAL", 1*time.Minute),
		FanoutBatchSize:       getInt("FANOUT_BATCH_SIZE", 10),
		SendRatePerSec:        getFloat("SEND_RATE_PER_SEC", 5),
		SendBurst:             getInt("SEND_BURST", 10),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogPretty:             getEnv("LOG_PRETTY", "") == "true",
	}

	if cfg.FanoutBatchSize <= 0 {
		log.Warn().Int("value", cfg.FanoutBatchSize).Msg("FANOUT_BATCH_SIZE must be positive, using 10")
		cfg.FanoutBatchSize = 10
	}
	if cfg.PushAccessToken == "" {
		log.Debug().Msg("PUSH_ACCESS_TOKEN is not set, pushes are sent unauthenticated")
	}

	return cfg
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid integer, using default")
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid number, using default")
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid duration, using default")
		return defaultValue
	}
	return v
}

// splitList splits a comma-separated list and trims whitespace
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
