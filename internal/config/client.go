package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ClientConfig is the terminal client's configuration.
type ClientConfig struct {
	Server struct {
		URL string `koanf:"url"`
	} `koanf:"server"`

	Identity struct {
		Path string `koanf:"path"`
	} `koanf:"identity"`

	Chat struct {
		SendTimeout     time.Duration `koanf:"send_timeout"`
		ScrollThreshold float64       `koanf:"scroll_threshold"`
		FanoutBatchSize int           `koanf:"fanout_batch_size"`
		PresenceTTL     time.Duration `koanf:"presence_ttl"`
		HistoryLines    int           `koanf:"history_lines"`
	} `koanf:"chat"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

// DefaultClientConfigPath is the TOML file read when no path is given.
func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".teamchat.toml"
	}
	return filepath.Join(home, ".teamchat.toml")
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "teamchat-identity.db"
	}
	return filepath.Join(home, ".teamchat", "identity.db")
}

// LoadClient layers defaults, the TOML file at path (optional when it does
// not exist) and TEAMCHAT_ environment variables, in that order.
func LoadClient(path string) (*ClientConfig, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.url":             "http://localhost:8080",
		"identity.path":          defaultIdentityPath(),
		"chat.send_timeout":      "15s",
		"chat.scroll_threshold":  40.0,
		"chat.fanout_batch_size": 10,
		"chat.presence_ttl":      "2m",
		"chat.history_lines":     20,
		"log.level":              "warn",
	}, "."), nil)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		}
	}

	// TEAMCHAT_CHAT__SEND_TIMEOUT -> chat.send_timeout
	k.Load(env.Provider("TEAMCHAT_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "TEAMCHAT_"))
		return strings.Replace(key, "__", ".", -1)
	}), nil)

	var cfg ClientConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if cfg.Chat.FanoutBatchSize <= 0 {
		cfg.Chat.FanoutBatchSize = 10
	}
	return &cfg, nil
}
