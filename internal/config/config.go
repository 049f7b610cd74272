package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g.
// CHATSYNC_BACKEND_BASE_URL or CHATSYNC_SYNC_DUPLICATE_WINDOW.
const EnvPrefix = "CHATSYNC_"

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session" env:"DEFAULT_SESSION"`
	LogLevel       string  `toml:"log_level" env:"LOG_LEVEL"`
	Backend        Backend `toml:"backend" envPrefix:"BACKEND_"`
	Sync           Sync    `toml:"sync" envPrefix:"SYNC_"`
}

// Backend locates the chat backend.
type Backend struct {
	BaseURL string   `toml:"base_url" env:"BASE_URL"`
	PushURL string   `toml:"push_url" env:"PUSH_URL"`
	Timeout Duration `toml:"timeout" env:"TIMEOUT"`
}

// Sync tunes reconciliation.
type Sync struct {
	// DuplicateWindow is how far apart two messages with the same sender
	// and content may be and still count as one. Larger values suppress
	// more echoes but may merge genuinely repeated messages.
	DuplicateWindow     Duration `toml:"duplicate_window" env:"DUPLICATE_WINDOW"`
	SessionCheckTimeout Duration `toml:"session_check_timeout" env:"SESSION_CHECK_TIMEOUT"`
	TypingTTL           Duration `toml:"typing_ttl" env:"TYPING_TTL"`
	ReconnectMaxElapsed Duration `toml:"reconnect_max_elapsed" env:"RECONNECT_MAX_ELAPSED"`
	// AutoReconnect lets the daemon reopen a lost push link on its own.
	// When off, the link stays down until a client calls Reconnect.
	AutoReconnect bool `toml:"auto_reconnect" env:"AUTO_RECONNECT"`
}

// Duration is a time.Duration written as "5s" in TOML and the environment.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backend: Backend{
			BaseURL: "http://localhost:8080",
			PushURL: "ws://localhost:8080/ws",
			Timeout: Duration{10 * time.Second},
		},
		Sync: Sync{
			DuplicateWindow:     Duration{5 * time.Second},
			SessionCheckTimeout: Duration{3 * time.Second},
			TypingTTL:           Duration{5 * time.Second},
			ReconnectMaxElapsed: Duration{2 * time.Minute},
		},
	}
}

// Load reads config from the given path on top of the defaults, then
// applies environment overrides. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that treats a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := applyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
