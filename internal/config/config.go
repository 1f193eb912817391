package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.crmlink/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	API            API      `toml:"api"`
	Realtime       Realtime `toml:"realtime"`
	Chat           Chat     `toml:"chat"`
}

// API configures the REST collaborator.
type API struct {
	BaseURL string `toml:"base_url"`
}

// Realtime configures the WebSocket connection manager.
type Realtime struct {
	URL string `toml:"url"`
	// MaxReconnectAttempts bounds automatic reconnects after an
	// unexpected close. Beyond it the connection surfaces FAILED.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
	ReconnectDelayMS     int `toml:"reconnect_delay_ms"`
	// EmitRetryDelayMS is the single-retry delay for an emit issued
	// while the socket is still connecting.
	EmitRetryDelayMS int `toml:"emit_retry_delay_ms"`
}

// Chat configures client-side cache behavior.
type Chat struct {
	// SuggestionCap bounds the suggestion cache; oldest entries are
	// evicted first.
	SuggestionCap int `toml:"suggestion_cap"`
	// ListPageSize is the page size used when hydrating the
	// conversation list from the REST API.
	ListPageSize int `toml:"list_page_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Realtime: Realtime{
			MaxReconnectAttempts: 5,
			ReconnectDelayMS:     1000,
			EmitRetryDelayMS:     1000,
		},
		Chat: Chat{
			SuggestionCap: 10,
			ListPageSize:  50,
		},
	}
}

// ReconnectDelay returns the reconnect delay as a duration.
func (r Realtime) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectDelayMS) * time.Millisecond
}

// EmitRetryDelay returns the deferred-emit retry delay as a duration.
func (r Realtime) EmitRetryDelay() time.Duration {
	return time.Duration(r.EmitRetryDelayMS) * time.Millisecond
}

// Load reads config from the given path, applying defaults for unset
// fields. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
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

func (c *Config) applyDefaults() {
	d := Default()
	if c.Realtime.MaxReconnectAttempts <= 0 {
		c.Realtime.MaxReconnectAttempts = d.Realtime.MaxReconnectAttempts
	}
	if c.Realtime.ReconnectDelayMS <= 0 {
		c.Realtime.ReconnectDelayMS = d.Realtime.ReconnectDelayMS
	}
	if c.Realtime.EmitRetryDelayMS <= 0 {
		c.Realtime.EmitRetryDelayMS = d.Realtime.EmitRetryDelayMS
	}
	if c.Chat.SuggestionCap <= 0 {
		c.Chat.SuggestionCap = d.Chat.SuggestionCap
	}
	if c.Chat.ListPageSize <= 0 {
		c.Chat.ListPageSize = d.Chat.ListPageSize
	}
}
