package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for redeven-ui.
type Config struct {
	// HostWsURL is the websocket endpoint of the agent host this renderer
	// attaches to.
	HostWsURL string `json:"host_ws_url"`

	// LogFormat is "json" or "text". Empty picks by terminal detection.
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`

	// FlushIntervalMs is the streaming flush cadence. Zero means one flush
	// per frame (16ms).
	FlushIntervalMs int `json:"flush_interval_ms,omitempty"`

	// SearchDebounceMs delays search recomputation while typing (default 300).
	SearchDebounceMs int `json:"search_debounce_ms,omitempty"`
	// SearchMinQuery is the shortest query that matches (default 2).
	SearchMinQuery int `json:"search_min_query,omitempty"`

	// VirtualizeThreshold is the message count above which lists window
	// (default 100).
	VirtualizeThreshold int `json:"virtualize_threshold,omitempty"`
	// Overscan is the number of extra items rendered on each side of the
	// visible window (default 5).
	Overscan int `json:"overscan,omitempty"`

	// TerminalRingBytes bounds per-process terminal history (default 256KiB).
	TerminalRingBytes int `json:"terminal_ring_bytes,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.HostWsURL) == "" {
		return errors.New("missing host_ws_url")
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.FlushIntervalMs < 0 {
		return errors.New("flush_interval_ms must be >= 0")
	}
	if c.SearchDebounceMs < 0 {
		return errors.New("search_debounce_ms must be >= 0")
	}
	if c.VirtualizeThreshold < 0 {
		return errors.New("virtualize_threshold must be >= 0")
	}
	if c.TerminalRingBytes < 0 {
		return errors.New("terminal_ring_bytes must be >= 0")
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.redeven-ui/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "redeven-ui.config.json"
	}
	return filepath.Join(home, ".redeven-ui", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
