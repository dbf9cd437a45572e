// Package config holds the core daemon configuration.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// Config is the core, CLI-agnostic configuration of the bridge.
type Config struct {
	// DataDir is the filesystem root of the cache-as-state store.
	DataDir string `koanf:"data_dir"`
	// Users are the handles to monitor.
	Users []string `koanf:"users"`
	// Relays are the outbound relay URLs (ws:// or wss://).
	Relays []string `koanf:"relays"`
	// BlossomServers are optional content-addressed blob servers.
	BlossomServers []string `koanf:"blossom_servers"`
	// PollInterval is the baseline seconds between cycles per user.
	PollInterval int `koanf:"poll_interval"`
	// MaxConcurrent bounds simultaneously processed users.
	MaxConcurrent int `koanf:"max_concurrent"`
	// BearerToken authenticates against the upstream API.
	BearerToken string `koanf:"bearer_token"`
	// PrivateKey is an explicit hex signing key (highest priority).
	PrivateKey string `koanf:"private_key"`
	// Mnemonic is a BIP-39 phrase for deterministic key derivation.
	Mnemonic string `koanf:"mnemonic"`
	// RateLimit and RateWindowSeconds size the upstream request window.
	RateLimit         int `koanf:"rate_limit"`
	RateWindowSeconds int `koanf:"rate_window_seconds"`
	// LogLevel is "debug" or "info"; debug echoes the log to stderr.
	LogLevel string `koanf:"log_level"`
}

// Default returns the baseline configuration. The data dir defaults to the
// xdg data home so one-shot commands work without flags.
func Default() *Config {
	return &Config{
		DataDir:           filepath.Join(xdg.DataHome, "nostrweet"),
		PollInterval:      300,
		MaxConcurrent:     3,
		RateLimit:         100,
		RateWindowSeconds: 900,
		LogLevel:          "info",
	}
}

// Validate checks the invariants shared by every command.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	for _, r := range c.Relays {
		u, err := url.Parse(r)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("invalid relay URL %q: must be ws:// or wss://", r)
		}
	}
	for _, b := range c.BlossomServers {
		u, err := url.Parse(b)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid blossom server URL %q", b)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	return nil
}

// ValidateDaemon additionally requires the daemon-only settings.
func (c *Config) ValidateDaemon() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Users) == 0 {
		return fmt.Errorf("at least one user is required")
	}
	if len(c.Relays) == 0 {
		return fmt.Errorf("at least one relay is required")
	}
	if strings.TrimSpace(c.BearerToken) == "" {
		return fmt.Errorf("bearer token is required (set TWITTER_BEARER_TOKEN)")
	}
	return nil
}
