// Package cliconfig loads the CLI configuration: defaults, then the yaml
// config file, then NOSTRWEET_* environment variables, with command-line
// flags applied last by the cmd package.
package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/douglaz/nostrweet/pkg/config"
)

// AppName names the xdg subdirectories and the env prefix.
const AppName = "nostrweet"

// envPrefix is the prefix of the application's environment variables.
const envPrefix = "NOSTRWEET_"

// bearerTokenEnv is the upstream credential; it keeps the platform's own
// prefix rather than the application's.
const bearerTokenEnv = "TWITTER_BEARER_TOKEN"

// Config extends the core config with CLI-only options.
type Config struct {
	config.Config `koanf:",squash"`
	// BindAddress optionally pins outbound connections to a local IP or
	// interface.
	BindAddress string `koanf:"bind_address"`
}

// Default returns the default CLI configuration.
func Default() *Config {
	return &Config{Config: *config.Default()}
}

// Load reads the configuration from path, or from the default xdg location
// when path is empty, then overlays environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = xdg.ConfigFile(filepath.Join(AppName, "config.yaml"))
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := createDefaultConfig(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Environment wins over the file: NOSTRWEET_DATA_DIR, NOSTRWEET_MNEMONIC
	// and friends map onto the flat koanf keys.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.BearerToken == "" {
		cfg.BearerToken = os.Getenv(bearerTokenEnv)
	}
	return cfg, nil
}

// createDefaultConfig writes a commented starter config.
func createDefaultConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	content := fmt.Sprintf(`# nostrweet configuration file.
# Filesystem root of the cache. All durable state lives here.
data_dir: "%s"
# Handles to monitor in daemon mode.
users: []
# Outbound relay URLs (ws:// or wss://).
relays: []
# Optional content-addressed blob servers for media offload.
blossom_servers: []
# Baseline seconds between polling cycles per user.
poll_interval: %d
# Maximum number of users processed simultaneously.
max_concurrent: %d
# Upstream request budget: rate_limit requests per rate_window_seconds.
rate_limit: %d
rate_window_seconds: %d
`, cfg.DataDir, cfg.PollInterval, cfg.MaxConcurrent, cfg.RateLimit, cfg.RateWindowSeconds)
	return os.WriteFile(path, []byte(content), 0640) // #nosec G306
}
