// Package cmd implements the nostrweet command-line interface.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/douglaz/nostrweet/internal/twitter"
	"github.com/douglaz/nostrweet/pkg/network"
	"github.com/douglaz/nostrweet/tools/nostrweet/internal/cli"
	cliconfig "github.com/douglaz/nostrweet/tools/nostrweet/internal/config"
)

// Exit codes of the daemon invocation surface.
const (
	exitOK        = 0
	exitConfig    = 1
	exitAuth      = 2
	exitStartupIO = 3
)

// exitError carries a specific process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// configErr wraps a configuration failure (exit code 1).
func configErr(err error) error { return &exitError{code: exitConfig, err: err} }

// startupErr wraps a startup I/O failure (exit code 3).
func startupErr(err error) error { return &exitError{code: exitStartupIO, err: err} }

var (
	cfg     *cliconfig.Config
	console *cli.Console
	logger  *log.Logger

	flagConfigPath string
	flagQuiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "nostrweet",
	Short: "Mirror tweets from a set of authors onto Nostr relays.",
	Long: `nostrweet continuously ingests tweets for the configured authors and
republishes them as signed Nostr events, optionally offloading media to
Blossom blob servers. All durable state is kept as files under the data
dir; there is no database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		transport, err := network.NewTransport(cfg.BindAddress)
		if err != nil {
			return configErr(err)
		}
		network.Install(transport)

		debug, _ := cmd.Flags().GetBool("debug")
		logger, err = setupLogger(cfg, debug || cfg.LogLevel == "debug")
		if err != nil {
			return startupErr(err)
		}
		return nil
	},
}

// Execute runs the CLI and exits the process with the mapped code.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}
	console.Error("%v", err)

	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	if errors.Is(err, twitter.ErrAuth) {
		os.Exit(exitAuth)
	}
	os.Exit(exitConfig)
}

func init() {
	console = cli.New(false)

	cobra.OnInitialize(func() {
		if val, err := rootCmd.Flags().GetBool("quiet"); err == nil && val {
			flagQuiet = true
			console = cli.New(true)
		}
		if val, err := rootCmd.Flags().GetString("config"); err == nil {
			flagConfigPath = val
		}

		var err error
		cfg, err = cliconfig.Load(flagConfigPath)
		if err != nil {
			console.Error("Error loading config: %v", err)
			os.Exit(exitConfig)
		}
		applyFlagOverrides(rootCmd, cfg)
	})

	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Quiet mode, no console output except for errors")
	rootCmd.PersistentFlags().Bool("debug", false, "Log to stderr in addition to the log file")

	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Filesystem root for the cache (overrides config)")
	rootCmd.PersistentFlags().StringSlice("user", nil, "Author handle to monitor (repeatable)")
	rootCmd.PersistentFlags().StringSlice("relay", nil, "Outbound relay URL, ws:// or wss:// (repeatable)")
	rootCmd.PersistentFlags().StringSlice("blossom-server", nil, "Blob server URL for media offload (repeatable)")
	rootCmd.PersistentFlags().Int("poll-interval", 0, "Seconds between polling cycles per user (overrides config)")
	rootCmd.PersistentFlags().Int("max-concurrent", 0, "Simultaneously processed users (overrides config)")
	rootCmd.PersistentFlags().String("mnemonic", "", "BIP-39 phrase for key derivation (overrides config)")
	rootCmd.PersistentFlags().String("private-key", "", "Hex signing key (overrides config and mnemonic)")
	rootCmd.PersistentFlags().String("bind", "", "Outbound IP address or interface to bind to")
}

// setupLogger opens the state log file behind the redacting writer. Secrets
// known at startup (bearer token, mnemonic, explicit key) are scrubbed; the
// key manager adds its own material once loaded.
func setupLogger(cfg *cliconfig.Config, debug bool) (*log.Logger, error) {
	logPath, err := logFilePath()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640) // #nosec G304 G302
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}

	var sink io.Writer = f
	if debug {
		sink = io.MultiWriter(f, os.Stderr)
	}
	secrets := []string{cfg.BearerToken, cfg.Mnemonic, cfg.PrivateKey}
	return log.New(newRedactor(sink, secrets), "", log.LstdFlags), nil
}
