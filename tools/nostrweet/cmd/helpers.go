package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/douglaz/nostrweet/internal/twitter"
	"github.com/douglaz/nostrweet/pkg/blossom"
	"github.com/douglaz/nostrweet/pkg/cache"
	"github.com/douglaz/nostrweet/pkg/events"
	"github.com/douglaz/nostrweet/pkg/keys"
	"github.com/douglaz/nostrweet/pkg/logging"
	"github.com/douglaz/nostrweet/pkg/media"
	"github.com/douglaz/nostrweet/pkg/publisher"
	"github.com/douglaz/nostrweet/tools/nostrweet/internal/cli"
	cliconfig "github.com/douglaz/nostrweet/tools/nostrweet/internal/config"
)

// logSink is the raw log destination, kept so the redaction layer can be
// rebuilt once the signing key is known.
var logSink io.Writer

// newRedactor wraps sink with the secret-scrubbing writer and remembers the
// sink for later rebuilds.
func newRedactor(sink io.Writer, secrets []string) io.Writer {
	logSink = sink
	return logging.NewRedactingWriter(sink, secrets)
}

// applyFlagOverrides lets command-line flags win over file and environment.
func applyFlagOverrides(cmd *cobra.Command, cfg *cliconfig.Config) {
	if cmd.Flag("data-dir").Changed {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flag("user").Changed {
		cfg.Users, _ = cmd.Flags().GetStringSlice("user")
	}
	if cmd.Flag("relay").Changed {
		cfg.Relays, _ = cmd.Flags().GetStringSlice("relay")
	}
	if cmd.Flag("blossom-server").Changed {
		cfg.BlossomServers, _ = cmd.Flags().GetStringSlice("blossom-server")
	}
	if cmd.Flag("poll-interval").Changed {
		if v, _ := cmd.Flags().GetInt("poll-interval"); v > 0 {
			cfg.PollInterval = v
		}
	}
	if cmd.Flag("max-concurrent").Changed {
		if v, _ := cmd.Flags().GetInt("max-concurrent"); v > 0 {
			cfg.MaxConcurrent = v
		}
	}
	if cmd.Flag("mnemonic").Changed {
		cfg.Mnemonic, _ = cmd.Flags().GetString("mnemonic")
	}
	if cmd.Flag("private-key").Changed {
		cfg.PrivateKey, _ = cmd.Flags().GetString("private-key")
	}
	if cmd.Flag("bind").Changed {
		cfg.BindAddress, _ = cmd.Flags().GetString("bind")
	}
}

// logFilePath returns the xdg state path of the log file.
func logFilePath() (string, error) {
	logPath, err := xdg.StateFile(filepath.Join(cliconfig.AppName, "nostrweet.log"))
	if err != nil {
		return "", fmt.Errorf("could not get log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0750); err != nil {
		return "", fmt.Errorf("could not create log directory: %w", err)
	}
	return logPath, nil
}

// appEnv bundles the collaborators a command may need.
type appEnv struct {
	store    *cache.Store
	signer   *keys.Manager
	upstream *twitter.Client
	dl       *media.Downloader
	builder  *events.Builder
	pub      *publisher.Publisher
	console  *cli.Console
}

// buildStore opens the cache store, validating the data dir first.
func buildStore() (*cache.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, configErr(err)
	}
	store, err := cache.New(cfg.DataDir, logger)
	if err != nil {
		return nil, startupErr(err)
	}
	return store, nil
}

// buildSigner loads the signing key and tightens the log redaction with the
// freshly known key material.
func buildSigner(store *cache.Store) (*keys.Manager, error) {
	signer, err := keys.Load(store.Dir(), cfg.PrivateKey, cfg.Mnemonic)
	if err != nil {
		return nil, configErr(err)
	}
	secrets := append([]string{cfg.BearerToken, cfg.Mnemonic, cfg.PrivateKey}, signer.RedactionTargets()...)
	logger.SetOutput(logging.NewRedactingWriter(logSink, secrets))
	return signer, nil
}

// buildUpstream creates the API client; a missing bearer token is a
// configuration error.
func buildUpstream() (*twitter.Client, error) {
	if cfg.BearerToken == "" {
		return nil, configErr(fmt.Errorf("bearer token is required (set TWITTER_BEARER_TOKEN)"))
	}
	c, err := twitter.New(cfg.BearerToken, logger)
	if err != nil {
		return nil, configErr(err)
	}
	return c, nil
}

// buildEnv wires the full pipeline used by the daemon and the one-shot
// fetch commands.
func buildEnv() (*appEnv, error) {
	store, err := buildStore()
	if err != nil {
		return nil, err
	}
	signer, err := buildSigner(store)
	if err != nil {
		return nil, err
	}
	upstream, err := buildUpstream()
	if err != nil {
		return nil, err
	}
	blobs := blossom.New(cfg.BlossomServers, signer, logger)
	return &appEnv{
		store:    store,
		signer:   signer,
		upstream: upstream,
		dl:       media.New(store, blobs, logger),
		builder:  events.NewBuilder(signer),
		pub:      publisher.New(cfg.Relays, publisher.DialRelay, logger),
		console:  console,
	}, nil
}
