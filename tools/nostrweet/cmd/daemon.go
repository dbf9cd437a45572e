package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/douglaz/nostrweet/pkg/client"
	"github.com/douglaz/nostrweet/pkg/daemon"
	"github.com/douglaz/nostrweet/pkg/ratelimiter"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Continuously mirror the configured authors onto the relays.",
	Long: `Runs the long-lived bridge: every author is polled on its own schedule,
new tweets are cached, their media downloaded, and signed events published
to all configured relays. Stop with SIGINT or SIGTERM; progress is derived
from the cache on the next start.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateDaemon(); err != nil {
		return configErr(err)
	}
	env, err := buildEnv()
	if err != nil {
		return err
	}
	defer env.pub.Close()
	defer env.signer.Zeroize()

	limiter := ratelimiter.New(cfg.RateLimit, time.Duration(cfg.RateWindowSeconds)*time.Second)
	env.upstream.SetAdmit(limiter.Wait)

	worker := client.New(env.upstream, env.store, env.dl, env.builder, env.pub, logger)
	d := daemon.New(cfg.Users, time.Duration(cfg.PollInterval)*time.Second, cfg.MaxConcurrent,
		worker, limiter, env.pub, logger)

	npub, err := env.signer.Npub()
	if err == nil {
		console.Info("Publishing as %s", npub)
	}
	console.Info("Watching %d user(s) across %d relay(s); data dir %s",
		len(cfg.Users), len(cfg.Relays), cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		return err
	}
	console.Success("Daemon stopped cleanly")
	return nil
}
