package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/douglaz/nostrweet/internal/twitter"
)

var fetchTweetCmd = &cobra.Command{
	Use:   "fetch-tweet <id|url>",
	Short: "Fetch a single tweet into the cache, media included.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetchTweet,
}

var fetchProfileCmd = &cobra.Command{
	Use:   "fetch-profile <handle>",
	Short: "Fetch an author profile into the cache.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetchProfile,
}

func init() {
	rootCmd.AddCommand(fetchTweetCmd)
	rootCmd.AddCommand(fetchProfileCmd)
}

func runFetchTweet(cmd *cobra.Command, args []string) error {
	tweetID, err := twitter.ParseTweetID(args[0])
	if err != nil {
		return configErr(err)
	}
	env, err := buildEnv()
	if err != nil {
		return err
	}

	if env.store.IsNotFound(tweetID) {
		console.Warn("Tweet %s is marked as deleted upstream; not fetching", tweetID)
		return nil
	}
	if env.store.IsPostCached(tweetID) {
		console.Info("Tweet %s already cached", tweetID)
		return nil
	}

	ctx := cmd.Context()
	t, err := env.upstream.TweetByID(ctx, tweetID)
	if err != nil {
		if errors.Is(err, twitter.ErrNotFound) {
			if markErr := env.store.MarkNotFound(tweetID); markErr != nil {
				return startupErr(markErr)
			}
			console.Warn("Tweet %s no longer exists; recorded not-found marker", tweetID)
			return nil
		}
		return err
	}
	env.upstream.EnrichReferences(ctx, t, func(resolved *twitter.Tweet) {
		_, _ = env.store.RecordPost(resolved)
	}, nil)

	if _, err := env.dl.ProcessTweet(ctx, t); err != nil {
		return err
	}
	path, err := env.store.RecordPost(t)
	if err != nil {
		return startupErr(err)
	}
	console.Success("Cached tweet %s at %s", tweetID, path)
	return nil
}

func runFetchProfile(cmd *cobra.Command, args []string) error {
	handle := args[0]
	env, err := buildEnv()
	if err != nil {
		return err
	}
	user, err := env.upstream.Profile(cmd.Context(), handle)
	if err != nil {
		return fmt.Errorf("fetching profile for @%s: %w", handle, err)
	}
	path, err := env.store.RecordProfile(user)
	if err != nil {
		return startupErr(err)
	}
	console.Success("Cached profile for @%s at %s", handle, path)
	return nil
}
