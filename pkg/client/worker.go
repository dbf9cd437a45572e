// Package client orchestrates one ingest/publish iteration for one author:
// fetch, cache-diff, media, transform, publish. All durable progress lands
// in the cache store, so an interrupted iteration resumes cleanly.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/douglaz/nostrweet/internal/twitter"
	"github.com/douglaz/nostrweet/pkg/cache"
	"github.com/douglaz/nostrweet/pkg/events"
	"github.com/douglaz/nostrweet/pkg/media"
	"github.com/douglaz/nostrweet/pkg/publisher"
)

// ErrNoRelayAck is returned when an event was not acknowledged by any relay.
// The post stays unpublished and is retried on the next cycle.
var ErrNoRelayAck = errors.New("no relay acknowledged the event")

// CycleStats counts what one iteration accomplished.
type CycleStats struct {
	Downloaded       int
	Published        int
	ProfilePublished bool
}

// Worker runs per-user cycles.
type Worker struct {
	upstream *twitter.Client
	store    *cache.Store
	media    *media.Downloader
	builder  *events.Builder
	pub      *publisher.Publisher
	logger   *log.Logger
}

// New wires a Worker from its collaborators.
func New(upstream *twitter.Client, store *cache.Store, dl *media.Downloader, builder *events.Builder, pub *publisher.Publisher, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Worker{
		upstream: upstream,
		store:    store,
		media:    dl,
		builder:  builder,
		pub:      pub,
		logger:   logger,
	}
}

// ProcessUser runs one full iteration for handle. The returned error is
// classified by the caller via the twitter error taxonomy: transient errors
// trigger scheduler backoff, auth errors quarantine the user.
func (w *Worker) ProcessUser(ctx context.Context, handle string) (CycleStats, error) {
	var stats CycleStats

	// One directory scan serves all predicates of this cycle.
	w.store.Invalidate()

	sinceID, err := w.store.LatestPostID(handle)
	if err != nil {
		return stats, fmt.Errorf("scanning cache for @%s: %w", handle, err)
	}

	// Cached tweets without an event sidecar are older than since_id and
	// will never reappear in the timeline; re-attempt them first so every
	// cached post is eventually published at least once.
	if err := w.republishBacklog(ctx, handle, &stats); err != nil {
		return stats, err
	}

	tweets, err := w.upstream.UserTimeline(ctx, handle, sinceID)
	if err != nil {
		return stats, err
	}

	// The API returns newest-first; publish oldest-first so events carry
	// ascending created_at within the author.
	for i := len(tweets) - 1; i >= 0; i-- {
		t := &tweets[i]
		// Timeline tweets belong to handle; fill the author when the
		// response carried no user includes so the artifact is filed
		// under the right handle.
		if t.Author.Username == "" {
			t.Author.Username = handle
		}
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		downloaded, published, err := w.processTweet(ctx, t)
		if downloaded {
			stats.Downloaded++
		}
		if published {
			stats.Published++
		}
		if err != nil {
			return stats, err
		}
	}

	published, err := w.refreshProfile(ctx, handle)
	if err != nil {
		// Profile refresh failing must not undo a successful tweet pass;
		// auth errors still bubble so the scheduler can quarantine.
		if errors.Is(err, twitter.ErrAuth) {
			return stats, err
		}
		w.logger.Printf("Profile refresh for @%s failed: %v", handle, err)
		return stats, nil
	}
	stats.ProfilePublished = published
	return stats, nil
}

// republishBacklog retries cached posts that have no event sidecar yet,
// oldest first.
func (w *Worker) republishBacklog(ctx context.Context, handle string, stats *CycleStats) error {
	summaries, err := w.store.ListPosts(handle)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		if w.store.IsPostPublished(s.PostID) || w.store.IsNotFound(s.PostID) {
			continue
		}
		t, err := w.store.LoadPost(s.PostID)
		if err != nil {
			w.logger.Printf("Skipping unreadable artifact for %s: %v", s.PostID, err)
			continue
		}
		_, published, err := w.processTweet(ctx, t)
		if published {
			stats.Published++
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// processTweet moves one tweet through cache, media and publication.
func (w *Worker) processTweet(ctx context.Context, t *twitter.Tweet) (downloaded, published bool, err error) {
	var mediaURLs []string

	if w.store.IsPostCached(t.ID) {
		if w.store.IsNotFound(t.ID) {
			return false, false, nil
		}
		// Artifact exists; reload it so a republish attempt uses the exact
		// bytes that produced any earlier event id.
		cached, err := w.store.LoadPost(t.ID)
		if err == nil {
			t = cached
		}
	} else {
		w.resolveReferences(ctx, t)

		urls, err := w.media.ProcessTweet(ctx, t)
		if err != nil {
			return false, false, err
		}
		mediaURLs = urls

		if _, err := w.store.RecordPost(t); err != nil {
			return false, false, err
		}
		downloaded = true
	}

	if w.store.IsPostPublished(t.ID) {
		return downloaded, false, nil
	}

	if mediaURLs == nil {
		// Cached-but-unpublished path: re-derive canonical media URLs.
		// Downloads are skipped for files already on disk.
		urls, err := w.media.ProcessTweet(ctx, t)
		if err != nil {
			return downloaded, false, err
		}
		mediaURLs = urls
	}

	ev, err := w.builder.TextNote(t, mediaURLs)
	if err != nil {
		return downloaded, false, err
	}
	report := w.pub.Publish(ctx, ev)
	if !report.Success() {
		// Stop the pass here: publishing later tweets first would break
		// per-author ordering. The next cycle retries from this tweet.
		return downloaded, false, fmt.Errorf("tweet %s: %w", t.ID, ErrNoRelayAck)
	}
	if _, err := w.store.RecordEvent(ev, t.ID); err != nil {
		return downloaded, true, err
	}
	return downloaded, true, nil
}

// resolveReferences fills the one-hop reference chain, preferring cached
// artifacts, and records not-found markers for references the upstream has
// deleted.
func (w *Worker) resolveReferences(ctx context.Context, t *twitter.Tweet) {
	for i := range t.ReferencedTweets {
		ref := &t.ReferencedTweets[i]
		if ref.Data != nil || w.store.IsNotFound(ref.ID) {
			continue
		}
		if cached, err := w.store.LoadPost(ref.ID); err == nil {
			ref.Data = cached
		}
	}
	w.upstream.EnrichReferences(ctx, t,
		func(resolved *twitter.Tweet) {
			if _, err := w.store.RecordPost(resolved); err != nil {
				w.logger.Printf("Could not cache referenced tweet %s: %v", resolved.ID, err)
			}
		},
		func(id string, err error) {
			if errors.Is(err, twitter.ErrNotFound) {
				if markErr := w.store.MarkNotFound(id); markErr != nil {
					w.logger.Printf("Could not mark %s as not found: %v", id, markErr)
				}
			}
		})
}

// refreshProfile fetches the author profile and, when it differs from the
// cached observation, records it and publishes a kind-0 event. Runs at most
// once per cycle.
func (w *Worker) refreshProfile(ctx context.Context, handle string) (bool, error) {
	fresh, err := w.upstream.Profile(ctx, handle)
	if err != nil {
		return false, err
	}
	prev, err := w.store.LatestProfile(handle)
	if err != nil {
		return false, err
	}
	changed := prev == nil || !profilesEqual(prev, fresh)
	if !changed {
		return false, nil
	}
	if _, err := w.store.RecordProfile(fresh); err != nil {
		return false, err
	}

	ev, err := w.builder.ProfileMetadata(fresh)
	if err != nil {
		return false, err
	}
	report := w.pub.Publish(ctx, ev)
	if !report.Success() {
		w.logger.Printf("Profile event for @%s not acknowledged; will retry when profile changes", handle)
		return false, nil
	}
	w.logger.Printf("Published profile metadata for @%s", handle)
	return true, nil
}

func profilesEqual(a, b *twitter.User) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Username == b.Username &&
		a.Description == b.Description &&
		a.ProfileImageURL == b.ProfileImageURL &&
		a.ProfileBannerURL == b.ProfileBannerURL &&
		a.URL == b.URL
}
