// Package daemon schedules per-user workers: eligibility tracking with
// exponential backoff, bounded concurrency, periodic stats and graceful
// shutdown. No scheduler state is persisted; the cache store is the only
// durable state.
package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/douglaz/nostrweet/internal/twitter"
	"github.com/douglaz/nostrweet/pkg/client"
	"github.com/douglaz/nostrweet/pkg/media"
	"github.com/douglaz/nostrweet/pkg/publisher"
	"github.com/douglaz/nostrweet/pkg/ratelimiter"
)

// Scheduling defaults.
const (
	tickInterval  = time.Second
	statsInterval = 60 * time.Second

	backoffBase   = 60 * time.Second
	backoffCap    = 30 * time.Minute
	backoffJitter = 10 * time.Second

	// shutdownGrace bounds how long in-flight workers may run after the
	// stop signal.
	shutdownGrace = 30 * time.Second
)

// userState tracks scheduling for one handle.
type userState struct {
	lastSuccess         time.Time
	consecutiveFailures int
	nextEligibleAt      time.Time
	quarantined         bool
	processing          bool
}

// stats are the daemon-lifetime counters.
type stats struct {
	cycles            uint64
	failures          uint64
	tweetsDownloaded  uint64
	eventsPublished   uint64
	profilesPublished uint64
}

// Daemon owns the author list and drives workers.
type Daemon struct {
	users         []string
	pollInterval  time.Duration
	maxConcurrent int

	worker  *client.Worker
	limiter *ratelimiter.RateLimiter
	pub     *publisher.Publisher
	logger  *log.Logger

	mu       sync.Mutex
	states   map[string]*userState
	stats    stats
	fatalErr error

	// stopAll cancels the scheduling loop when a worker hits a
	// fatal-internal failure.
	stopAll context.CancelFunc

	jitter func() time.Duration
}

// New creates a Daemon for the given users.
func New(users []string, pollInterval time.Duration, maxConcurrent int, worker *client.Worker, limiter *ratelimiter.RateLimiter, pub *publisher.Publisher, logger *log.Logger) *Daemon {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	states := make(map[string]*userState, len(users))
	for _, u := range users {
		states[u] = &userState{}
	}
	return &Daemon{
		users:         users,
		pollInterval:  pollInterval,
		maxConcurrent: maxConcurrent,
		worker:        worker,
		limiter:       limiter,
		pub:           pub,
		logger:        logger,
		states:        states,
		jitter:        func() time.Duration { return time.Duration(rand.Int63n(int64(backoffJitter))) },
	}
}

// Run drives the scheduler until ctx is cancelled, then waits for in-flight
// workers up to the grace window.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Printf("Daemon started: %d users, poll interval %s, max concurrent %d",
		len(d.users), d.pollInterval, d.maxConcurrent)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.stopAll = cancel
	d.mu.Unlock()

	permits := make(chan struct{}, d.maxConcurrent)
	var wg sync.WaitGroup

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-statsTicker.C:
			d.logStats()
		case <-ticker.C:
			for _, handle := range d.eligible() {
				select {
				case permits <- struct{}{}:
				default:
					// All permits busy; release the handle so the next
					// tick retries.
					d.mu.Lock()
					d.states[handle].processing = false
					d.mu.Unlock()
					continue
				}
				wg.Add(1)
				go func(handle string) {
					defer wg.Done()
					defer func() { <-permits }()
					d.runOne(ctx, handle)
				}(handle)
			}
		}
	}

	d.logger.Printf("Shutdown requested; waiting up to %s for in-flight workers", shutdownGrace)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		d.logger.Printf("Grace window elapsed with workers still running")
	}
	d.logStats()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatalErr
}

// eligible returns the handles due for processing, marking them as in
// flight. Quarantined users never come back.
func (d *Daemon) eligible() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	var out []string
	for _, handle := range d.users {
		st := d.states[handle]
		if st.processing || st.quarantined || st.nextEligibleAt.After(now) {
			continue
		}
		st.processing = true
		out = append(out, handle)
	}
	return out
}

// runOne executes one worker cycle and reschedules the user.
func (d *Daemon) runOne(ctx context.Context, handle string) {
	cycleStats, err := d.worker.ProcessUser(ctx, handle)

	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.states[handle]
	st.processing = false

	d.stats.cycles++
	d.stats.tweetsDownloaded += uint64(cycleStats.Downloaded)
	d.stats.eventsPublished += uint64(cycleStats.Published)
	if cycleStats.ProfilePublished {
		d.stats.profilesPublished++
	}

	now := time.Now()
	switch {
	case err == nil:
		st.consecutiveFailures = 0
		st.lastSuccess = now
		st.nextEligibleAt = now.Add(d.pollInterval)
		if cycleStats.Downloaded > 0 || cycleStats.Published > 0 {
			d.logger.Printf("@%s: downloaded %d, published %d", handle, cycleStats.Downloaded, cycleStats.Published)
		}
	case errors.Is(err, context.Canceled):
		// Shutdown in flight; nothing to reschedule.
	case errors.Is(err, media.ErrDiskSpace):
		// Fatal-internal: the operator must make room; polling on would
		// only churn. Stop the daemon with a diagnostic.
		d.fatalErr = err
		d.logger.Printf("Fatal: %v; stopping daemon", err)
		if d.stopAll != nil {
			d.stopAll()
		}
	case errors.Is(err, twitter.ErrAuth):
		st.quarantined = true
		d.stats.failures++
		d.logger.Printf("@%s quarantined: upstream rejected our credentials: %v", handle, err)
	default:
		st.consecutiveFailures++
		d.stats.failures++
		var rl *twitter.RateLimitError
		if errors.As(err, &rl) && !rl.Reset.IsZero() {
			// The upstream told us when the window reopens; move the
			// shared limiter past that point.
			d.limiter.AdvancePast(time.Until(rl.Reset))
		}
		delay := BackoffDelay(st.consecutiveFailures) + d.jitter()
		st.nextEligibleAt = now.Add(delay)
		d.logger.Printf("@%s failed (attempt %d, next in %s): %v", handle, st.consecutiveFailures, delay.Round(time.Second), err)
	}
}

// BackoffDelay returns the base backoff for the given failure count:
// base doubling per failure, capped. Failure 1 waits the base interval.
func BackoffDelay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	d := backoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// logStats emits the periodic status line.
func (d *Daemon) logStats() {
	d.mu.Lock()
	cycles, failures := d.stats.cycles, d.stats.failures
	downloaded, published, profiles := d.stats.tweetsDownloaded, d.stats.eventsPublished, d.stats.profilesPublished
	backedOff, quarantined := 0, 0
	for _, st := range d.states {
		if st.quarantined {
			quarantined++
		} else if st.consecutiveFailures > 0 {
			backedOff++
		}
	}
	d.mu.Unlock()

	d.logger.Printf("Stats | cycles: %d (failed %d) | tweets: %d | events: %d | profiles: %d | users backing off: %d, quarantined: %d",
		cycles, failures, downloaded, published, profiles, backedOff, quarantined)
	for url, rs := range d.pub.Stats() {
		if rs.Attempts == 0 {
			continue
		}
		d.logger.Printf("Relay %s: %d/%d acked", url, rs.Acks, rs.Attempts)
	}
}
