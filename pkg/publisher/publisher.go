// Package publisher fans signed events out to the configured relays. Each
// relay gets one long-lived connection driven by a small state machine;
// publishing succeeds when at least one relay acknowledges the event within
// the ack window.
package publisher

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Timeouts of the relay protocol: dialing and waiting for an OK frame.
const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 10 * time.Second
)

// Reconnect backoff bounds for failed relays.
const (
	backoffInitial = 5 * time.Second
	backoffMax     = 5 * time.Minute
)

// Status is the per-relay outcome of one publish.
type Status int

const (
	// StatusAck means the relay accepted the event (OK true).
	StatusAck Status = iota
	// StatusRejected means the relay answered OK false or the send failed.
	StatusRejected
	// StatusTimeout means no OK frame arrived within the ack window.
	StatusTimeout
	// StatusUnavailable means no connection could be established.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusAck:
		return "ack"
	case StatusRejected:
		return "rejected"
	case StatusTimeout:
		return "timeout"
	default:
		return "unavailable"
	}
}

// Result is the outcome at one relay.
type Result struct {
	Status Status
	Reason string
}

// Report aggregates the per-relay outcomes of one publish.
type Report struct {
	PerRelay map[string]Result
}

// Acked returns the number of relays that accepted the event.
func (r Report) Acked() int {
	n := 0
	for _, res := range r.PerRelay {
		if res.Status == StatusAck {
			n++
		}
	}
	return n
}

// Success reports whether at least one relay acknowledged.
func (r Report) Success() bool { return r.Acked() > 0 }

// Conn is the transport the publisher drives. *nostr.Relay satisfies it.
type Conn interface {
	Publish(ctx context.Context, ev nostr.Event) error
	Close() error
}

// Dialer opens a connection to one relay URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialRelay is the production dialer, wrapping the go-nostr relay client.
func DialRelay(ctx context.Context, url string) (Conn, error) {
	return nostr.RelayConnect(ctx, url)
}

// connState is the connection lifecycle of one relay.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateReady
	stateSending
	stateBackoff
)

// relayConn manages the connection to a single relay.
type relayConn struct {
	url  string
	dial Dialer

	// sendMu serializes send→ack per connection so acks always correlate
	// with the in-flight event.
	sendMu sync.Mutex

	mu       sync.Mutex
	state    connState
	conn     Conn
	backoff  time.Duration
	retryAt  time.Time
	attempts uint64
	acks     uint64
}

// ensure returns a ready connection, dialing if necessary. While in backoff
// it fails fast until the retry timer expires.
func (rc *relayConn) ensure(ctx context.Context) (Conn, error) {
	rc.mu.Lock()
	if rc.state == stateReady || rc.state == stateSending {
		conn := rc.conn
		rc.mu.Unlock()
		return conn, nil
	}
	if rc.state == stateBackoff && time.Now().Before(rc.retryAt) {
		rc.mu.Unlock()
		return nil, errors.New("relay in backoff")
	}
	rc.state = stateConnecting
	rc.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	conn, err := rc.dial(dialCtx, rc.url)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err != nil {
		rc.enterBackoffLocked()
		return nil, err
	}
	rc.state = stateReady
	rc.conn = conn
	rc.backoff = 0
	return conn, nil
}

// enterBackoffLocked doubles the reconnect delay up to the cap.
func (rc *relayConn) enterBackoffLocked() {
	if rc.backoff == 0 {
		rc.backoff = backoffInitial
	} else if rc.backoff < backoffMax {
		rc.backoff *= 2
		if rc.backoff > backoffMax {
			rc.backoff = backoffMax
		}
	}
	rc.state = stateBackoff
	rc.retryAt = time.Now().Add(rc.backoff)
	rc.conn = nil
}

// drop discards the connection after a transport-level failure.
func (rc *relayConn) drop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.conn != nil {
		_ = rc.conn.Close()
	}
	rc.conn = nil
	rc.state = stateDisconnected
}

// send publishes one event and classifies the outcome.
func (rc *relayConn) send(ctx context.Context, ev *nostr.Event) Result {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	rc.mu.Lock()
	rc.attempts++
	rc.mu.Unlock()

	conn, err := rc.ensure(ctx)
	if err != nil {
		return Result{Status: StatusUnavailable, Reason: err.Error()}
	}

	rc.mu.Lock()
	rc.state = stateSending
	rc.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	err = conn.Publish(sendCtx, *ev)

	rc.mu.Lock()
	if rc.state == stateSending {
		rc.state = stateReady
	}
	rc.mu.Unlock()

	switch {
	case err == nil:
		rc.mu.Lock()
		rc.acks++
		rc.mu.Unlock()
		return Result{Status: StatusAck}
	case errors.Is(err, context.DeadlineExceeded):
		// No OK frame in time; the connection is suspect.
		rc.drop()
		return Result{Status: StatusTimeout, Reason: "no ack within window"}
	default:
		if isTransportError(err) {
			rc.drop()
		}
		return Result{Status: StatusRejected, Reason: err.Error()}
	}
}

// isTransportError distinguishes broken-connection failures from relay OK
// false responses, which arrive as plain message errors.
func isTransportError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection") || strings.Contains(msg, "write") ||
		strings.Contains(msg, "closed") || strings.Contains(msg, "EOF")
}

// RelayStats is a snapshot of one relay's lifetime counters.
type RelayStats struct {
	Attempts uint64
	Acks     uint64
}

// Publisher fans events out to all configured relays.
type Publisher struct {
	relays []*relayConn
	logger *log.Logger
}

// New creates a Publisher for the given relay URLs using dial (DialRelay in
// production, fakes in tests).
func New(urls []string, dial Dialer, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Publisher{logger: logger}
	for _, u := range urls {
		p.relays = append(p.relays, &relayConn{url: u, dial: dial})
	}
	return p
}

// Publish sends the event to every relay concurrently and reports the
// per-relay outcome. The event ordering guarantee is per caller: within one
// worker, events are published oldest-first.
func (p *Publisher) Publish(ctx context.Context, ev *nostr.Event) Report {
	report := Report{PerRelay: make(map[string]Result, len(p.relays))}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, rc := range p.relays {
		rc := rc
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := rc.send(ctx, ev)
			mu.Lock()
			report.PerRelay[rc.url] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	if !report.Success() {
		p.logger.Printf("Event %s not acknowledged by any of %d relays", ev.ID, len(p.relays))
	}
	return report
}

// Stats returns lifetime attempt/ack counters per relay URL.
func (p *Publisher) Stats() map[string]RelayStats {
	out := make(map[string]RelayStats, len(p.relays))
	for _, rc := range p.relays {
		rc.mu.Lock()
		out[rc.url] = RelayStats{Attempts: rc.attempts, Acks: rc.acks}
		rc.mu.Unlock()
	}
	return out
}

// Close tears down every relay connection.
func (p *Publisher) Close() {
	for _, rc := range p.relays {
		rc.drop()
	}
}
