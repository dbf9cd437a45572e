package twitter

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used to classify upstream failures. Callers decide between
// retry, not-found markers and quarantine based on these.
var (
	// ErrNotFound marks a 404 for a specific tweet or user. Permanent for
	// that item; the caller should record a not-found marker.
	ErrNotFound = errors.New("not found")
	// ErrAuth marks a 401/403. Permanent for the whole client; the daemon
	// quarantines the affected user.
	ErrAuth = errors.New("authentication rejected")
)

// RateLimitError is returned on HTTP 429. Reset, when nonzero, is the
// upstream-provided time at which the window reopens.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return "rate limit exceeded"
	}
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.Reset.Format(time.RFC3339))
}

// APIError is returned for other non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// IsTransient reports whether the error is worth retrying: network errors,
// 5xx and rate limiting. Not-found and auth failures are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuth) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Status >= 500
	}
	// Anything else (socket timeouts, DNS, connection resets) is transient.
	return true
}
