package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), BackoffDelay(0))
	assert.Equal(t, 60*time.Second, BackoffDelay(1))
	assert.Equal(t, 120*time.Second, BackoffDelay(2))
	assert.Equal(t, 240*time.Second, BackoffDelay(3))
	assert.Equal(t, 480*time.Second, BackoffDelay(4))
	// Capped at 30 minutes regardless of the failure count.
	assert.Equal(t, 30*time.Minute, BackoffDelay(10))
	assert.Equal(t, 30*time.Minute, BackoffDelay(100))
}

func TestBackoffMonotone(t *testing.T) {
	prev := time.Duration(0)
	for i := 1; i <= 20; i++ {
		d := BackoffDelay(i)
		assert.GreaterOrEqual(t, d, prev, "backoff must never shrink as failures grow")
		prev = d
	}
}

func TestEligibleSelection(t *testing.T) {
	d := New([]string{"alice", "bob", "carol"}, 300*time.Second, 3, nil, nil, nil, nil)
	now := time.Now()

	// All three start eligible.
	first := d.eligible()
	assert.Len(t, first, 3)

	// Once marked processing, nobody is re-dispatched.
	assert.Empty(t, d.eligible())

	d.mu.Lock()
	for _, st := range d.states {
		st.processing = false
		st.nextEligibleAt = now.Add(time.Hour)
	}
	d.states["bob"].nextEligibleAt = now.Add(-time.Second)
	d.states["carol"].quarantined = true
	d.mu.Unlock()

	second := d.eligible()
	assert.Equal(t, []string{"bob"}, second)
}

func TestQuarantinedNeverComesBack(t *testing.T) {
	d := New([]string{"alice"}, time.Second, 1, nil, nil, nil, nil)
	d.mu.Lock()
	d.states["alice"].quarantined = true
	d.mu.Unlock()
	assert.Empty(t, d.eligible())
}
