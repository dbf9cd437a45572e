package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitsUpToLimitImmediately(t *testing.T) {
	rl := New(2, time.Second)
	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 2, rl.Pending())
}

func TestBlocksWhenWindowFull(t *testing.T) {
	rl := New(2, 300*time.Millisecond)
	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	require.NoError(t, rl.Wait(context.Background()))
	// The third admission must wait for the oldest to expire.
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestWindowBound(t *testing.T) {
	// At no point may more than limit admissions sit inside the window.
	rl := New(3, 200*time.Millisecond)
	for i := 0; i < 7; i++ {
		require.NoError(t, rl.Wait(context.Background()))
		assert.LessOrEqual(t, rl.Pending(), 3)
	}
}

func TestWaitRespectsContext(t *testing.T) {
	rl := New(1, time.Hour)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdvancePast(t *testing.T) {
	rl := New(2, 100*time.Millisecond)
	rl.AdvancePast(250 * time.Millisecond)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond, "admission must wait out the upstream hint")
}

func TestAdvancePastIgnoresNonPositive(t *testing.T) {
	rl := New(1, time.Hour)
	rl.AdvancePast(0)
	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
