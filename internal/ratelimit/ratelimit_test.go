package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireWithinBudgetDoesNotBlock(t *testing.T) {
	lim := New(Config{RPM: 60, ITPM: 10000, OTPM: 10000})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, lim.Acquire(ctx, 100, 100))
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	lim := New(Config{RPM: 1, ITPM: 1, OTPM: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	// Burst of 1 at RPM=1 means the second call has to wait roughly a
	// minute; it should instead fail fast on the cancelled context.
	require.NoError(t, lim.Acquire(context.Background(), 1, 1))
	err := lim.Acquire(ctx, 1, 1)
	require.Error(t, err)
}

func TestAcquireSplitsRequestsLargerThanBurst(t *testing.T) {
	lim := New(Config{RPM: 600, ITPM: 600, OTPM: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// ITPM burst is 600, refilling at 10 tokens/s; a 605-token request must
	// be split across waits instead of erroring immediately, and its 5-token
	// remainder refills in about half a second.
	require.NoError(t, lim.Acquire(ctx, 605, 10))
}

func TestAcquireFailsFastOnWaitBudgetIndependentOfContext(t *testing.T) {
	lim := New(Config{RPM: 1, ITPM: 1, OTPM: 1, WaitBudget: 10 * time.Millisecond})

	// Exhaust the burst of 1 so the next call would otherwise wait roughly
	// a minute for a refill.
	require.NoError(t, lim.Acquire(context.Background(), 1, 1))

	start := time.Now()
	err := lim.Acquire(context.Background(), 1, 1)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Less(t, elapsed, time.Second)
}
