package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechain/internal/testutil"
	"carechain/pkg/domain"
)

func newTestCoordinator(maxRetries int, observers ...Observer) (*Coordinator, *testutil.Clock) {
	clock := testutil.NewClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	opts := make([]Option, 0, len(observers))
	for _, o := range observers {
		opts = append(opts, WithObserver(o))
	}
	c := New(Config{
		MaxRetries:  maxRetries,
		BackoffBase: 2 * time.Second,
		BackoffMax:  10 * time.Second,
	}, clock, opts...)
	return c, clock
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	var events []Event
	c, clock := newTestCoordinator(3, func(e Event) { events = append(events, e) })

	result, err := c.Execute(context.Background(), "subject/p1", "a1", domain.OpMint, func(ctx context.Context) (any, error) {
		return "anchored", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "anchored", result)
	assert.Empty(t, clock.Sleeps())

	require.Len(t, events, 2)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventSucceeded, events[1].Type)
	assert.Equal(t, "subject/p1", events[1].Key)
	assert.Equal(t, domain.OpMint, events[1].Kind)
}

func TestExecuteRetriesTransientWithBackoff(t *testing.T) {
	c, clock := newTestCoordinator(3)

	attempts := 0
	result, err := c.Execute(context.Background(), "subject/p1", "a1", domain.OpUpdate, func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, domain.Transientf("ledger contention")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 3, attempts)
	// delay = base * 2^retryCount
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clock.Sleeps())
}

func TestExecuteConflictShortCircuits(t *testing.T) {
	var failed []Event
	c, clock := newTestCoordinator(5, func(e Event) {
		if e.Type == EventFailed {
			failed = append(failed, e)
		}
	})

	attempts := 0
	_, err := c.Execute(context.Background(), "subject/p1", "a1", domain.OpMint, func(ctx context.Context) (any, error) {
		attempts++
		return nil, domain.ErrDuplicateAnalysis
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.Kind(err))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, clock.Sleeps())
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, domain.ErrDuplicateAnalysis)
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	c, clock := newTestCoordinator(2)

	attempts := 0
	_, err := c.Execute(context.Background(), "subject/p1", "a1", domain.OpUpdate, func(ctx context.Context) (any, error) {
		attempts++
		return nil, domain.Transientf("storage throttled")
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindExhaustion, domain.Kind(err))
	assert.False(t, domain.Retryable(err))
	assert.Equal(t, 3, attempts)
	assert.Len(t, clock.Sleeps(), 2)
}

func TestExecuteBackoffIsCapped(t *testing.T) {
	c, clock := newTestCoordinator(5)

	_, err := c.Execute(context.Background(), "subject/p1", "a1", domain.OpUpdate, func(ctx context.Context) (any, error) {
		return nil, domain.Transientf("still down")
	})
	require.Error(t, err)
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 5)
	// 2s, 4s, 8s, then capped at 10s.
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, sleeps)
}

func TestExecuteCoalescesInFlightOperation(t *testing.T) {
	c, _ := newTestCoordinator(0)

	var executions atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	op := func(ctx context.Context) (any, error) {
		executions.Add(1)
		close(entered)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Execute(context.Background(), "subject/p1", "a1", domain.OpMint, op)
	}()
	<-entered

	// The first caller is parked inside op; the second joins the in-flight
	// execution before it is released.
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = c.Execute(context.Background(), "subject/p1", "a1", domain.OpMint, op)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), executions.Load())
	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestExecuteOrdersDistinctOperationsOnOneKey(t *testing.T) {
	c, _ := newTestCoordinator(0)

	var active atomic.Int32
	var maxActive atomic.Int32
	op := func(ctx context.Context) (any, error) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		i := i
		opID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Execute(context.Background(), "subject/p1", opID, domain.OpUpdate, op)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), maxActive.Load())
}
