package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cookclip/internal/errors"
)

// virtualClock advances only when the limiter sleeps for a retry-after.
type virtualClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *virtualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
	return nil
}

func startLimiter(t *testing.T, cfg Config) (*Limiter, *virtualClock) {
	t.Helper()
	l := New(cfg, nil, nil)
	clock := &virtualClock{}
	l.sleep = clock.sleep
	l.Start(context.Background())
	t.Cleanup(l.Close)
	return l, clock
}

func TestRateLimitedTaskDelaysLaterTasksAndKeepsOrder(t *testing.T) {
	l, clock := startLimiter(t, Config{MinDelay: time.Millisecond, MaxRetries: 3})

	type call struct {
		task int
		at   time.Duration
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	record := func(n int) {
		mu.Lock()
		calls = append(calls, call{task: n, at: clock.Now()})
		mu.Unlock()
	}

	hold := make(chan struct{})
	firstStarted := make(chan struct{})
	secondAttempts := 0
	fns := []func(context.Context) error{
		func(context.Context) error {
			close(firstStarted)
			<-hold
			record(1)
			return nil
		},
		func(context.Context) error {
			record(2)
			secondAttempts++
			if secondAttempts == 1 {
				return apperrors.NewRateLimitError(errors.New("too many requests"), 5)
			}
			return nil
		},
		func(context.Context) error { record(3); return nil },
	}

	var wg sync.WaitGroup
	errs := make([]error, len(fns))
	submit := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.Do(context.Background(), KindMessage, fns[i])
		}()
	}
	submit(0)
	<-firstStarted
	submit(1)
	require.Eventually(t, func() bool { return l.Pending() == 1 }, time.Second, time.Millisecond)
	submit(2)
	require.Eventually(t, func() bool { return l.Pending() == 2 }, time.Second, time.Millisecond)
	close(hold)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	require.Len(t, calls, 4)
	assert.Equal(t, []int{1, 2, 2, 3}, []int{calls[0].task, calls[1].task, calls[2].task, calls[3].task})
	assert.GreaterOrEqual(t, calls[3].at-calls[1].at, 5*time.Second)
}

func TestRateLimitRetriesAreBounded(t *testing.T) {
	l, clock := startLimiter(t, Config{MinDelay: time.Millisecond, MaxRetries: 3})
	attempts := 0
	err := l.Do(context.Background(), KindVideo, func(context.Context) error {
		attempts++
		return apperrors.NewRateLimitError(errors.New("flood"), 2)
	})
	require.Error(t, err)
	_, limited := apperrors.RateLimitDelay(err)
	assert.True(t, limited)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 6*time.Second, clock.Now())
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	l, _ := startLimiter(t, Config{MinDelay: time.Millisecond, MaxRetries: 3})
	boom := errors.New("bad request")
	attempts := 0
	err := l.Do(context.Background(), KindEdit, func(context.Context) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestMinimumSpacingBetweenCalls(t *testing.T) {
	l, _ := startLimiter(t, Config{MinDelay: 30 * time.Millisecond, MaxRetries: 0})
	var stamps []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Do(context.Background(), KindMessage, func(context.Context) error {
			stamps = append(stamps, time.Now())
			return nil
		}))
	}
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 55*time.Millisecond)
}

func TestDoAfterCloseFails(t *testing.T) {
	l := New(Config{MinDelay: time.Millisecond}, nil, nil)
	l.Start(context.Background())
	l.Close()
	err := l.Do(context.Background(), KindMessage, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCancelledTaskIsSkipped(t *testing.T) {
	l, _ := startLimiter(t, Config{MinDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := l.Do(ctx, KindMessage, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSpacingIsMeasuredBetweenCallStarts(t *testing.T) {
	l, _ := startLimiter(t, Config{MinDelay: 200 * time.Millisecond, MaxRetries: 0})
	var starts, ends []time.Time
	for i := 0; i < 2; i++ {
		require.NoError(t, l.Do(context.Background(), KindEdit, func(context.Context) error {
			starts = append(starts, time.Now())
			time.Sleep(250 * time.Millisecond)
			ends = append(ends, time.Now())
			return nil
		}))
	}
	require.Len(t, starts, 2)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 200*time.Millisecond)
	assert.Less(t, starts[1].Sub(ends[0]), 150*time.Millisecond, "a slow call is not followed by another full delay")
}
