// Package ratelimit serializes every outbound transport call through one
// FIFO consumer with a minimum spacing between calls.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cookclip/internal/async"
	apperrors "cookclip/internal/errors"
	"cookclip/internal/logging"
	"cookclip/internal/observability"
)

// ErrClosed is returned for tasks submitted after Close or still queued when
// the limiter stops.
var ErrClosed = errors.New("rate limiter closed")

// Kinds label tasks for logs and metrics.
const (
	KindMessage = "message"
	KindEdit    = "edit"
	KindDelete  = "delete"
	KindVideo   = "video"
)

// Config tunes the limiter.
type Config struct {
	// MinDelay is the minimum spacing between the starts of two consecutive
	// calls, retries included. A call that runs longer than MinDelay is
	// followed by the next one without any extra wait, which matches a
	// transport ceiling expressed as calls per second.
	MinDelay time.Duration
	// MaxRetries bounds retry-after retries per call.
	MaxRetries int
}

// DefaultConfig is one call per second and three rate-limit retries.
func DefaultConfig() Config {
	return Config{MinDelay: time.Second, MaxRetries: 3}
}

type task struct {
	ctx  context.Context
	kind string
	fn   func(ctx context.Context) error
	done chan error
}

// Limiter is the single consumer of the outbound task queue.
type Limiter struct {
	cfg     Config
	limiter *rate.Limiter
	logger  logging.Logger
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	queue  []*task
	notify chan struct{}
	closed bool

	stop   context.CancelFunc
	doneCh <-chan struct{}
}

// New creates a limiter. Start must be called before tasks are processed.
func New(cfg Config, logger logging.Logger, metrics *observability.Metrics) *Limiter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Limiter{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinDelay), 1),
		logger:  logging.OrNop(logger),
		metrics: metrics,
		sleep:   sleepContext,
		notify:  make(chan struct{}, 1),
	}
}

// Start launches the consumer. It stops when ctx ends or Close is called.
func (l *Limiter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.stop = cancel
	l.mu.Unlock()
	l.doneCh = async.Loop(ctx, l.logger, "outbound-limiter", l.consume)
}

// Do enqueues fn and blocks until it has run (with retries) or ctx ends.
// Tasks run strictly in submission order.
func (l *Limiter) Do(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	t := &task{ctx: ctx, kind: kind, fn: fn, done: make(chan error, 1)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending is the number of tasks waiting to run.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting tasks, fails the queued ones and waits for the
// consumer to exit.
func (l *Limiter) Close() {
	l.mu.Lock()
	l.closed = true
	stop := l.stop
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
	if l.doneCh != nil {
		<-l.doneCh
	}
	l.failQueued(ErrClosed)
}

func (l *Limiter) pop() *task {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	t := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return t
}

func (l *Limiter) failQueued(err error) {
	for t := l.pop(); t != nil; t = l.pop() {
		t.done <- err
	}
}

func (l *Limiter) consume(ctx context.Context) {
	for {
		t := l.pop()
		if t == nil {
			select {
			case <-l.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		t.done <- l.run(ctx, t)
	}
}

func (l *Limiter) run(ctx context.Context, t *task) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	retries := 0
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		err := t.fn(t.ctx)
		if err == nil {
			l.metrics.RecordOutboundCall(t.ctx, t.kind, "ok")
			return nil
		}

		delay, limited := apperrors.RateLimitDelay(err)
		if !limited {
			l.metrics.RecordOutboundCall(t.ctx, t.kind, "error")
			return err
		}
		if retries >= l.cfg.MaxRetries {
			l.metrics.RecordOutboundCall(t.ctx, t.kind, "rate_limited")
			l.logger.Warn("%s call still rate limited after %d retries", t.kind, retries)
			return err
		}
		retries++
		l.metrics.RecordOutboundCall(t.ctx, t.kind, "retry")
		l.logger.Warn("%s call rate limited, retry %d/%d in %v", t.kind, retries, l.cfg.MaxRetries, delay)
		if err := l.sleep(t.ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
