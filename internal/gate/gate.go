// Package gate admits at most one download at a time process-wide and queues
// everything else in FIFO order.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"cookclip/internal/async"
	"cookclip/internal/fetch"
	"cookclip/internal/logging"
	"cookclip/internal/observability"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("gate closed")

// Request is one acquisition waiting for, or holding, the download slot.
type Request struct {
	ID          string         `json:"id"`
	RequesterID string         `json:"requester_id"`
	SourceURL   string         `json:"source_url"`
	Platform    fetch.Platform `json:"platform"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// RunFunc executes an admitted request. It must call release once the
// download slot is no longer needed; the gate releases on return otherwise.
type RunFunc func(ctx context.Context, req Request, release func())

// Config tunes the gate.
type Config struct {
	// SettleDelay is waited before starting a request taken from the queue.
	SettleDelay time.Duration
}

type entry struct {
	req Request
	ctx context.Context
	run RunFunc
}

// Gate owns the active-download flag and the waiting queue.
type Gate struct {
	cfg     Config
	logger  logging.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu     sync.Mutex
	active *Request
	queue  []*entry
	closed bool
	wg     sync.WaitGroup
}

// New creates a gate.
func New(cfg Config, logger logging.Logger, metrics *observability.Metrics) *Gate {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Gate{
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		now:     time.Now,
	}
}

// Submit admits req immediately when the slot is free and returns 0.
// Otherwise req is appended to the queue and its 1-based position is
// returned. ctx governs the run; a request whose ctx ends while queued is
// dropped when it reaches the head.
func (g *Gate) Submit(ctx context.Context, req Request, run RunFunc) (Request, int, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Platform == "" {
		req.Platform = fetch.DetectPlatform(req.SourceURL)
	}
	req.EnqueuedAt = g.now()
	e := &entry{req: req, ctx: ctx, run: run}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return req, 0, ErrClosed
	}
	if g.active == nil {
		g.active = &e.req
		g.wg.Add(1)
		g.mu.Unlock()
		g.logger.Info("admitted %s (%s) immediately", req.ID, req.Platform)
		g.start(e, 0)
		return req, 0, nil
	}
	g.queue = append(g.queue, e)
	position := len(g.queue)
	g.mu.Unlock()

	g.metrics.QueueDelta(ctx, 1)
	g.logger.Info("queued %s at position %d", req.ID, position)
	return req, position, nil
}

func (g *Gate) start(e *entry, delay time.Duration) {
	async.Go(g.logger, "gate-run", func() {
		defer g.wg.Done()
		var once sync.Once
		release := func() { once.Do(func() { g.finished(e.req.ID) }) }
		defer release()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-e.ctx.Done():
				timer.Stop()
				g.logger.Info("request %s cancelled during settle delay", e.req.ID)
				return
			}
		}
		if e.ctx.Err() != nil {
			return
		}
		e.run(e.ctx, e.req, release)
	})
}

// finished frees the slot and hands it to the oldest live queued request.
func (g *Gate) finished(id string) {
	g.mu.Lock()
	if g.active == nil || g.active.ID != id {
		g.mu.Unlock()
		return
	}
	g.active = nil
	var next *entry
	dropped := 0
	for len(g.queue) > 0 {
		head := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]
		dropped++
		if head.ctx.Err() == nil {
			next = head
			break
		}
	}
	if next != nil && !g.closed {
		g.active = &next.req
		g.wg.Add(1)
	}
	g.mu.Unlock()

	if dropped > 0 {
		g.metrics.QueueDelta(context.Background(), int64(-dropped))
	}
	if next == nil {
		g.logger.Debug("slot released by %s, queue empty", id)
		return
	}
	g.logger.Info("slot released by %s, admitting %s after %v", id, next.req.ID, g.cfg.SettleDelay)
	g.start(next, g.cfg.SettleDelay)
}

// Abandon drops a queued request. Admitted requests cannot be abandoned.
func (g *Gate) Abandon(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, e := range g.queue {
		if e.req.ID == id {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			g.metrics.QueueDelta(context.Background(), -1)
			g.logger.Info("request %s abandoned from queue", id)
			return true
		}
	}
	return false
}

// Position reports the 1-based queue position of id, 0 when it holds the
// slot and -1 when unknown.
func (g *Gate) Position(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil && g.active.ID == id {
		return 0
	}
	for i, e := range g.queue {
		if e.req.ID == id {
			return i + 1
		}
	}
	return -1
}

// Len is the number of queued, not yet admitted, requests.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Snapshot is a point-in-time view of the gate.
type Snapshot struct {
	Active *Request  `json:"active,omitempty"`
	Queued []Request `json:"queued"`
}

// Snapshot copies the current state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := Snapshot{Queued: make([]Request, 0, len(g.queue))}
	if g.active != nil {
		active := *g.active
		snap.Active = &active
	}
	for _, e := range g.queue {
		snap.Queued = append(snap.Queued, e.req)
	}
	return snap
}

// Close rejects new submissions, drops the queue and waits for running
// requests to return or ctx to end.
func (g *Gate) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	dropped := len(g.queue)
	g.queue = nil
	g.mu.Unlock()
	if dropped > 0 {
		g.metrics.QueueDelta(ctx, int64(-dropped))
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
