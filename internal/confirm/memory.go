package confirm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cookclip/internal/async"
	"cookclip/internal/logging"
)

type memoryEntry struct {
	pending   Pending
	expiresAt time.Time
	consumed  atomic.Bool
}

// MemoryStore is an expiring in-process store. Entries that expire without
// being taken are reported to the expiry callback.
type MemoryStore struct {
	cache    *expirable.LRU[string, *memoryEntry]
	onExpire ExpiryFunc
	logger   logging.Logger
	ttl      time.Duration
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding up to size requesters for ttl each.
func NewMemoryStore(size int, ttl time.Duration, onExpire ExpiryFunc, logger logging.Logger) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	s := &MemoryStore{onExpire: onExpire, logger: logging.OrNop(logger), ttl: ttl, now: time.Now}
	s.cache = expirable.NewLRU[string, *memoryEntry](size, s.evicted, ttl)
	return s
}

// evicted runs under the cache lock, so the callback is dispatched. The LRU
// also calls it when the store is full; those entries were never timed out
// and do not reach onExpire.
func (s *MemoryStore) evicted(requesterID string, e *memoryEntry) {
	if e.consumed.Swap(true) {
		return
	}
	if e.expiresAt.IsZero() || s.now().Before(e.expiresAt) {
		s.logger.Warn("confirmation for %s evicted at capacity", requesterID)
		return
	}
	s.logger.Info("confirmation for %s expired", requesterID)
	if s.onExpire == nil {
		return
	}
	p := e.pending
	async.Go(s.logger, "confirm-expiry", func() { s.onExpire(p) })
}

func (s *MemoryStore) Put(_ context.Context, p Pending) (*Pending, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	var superseded *Pending
	if prev, ok := s.cache.Peek(p.RequesterID); ok && !prev.consumed.Swap(true) {
		old := prev.pending
		superseded = &old
	}
	// An expired entry the janitor has not swept yet still gets its callback.
	s.cache.Remove(p.RequesterID)
	e := &memoryEntry{pending: p}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.cache.Add(p.RequesterID, e)
	return superseded, nil
}

func (s *MemoryStore) Take(_ context.Context, requesterID string) (Pending, bool, error) {
	e, ok := s.cache.Get(requesterID)
	if !ok || e.consumed.Swap(true) {
		return Pending{}, false, nil
	}
	s.cache.Remove(requesterID)
	return e.pending, true, nil
}

func (s *MemoryStore) Peek(_ context.Context, requesterID string) (Pending, bool, error) {
	e, ok := s.cache.Peek(requesterID)
	if !ok || e.consumed.Load() {
		return Pending{}, false, nil
	}
	return e.pending, true, nil
}

func (s *MemoryStore) Remove(_ context.Context, requesterID string) error {
	if e, ok := s.cache.Peek(requesterID); ok {
		e.consumed.Store(true)
		s.cache.Remove(requesterID)
	}
	return nil
}

// Len is the number of live confirmations.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
