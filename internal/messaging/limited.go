package messaging

import (
	"context"

	"cookclip/internal/ratelimit"
)

// Limited routes every call of the wrapped Messenger through the outbound
// rate limiter.
type Limited struct {
	inner   Messenger
	limiter *ratelimit.Limiter
}

var _ Messenger = (*Limited)(nil)

// NewLimited wraps inner.
func NewLimited(inner Messenger, limiter *ratelimit.Limiter) *Limited {
	return &Limited{inner: inner, limiter: limiter}
}

func (m *Limited) SendText(ctx context.Context, chatID, text string, buttons ...Button) (MessageRef, error) {
	var ref MessageRef
	err := m.limiter.Do(ctx, ratelimit.KindMessage, func(ctx context.Context) error {
		var err error
		ref, err = m.inner.SendText(ctx, chatID, text, buttons...)
		return err
	})
	return ref, err
}

func (m *Limited) EditText(ctx context.Context, ref MessageRef, text string, buttons ...Button) error {
	return m.limiter.Do(ctx, ratelimit.KindEdit, func(ctx context.Context) error {
		return m.inner.EditText(ctx, ref, text, buttons...)
	})
}

func (m *Limited) Delete(ctx context.Context, ref MessageRef) error {
	return m.limiter.Do(ctx, ratelimit.KindDelete, func(ctx context.Context) error {
		return m.inner.Delete(ctx, ref)
	})
}

func (m *Limited) SendVideo(ctx context.Context, chatID string, video Video) (MessageRef, error) {
	var ref MessageRef
	err := m.limiter.Do(ctx, ratelimit.KindVideo, func(ctx context.Context) error {
		var err error
		ref, err = m.inner.SendVideo(ctx, chatID, video)
		return err
	})
	return ref, err
}
