// Package messaging defines the outbound transport contract and the sinks the
// pipeline writes user-visible output to.
package messaging

import (
	"context"
	"time"
)

// MessageRef addresses a message previously sent to a chat.
type MessageRef struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether the ref points at nothing.
func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}

// Button is an inline button. Data is echoed back in the callback.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Video is a local file to upload as a video attachment.
type Video struct {
	Path     string
	Caption  string
	Width    int
	Height   int
	Duration time.Duration
}

// Messenger is a chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string, buttons ...Button) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, buttons ...Button) error
	Delete(ctx context.Context, ref MessageRef) error
	SendVideo(ctx context.Context, chatID string, video Video) (MessageRef, error)
}
