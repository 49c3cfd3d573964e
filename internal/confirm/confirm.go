// Package confirm holds requests that wait for the requester to approve the
// download. There is at most one pending confirmation per requester.
package confirm

import (
	"context"
	"strings"
	"time"

	"cookclip/internal/fetch"
	"cookclip/internal/messaging"
)

// Pending is a probed request awaiting confirmation.
type Pending struct {
	RequesterID string               `json:"requester_id"`
	ChatID      string               `json:"chat_id"`
	SourceURL   string               `json:"source_url"`
	Metadata    fetch.Metadata       `json:"metadata"`
	Progress    messaging.MessageRef `json:"progress"`
	CreatedAt   time.Time            `json:"created_at"`
}

// ExpiryFunc is told about confirmations that timed out unanswered.
type ExpiryFunc func(Pending)

// Store keeps pending confirmations keyed by requester.
type Store interface {
	// Put stores p and returns the confirmation it superseded, if any.
	Put(ctx context.Context, p Pending) (*Pending, error)
	// Take removes and returns the requester's confirmation.
	Take(ctx context.Context, requesterID string) (Pending, bool, error)
	Peek(ctx context.Context, requesterID string) (Pending, bool, error)
	Remove(ctx context.Context, requesterID string) error
}

// Action is the requester's answer.
type Action int

const (
	ActionNone Action = iota
	ActionConfirm
	ActionCancel
	ActionInfo
)

func (a Action) String() string {
	switch a {
	case ActionConfirm:
		return "confirm"
	case ActionCancel:
		return "cancel"
	case ActionInfo:
		return "info"
	default:
		return "none"
	}
}

var keywords = map[string]Action{
	"yes":      ActionConfirm,
	"y":        ActionConfirm,
	"ok":       ActionConfirm,
	"download": ActionConfirm,
	"+":        ActionConfirm,
	"confirm":  ActionConfirm,
	"no":       ActionCancel,
	"n":        ActionCancel,
	"cancel":   ActionCancel,
	"-":        ActionCancel,
	"info":     ActionInfo,
}

// ParseAction maps a chat reply or button payload to an action.
func ParseAction(text string) Action {
	word := strings.ToLower(strings.TrimSpace(text))
	return keywords[strings.Trim(word, ".!")]
}
