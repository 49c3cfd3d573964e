package messaging

import "context"

// Update is one inbound user event. Action is set for button presses and
// holds the button's Data; Text is set for typed messages.
type Update struct {
	ChatID    string
	SenderID  string
	MessageID string
	Text      string
	Action    string
	// Source is the message the pressed button belongs to.
	Source MessageRef
}

// Handler consumes inbound updates.
type Handler interface {
	HandleUpdate(ctx context.Context, update Update)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, update Update)

func (f HandlerFunc) HandleUpdate(ctx context.Context, update Update) {
	f(ctx, update)
}

// Transport is a chat platform: outbound Messenger plus an inbound loop.
type Transport interface {
	Messenger
	// Run delivers updates to h until ctx is done.
	Run(ctx context.Context, h Handler) error
}
