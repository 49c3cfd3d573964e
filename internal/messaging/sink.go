package messaging

import (
	"context"
	"sync"

	"cookclip/internal/logging"
)

// Sink receives everything the pipeline wants the requester to see. The
// pipeline never knows whether anyone is listening.
type Sink interface {
	// Progress replaces the request's single progress message.
	Progress(ctx context.Context, text string)
	// Notify sends a standalone message.
	Notify(ctx context.Context, text string)
	// DeliverVideo uploads the artifact.
	DeliverVideo(ctx context.Context, video Video) error
	// Finish removes the progress message once the request is terminal.
	Finish(ctx context.Context)
}

// NopSink discards all output.
type NopSink struct{}

func (NopSink) Progress(context.Context, string)          {}
func (NopSink) Notify(context.Context, string)            {}
func (NopSink) DeliverVideo(context.Context, Video) error { return nil }
func (NopSink) Finish(context.Context)                    {}

// ChatSink writes to one chat. Progress is created once and then edited in
// place. Transport errors are logged, not returned, except for video
// delivery whose failure the caller reports.
type ChatSink struct {
	messenger Messenger
	chatID    string
	logger    logging.Logger

	mu       sync.Mutex
	progress MessageRef
	last     string
}

// NewChatSink creates a sink for chatID. A non-zero progress ref is reused,
// typically the confirmation prompt.
func NewChatSink(messenger Messenger, chatID string, progress MessageRef, logger logging.Logger) *ChatSink {
	return &ChatSink{
		messenger: messenger,
		chatID:    chatID,
		progress:  progress,
		logger:    logging.OrNop(logger),
	}
}

// ProgressRef returns the current progress message, if any.
func (s *ChatSink) ProgressRef() MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *ChatSink) Progress(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.last {
		return
	}
	if s.progress.IsZero() {
		ref, err := s.messenger.SendText(ctx, s.chatID, text)
		if err != nil {
			s.logger.Warn("send progress to %s: %v", s.chatID, err)
			return
		}
		s.progress = ref
		s.last = text
		return
	}
	if err := s.messenger.EditText(ctx, s.progress, text); err != nil {
		s.logger.Warn("edit progress %s: %v", s.progress.MessageID, err)
		return
	}
	s.last = text
}

func (s *ChatSink) Notify(ctx context.Context, text string) {
	if _, err := s.messenger.SendText(ctx, s.chatID, text); err != nil {
		s.logger.Warn("notify %s: %v", s.chatID, err)
	}
}

func (s *ChatSink) DeliverVideo(ctx context.Context, video Video) error {
	_, err := s.messenger.SendVideo(ctx, s.chatID, video)
	return err
}

func (s *ChatSink) Finish(ctx context.Context) {
	s.mu.Lock()
	ref := s.progress
	s.progress = MessageRef{}
	s.last = ""
	s.mu.Unlock()
	if ref.IsZero() {
		return
	}
	if err := s.messenger.Delete(ctx, ref); err != nil {
		s.logger.Debug("delete progress %s: %v", ref.MessageID, err)
	}
}
