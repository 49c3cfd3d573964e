// Package async starts cookclip's background work: update dispatch,
// confirmation expiry callbacks, artifact cleanup and the outbound limiter.
// A panic in one of these tasks is logged with its stack and swallowed, so a
// single malformed update cannot stop the bot.
package async

import (
	"context"
	"runtime/debug"
)

// PanicLogger is the part of logging.Logger the helpers need.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go starts fn as a named background task.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Loop starts a long-lived task and returns a channel closed once fn has
// returned or panicked. Owners wait on it in their Close.
func Loop(ctx context.Context, logger PanicLogger, name string, fn func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer Recover(logger, name)
		fn(ctx)
	}()
	return done
}

// Recover must be deferred directly by the task goroutine.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil || logger == nil {
		return
	}
	if name == "" {
		name = "background"
	}
	logger.Error("%s task panicked: %v\n%s", name, r, debug.Stack())
}
