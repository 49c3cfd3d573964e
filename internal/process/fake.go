package process

import (
	"context"
	"sync"
)

// FuncRunner adapts a function to Runner.
type FuncRunner func(ctx context.Context, cmd Command) (Result, error)

// Run implements Runner.
func (f FuncRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// RecordingRunner records every command and delegates to Handler.
// It lets tests script tool behaviour without spawning processes.
type RecordingRunner struct {
	Handler FuncRunner

	mu    sync.Mutex
	calls []Command
}

// Run implements Runner.
func (r *RecordingRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()
	if r.Handler == nil {
		return Result{}, nil
	}
	return r.Handler(ctx, cmd)
}

// Calls returns a copy of recorded commands.
func (r *RecordingRunner) Calls() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.calls...)
}

// CallsTo returns recorded commands for one binary.
func (r *RecordingRunner) CallsTo(binary string) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Command
	for _, c := range r.calls {
		if c.Binary == binary {
			out = append(out, c)
		}
	}
	return out
}
