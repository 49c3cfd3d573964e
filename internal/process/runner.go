// Package process runs external tools (yt-dlp, ffprobe, ffmpeg, tesseract)
// with explicit argument lists, captured output and a bounded timeout.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout marks a process killed because its own timeout elapsed.
var ErrTimeout = errors.New("process timed out")

// Command describes a single external process invocation.
type Command struct {
	Binary  string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Result carries captured output of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError reports a process that ran but exited non-zero.
type ExitError struct {
	Binary string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 400 {
		msg = msg[len(msg)-400:]
	}
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Binary, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Binary, e.Code, msg)
}

// Runner executes commands. Implementations must honour ctx and Command.Timeout.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes cmd, returning ErrTimeout (wrapped) when cmd.Timeout elapses and
// *ExitError when the process exits non-zero.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Binary) == "" {
		return Result{}, errors.New("process: binary is required")
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf

	start := time.Now()
	runErr := c.Run()
	res := Result{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		if c.ProcessState != nil {
			res.ExitCode = c.ProcessState.ExitCode()
		}
		return res, nil
	}

	// The parent context winning is a cancellation, not a tool timeout.
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", cmd.Binary, ctx.Err())
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		return res, fmt.Errorf("%s after %v: %w", cmd.Binary, cmd.Timeout, ErrTimeout)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Binary: cmd.Binary, Code: res.ExitCode, Stderr: stderrBuf.String()}
	}

	res.ExitCode = -1
	return res, fmt.Errorf("run %s: %w", cmd.Binary, runErr)
}

// IsTimeout reports whether err came from a process timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// StderrOf returns the captured stderr text carried by err, if any.
func StderrOf(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Stderr
	}
	return ""
}
