package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferLogger struct {
	buf *bytes.Buffer
}

func (b *bufferLogger) Debug(format string, args ...any) { b.write("DEBUG", format, args...) }
func (b *bufferLogger) Info(format string, args ...any)  { b.write("INFO", format, args...) }
func (b *bufferLogger) Warn(format string, args ...any)  { b.write("WARN", format, args...) }
func (b *bufferLogger) Error(format string, args ...any) { b.write("ERROR", format, args...) }

func (b *bufferLogger) write(level, format string, args ...any) {
	fmt.Fprintf(b.buf, "%s %s\n", level, fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var typed *bufferLogger
	var logger Logger = typed
	require.True(t, IsNil(logger))

	safe := OrNop(logger)
	require.False(t, IsNil(safe))
	safe.Info("hello %s", "world")
}

func TestFromSlogFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger := FromSlog(base, "gate")
	logger.Info("queued %s at %d", "req-1", 2)
	logger.Debug("suppressed")

	out := buf.String()
	assert.Contains(t, out, "queued req-1 at 2")
	assert.Contains(t, out, "component=gate")
	assert.NotContains(t, out, "suppressed")
}

func TestComponentLoggerFollowsDefault(t *testing.T) {
	logger := NewComponentLogger("sweeper")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	buf := &bytes.Buffer{}
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, nil)))

	logger.Warn("removed %d files", 3)
	assert.Contains(t, buf.String(), "removed 3 files")
	assert.Contains(t, buf.String(), "component=sweeper")
}
