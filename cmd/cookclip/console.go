package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"cookclip/internal/messaging"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// consoleSink prints pipeline output as timestamped lines.
type consoleSink struct {
	out   io.Writer
	start time.Time
	now   func() time.Time

	mu   sync.Mutex
	last string
}

var _ messaging.Sink = (*consoleSink)(nil)

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, start: time.Now(), now: time.Now}
}

func (s *consoleSink) line(mark, text string) {
	elapsed := s.now().Sub(s.start).Round(time.Second)
	fmt.Fprintf(s.out, "%s %s %s\n", gray(fmt.Sprintf("[%6s]", elapsed)), mark, text)
}

func (s *consoleSink) Progress(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.last {
		return
	}
	s.last = text
	s.line(cyan("›"), text)
}

func (s *consoleSink) Notify(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.line(yellow("!"), text)
}

func (s *consoleSink) DeliverVideo(_ context.Context, video messaging.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.line(green("✔"), fmt.Sprintf("video ready: %s (%dx%d, %s)", video.Path, video.Width, video.Height, video.Duration.Round(time.Second)))
	return nil
}

func (s *consoleSink) Finish(context.Context) {}
