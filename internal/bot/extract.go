package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cookclip/internal/acquisition"
	"cookclip/internal/fetch"
	"cookclip/internal/fusion"
	"cookclip/internal/gate"
	"cookclip/internal/messaging"
)

// ErrInvalidURL is returned by Extract for input that is not an http(s) link.
var ErrInvalidURL = errors.New("not an http(s) link")

// Extraction is the result of a direct, unconfirmed run.
type Extraction struct {
	RequestID string                    `json:"request_id,omitempty"`
	URL       string                    `json:"url"`
	Metadata  fetch.Metadata            `json:"metadata"`
	Bundle    fusion.Bundle             `json:"bundle"`
	Decision  fusion.Decision           `json:"decision"`
	Cached    bool                      `json:"cached"`
	Delivered bool                      `json:"delivered"`
	Stages    []acquisition.StageRecord `json:"stages,omitempty"`
	Attempts  []acquisition.Attempt     `json:"attempts,omitempty"`
}

// Extract runs the pipeline for rawURL without asking for confirmation.
// It still waits its turn at the gate. A cached bundle is returned without
// touching the network.
func (b *Bot) Extract(ctx context.Context, rawURL string, sink messaging.Sink) (Extraction, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Extraction{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if sink == nil {
		sink = messaging.NopSink{}
	}

	if entry, ok := b.cached(ctx, rawURL); ok {
		return Extraction{
			URL:      rawURL,
			Metadata: fetch.Metadata{URL: rawURL, Title: entry.Title, Platform: fetch.DetectPlatform(rawURL)},
			Bundle:   entry.Result.Bundle,
			Decision: entry.Result.Decision,
			Cached:   true,
		}, nil
	}

	run := acquisition.NewRun(b.newID(), rawURL)
	meta := b.deps.Pipeline.Probe(ctx, run)

	type result struct {
		out acquisition.Outcome
		err error
	}
	done := make(chan result, 1)
	ready := make(chan struct{})
	req := gate.Request{ID: run.ID, SourceURL: rawURL, Platform: meta.Platform}
	_, position, err := b.deps.Gate.Submit(ctx, req, func(ctx context.Context, _ gate.Request, release func()) {
		<-ready
		out, err := b.deps.Pipeline.Acquire(ctx, run, meta, sink, release)
		done <- result{out: out, err: err}
	})
	if err != nil {
		close(ready)
		b.deps.Pipeline.Cancel(run)
		return Extraction{}, fmt.Errorf("submit %s: %w", run.ID, err)
	}
	if position > 0 {
		sink.Progress(ctx, queuedText(position))
	}
	close(ready)

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		if b.deps.Gate.Abandon(run.ID) {
			b.deps.Pipeline.Cancel(run)
		}
		return Extraction{}, ctx.Err()
	}

	ex := Extraction{
		RequestID: run.ID,
		URL:       rawURL,
		Metadata:  meta,
		Bundle:    res.out.Extraction.Bundle,
		Decision:  res.out.Extraction.Decision,
		Delivered: res.out.Delivered,
		Stages:    run.Stages(),
		Attempts:  run.Attempts(),
	}
	if res.err != nil {
		return ex, res.err
	}
	b.remember(ctx, rawURL, meta.Title, res.out.Extraction)
	return ex, nil
}
