// Package fusion builds the text bundle for the recipe parser from the
// transcript, the description and adaptively sampled on-screen text.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"cookclip/internal/artifact"
	"cookclip/internal/fetch"
	"cookclip/internal/ffmpeg"
	"cookclip/internal/logging"
	"cookclip/internal/messaging"
	"cookclip/internal/observability"
	"cookclip/internal/ocr"
)

// MediaTool extracts audio and still frames.
type MediaTool interface {
	ExtractAudio(ctx context.Context, input, output string, timeout time.Duration) error
	ExtractFrame(ctx context.Context, input string, offset time.Duration, output string, timeout time.Duration) error
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Recognizer reads text from a frame image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (ocr.Result, error)
	Accept(r ocr.Result) bool
	NewDeduper() *ocr.Deduper
}

// Config tunes the engine.
type Config struct {
	FrameTimeout time.Duration
	AudioTimeout time.Duration
	Concurrency  int
}

// Input describes one acquired video.
type Input struct {
	ID        string
	VideoPath string
	Duration  time.Duration
	Metadata  fetch.Metadata
}

// FrameOutcome records what happened to one sampled frame.
type FrameOutcome struct {
	Offset     time.Duration `json:"offset"`
	Outcome    string        `json:"outcome"`
	Confidence float64       `json:"confidence"`
}

// Frame outcomes.
const (
	FrameKept          = "kept"
	FrameLowConfidence = "low_confidence"
	FrameDuplicate     = "duplicate"
	FrameError         = "error"
)

// Result is the engine output.
type Result struct {
	Bundle   Bundle         `json:"bundle"`
	Decision Decision       `json:"decision"`
	Frames   []FrameOutcome `json:"frames,omitempty"`
}

// Engine runs content fusion.
type Engine struct {
	media       MediaTool
	transcriber Transcriber
	recognizer  Recognizer
	artifacts   *artifact.Manager
	cfg         Config
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      *observability.TracerProvider
}

// NewEngine wires the engine. A nil transcriber leaves the transcript absent.
func NewEngine(media MediaTool, transcriber Transcriber, recognizer Recognizer, artifacts *artifact.Manager, cfg Config, logger logging.Logger, metrics *observability.Metrics, tracer *observability.TracerProvider) *Engine {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 12 * time.Second
	}
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Engine{
		media:       media,
		transcriber: transcriber,
		recognizer:  recognizer,
		artifacts:   artifacts,
		cfg:         cfg,
		logger:      logging.OrNop(logger),
		metrics:     metrics,
		tracer:      tracer,
	}
}

// Extract builds the bundle. Absent sources are not errors; only caller
// cancellation is returned as one.
func (e *Engine) Extract(ctx context.Context, in Input, sink messaging.Sink) (Result, error) {
	if sink == nil {
		sink = messaging.NopSink{}
	}
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanFusion,
		attribute.String(observability.AttrPlatform, string(in.Metadata.Platform)))
	defer span.End()

	var (
		bundle Bundle
		res    Result
	)
	sink.Progress(ctx, "🎙 Listening to the audio and reading the description…")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bundle.Transcript = e.transcript(gctx, in)
		return nil
	})
	g.Go(func() error {
		bundle.Description = Description(in.Metadata)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	info := VideoInfo{Duration: in.Duration, Platform: in.Metadata.Platform, ShortForm: in.Metadata.ShortForm}
	if info.Duration <= 0 {
		info.Duration = in.Metadata.Duration
	}
	res.Decision = Decide(bundle.Transcript, bundle.Description, info)
	span.SetAttributes(attribute.String("cookclip.ocr.strategy", string(res.Decision.Strategy)))
	e.logger.Info("ocr decision for %s: %s (%s; transcript %.0f, description %.0f)",
		in.ID, res.Decision.Strategy, res.Decision.Reason, res.Decision.TranscriptScore, res.Decision.DescriptionScore)

	if res.Decision.ShouldRun && e.recognizer != nil {
		offsets := Timestamps(info.Duration, res.Decision.Interval, res.Decision.MaxFrames)
		if len(offsets) > 0 {
			sink.Progress(ctx, fmt.Sprintf("🔍 Reading on-screen text (%d frames)…", len(offsets)))
			bundle.VisualText, res.Frames = e.visualText(ctx, in, offsets)
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Bundle = bundle
	return res, nil
}

func (e *Engine) transcript(ctx context.Context, in Input) string {
	if e.transcriber == nil {
		return ""
	}
	audio := e.artifacts.Path(artifact.KindAudio, in.ID, "mp3")
	defer e.artifacts.ScheduleRemoval(audio)

	if err := e.media.ExtractAudio(ctx, in.VideoPath, audio, e.cfg.AudioTimeout); err != nil {
		if errors.Is(err, ffmpeg.ErrNoAudioStream) {
			e.logger.Info("%s has no audio track", in.ID)
		} else {
			e.logger.Warn("audio extraction for %s failed: %v", in.ID, err)
		}
		return ""
	}
	text, err := e.transcriber.Transcribe(ctx, audio)
	if err != nil {
		e.logger.Warn("transcription for %s unavailable: %v", in.ID, err)
		return ""
	}
	return text
}

type frameResult struct {
	result ocr.Result
	err    error
}

// visualText extracts and reads frames concurrently, then filters and
// de-duplicates them in timestamp order.
func (e *Engine) visualText(ctx context.Context, in Input, offsets []time.Duration) ([]string, []FrameOutcome) {
	results := make([]frameResult, len(offsets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, offset := range offsets {
		g.Go(func() error {
			results[i] = e.readFrame(gctx, in, i, offset)
			return nil
		})
	}
	_ = g.Wait()

	dedupe := e.recognizer.NewDeduper()
	outcomes := make([]FrameOutcome, len(offsets))
	for i, fr := range results {
		o := FrameOutcome{Offset: offsets[i], Confidence: fr.result.Confidence}
		switch {
		case fr.err != nil:
			o.Outcome = FrameError
		case !e.recognizer.Accept(fr.result):
			o.Outcome = FrameLowConfidence
		case !dedupe.Add(fr.result.Text):
			o.Outcome = FrameDuplicate
		default:
			o.Outcome = FrameKept
		}
		e.metrics.RecordOCRFrame(ctx, o.Outcome)
		outcomes[i] = o
	}
	return dedupe.Texts(), outcomes
}

func (e *Engine) readFrame(ctx context.Context, in Input, idx int, offset time.Duration) frameResult {
	frame := e.artifacts.Path(artifact.KindFrame, fmt.Sprintf("%s_%02d", in.ID, idx), "jpg")
	defer e.artifacts.RemoveQuietly(frame)

	if err := e.media.ExtractFrame(ctx, in.VideoPath, offset, frame, e.cfg.FrameTimeout); err != nil {
		e.logger.Debug("frame %d of %s at %v failed: %v", idx, in.ID, offset, err)
		return frameResult{err: err}
	}
	res, err := e.recognizer.Recognize(ctx, frame)
	if err != nil {
		e.logger.Debug("ocr of frame %d of %s failed: %v", idx, in.ID, err)
	}
	return frameResult{result: res, err: err}
}
