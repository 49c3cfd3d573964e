package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cookclip/internal/artifact"
	"cookclip/internal/fetch"
	"cookclip/internal/fusion"
	"cookclip/internal/logging"
	"cookclip/internal/media"
	"cookclip/internal/messaging"
	"cookclip/internal/observability"
)

const (
	cancelledText  = "⏹ The request was cancelled."
	validatingText = "🔎 Checking the video…"
	deliveringText = "📤 Sending the video…"

	maxCaptionRunes = 1000
)

// Prober fetches remote metadata. *fetch.Client satisfies it.
type Prober interface {
	Probe(ctx context.Context, rawURL string) fetch.Metadata
}

// Downloader runs one download attempt. *fetch.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, rawURL string, profile fetch.Profile, output string) error
}

// Validator checks a downloaded file. *media.Validator satisfies it.
type Validator interface {
	Validate(ctx context.Context, path string) media.Report
}

// Compressor shrinks oversized videos. *media.Compressor satisfies it.
type Compressor interface {
	Compress(ctx context.Context, src media.Artifact, targetMB float64) (media.CompressionResult, error)
	CeilingBytes() int64
}

// Extractor builds the content bundle. *fusion.Engine satisfies it.
type Extractor interface {
	Extract(ctx context.Context, in fusion.Input, sink messaging.Sink) (fusion.Result, error)
}

// Config bounds the engine.
type Config struct {
	MaxAttempts int
	TargetMB    float64
}

// DefaultConfig returns four attempts and a 45 MB compression target.
func DefaultConfig() Config {
	return Config{MaxAttempts: 4, TargetMB: 45}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Prober     Prober
	Downloader Downloader
	Profiles   *fetch.ProfileSet
	Validator  Validator
	Compressor Compressor
	Extractor  Extractor
	Artifacts  *artifact.Manager
	Logger     logging.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.TracerProvider
}

// Failure is a terminal request failure. Message is what the requester sees.
type Failure struct {
	Stage   Stage
	Kind    fetch.FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome summarises a finished run.
type Outcome struct {
	Artifact    media.Artifact
	Compression *media.CompressionResult
	Delivered   bool
	Extraction  fusion.Result
}

// Engine drives the acquisition state machine.
type Engine struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewEngine wires an engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.TargetMB <= 0 {
		cfg.TargetMB = 45
	}
	if deps.Profiles == nil {
		deps.Profiles = fetch.DefaultProfiles()
	}
	deps.Logger = logging.OrNop(deps.Logger)
	return &Engine{deps: deps, cfg: cfg, now: time.Now}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Probe enters Probing and fetches metadata. Probe failures degrade to a
// placeholder record.
func (e *Engine) Probe(ctx context.Context, run *Run) fetch.Metadata {
	ctx = observability.ContextWithRequestID(ctx, run.ID)
	ctx, end := e.enter(ctx, run, StageProbing)
	defer end()
	md := e.deps.Prober.Probe(ctx, run.URL)
	if md.Placeholder {
		e.deps.Logger.Warn("request %s: metadata unavailable, using placeholder", run.ID)
	}
	return md
}

// AwaitConfirmation parks the run until the requester answers.
func (e *Engine) AwaitConfirmation(run *Run) error {
	return run.Enter(StageAwaitingConfirmation)
}

// Cancel fails a run that was declined or expired before download.
func (e *Engine) Cancel(run *Run) {
	if run.Stage().Terminal() {
		return
	}
	_ = run.Enter(StageFailed)
}

// Acquire downloads, validates, optionally compresses and delivers the
// video, then runs extraction. release is called exactly once, as soon as
// the download phase ends, whatever its result. A returned error is always
// a *Failure whose message has already been shown through sink.
func (e *Engine) Acquire(ctx context.Context, run *Run, meta fetch.Metadata, sink messaging.Sink, release func()) (Outcome, error) {
	if sink == nil {
		sink = messaging.NopSink{}
	}
	var once sync.Once
	releaseOnce := func() {
		if release != nil {
			once.Do(release)
		}
	}
	defer releaseOnce()

	platform := meta.Platform
	if platform == "" {
		platform = fetch.DetectPlatform(run.URL)
	}
	ctx = observability.ContextWithRequestID(ctx, run.ID)
	ctx, span := e.deps.Tracer.StartSpan(ctx, observability.SpanAcquisition,
		attribute.String(observability.AttrPlatform, string(platform)))
	defer span.End()

	var out Outcome
	art, failure := e.download(ctx, run, platform, sink)
	releaseOnce()
	if failure != nil {
		return out, e.fail(ctx, run, sink, failure)
	}
	out.Artifact = art

	video := messaging.Video{
		Path:     art.Path,
		Caption:  Caption(meta),
		Width:    art.Width,
		Height:   art.Height,
		Duration: art.Duration,
	}
	deliverable := true
	if art.SizeBytes > e.deps.Compressor.CeilingBytes() {
		res, ok := e.compress(ctx, run, art, sink)
		out.Compression = &res
		if ok {
			video.Path = res.Path
			video.Width, video.Height = 0, 0
		} else {
			deliverable = false
			sink.Notify(ctx, NotDeliveredNotice)
		}
	}

	if deliverable {
		dctx, end := e.enter(ctx, run, StageDelivering)
		sink.Progress(dctx, deliveringText)
		if err := sink.DeliverVideo(dctx, video); err != nil {
			e.deps.Logger.Warn("request %s: deliver video: %v", run.ID, err)
			sink.Notify(ctx, deliveryFailedNotice)
		} else {
			out.Delivered = true
		}
		end()
	}
	e.deps.Artifacts.ScheduleRemoval(art.Path)
	if video.Path != art.Path {
		e.deps.Artifacts.ScheduleRemoval(video.Path)
	}

	xctx, end := e.enter(ctx, run, StageExtracting)
	res, err := e.deps.Extractor.Extract(xctx, fusion.Input{
		ID:        run.ID,
		VideoPath: art.Path,
		Duration:  art.Duration,
		Metadata:  meta,
	}, sink)
	end()
	if err != nil {
		return out, e.fail(ctx, run, sink, &Failure{Stage: StageExtracting, Message: cancelledText, Err: err})
	}
	out.Extraction = res
	if err := run.Enter(StageDone); err != nil {
		e.deps.Logger.Error("request %s: %v", run.ID, err)
	}
	return out, nil
}

func (e *Engine) download(ctx context.Context, run *Run, platform fetch.Platform, sink messaging.Sink) (media.Artifact, *Failure) {
	var last *fetch.Error
	for n := 1; n <= e.cfg.MaxAttempts; n++ {
		art, ferr := e.attempt(ctx, run, platform, n, sink)
		if ferr == nil {
			return art, nil
		}
		if ctx.Err() != nil {
			return media.Artifact{}, &Failure{Stage: StageDownloading, Kind: ferr.Kind, Message: cancelledText, Err: ctx.Err()}
		}
		last = ferr
		if !ferr.Retryable() {
			e.deps.Logger.Info("request %s: %s is not retryable, giving up after attempt %d", run.ID, ferr.Kind, n)
			break
		}
	}
	return media.Artifact{}, &Failure{
		Stage:   StageDownloading,
		Kind:    last.Kind,
		Message: FailureMessage(platform, last.Kind, len(run.Attempts())),
		Err:     last,
	}
}

// attempt runs one download and validation. Invalid files are deleted and
// reported as corrupt output so the caller retries them.
func (e *Engine) attempt(ctx context.Context, run *Run, platform fetch.Platform, n int, sink messaging.Sink) (media.Artifact, *fetch.Error) {
	profile := e.deps.Profiles.ForAttempt(platform, n)
	rec := Attempt{Number: n, Profile: profile.Name}
	started := e.now()
	output := e.deps.Artifacts.Path(artifact.KindVideo, run.ID, "mp4")

	dctx, end := e.enter(ctx, run, StageDownloading)
	sink.Progress(dctx, downloadingText(platform, n, e.cfg.MaxAttempts))
	err := e.deps.Downloader.Download(dctx, run.URL, profile, output)
	end()
	if err != nil {
		e.deps.Artifacts.RemoveQuietly(output)
		ferr := asFetchError(err, platform)
		rec.Outcome, rec.Kind, rec.Detail = AttemptFailed, ferr.Kind, ferr.Detail
		e.record(ctx, run, platform, rec, started, ferr.Kind.String())
		e.deps.Logger.Warn("request %s: attempt %d/%d with %s failed: %v", run.ID, n, e.cfg.MaxAttempts, profile.Name, ferr)
		return media.Artifact{}, ferr
	}

	vctx, vend := e.enter(ctx, run, StageValidating)
	sink.Progress(vctx, validatingText)
	report := e.deps.Validator.Validate(vctx, output)
	vend()
	if !report.Valid {
		e.deps.Artifacts.RemoveQuietly(output)
		ferr := &fetch.Error{Kind: fetch.FailureCorruptOutput, Platform: platform, Detail: report.Reason}
		rec.Outcome, rec.Kind, rec.Detail = AttemptInvalid, ferr.Kind, report.Reason
		e.record(ctx, run, platform, rec, started, AttemptInvalid)
		e.deps.Logger.Warn("request %s: attempt %d/%d produced an invalid file: %s", run.ID, n, e.cfg.MaxAttempts, report.Reason)
		return media.Artifact{}, ferr
	}

	rec.Outcome = AttemptOK
	e.record(ctx, run, platform, rec, started, AttemptOK)
	art := report.Artifact
	if art.Path == "" {
		art.Path = output
	}
	return art, nil
}

func (e *Engine) record(ctx context.Context, run *Run, platform fetch.Platform, rec Attempt, started time.Time, label string) {
	rec.Duration = e.now().Sub(started)
	run.addAttempt(rec)
	e.deps.Metrics.RecordDownloadAttempt(ctx, string(platform), label)
}

// compress reports whether a deliverable output exists.
func (e *Engine) compress(ctx context.Context, run *Run, art media.Artifact, sink messaging.Sink) (media.CompressionResult, bool) {
	cctx, end := e.enter(ctx, run, StageCompressing)
	defer end()
	sink.Progress(cctx, compressingText(art))
	res, err := e.deps.Compressor.Compress(cctx, art, e.cfg.TargetMB)
	if err != nil {
		e.deps.Logger.Warn("request %s: compression skipped delivery: %v", run.ID, err)
		return res, false
	}
	if res.Path == "" {
		return res, false
	}
	return res, true
}

func (e *Engine) fail(ctx context.Context, run *Run, sink messaging.Sink, f *Failure) error {
	if err := run.Enter(StageFailed); err != nil {
		e.deps.Logger.Error("request %s: %v", run.ID, err)
	}
	e.deps.Logger.Warn("request %s: %v", run.ID, f)
	sink.Progress(context.WithoutCancel(ctx), f.Message)
	return f
}

// enter moves run into s and opens its span. The returned func closes the
// span and records the stage duration.
func (e *Engine) enter(ctx context.Context, run *Run, s Stage) (context.Context, func()) {
	if err := run.Enter(s); err != nil {
		e.deps.Logger.Error("request %s: %v", run.ID, err)
	}
	ctx, span := e.deps.Tracer.StartSpan(ctx, observability.SpanStage,
		attribute.String(observability.AttrStage, string(s)))
	started := e.now()
	return ctx, func() {
		span.End()
		e.deps.Metrics.RecordStage(ctx, string(s), e.now().Sub(started))
	}
}

func asFetchError(err error, platform fetch.Platform) *fetch.Error {
	var ferr *fetch.Error
	if errors.As(err, &ferr) {
		return ferr
	}
	return &fetch.Error{Kind: fetch.FailureUnknown, Platform: platform, Detail: err.Error(), Err: err}
}

// Caption describes the video for delivery.
func Caption(meta fetch.Metadata) string {
	title := strings.TrimSpace(meta.Title)
	if meta.Placeholder || title == "" {
		title = "🎬 Your video"
	} else {
		title = "🎬 " + title
	}
	if uploader := strings.TrimSpace(meta.Uploader); uploader != "" {
		title += "\n👤 " + uploader
	}
	runes := []rune(title)
	if len(runes) > maxCaptionRunes {
		title = string(runes[:maxCaptionRunes-1]) + "…"
	}
	return title
}
