package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sashabaranov/go-openai"

	"cookclip/internal/acquisition"
	"cookclip/internal/artifact"
	"cookclip/internal/bot"
	"cookclip/internal/channels/lark"
	"cookclip/internal/channels/telegram"
	"cookclip/internal/config"
	"cookclip/internal/confirm"
	apperrors "cookclip/internal/errors"
	"cookclip/internal/fetch"
	"cookclip/internal/ffmpeg"
	"cookclip/internal/fusion"
	"cookclip/internal/gate"
	"cookclip/internal/llm"
	"cookclip/internal/logging"
	"cookclip/internal/media"
	"cookclip/internal/messaging"
	"cookclip/internal/observability"
	"cookclip/internal/ocr"
	"cookclip/internal/process"
	"cookclip/internal/recipe"
	"cookclip/internal/speech"
	"cookclip/internal/store"
)

// app holds the transport-independent pipeline. Closers run in reverse
// order of registration.
type app struct {
	cfg       config.Config
	slog      *slog.Logger
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.TracerProvider
	artifacts *artifact.Manager
	fetcher   *fetch.Client
	engine    *acquisition.Engine
	gate      *gate.Gate
	cache     store.Cache
	parser    *recipe.Parser

	closers []func(context.Context) error
}

func newFetcher(cfg config.Config, runner process.Runner, logger logging.Logger) (*fetch.Client, *fetch.ProfileSet, error) {
	profiles := fetch.DefaultProfiles()
	if cfg.Acquisition.ProfilesFile != "" {
		loaded, err := fetch.LoadProfiles(cfg.Acquisition.ProfilesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load download profiles: %w", err)
		}
		profiles = loaded
	}
	client := fetch.NewClient(runner, fetch.Config{
		Binary:          cfg.Tools.YTDLP,
		ProbeTimeout:    cfg.Acquisition.ProbeTimeout,
		DownloadTimeout: cfg.Acquisition.DownloadTimeout,
		HTMLTimeout:     cfg.Acquisition.HTMLTimeout,
	}, profiles, &http.Client{Timeout: cfg.Acquisition.HTMLTimeout}, logger)
	return client, profiles, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	obsLogger := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	obsLogger.InstallDefault()
	slogger := obsLogger.Slog()

	a := &app{cfg: cfg, slog: slogger, logger: logging.FromSlog(slogger, "app")}
	built := false
	defer func() {
		if !built {
			_ = a.close(context.Background())
		}
	}()

	var err error
	a.metrics, err = observability.NewMetrics(observability.MetricsConfig{Enabled: cfg.Metrics.Enabled})
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.onClose(a.metrics.Shutdown)

	a.tracer, err = observability.NewTracerProvider(observability.TracingConfig{
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.onClose(a.tracer.Shutdown)

	a.artifacts, err = artifact.NewManager(artifact.Config{
		Dir:           cfg.Workdir.Dir,
		TTL:           cfg.Workdir.TTL,
		SweepSchedule: cfg.Workdir.SweepSchedule,
	}, logging.FromSlog(slogger, "artifact"))
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error {
		a.artifacts.Close()
		return nil
	})

	runner := process.ExecRunner{}
	fetcher, profiles, err := newFetcher(cfg, runner, logging.FromSlog(slogger, "fetch"))
	if err != nil {
		return nil, err
	}
	a.fetcher = fetcher

	library := ffmpeg.DefaultProfileLibrary()
	if cfg.Compression.ProfilesFile != "" {
		library, err = ffmpeg.LoadProfileFile(cfg.Compression.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("load compression profiles: %w", err)
		}
	}
	prober := &ffmpeg.LocalProber{Runner: runner, Binary: cfg.Tools.FFprobe, Timeout: cfg.Acquisition.ValidateTimeout}
	transcoder := &ffmpeg.Transcoder{Runner: runner, Binary: cfg.Tools.FFmpeg, Logger: slogger.With("component", "ffmpeg")}

	validator := media.NewValidator(prober, media.ValidatorConfig{
		MinDimension: cfg.Acquisition.MinDimension,
		Timeout:      cfg.Acquisition.ValidateTimeout,
	}, slogger.With("component", "validator"))
	compressor := media.NewCompressor(transcoder, library, a.artifacts, media.CompressorConfig{
		CeilingBytes: cfg.Acquisition.CeilingBytes(),
		Timeout:      cfg.Compression.Timeout,
	}, slogger.With("component", "compressor"), a.metrics)

	recognizer := ocr.NewEngine(runner, ocr.Config{
		Binary:          cfg.Tools.Tesseract,
		Languages:       cfg.OCR.Languages,
		PSMModes:        cfg.OCR.PSMModes,
		Timeout:         cfg.OCR.Timeout,
		MinConfidence:   cfg.OCR.MinConfidence,
		MinLength:       cfg.OCR.MinLength,
		DedupeThreshold: cfg.OCR.DedupeThreshold,
	}, logging.FromSlog(slogger, "ocr"))

	var api *openai.Client
	if cfg.Speech.Enabled || cfg.Parser.Enabled {
		api = llm.NewClient(llm.ClientConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		})
	}

	// A nil *speech.Transcriber in the interface would not read as disabled.
	var transcriber fusion.Transcriber
	if cfg.Speech.Enabled {
		logger := logging.FromSlog(slogger, "speech")
		guard := llm.NewGuard("speech", apperrors.DefaultRetryConfig(), apperrors.DefaultCircuitBreakerConfig(), logger)
		transcriber = speech.New(api, speech.Config{
			Model:    cfg.Speech.Model,
			Language: cfg.Speech.Language,
		}, guard, logger)
	}

	extractor := fusion.NewEngine(transcoder, transcriber, recognizer, a.artifacts, fusion.Config{
		FrameTimeout: cfg.OCR.FrameTimeout,
		AudioTimeout: cfg.Speech.AudioTimeout,
		Concurrency:  cfg.OCR.Concurrency,
	}, logging.FromSlog(slogger, "fusion"), a.metrics, a.tracer)

	a.engine = acquisition.NewEngine(acquisition.Deps{
		Prober:     fetcher,
		Downloader: fetcher,
		Profiles:   profiles,
		Validator:  validator,
		Compressor: compressor,
		Extractor:  extractor,
		Artifacts:  a.artifacts,
		Logger:     logging.FromSlog(slogger, "acquisition"),
		Metrics:    a.metrics,
		Tracer:     a.tracer,
	}, acquisition.Config{
		MaxAttempts: cfg.Acquisition.MaxAttempts,
		TargetMB:    cfg.Acquisition.TargetMB,
	})

	a.gate = gate.New(gate.Config{SettleDelay: cfg.Acquisition.SettleDelay}, logging.FromSlog(slogger, "gate"), a.metrics)
	a.onClose(a.gate.Close)

	switch cfg.Cache.Backend {
	case config.BackendMemory:
		a.cache = store.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL, a.metrics)
	case config.BackendSQLite:
		sqlite, err := store.OpenSQLite(ctx, cfg.Cache.SQLitePath, cfg.Cache.TTL, a.metrics, logging.FromSlog(slogger, "cache"))
		if err != nil {
			return nil, err
		}
		a.cache = sqlite
		a.onClose(func(context.Context) error { return sqlite.Close() })
	}

	if cfg.Parser.Enabled {
		logger := logging.FromSlog(slogger, "recipe")
		guard := llm.NewGuard("recipe", apperrors.DefaultRetryConfig(), apperrors.DefaultCircuitBreakerConfig(), logger)
		a.parser = recipe.New(api, recipe.Config{
			Model:          cfg.Parser.Model,
			MaxInputTokens: cfg.Parser.MaxInputTokens,
			MaxTokens:      cfg.Parser.MaxTokens,
			Temperature:    cfg.Parser.Temperature,
		}, guard, logger)
	}
	built = true
	return a, nil
}

func (a *app) component(name string) logging.Logger {
	return logging.FromSlog(a.slog, name)
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newBot wires the request handler. messenger and confirms are nil for
// one-shot extraction.
func (a *app) newBot(messenger messaging.Messenger, confirms confirm.Store) *bot.Bot {
	var parser bot.Parser
	if a.parser != nil {
		parser = a.parser
	}
	return bot.New(bot.Deps{
		Messenger:     messenger,
		Pipeline:      a.engine,
		Gate:          a.gate,
		Confirmations: confirms,
		Cache:         a.cache,
		Parser:        parser,
		Logger:        a.component("bot"),
	})
}

func newTransport(cfg config.Config, logger logging.Logger) (messaging.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportTG:
		return telegram.New(telegram.Config{
			Token:       cfg.Transport.Telegram.Token,
			PollTimeout: cfg.Transport.Telegram.PollTimeout,
			Debug:       cfg.Transport.Telegram.Debug,
		}, logger)
	case config.TransportLark:
		return lark.NewGateway(lark.Config{
			AppID:       cfg.Transport.Lark.AppID,
			AppSecret:   cfg.Transport.Lark.AppSecret,
			BaseDomain:  cfg.Transport.Lark.BaseDomain,
			AllowGroups: cfg.Transport.Lark.AllowGroups,
			AllowDirect: cfg.Transport.Lark.AllowDirect,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

// newPostgresPool opens the pool backing durable confirmations.
func newPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
