package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds every pipeline instrument. A zero Metrics is valid and
// records nothing, which is what tests and disabled deployments use.
type Metrics struct {
	gateQueueLength  metric.Int64UpDownCounter
	downloadAttempts metric.Int64Counter
	compression      metric.Int64Counter
	ocrFrames        metric.Int64Counter
	outboundCalls    metric.Int64Counter
	stageDuration    metric.Float64Histogram
	cacheLookups     metric.Int64Counter

	provider *sdkmetric.MeterProvider
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// NewMetrics builds the Prometheus-backed meter provider and instruments.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if !config.Enabled {
		return &Metrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	m, err := newMetricsFromMeter(provider.Meter("cookclip"))
	if err != nil {
		return nil, err
	}
	m.provider = provider
	return m, nil
}

func newMetricsFromMeter(meter metric.Meter) (*Metrics, error) {
	gateQueueLength, err := meter.Int64UpDownCounter(
		"cookclip.gate.queue.length",
		metric.WithDescription("Requests waiting for the download slot"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate_queue_length counter: %w", err)
	}

	downloadAttempts, err := meter.Int64Counter(
		"cookclip.download.attempts",
		metric.WithDescription("Download attempts by platform and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create download_attempts counter: %w", err)
	}

	compression, err := meter.Int64Counter(
		"cookclip.compression.passes",
		metric.WithDescription("Compression passes by profile and outcome"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compression_passes counter: %w", err)
	}

	ocrFrames, err := meter.Int64Counter(
		"cookclip.ocr.frames",
		metric.WithDescription("OCR frames by outcome"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ocr_frames counter: %w", err)
	}

	outboundCalls, err := meter.Int64Counter(
		"cookclip.outbound.calls",
		metric.WithDescription("Outbound messaging calls by kind and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbound_calls counter: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"cookclip.stage.duration",
		metric.WithDescription("Acquisition stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage_duration histogram: %w", err)
	}

	cacheLookups, err := meter.Int64Counter(
		"cookclip.cache.lookups",
		metric.WithDescription("Bundle cache lookups by backend and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_lookups counter: %w", err)
	}

	return &Metrics{
		gateQueueLength:  gateQueueLength,
		downloadAttempts: downloadAttempts,
		compression:      compression,
		ocrFrames:        ocrFrames,
		outboundCalls:    outboundCalls,
		stageDuration:    stageDuration,
		cacheLookups:     cacheLookups,
	}, nil
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promclient.Handler()
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// QueueDelta adjusts the gate queue length gauge.
func (m *Metrics) QueueDelta(ctx context.Context, delta int64) {
	if m == nil || m.gateQueueLength == nil {
		return
	}
	m.gateQueueLength.Add(ctx, delta)
}

// RecordDownloadAttempt records one acquisition attempt.
func (m *Metrics) RecordDownloadAttempt(ctx context.Context, platform, outcome string) {
	if m == nil || m.downloadAttempts == nil {
		return
	}
	m.downloadAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("outcome", outcome),
	))
}

// RecordCompressionPass records one transcode pass.
func (m *Metrics) RecordCompressionPass(ctx context.Context, profile, outcome string) {
	if m == nil || m.compression == nil {
		return
	}
	m.compression.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("outcome", outcome),
	))
}

// RecordOCRFrame records the fate of one sampled frame.
func (m *Metrics) RecordOCRFrame(ctx context.Context, outcome string) {
	if m == nil || m.ocrFrames == nil {
		return
	}
	m.ocrFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordOutboundCall records one rate-limited transport call.
func (m *Metrics) RecordOutboundCall(ctx context.Context, kind, outcome string) {
	if m == nil || m.outboundCalls == nil {
		return
	}
	m.outboundCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// RecordStage records how long an acquisition stage took.
func (m *Metrics) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCacheLookup counts one bundle cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, backend string, hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("result", result),
	))
}
