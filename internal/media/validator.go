// Package media validates downloaded videos and shrinks oversized ones.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cookclip/internal/ffmpeg"
	"cookclip/internal/process"
)

// ValidatorConfig bounds what counts as a real video.
type ValidatorConfig struct {
	// MinDimension is the exclusive lower bound for width and height.
	MinDimension int
	Timeout      time.Duration
}

// Report is the outcome of validating one file.
type Report struct {
	Valid    bool
	Reason   string
	Artifact Artifact
}

// Validator probes downloaded files before they are trusted.
type Validator struct {
	prober ffmpeg.Prober
	cfg    ValidatorConfig
	logger *slog.Logger
}

// NewValidator builds a validator around prober.
func NewValidator(prober ffmpeg.Prober, cfg ValidatorConfig, logger *slog.Logger) *Validator {
	if cfg.MinDimension <= 0 {
		cfg.MinDimension = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{prober: prober, cfg: cfg, logger: logger}
}

// Validate reports whether path holds a playable video. Probe timeouts and
// probe errors make the file invalid; they are never returned as errors.
func (v *Validator) Validate(ctx context.Context, path string) Report {
	report := Report{Artifact: Artifact{Path: path}}

	info, err := os.Stat(path)
	if err != nil {
		report.Reason = fmt.Sprintf("stat: %v", err)
		return report
	}
	if info.Size() == 0 {
		report.Reason = "empty file"
		return report
	}
	report.Artifact.SizeBytes = info.Size()

	probeCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	result, err := v.prober.Probe(probeCtx, path)
	switch {
	case err == nil:
	case errors.Is(err, ffmpeg.ErrNoVideoStreams):
		report.Reason = "no video stream"
		return report
	case process.IsTimeout(err) || errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		report.Reason = "probe timed out"
		v.logger.Warn("video probe timed out", slog.String("path", path), slog.Duration("timeout", v.cfg.Timeout))
		return report
	default:
		report.Reason = fmt.Sprintf("probe failed: %v", err)
		return report
	}

	stream, _ := result.Primary()
	report.Artifact.Duration = result.Duration
	report.Artifact.Width = stream.Width
	report.Artifact.Height = stream.Height
	report.Artifact.Codec = stream.Codec
	report.Artifact.HasAudio = result.HasAudio()

	switch {
	case result.Duration <= 0:
		report.Reason = "non-positive duration"
	case stream.Width <= v.cfg.MinDimension || stream.Height <= v.cfg.MinDimension:
		report.Reason = fmt.Sprintf("resolution %dx%d below %dpx", stream.Width, stream.Height, v.cfg.MinDimension)
	default:
		report.Valid = true
	}
	if !report.Valid {
		v.logger.Info("video failed validation", slog.String("path", path), slog.String("reason", report.Reason))
	}
	return report
}
