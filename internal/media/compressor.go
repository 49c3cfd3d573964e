package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cookclip/internal/artifact"
	"cookclip/internal/ffmpeg"
	"cookclip/internal/observability"
)

var (
	// ErrStillOversized means every profile ran and the output stayed above the ceiling.
	ErrStillOversized = errors.New("compressed video still exceeds size ceiling")
	// ErrCompressionTimeout means the wall-clock budget ran out.
	ErrCompressionTimeout = errors.New("compression timed out")
)

// Encoder re-encodes a video. *ffmpeg.Transcoder satisfies it.
type Encoder interface {
	Encode(ctx context.Context, req ffmpeg.EncodeRequest, timeout time.Duration) error
}

// CompressorConfig bounds the compression stage.
type CompressorConfig struct {
	// CeilingBytes is the largest output accepted for delivery.
	CeilingBytes int64
	Timeout      time.Duration
	// Profiles are tried in order; defaults to standard then aggressive.
	Profiles []string
}

// Pass records one transcode attempt.
type Pass struct {
	Profile   string
	VideoKbps int
	Width     int
	Height    int
	SizeBytes int64
	Err       error
}

// CompressionResult describes the compression outcome. Path is empty unless
// an output fit under the ceiling.
type CompressionResult struct {
	Path      string
	SizeBytes int64
	Passes    []Pass
}

// Compressor shrinks videos to a target size with escalating profiles.
type Compressor struct {
	encoder   Encoder
	profiles  *ffmpeg.ProfileLibrary
	artifacts *artifact.Manager
	cfg       CompressorConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewCompressor wires a compressor.
func NewCompressor(encoder Encoder, profiles *ffmpeg.ProfileLibrary, artifacts *artifact.Manager, cfg CompressorConfig, logger *slog.Logger, metrics *observability.Metrics) *Compressor {
	if profiles == nil {
		profiles = ffmpeg.DefaultProfileLibrary()
	}
	if cfg.CeilingBytes <= 0 {
		cfg.CeilingBytes = 50 * MB
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = []string{ffmpeg.ProfileStandard, ffmpeg.ProfileAggressive}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		encoder:   encoder,
		profiles:  profiles,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// CeilingBytes returns the delivery size ceiling.
func (c *Compressor) CeilingBytes() int64 {
	return c.cfg.CeilingBytes
}

// TargetBitrateKbps computes the video bitrate that fits targetMB over duration:
// (targetMB × 8 × 1024 / seconds) × safety, floored at floorKbps.
func TargetBitrateKbps(targetMB float64, duration time.Duration, safety float64, floorKbps int) int {
	secs := duration.Seconds()
	if secs <= 0 || targetMB <= 0 {
		return floorKbps
	}
	kbps := int((targetMB * 8 * 1024 / secs) * safety)
	if kbps < floorKbps {
		return floorKbps
	}
	return kbps
}

// Compress re-encodes src toward targetMB. The whole call, across all passes,
// is bounded by the configured timeout. Outputs that do not fit are deleted.
func (c *Compressor) Compress(ctx context.Context, src Artifact, targetMB float64) (CompressionResult, error) {
	var result CompressionResult
	if c.encoder == nil {
		return result, errors.New("compressor: encoder is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	for _, name := range c.cfg.Profiles {
		profile, ok := c.profiles.Get(name)
		if !ok {
			return result, fmt.Errorf("compressor: unknown profile %q", name)
		}

		pass := Pass{
			Profile:   profile.Name,
			VideoKbps: TargetBitrateKbps(targetMB, src.Duration, profile.SafetyFactor, profile.MinVideoKbps),
		}
		pass.Width, pass.Height = ffmpeg.OutputDimensions(src.Width, src.Height, profile.MaxLongEdge, profile.MaxShortEdge)
		out := c.artifacts.Path(artifact.KindCompressed, profile.Name, "mp4")

		remaining := c.cfg.Timeout
		if deadline, ok := ctx.Deadline(); ok {
			remaining = time.Until(deadline)
		}

		err := c.encoder.Encode(ctx, ffmpeg.EncodeRequest{
			Input:        src.Path,
			Output:       out,
			Profile:      profile,
			VideoKbps:    pass.VideoKbps,
			SourceWidth:  src.Width,
			SourceHeight: src.Height,
		}, remaining)

		if err == nil {
			info, statErr := os.Stat(out)
			if statErr != nil {
				err = fmt.Errorf("stat compressed output: %w", statErr)
			} else {
				pass.SizeBytes = info.Size()
			}
		}
		pass.Err = err
		result.Passes = append(result.Passes, pass)

		if err != nil {
			c.artifacts.RemoveQuietly(out)
			if ctx.Err() != nil {
				c.metrics.RecordCompressionPass(ctx, profile.Name, "timeout")
				return result, fmt.Errorf("%w after %v: %v", ErrCompressionTimeout, c.cfg.Timeout, err)
			}
			c.metrics.RecordCompressionPass(ctx, profile.Name, "error")
			c.logger.Warn("compression pass failed",
				slog.String("profile", profile.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.logger.Info("compression pass finished",
			slog.String("profile", profile.Name),
			slog.Int("video_kbps", pass.VideoKbps),
			slog.Float64("size_mb", float64(pass.SizeBytes)/MB),
		)
		if pass.SizeBytes <= c.cfg.CeilingBytes {
			c.metrics.RecordCompressionPass(ctx, profile.Name, "fit")
			result.Path = out
			result.SizeBytes = pass.SizeBytes
			return result, nil
		}
		c.metrics.RecordCompressionPass(ctx, profile.Name, "oversized")
		c.artifacts.RemoveQuietly(out)
	}

	for _, pass := range result.Passes {
		if pass.Err == nil {
			return result, ErrStillOversized
		}
	}
	last := result.Passes[len(result.Passes)-1]
	return result, fmt.Errorf("compression failed: %w", last.Err)
}
