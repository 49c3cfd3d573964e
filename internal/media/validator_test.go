package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookclip/internal/ffmpeg"
	"cookclip/internal/process"
)

type stubProber struct {
	result ffmpeg.ProbeResult
	err    error
	block  bool
}

func (s stubProber) Probe(ctx context.Context, _ string) (ffmpeg.ProbeResult, error) {
	if s.block {
		<-ctx.Done()
		return ffmpeg.ProbeResult{}, ctx.Err()
	}
	return s.result, s.err
}

func writeFile(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return path
}

func probeResult(w, h int, d time.Duration) ffmpeg.ProbeResult {
	return ffmpeg.ProbeResult{
		Duration:     d,
		VideoStreams: []ffmpeg.VideoStream{{Codec: "h264", Width: w, Height: h}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		prober stubProber
		valid  bool
		reason string
	}{
		{"playable", stubProber{result: probeResult(720, 1280, 30*time.Second)}, true, ""},
		{"no video stream", stubProber{err: ffmpeg.ErrNoVideoStreams}, false, "no video stream"},
		{"zero duration", stubProber{result: probeResult(720, 1280, 0)}, false, "non-positive duration"},
		{"placeholder stub", stubProber{result: probeResult(64, 64, 3*time.Second)}, false, "resolution 64x64 below 100px"},
		{"tool timeout", stubProber{err: process.ErrTimeout}, false, "probe timed out"},
		{"probe hangs", stubProber{block: true}, false, "probe timed out"},
		{"probe error", stubProber{err: errors.New("moov atom not found")}, false, "probe failed: moov atom not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(tt.prober, ValidatorConfig{Timeout: 20 * time.Millisecond}, nil)
			report := v.Validate(context.Background(), writeFile(t, 2048))
			assert.Equal(t, tt.valid, report.Valid)
			assert.Equal(t, tt.reason, report.Reason)
		})
	}
}

func TestValidateEmptyAndMissingFiles(t *testing.T) {
	v := NewValidator(stubProber{result: probeResult(720, 1280, time.Second)}, ValidatorConfig{}, nil)

	report := v.Validate(context.Background(), writeFile(t, 0))
	assert.False(t, report.Valid)
	assert.Equal(t, "empty file", report.Reason)

	report = v.Validate(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.False(t, report.Valid)
}

func TestValidateFillsArtifact(t *testing.T) {
	v := NewValidator(stubProber{result: probeResult(1080, 1920, 42*time.Second)}, ValidatorConfig{}, nil)
	report := v.Validate(context.Background(), writeFile(t, 3*MB))
	require.True(t, report.Valid)
	assert.Equal(t, int64(3*MB), report.Artifact.SizeBytes)
	assert.Equal(t, 1080, report.Artifact.Width)
	assert.Equal(t, 42*time.Second, report.Artifact.Duration)
}
