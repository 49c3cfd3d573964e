package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookclip/internal/process"
)

func outputArg(cmd process.Command) string {
	for i, a := range cmd.Args {
		if a == "-o" && i+1 < len(cmd.Args) {
			return cmd.Args[i+1]
		}
	}
	return ""
}

func TestDownloadSuccess(t *testing.T) {
	runner := &process.RecordingRunner{Handler: func(_ context.Context, cmd process.Command) (process.Result, error) {
		return process.Result{}, os.WriteFile(outputArg(cmd), []byte("video"), 0o644)
	}}
	c := NewClient(runner, Config{DownloadTimeout: time.Minute}, nil, nil, nil)
	out := filepath.Join(t.TempDir(), "v.mp4")

	profile := DefaultProfiles().ForAttempt(PlatformTikTok, 2)
	require.NoError(t, c.Download(context.Background(), "https://www.tiktok.com/@a/video/1", profile, out))
	assert.FileExists(t, out)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "yt-dlp", calls[0].Binary)
	assert.Equal(t, time.Minute, calls[0].Timeout)
	joined := strings.Join(calls[0].Args, " ")
	assert.Contains(t, joined, "--user-agent")
	assert.True(t, strings.HasSuffix(joined, "https://www.tiktok.com/@a/video/1"))
}

func TestDownloadRenamesMergedOutput(t *testing.T) {
	runner := process.FuncRunner(func(_ context.Context, cmd process.Command) (process.Result, error) {
		stem := strings.TrimSuffix(outputArg(cmd), ".mp4")
		return process.Result{}, os.WriteFile(stem+".mkv", []byte("video"), 0o644)
	})
	c := NewClient(runner, Config{}, nil, nil, nil)
	out := filepath.Join(t.TempDir(), "v.mp4")
	require.NoError(t, c.Download(context.Background(), "https://youtu.be/x", Profile{Name: "p"}, out))
	assert.FileExists(t, out)
}

func TestDownloadClassifiesStderr(t *testing.T) {
	runner := process.FuncRunner(func(_ context.Context, cmd process.Command) (process.Result, error) {
		stderr := "ERROR: [TikTok] 1: Requested format is not available"
		return process.Result{Stderr: []byte(stderr), ExitCode: 1}, &process.ExitError{Binary: cmd.Binary, Code: 1, Stderr: stderr}
	})
	c := NewClient(runner, Config{}, nil, nil, nil)
	err := c.Download(context.Background(), "https://www.tiktok.com/@a/video/1", Profile{}, filepath.Join(t.TempDir(), "v.mp4"))

	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, FailureFormatUnavailable, fetchErr.Kind)
	assert.Equal(t, PlatformTikTok, fetchErr.Platform)
	assert.Equal(t, "[TikTok] 1: Requested format is not available", fetchErr.Detail)
}

func TestDownloadTimeoutIsRetryable(t *testing.T) {
	runner := process.FuncRunner(func(context.Context, process.Command) (process.Result, error) {
		return process.Result{ExitCode: -1}, fmt.Errorf("yt-dlp: %w", process.ErrTimeout)
	})
	c := NewClient(runner, Config{}, nil, nil, nil)
	err := c.Download(context.Background(), "https://youtu.be/x", Profile{}, filepath.Join(t.TempDir(), "v.mp4"))

	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, FailureTimeout, fetchErr.Kind)
	assert.True(t, fetchErr.Retryable())
}

func TestDownloadMissingOutput(t *testing.T) {
	runner := process.FuncRunner(func(context.Context, process.Command) (process.Result, error) {
		return process.Result{Stdout: []byte("[info] File is larger than max-filesize")}, nil
	})
	c := NewClient(runner, Config{}, nil, nil, nil)
	err := c.Download(context.Background(), "https://youtu.be/x", Profile{}, filepath.Join(t.TempDir(), "v.mp4"))

	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, FailureMissingOutput, fetchErr.Kind)
}

func TestDownloadCancelledReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := process.FuncRunner(func(ctx context.Context, _ process.Command) (process.Result, error) {
		return process.Result{}, ctx.Err()
	})
	c := NewClient(runner, Config{}, nil, nil, nil)
	err := c.Download(ctx, "https://youtu.be/x", Profile{}, filepath.Join(t.TempDir(), "v.mp4"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbeParsesYTDLP(t *testing.T) {
	runner := process.FuncRunner(func(context.Context, process.Command) (process.Result, error) {
		return process.Result{Stdout: []byte(`{"id":"731","title":" Crispy tofu ","uploader":"chef","description":"2 tbsp soy sauce","duration":42.5,"filesize_approx":1234}` + "\n")}, nil
	})
	c := NewClient(runner, Config{}, nil, nil, nil)
	md := c.Probe(context.Background(), "https://www.tiktok.com/@chef/video/731")

	assert.Equal(t, SourceYTDLP, md.Source)
	assert.Equal(t, "Crispy tofu", md.Title)
	assert.Equal(t, "chef", md.Uploader)
	assert.Equal(t, 42500*time.Millisecond, md.Duration)
	assert.Equal(t, int64(1234), md.ApproxSizeBytes)
	assert.True(t, md.ShortForm)
	assert.False(t, md.Placeholder)
}

func failingRunner() process.Runner {
	return process.FuncRunner(func(context.Context, process.Command) (process.Result, error) {
		return process.Result{}, &process.ExitError{Binary: "yt-dlp", Code: 1, Stderr: "ERROR: Unable to extract"}
	})
}

func TestProbeFallsBackToHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
<meta property="og:title" content="Garlic noodles">
<meta property="og:description" content="Butter, garlic, oyster sauce">
<title>ignored</title></head></html>`)
	}))
	defer srv.Close()

	c := NewClient(failingRunner(), Config{}, nil, srv.Client(), nil)
	md := c.Probe(context.Background(), srv.URL+"/reel/1")
	assert.Equal(t, SourceHTML, md.Source)
	assert.Equal(t, "Garlic noodles", md.Title)
	assert.Equal(t, "Butter, garlic, oyster sauce", md.Description)
}

func TestProbeDegradesToPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(failingRunner(), Config{}, nil, srv.Client(), nil)
	md := c.Probe(context.Background(), srv.URL+"/video")
	assert.True(t, md.Placeholder)
	assert.Equal(t, SourcePlaceholder, md.Source)
	assert.Equal(t, "video", md.Title)
}

func TestProbeSharesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	runner := process.FuncRunner(func(context.Context, process.Command) (process.Result, error) {
		calls.Add(1)
		<-release
		return process.Result{Stdout: []byte(`{"title":"t","duration":10}`)}, nil
	})
	c := NewClient(runner, Config{}, nil, nil, nil)

	results := make(chan Metadata, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- c.Probe(context.Background(), "https://youtu.be/x?si=abc") }()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-results
	<-results
	assert.Equal(t, int32(1), calls.Load())
}
