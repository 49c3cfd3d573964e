package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookclip/internal/acquisition"
	"cookclip/internal/bot"
	"cookclip/internal/fetch"
	"cookclip/internal/fusion"
	"cookclip/internal/messaging"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("COOKCLIP_TRANSPORT_TELEGRAM_TOKEN", "")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "cookclip dev (none) go"))
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  telegram:\n    token: \"1:secret\"\n"), 0o644))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "1:secret")
	assert.Contains(t, out, "max_attempts: 4")
}

func TestConfigCheckReportsMissingToken(t *testing.T) {
	_, err := execute(t, "config", "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}

func TestExtractRequiresURL(t *testing.T) {
	_, err := execute(t, "extract")
	assert.Error(t, err)
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf)
	base := sink.start
	sink.now = func() time.Time { return base.Add(3 * time.Second) }
	ctx := context.Background()

	sink.Progress(ctx, "downloading")
	sink.Progress(ctx, "downloading")
	sink.Notify(ctx, "heads up")
	require.NoError(t, sink.DeliverVideo(ctx, messaging.Video{Path: "/tmp/v.mp4", Width: 720, Height: 1280, Duration: 42 * time.Second}))
	sink.Finish(ctx)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "repeated progress is printed once")
	assert.Equal(t, "[    3s] › downloading", lines[0])
	assert.Equal(t, "[    3s] ! heads up", lines[1])
	assert.Contains(t, lines[2], "video ready: /tmp/v.mp4 (720x1280, 42s)")
}

func TestExtractionMarkdown(t *testing.T) {
	ex := bot.Extraction{
		URL:      "https://www.tiktok.com/@chef/video/1",
		Metadata: fetch.Metadata{Title: "Crispy tofu", Uploader: "chef"},
		Bundle: fusion.Bundle{
			Transcript:  "press the tofu for ten minutes",
			Description: "Ingredients: tofu, cornstarch",
			VisualText:  []string{"400g firm tofu", "2 tbsp cornstarch"},
		},
		Cached: true,
	}
	md := extractionMarkdown(ex)
	assert.True(t, strings.HasPrefix(md, "# Crispy tofu\n"))
	assert.Contains(t, md, "_by chef_")
	assert.Contains(t, md, "served from cache")
	assert.Contains(t, md, "## Transcript\n\npress the tofu for ten minutes")
	assert.Contains(t, md, "## Description\n\nIngredients: tofu, cornstarch")
	assert.Contains(t, md, "- 400g firm tofu\n- 2 tbsp cornstarch\n")
	assert.NotContains(t, md, "No text was found")
}

func TestExtractionMarkdownEmpty(t *testing.T) {
	md := extractionMarkdown(bot.Extraction{URL: "https://vk.com/video1"})
	assert.True(t, strings.HasPrefix(md, "# https://vk.com/video1\n"))
	assert.Contains(t, md, "No text was found")
	assert.NotContains(t, md, "## Transcript")
}

func TestRenderMetadata(t *testing.T) {
	var buf bytes.Buffer
	md := fetch.Metadata{
		URL:             "https://www.instagram.com/reel/abc",
		Platform:        fetch.PlatformInstagram,
		Title:           "Pasta al limone",
		Duration:        95 * time.Second,
		ShortForm:       true,
		ApproxSizeBytes: 12 << 20,
		Source:          fetch.SourceYTDLP,
	}
	d := fusion.Decision{ShouldRun: true, Strategy: fusion.StrategyDense, Interval: 2 * time.Second, MaxFrames: 10, DescriptionScore: 0.25, Reason: "weak description"}
	renderMetadata(&buf, md, d)

	out := buf.String()
	assert.Contains(t, out, "Instagram")
	assert.Contains(t, out, "Pasta al limone")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "12.0 MB")
	assert.Contains(t, out, "dense_sampling, every 2s, up to 10 frames")
	assert.Contains(t, out, "weak description")
	assert.NotContains(t, out, "metadata unavailable")
}

func TestRenderAttempts(t *testing.T) {
	var buf bytes.Buffer
	renderAttempts(&buf, []acquisition.Attempt{
		{Number: 1, Profile: "default", Outcome: acquisition.AttemptFailed, Kind: fetch.FailureTimeout, Detail: "connection reset", Duration: 1500 * time.Millisecond},
		{Number: 2, Profile: "mobile", Outcome: acquisition.AttemptOK, Duration: 3 * time.Second},
	})
	out := buf.String()
	assert.Contains(t, out, "connection reset")
	assert.Contains(t, out, "mobile")
	assert.Contains(t, out, "1.5s")
}

func TestOCRSummarySkip(t *testing.T) {
	assert.Equal(t, "skip", ocrSummary(fusion.Decision{Strategy: fusion.StrategySkip}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestUntilDoneReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	defer close(block)

	done := make(chan error, 1)
	go func() {
		done <- untilDone(ctx, func(context.Context) error {
			<-block
			return nil
		})
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("untilDone did not return")
	}
}
