package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookclip/internal/acquisition"
	"cookclip/internal/confirm"
	"cookclip/internal/fetch"
	"cookclip/internal/fusion"
	"cookclip/internal/gate"
	"cookclip/internal/messaging"
	"cookclip/internal/recipe"
	"cookclip/internal/store"
)

const (
	pastaURL = "https://www.tiktok.com/@chef/video/7301"
	soupURL  = "https://www.instagram.com/reel/Cx1soup/"

	extractingText = "🧾 Extracting…"
	failedText     = "❌ failed"
)

type fakePipeline struct {
	mu        sync.Mutex
	meta      fetch.Metadata
	result    fusion.Result
	err       error
	hold      chan struct{}
	probeHold map[string]chan struct{}
	probed    int
	acquired  []string
	cancelled []string
}

func (f *fakePipeline) Probe(_ context.Context, run *acquisition.Run) fetch.Metadata {
	_ = run.Enter(acquisition.StageProbing)
	f.mu.Lock()
	wait := f.probeHold[run.URL]
	f.mu.Unlock()
	if wait != nil {
		<-wait
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed++
	md := f.meta
	md.URL = run.URL
	return md
}

func (f *fakePipeline) AwaitConfirmation(run *acquisition.Run) error {
	return run.Enter(acquisition.StageAwaitingConfirmation)
}

func (f *fakePipeline) Cancel(run *acquisition.Run) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, run.URL)
	f.mu.Unlock()
	if !run.Stage().Terminal() {
		_ = run.Enter(acquisition.StageFailed)
	}
}

func (f *fakePipeline) Acquire(ctx context.Context, run *acquisition.Run, _ fetch.Metadata, sink messaging.Sink, release func()) (acquisition.Outcome, error) {
	f.mu.Lock()
	f.acquired = append(f.acquired, run.URL)
	hold, res, err := f.hold, f.result, f.err
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	release()
	if err != nil {
		sink.Progress(ctx, failedText)
		return acquisition.Outcome{}, err
	}
	sink.Progress(ctx, extractingText)
	return acquisition.Outcome{Extraction: res}, nil
}

func (f *fakePipeline) snapshot() (probed int, acquired, cancelled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probed, append([]string(nil), f.acquired...), append([]string(nil), f.cancelled...)
}

type fakeParser struct {
	mu     sync.Mutex
	text   string
	err    error
	titles []string
}

func (p *fakeParser) Parse(_ context.Context, title string, _ fusion.Bundle) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.titles = append(p.titles, title)
	return p.text, p.err
}

func (p *fakeParser) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.titles...)
}

type harness struct {
	bot      *Bot
	rec      *messaging.RecordingMessenger
	pipe     *fakePipeline
	parser   *fakeParser
	confirms *confirm.MemoryStore
	cache    *store.MemoryCache
	gate     *gate.Gate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rec: messaging.NewRecordingMessenger(),
		pipe: &fakePipeline{
			meta: fetch.Metadata{
				Platform: fetch.PlatformTikTok,
				Title:    "Lemon pasta",
				Uploader: "chef",
				Duration: 65 * time.Second,
			},
			result: fusion.Result{Bundle: fusion.Bundle{Transcript: "boil 200 g pasta, add lemon"}},
		},
		parser:   &fakeParser{text: "🍋 Lemon pasta\n- 200 g pasta\n- 1 lemon"},
		confirms: confirm.NewMemoryStore(16, time.Hour, nil, nil),
		cache:    store.NewMemoryCache(16, time.Hour, nil),
		gate:     gate.New(gate.Config{}, nil, nil),
	}
	h.bot = New(Deps{
		Messenger:     h.rec,
		Pipeline:      h.pipe,
		Gate:          h.gate,
		Confirmations: h.confirms,
		Cache:         h.cache,
		Parser:        h.parser,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.gate.Close(ctx)
	})
	return h
}

func say(sender, text string) messaging.Update {
	return messaging.Update{ChatID: "chat-" + sender, SenderID: sender, Text: text}
}

func press(sender, data string, source messaging.MessageRef) messaging.Update {
	return messaging.Update{ChatID: "chat-" + sender, SenderID: sender, Action: data, Source: source}
}

func (h *harness) pending(t *testing.T, sender string) confirm.Pending {
	t.Helper()
	p, ok, err := h.confirms.Peek(context.Background(), sender)
	require.NoError(t, err)
	require.True(t, ok, "expected a pending confirmation for %s", sender)
	return p
}

func (h *harness) waitDeletes(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.rec.CallsOf("delete")) == n },
		2*time.Second, 5*time.Millisecond)
}

func TestLinkSendsConfirmationPrompt(t *testing.T) {
	h := newHarness(t)
	h.bot.HandleUpdate(context.Background(), say("u1", "look at this "+pastaURL+" !"))

	calls := h.rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "send", calls[0].Op)
	assert.Equal(t, probingText, calls[0].Text)
	assert.Equal(t, "edit", calls[1].Op)
	assert.Contains(t, calls[1].Text, "🎬 Lemon pasta")
	assert.Contains(t, calls[1].Text, "⏱ 1:05 · TikTok")
	assert.Equal(t, promptButtons, calls[1].Buttons)

	p := h.pending(t, "u1")
	assert.Equal(t, pastaURL, p.SourceURL)
	assert.Equal(t, "chat-u1", p.ChatID)
	assert.Equal(t, calls[1].Ref, p.Progress)
}

func TestConfirmButtonRunsPipelineAndSendsRecipe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	p := h.pending(t, "u1")

	h.bot.HandleUpdate(ctx, press("u1", "download", p.Progress))
	h.waitDeletes(t, 1)

	texts := h.rec.Texts()
	assert.Contains(t, texts, extractingText)
	assert.Contains(t, texts, writingText)
	assert.Equal(t, h.parser.text, texts[len(texts)-1])
	assert.Equal(t, p.Progress, h.rec.CallsOf("delete")[0].Ref)
	assert.Equal(t, []string{"Lemon pasta"}, h.parser.calls())

	_, ok, _ := h.confirms.Peek(ctx, "u1")
	assert.False(t, ok)
	entry, ok, err := h.cache.Get(ctx, pastaURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Lemon pasta", entry.Title)
}

func TestTypedKeywordConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	h.bot.HandleUpdate(ctx, say("u1", "Yes!"))
	h.waitDeletes(t, 1)

	_, acquired, _ := h.pipe.snapshot()
	assert.Equal(t, []string{pastaURL}, acquired)
}

func TestCancelAndInfoOnlyNeverDownload(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"cancel", "no", cancelledText},
		{"info only", "info", "ℹ️ Nothing was downloaded."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.bot.HandleUpdate(ctx, say("u1", pastaURL))
			p := h.pending(t, "u1")

			h.bot.HandleUpdate(ctx, say("u1", tt.answer))

			edits := h.rec.CallsOf("edit")
			last := edits[len(edits)-1]
			assert.Equal(t, p.Progress, last.Ref)
			assert.Contains(t, last.Text, tt.want)
			assert.Empty(t, last.Buttons)

			_, acquired, cancelled := h.pipe.snapshot()
			assert.Empty(t, acquired)
			assert.Equal(t, []string{pastaURL}, cancelled)
			_, ok, _ := h.confirms.Peek(ctx, "u1")
			assert.False(t, ok)
		})
	}
}

func TestNewLinkSupersedesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	first := h.pending(t, "u1")

	h.bot.HandleUpdate(ctx, say("u1", soupURL))

	second := h.pending(t, "u1")
	assert.Equal(t, soupURL, second.SourceURL)
	assert.NotEqual(t, first.Progress, second.Progress)

	var superseded bool
	for _, c := range h.rec.CallsOf("edit") {
		if c.Ref == first.Progress && c.Text == supersededText {
			superseded = true
		}
	}
	assert.True(t, superseded, "old prompt should say it was replaced")
	_, _, cancelled := h.pipe.snapshot()
	assert.Equal(t, []string{pastaURL}, cancelled)
}

func TestLinksFromOneRequesterAreHandledInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	slow := make(chan struct{})
	h.pipe.probeHold = map[string]chan struct{}{pastaURL: slow}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	}()
	require.Eventually(t, func() bool { return len(h.rec.CallsOf("send")) == 1 }, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.bot.HandleUpdate(ctx, say("u1", soupURL))
	}()
	// The second link waits for the first even though its probe is instant.
	time.Sleep(50 * time.Millisecond)
	probed, _, _ := h.pipe.snapshot()
	assert.Equal(t, 0, probed)

	close(slow)
	wg.Wait()

	p := h.pending(t, "u1")
	assert.Equal(t, soupURL, p.SourceURL)
	_, _, cancelled := h.pipe.snapshot()
	assert.Equal(t, []string{pastaURL}, cancelled)

	h.bot.HandleUpdate(ctx, press("u1", "download", p.Progress))
	h.waitDeletes(t, 1)
	_, acquired, _ := h.pipe.snapshot()
	assert.Equal(t, []string{soupURL}, acquired)

	h.bot.mu.Lock()
	assert.Empty(t, h.bot.locks)
	assert.Empty(t, h.bot.runs)
	h.bot.mu.Unlock()
}

func TestStaleButtonIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	first := h.pending(t, "u1")
	h.bot.HandleUpdate(ctx, say("u1", soupURL))

	h.bot.HandleUpdate(ctx, press("u1", "download", first.Progress))

	_, acquired, _ := h.pipe.snapshot()
	assert.Empty(t, acquired)
	assert.Equal(t, soupURL, h.pending(t, "u1").SourceURL)
}

func TestSecondRequestIsQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hold := make(chan struct{})
	h.pipe.hold = hold

	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	h.bot.HandleUpdate(ctx, say("u1", "yes"))
	require.Eventually(t, func() bool {
		_, acquired, _ := h.pipe.snapshot()
		return len(acquired) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.bot.HandleUpdate(ctx, say("u2", soupURL))
	p2 := h.pending(t, "u2")
	h.bot.HandleUpdate(ctx, say("u2", "yes"))

	edits := h.rec.CallsOf("edit")
	last := edits[len(edits)-1]
	assert.Equal(t, p2.Progress, last.Ref)
	assert.Equal(t, queuedText(1), last.Text)
	assert.Equal(t, 1, h.gate.Len())

	close(hold)
	h.waitDeletes(t, 2)
	_, acquired, _ := h.pipe.snapshot()
	assert.Equal(t, []string{pastaURL, soupURL}, acquired)
}

func TestCacheHitSkipsProbeAndGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.cache.Put(ctx, store.Entry{
		URL:    pastaURL,
		Title:  "Cached pasta",
		Result: fusion.Result{Bundle: fusion.Bundle{Description: "200 g pasta"}},
	}))

	h.bot.HandleUpdate(ctx, say("u1", pastaURL+"?is_from_webapp=1"))

	probed, acquired, _ := h.pipe.snapshot()
	assert.Zero(t, probed)
	assert.Empty(t, acquired)
	texts := h.rec.Texts()
	assert.Equal(t, cachedText, texts[0])
	assert.Equal(t, h.parser.text, texts[len(texts)-1])
	assert.Equal(t, []string{"Cached pasta"}, h.parser.calls())
}

func TestExpiredConfirmationEditsPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	p := h.pending(t, "u1")
	require.NoError(t, h.confirms.Remove(ctx, "u1"))

	h.bot.Expired(p)

	edits := h.rec.CallsOf("edit")
	last := edits[len(edits)-1]
	assert.Equal(t, p.Progress, last.Ref)
	assert.Equal(t, expiredText, last.Text)
	_, _, cancelled := h.pipe.snapshot()
	assert.Equal(t, []string{pastaURL}, cancelled)
}

func TestAnswerWithoutPendingAndHelp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.HandleUpdate(ctx, say("u1", "yes"))
	h.bot.HandleUpdate(ctx, say("u1", "what can you do?"))
	assert.Equal(t, []string{nothingPendingText, helpText}, h.rec.Texts())
}

func TestNoRecipeLeavesNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.parser.err = recipe.ErrNoRecipe
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	h.bot.HandleUpdate(ctx, say("u1", "ok"))

	require.Eventually(t, func() bool {
		texts := h.rec.Texts()
		return texts[len(texts)-1] == noRecipeText
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.rec.CallsOf("delete"), "the notice stays in the chat")
}

func TestEmptyBundleIsNotCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.pipe.result = fusion.Result{}
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	h.bot.HandleUpdate(ctx, say("u1", "+"))

	require.Eventually(t, func() bool {
		texts := h.rec.Texts()
		return texts[len(texts)-1] == noRecipeText
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.parser.calls())
	assert.Zero(t, h.cache.Len())
}

func TestPipelineFailureSkipsParser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.pipe.err = errors.New("download failed")
	h.bot.HandleUpdate(ctx, say("u1", pastaURL))
	h.bot.HandleUpdate(ctx, say("u1", "yes"))

	require.Eventually(t, func() bool {
		texts := h.rec.Texts()
		return texts[len(texts)-1] == failedText
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.parser.calls())
	assert.Zero(t, h.cache.Len())
}

func TestExtractRunsThroughGateThenHitsCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ex, err := h.bot.Extract(ctx, pastaURL, nil)
	require.NoError(t, err)
	assert.False(t, ex.Cached)
	assert.NotEmpty(t, ex.RequestID)
	assert.Equal(t, "boil 200 g pasta, add lemon", ex.Bundle.Transcript)
	assert.Equal(t, "Lemon pasta", ex.Metadata.Title)

	again, err := h.bot.Extract(ctx, pastaURL, nil)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, ex.Bundle, again.Bundle)

	probed, acquired, _ := h.pipe.snapshot()
	assert.Equal(t, 1, probed)
	assert.Len(t, acquired, 1)
	assert.Empty(t, h.rec.Calls())
}

func TestExtractRejectsNonLinks(t *testing.T) {
	h := newHarness(t)
	for _, in := range []string{"", "pasta", "ftp://example.com/v.mp4", "https://"} {
		_, err := h.bot.Extract(context.Background(), in, nil)
		assert.ErrorIs(t, err, ErrInvalidURL, in)
	}
}

func TestExtractReportsPipelineFailure(t *testing.T) {
	h := newHarness(t)
	h.pipe.err = errors.New("blocked")
	ex, err := h.bot.Extract(context.Background(), soupURL, nil)
	require.Error(t, err)
	assert.Equal(t, soupURL, ex.URL)
	assert.Zero(t, h.cache.Len())
}

func TestPromptFormatting(t *testing.T) {
	assert.Equal(t, "1:05", clock(65*time.Second))
	assert.Equal(t, "1:02:05", clock(3725*time.Second))

	placeholder := promptText(fetch.Metadata{Platform: fetch.PlatformInstagram, Placeholder: true})
	assert.True(t, strings.HasPrefix(placeholder, "🎬 Couldn't read the details"))
	assert.Contains(t, placeholder, "Instagram")

	long := strings.Repeat("a", 500)
	info := infoText(fetch.Metadata{Title: "x", Platform: fetch.PlatformYouTube, Description: long})
	assert.Contains(t, info, strings.Repeat("a", maxDescriptionRunes-1)+"…")
	assert.NotContains(t, info, strings.Repeat("a", maxDescriptionRunes))
}
