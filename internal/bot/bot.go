// Package bot turns chat updates into acquisitions: it spots links, asks the
// requester to confirm, queues confirmed requests behind the gate and hands
// the extracted content to the recipe parser.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"cookclip/internal/acquisition"
	"cookclip/internal/confirm"
	"cookclip/internal/fetch"
	"cookclip/internal/fusion"
	"cookclip/internal/gate"
	"cookclip/internal/logging"
	"cookclip/internal/messaging"
	"cookclip/internal/recipe"
	"cookclip/internal/store"
)

// Pipeline is the acquisition engine as seen by the bot.
// *acquisition.Engine satisfies it.
type Pipeline interface {
	Probe(ctx context.Context, run *acquisition.Run) fetch.Metadata
	AwaitConfirmation(run *acquisition.Run) error
	Cancel(run *acquisition.Run)
	Acquire(ctx context.Context, run *acquisition.Run, meta fetch.Metadata, sink messaging.Sink, release func()) (acquisition.Outcome, error)
}

// Parser turns a content bundle into recipe text. *recipe.Parser satisfies it.
type Parser interface {
	Parse(ctx context.Context, title string, bundle fusion.Bundle) (string, error)
}

// Deps wires the bot. Cache and Parser are optional; without a parser the
// raw bundle text is sent.
type Deps struct {
	Messenger     messaging.Messenger
	Pipeline      Pipeline
	Gate          *gate.Gate
	Confirmations confirm.Store
	Cache         store.Cache
	Parser        Parser
	Logger        logging.Logger
}

// Bot handles inbound updates for one transport.
type Bot struct {
	deps   Deps
	logger logging.Logger
	newID  func() string
	now    func() time.Time

	mu    sync.Mutex
	runs  map[string]*acquisition.Run
	locks map[string]*requesterLock
}

// requesterLock serializes one requester's link and answer handling.
type requesterLock struct {
	mu   sync.Mutex
	refs int
}

var _ messaging.Handler = (*Bot)(nil)

// New creates a bot.
func New(deps Deps) *Bot {
	return &Bot{
		deps:   deps,
		logger: logging.OrNop(deps.Logger),
		newID:  uuid.NewString,
		now:    time.Now,
		runs:   make(map[string]*acquisition.Run),
		locks:  make(map[string]*requesterLock),
	}
}

// HandleUpdate routes one update. Links start a new request; confirmation
// keywords and button presses answer the pending one.
func (b *Bot) HandleUpdate(ctx context.Context, u messaging.Update) {
	requester := u.SenderID
	if requester == "" {
		requester = u.ChatID
	}
	if u.Action != "" {
		b.answer(ctx, u, requester, confirm.ParseAction(u.Action))
		return
	}
	if link, ok := fetch.ExtractURL(u.Text); ok {
		b.link(ctx, u, requester, link)
		return
	}
	if action := confirm.ParseAction(u.Text); action != confirm.ActionNone {
		b.answer(ctx, u, requester, action)
		return
	}
	b.send(ctx, u.ChatID, helpText)
}

// Expired is the confirmation store's expiry callback.
func (b *Bot) Expired(p confirm.Pending) {
	ctx := context.Background()
	if run := b.unpark(p.RequesterID, p.SourceURL); run != nil {
		b.deps.Pipeline.Cancel(run)
	}
	b.logger.Info("confirmation for %s timed out (%s)", p.RequesterID, p.SourceURL)
	b.show(ctx, p.ChatID, p.Progress, expiredText)
}

func (b *Bot) link(ctx context.Context, u messaging.Update, requester, link string) {
	if entry, ok := b.cached(ctx, link); ok {
		b.logger.Info("cache hit for %s", link)
		sink := messaging.NewChatSink(b.deps.Messenger, u.ChatID, messaging.MessageRef{}, b.logger)
		sink.Notify(ctx, cachedText)
		b.finish(ctx, sink, entry.Title, entry.Result.Bundle)
		return
	}

	// Parking the run and storing its confirmation must not interleave with
	// another update from the same requester.
	unlock := b.lock(requester)
	defer unlock()

	ref := b.send(ctx, u.ChatID, probingText)
	run := acquisition.NewRun(b.newID(), link)
	meta := b.deps.Pipeline.Probe(ctx, run)
	if err := b.deps.Pipeline.AwaitConfirmation(run); err != nil {
		b.logger.Error("request %s: %v", run.ID, err)
		return
	}
	ref = b.show(ctx, u.ChatID, ref, promptText(meta), promptButtons...)

	previous := b.park(requester, run)
	superseded, err := b.deps.Confirmations.Put(ctx, confirm.Pending{
		RequesterID: requester,
		ChatID:      u.ChatID,
		SourceURL:   link,
		Metadata:    meta,
		Progress:    ref,
		CreatedAt:   b.now(),
	})
	if err != nil {
		b.logger.Error("store confirmation for %s: %v", requester, err)
		b.unpark(requester, link)
		if previous != nil {
			b.park(requester, previous)
		}
		b.deps.Pipeline.Cancel(run)
		b.show(ctx, u.ChatID, ref, closedText)
		return
	}
	if previous != nil {
		b.deps.Pipeline.Cancel(previous)
	}
	if superseded != nil {
		b.logger.Info("request from %s superseded %s", requester, superseded.SourceURL)
		b.show(ctx, superseded.ChatID, superseded.Progress, supersededText)
	}
}

func (b *Bot) answer(ctx context.Context, u messaging.Update, requester string, action confirm.Action) {
	if action == confirm.ActionNone {
		return
	}
	unlock := b.lock(requester)
	defer unlock()

	p, ok, err := b.deps.Confirmations.Peek(ctx, requester)
	if err != nil {
		b.logger.Error("load confirmation for %s: %v", requester, err)
		return
	}
	if !ok {
		b.send(ctx, u.ChatID, nothingPendingText)
		return
	}
	if !u.Source.IsZero() && u.Source != p.Progress {
		b.logger.Debug("stale %s button from %s on %s", action, requester, u.Source.MessageID)
		return
	}
	p, ok, err = b.deps.Confirmations.Take(ctx, requester)
	if err != nil {
		b.logger.Error("take confirmation for %s: %v", requester, err)
		return
	}
	if !ok {
		return
	}

	run := b.unpark(requester, p.SourceURL)
	if run == nil {
		run = acquisition.ResumeRun(b.newID(), p.SourceURL)
	}
	b.logger.Info("request %s from %s: %s", run.ID, requester, action)
	switch action {
	case confirm.ActionCancel:
		b.deps.Pipeline.Cancel(run)
		b.show(ctx, p.ChatID, p.Progress, cancelledText)
	case confirm.ActionInfo:
		b.deps.Pipeline.Cancel(run)
		b.show(ctx, p.ChatID, p.Progress, infoText(p.Metadata))
	case confirm.ActionConfirm:
		b.submit(ctx, p, run)
	}
}

func (b *Bot) submit(ctx context.Context, p confirm.Pending, run *acquisition.Run) {
	sink := messaging.NewChatSink(b.deps.Messenger, p.ChatID, p.Progress, b.logger)
	// The run waits until the queue position is shown so it cannot be
	// overwritten by a stale position.
	ready := make(chan struct{})
	req := gate.Request{
		ID:          run.ID,
		RequesterID: p.RequesterID,
		SourceURL:   p.SourceURL,
		Platform:    p.Metadata.Platform,
	}
	_, position, err := b.deps.Gate.Submit(ctx, req, func(ctx context.Context, _ gate.Request, release func()) {
		<-ready
		b.process(ctx, run, p, sink, release)
	})
	if err != nil {
		close(ready)
		b.logger.Warn("request %s not admitted: %v", run.ID, err)
		b.deps.Pipeline.Cancel(run)
		sink.Progress(ctx, closedText)
		return
	}
	if position > 0 {
		sink.Progress(ctx, queuedText(position))
	}
	close(ready)
}

func (b *Bot) process(ctx context.Context, run *acquisition.Run, p confirm.Pending, sink *messaging.ChatSink, release func()) {
	out, err := b.deps.Pipeline.Acquire(ctx, run, p.Metadata, sink, release)
	if err != nil {
		b.logger.Info("request %s ended in %s: %v", run.ID, run.Stage(), err)
		return
	}
	b.remember(ctx, p.SourceURL, p.Metadata.Title, out.Extraction)
	b.finish(ctx, sink, p.Metadata.Title, out.Extraction.Bundle)
}

// finish parses the bundle and leaves the chat with the recipe or a notice.
func (b *Bot) finish(ctx context.Context, sink messaging.Sink, title string, bundle fusion.Bundle) {
	if bundle.IsEmpty() {
		sink.Progress(ctx, noRecipeText)
		return
	}
	if b.deps.Parser == nil {
		sink.Notify(ctx, bundle.Text())
		sink.Finish(ctx)
		return
	}
	sink.Progress(ctx, writingText)
	text, err := b.deps.Parser.Parse(ctx, title, bundle)
	switch {
	case errors.Is(err, recipe.ErrNoContent), errors.Is(err, recipe.ErrNoRecipe):
		sink.Progress(ctx, noRecipeText)
		return
	case err != nil:
		b.logger.Warn("parse recipe %q: %v", title, err)
		sink.Progress(ctx, parserFailedText)
		return
	}
	sink.Notify(ctx, text)
	sink.Finish(ctx)
}

func (b *Bot) cached(ctx context.Context, link string) (store.Entry, bool) {
	if b.deps.Cache == nil {
		return store.Entry{}, false
	}
	entry, ok, err := b.deps.Cache.Get(ctx, link)
	if err != nil {
		b.logger.Warn("cache lookup %s: %v", link, err)
		return store.Entry{}, false
	}
	return entry, ok
}

// remember caches non-empty bundles. An empty bundle may be the result of a
// degraded dependency and is worth retrying later.
func (b *Bot) remember(ctx context.Context, link, title string, res fusion.Result) {
	if b.deps.Cache == nil || res.Bundle.IsEmpty() {
		return
	}
	if err := b.deps.Cache.Put(ctx, store.Entry{URL: link, Title: title, Result: res}); err != nil {
		b.logger.Warn("cache %s: %v", link, err)
	}
}

// lock holds the requester's lock until the returned func is called. Entries
// are dropped once no update for the requester is in flight.
func (b *Bot) lock(requester string) func() {
	b.mu.Lock()
	l, ok := b.locks[requester]
	if !ok {
		l = &requesterLock{}
		b.locks[requester] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, requester)
		}
		b.mu.Unlock()
	}
}

// park records the run awaiting the requester's answer and returns the one
// it replaces.
func (b *Bot) park(requester string, run *acquisition.Run) *acquisition.Run {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.runs[requester]
	b.runs[requester] = run
	return prev
}

// unpark removes the requester's run if it is for link.
func (b *Bot) unpark(requester, link string) *acquisition.Run {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.runs[requester]
	if !ok || run.URL != link {
		return nil
	}
	delete(b.runs, requester)
	return run
}

func (b *Bot) send(ctx context.Context, chatID, text string, buttons ...messaging.Button) messaging.MessageRef {
	ref, err := b.deps.Messenger.SendText(ctx, chatID, text, buttons...)
	if err != nil {
		b.logger.Warn("send to %s: %v", chatID, err)
	}
	return ref
}

// show edits ref in place, or sends a new message when there is none.
func (b *Bot) show(ctx context.Context, chatID string, ref messaging.MessageRef, text string, buttons ...messaging.Button) messaging.MessageRef {
	if ref.IsZero() {
		return b.send(ctx, chatID, text, buttons...)
	}
	if err := b.deps.Messenger.EditText(ctx, ref, text, buttons...); err != nil {
		b.logger.Warn("edit %s: %v", ref.MessageID, err)
	}
	return ref
}
