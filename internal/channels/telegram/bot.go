// Package telegram connects the bot to the Telegram Bot API with long
// polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"cookclip/internal/async"
	apperrors "cookclip/internal/errors"
	"cookclip/internal/logging"
	"cookclip/internal/messaging"
)

const updateDedupCacheSize = 1024

// BotAPI is the subset of *tgbotapi.BotAPI the transport uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config holds the bot credentials and polling options.
type Config struct {
	Token       string
	PollTimeout int
	Debug       bool
}

// Bot is a messaging.Transport over the Telegram Bot API.
type Bot struct {
	api         BotAPI
	pollTimeout int
	logger      logging.Logger

	seenMu sync.Mutex
	seen   *lru.Cache[int, struct{}]
}

var _ messaging.Transport = (*Bot)(nil)

// New authenticates with the Bot API.
func New(cfg Config, logger logging.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram transport requires a bot token")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = cfg.Debug
	logging.OrNop(logger).Info("Telegram authorized as @%s", api.Self.UserName)
	return NewWithAPI(api, cfg, logger), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api BotAPI, cfg Config, logger logging.Logger) *Bot {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	seen, _ := lru.New[int, struct{}](updateDedupCacheSize)
	return &Bot{
		api:         api,
		pollTimeout: cfg.PollTimeout,
		logger:      logging.OrNop(logger),
		seen:        seen,
	}
}

// Run long-polls for updates until ctx is done. Each update is handled on
// its own goroutine.
func (b *Bot) Run(ctx context.Context, h messaging.Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("Telegram polling started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			update, ok := b.toUpdate(upd)
			if !ok {
				continue
			}
			async.Go(b.logger, "telegram.update", func() {
				h.HandleUpdate(ctx, update)
			})
		}
	}
}

func (b *Bot) toUpdate(upd tgbotapi.Update) (messaging.Update, bool) {
	if b.duplicate(upd.UpdateID) {
		return messaging.Update{}, false
	}
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.logger.Warn("Telegram answer callback failed: %v", err)
		}
		out := messaging.Update{Action: cq.Data}
		if cq.From != nil {
			out.SenderID = strconv.FormatInt(cq.From.ID, 10)
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			out.ChatID = strconv.FormatInt(cq.Message.Chat.ID, 10)
			out.MessageID = strconv.Itoa(cq.Message.MessageID)
			out.Source = messaging.MessageRef{ChatID: out.ChatID, MessageID: out.MessageID}
		}
		return out, out.ChatID != "" && out.Action != ""
	case upd.Message != nil:
		msg := upd.Message
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		if strings.TrimSpace(text) == "" || msg.Chat == nil {
			return messaging.Update{}, false
		}
		out := messaging.Update{
			ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
			MessageID: strconv.Itoa(msg.MessageID),
			Text:      text,
		}
		if msg.From != nil {
			out.SenderID = strconv.FormatInt(msg.From.ID, 10)
		}
		return out, true
	default:
		return messaging.Update{}, false
	}
}

func (b *Bot) duplicate(updateID int) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if _, ok := b.seen.Get(updateID); ok {
		return true
	}
	b.seen.Add(updateID, struct{}{})
	return false
}

func (b *Bot) SendText(_ context.Context, chatID, text string, buttons ...messaging.Button) (messaging.MessageRef, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return messaging.MessageRef{}, err
	}
	msg := tgbotapi.NewMessage(id, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = keyboard(buttons)
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return messaging.MessageRef{}, translate(err)
	}
	return messaging.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

func (b *Bot) EditText(_ context.Context, ref messaging.MessageRef, text string, buttons ...messaging.Button) error {
	chatID, msgID, err := parseRef(ref)
	if err != nil {
		return err
	}
	var edit tgbotapi.EditMessageTextConfig
	if len(buttons) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, keyboard(buttons))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, msgID, text)
	}
	if _, err := b.api.Send(edit); err != nil {
		if notModified(err) {
			return nil
		}
		return translate(err)
	}
	return nil
}

func (b *Bot) Delete(_ context.Context, ref messaging.MessageRef) error {
	chatID, msgID, err := parseRef(ref)
	if err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return translate(err)
	}
	return nil
}

func (b *Bot) SendVideo(_ context.Context, chatID string, video messaging.Video) (messaging.MessageRef, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return messaging.MessageRef{}, err
	}
	v := tgbotapi.NewVideo(id, tgbotapi.FilePath(video.Path))
	v.Caption = video.Caption
	v.Duration = int(video.Duration.Seconds())
	v.SupportsStreaming = true
	sent, err := b.api.Send(v)
	if err != nil {
		return messaging.MessageRef{}, translate(err)
	}
	return messaging.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

func keyboard(buttons []messaging.Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// translate turns a 429 into a rate-limit error carrying retry_after.
func translate(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return fmt.Errorf("telegram: %w", err)
	}
	if apiErr.Code == 429 {
		return apperrors.NewRateLimitError(err, apiErr.RetryAfter)
	}
	if apiErr.Code >= 500 {
		return apperrors.NewTransientError(err, "Telegram is temporarily unavailable.")
	}
	return fmt.Errorf("telegram: %w", err)
}

func notModified(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified")
}

func asAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return tgbotapi.Error{}, false
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", chatID)
	}
	return id, nil
}

func parseRef(ref messaging.MessageRef) (int64, int, error) {
	chatID, err := parseChatID(ref.ChatID)
	if err != nil {
		return 0, 0, err
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid message id %q", ref.MessageID)
	}
	return chatID, msgID, nil
}
