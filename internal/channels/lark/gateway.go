// Package lark connects the bot to Lark (Feishu) over the open platform
// websocket event stream.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"cookclip/internal/async"
	"cookclip/internal/logging"
	"cookclip/internal/messaging"
)

const (
	messageDedupCacheSize = 2048
	defaultDedupTTL       = 10 * time.Minute
)

// Gateway is a messaging.Transport backed by a Lark bot.
type Gateway struct {
	cfg    Config
	logger logging.Logger
	api    API

	dedupMu    sync.Mutex
	dedupCache *lru.Cache[string, time.Time]
	now        func() time.Time
}

var _ messaging.Transport = (*Gateway)(nil)

// NewGateway constructs a Lark gateway instance.
func NewGateway(cfg Config, logger logging.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, fmt.Errorf("lark gateway requires app_id and app_secret")
	}
	if !cfg.AllowDirect && !cfg.AllowGroups {
		cfg.AllowDirect = true
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	dedupCache, err := lru.New[string, time.Time](messageDedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("lark message deduper init: %w", err)
	}
	g := &Gateway{
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		dedupCache: dedupCache,
		now:        time.Now,
	}
	g.api = newSDKAPI(g.newClient())
	return g, nil
}

// SetAPI replaces the SDK-backed API. This is the injection point for tests.
func (g *Gateway) SetAPI(api API) {
	g.api = api
}

func (g *Gateway) newClient() *lark.Client {
	var clientOpts []lark.ClientOptionFunc
	if domain := strings.TrimSpace(g.cfg.BaseDomain); domain != "" {
		clientOpts = append(clientOpts, lark.WithOpenBaseUrl(domain))
	}
	return lark.NewClient(g.cfg.AppID, g.cfg.AppSecret, clientOpts...)
}

// Run connects the websocket client and blocks. The SDK client has no Stop;
// cancelling ctx is the shutdown mechanism.
func (g *Gateway) Run(ctx context.Context, h messaging.Handler) error {
	eventDispatcher := dispatcher.NewEventDispatcher("", "")
	eventDispatcher.OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
		update, ok := g.toUpdate(event)
		if !ok {
			return nil
		}
		// Events must be acknowledged quickly; the handler may block on the gate.
		async.Go(g.logger, "lark.update", func() {
			h.HandleUpdate(context.WithoutCancel(ctx), update)
		})
		return nil
	})

	var wsOpts []larkws.ClientOption
	wsOpts = append(wsOpts, larkws.WithEventHandler(eventDispatcher))
	wsOpts = append(wsOpts, larkws.WithLogLevel(larkcore.LogLevelInfo))
	if domain := strings.TrimSpace(g.cfg.BaseDomain); domain != "" {
		wsOpts = append(wsOpts, larkws.WithDomain(domain))
	}
	wsClient := larkws.NewClient(g.cfg.AppID, g.cfg.AppSecret, wsOpts...)

	g.logger.Info("Lark gateway connecting (app_id=%s)...", g.cfg.AppID)
	return wsClient.Start(ctx)
}

// toUpdate filters and converts a message event.
func (g *Gateway) toUpdate(event *larkim.P2MessageReceiveV1) (messaging.Update, bool) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return messaging.Update{}, false
	}
	msg := event.Event.Message

	msgType := strings.ToLower(strings.TrimSpace(deref(msg.MessageType)))
	if msgType != "text" && msgType != "post" {
		return messaging.Update{}, false
	}

	isGroup := deref(msg.ChatType) == "group"
	if isGroup && !g.cfg.AllowGroups {
		return messaging.Update{}, false
	}
	if !isGroup && !g.cfg.AllowDirect {
		return messaging.Update{}, false
	}

	content := extractMessageContent(msgType, deref(msg.Content))
	if content == "" {
		return messaging.Update{}, false
	}

	chatID := deref(msg.ChatId)
	if chatID == "" {
		g.logger.Warn("Lark message has empty chat_id; skipping")
		return messaging.Update{}, false
	}

	messageID := deref(msg.MessageId)
	if messageID != "" && g.isDuplicateMessage(messageID) {
		g.logger.Debug("Lark duplicate message skipped: %s", messageID)
		return messaging.Update{}, false
	}

	return messaging.Update{
		ChatID:    chatID,
		SenderID:  extractSenderID(event),
		MessageID: messageID,
		Text:      content,
	}, true
}

func (g *Gateway) isDuplicateMessage(messageID string) bool {
	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	now := g.now()
	if ts, ok := g.dedupCache.Get(messageID); ok {
		if now.Sub(ts) <= g.cfg.DedupTTL {
			return true
		}
		g.dedupCache.Remove(messageID)
	}
	g.dedupCache.Add(messageID, now)
	return false
}

func (g *Gateway) SendText(ctx context.Context, chatID, text string, buttons ...messaging.Button) (messaging.MessageRef, error) {
	id, err := g.api.SendMessage(ctx, chatID, "text", textContent(withButtons(text, buttons)))
	if err != nil {
		return messaging.MessageRef{}, err
	}
	return messaging.MessageRef{ChatID: chatID, MessageID: id}, nil
}

func (g *Gateway) EditText(ctx context.Context, ref messaging.MessageRef, text string, buttons ...messaging.Button) error {
	return g.api.UpdateMessage(ctx, ref.MessageID, "text", textContent(withButtons(text, buttons)))
}

func (g *Gateway) Delete(ctx context.Context, ref messaging.MessageRef) error {
	return g.api.DeleteMessage(ctx, ref.MessageID)
}

// SendVideo uploads the file and posts it as a media message. Lark media
// messages carry no caption, so the caption follows as text.
func (g *Gateway) SendVideo(ctx context.Context, chatID string, video messaging.Video) (messaging.MessageRef, error) {
	f, err := os.Open(video.Path)
	if err != nil {
		return messaging.MessageRef{}, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	fileKey, err := g.api.UploadFile(ctx, f, filepath.Base(video.Path), "mp4", video.Duration)
	if err != nil {
		return messaging.MessageRef{}, err
	}
	id, err := g.api.SendMessage(ctx, chatID, "media", fileContent(fileKey))
	if err != nil {
		return messaging.MessageRef{}, err
	}
	if caption := strings.TrimSpace(video.Caption); caption != "" {
		if _, err := g.api.SendMessage(ctx, chatID, "text", textContent(caption)); err != nil {
			g.logger.Warn("Lark video caption failed: %v", err)
		}
	}
	return messaging.MessageRef{ChatID: chatID, MessageID: id}, nil
}

// withButtons renders buttons as reply hints; plain text messages have no
// interactive elements.
func withButtons(text string, buttons []messaging.Button) string {
	if len(buttons) == 0 {
		return text
	}
	hints := make([]string, 0, len(buttons))
	for _, b := range buttons {
		hints = append(hints, fmt.Sprintf("%s: reply %q", b.Text, b.Data))
	}
	return text + "\n\n" + strings.Join(hints, " · ")
}

func extractMessageContent(msgType, raw string) string {
	switch msgType {
	case "text":
		return extractTextContent(raw)
	case "post":
		return extractPostContent(raw)
	default:
		return ""
	}
}

// extractTextContent parses a Lark text message content JSON: {"text":"..."}.
func extractTextContent(raw string) string {
	if raw == "" {
		return ""
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(parsed.Text)
}

// extractPostContent flattens a rich post. Links arrive as "a" elements
// whose href carries the URL.
// {"title":"...","content":[[{"tag":"text","text":"..."}]]}
func extractPostContent(raw string) string {
	if raw == "" {
		return ""
	}

	type postElement struct {
		Tag  string `json:"tag"`
		Text string `json:"text"`
		Href string `json:"href"`
	}
	type postPayload struct {
		Title   string          `json:"title"`
		Content [][]postElement `json:"content"`
	}

	var parsed postPayload
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return strings.TrimSpace(raw)
	}

	var sb strings.Builder
	if title := strings.TrimSpace(parsed.Title); title != "" {
		sb.WriteString(title)
	}
	for _, line := range parsed.Content {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		for _, el := range line {
			switch el.Tag {
			case "a":
				if el.Href != "" {
					sb.WriteString(el.Href)
				} else {
					sb.WriteString(el.Text)
				}
			default:
				sb.WriteString(el.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// textContent builds the JSON content payload for a Lark text message.
func textContent(text string) string {
	payload, _ := json.Marshal(map[string]string{"text": text})
	return string(payload)
}

func fileContent(fileKey string) string {
	payload, _ := json.Marshal(map[string]string{"file_key": fileKey})
	return string(payload)
}

// extractSenderID extracts the sender open_id from a Lark message event.
func extractSenderID(event *larkim.P2MessageReceiveV1) string {
	if event == nil || event.Event == nil || event.Event.Sender == nil || event.Event.Sender.SenderId == nil {
		return ""
	}
	return deref(event.Event.Sender.SenderId.OpenId)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
