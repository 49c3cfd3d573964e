package lark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	apperrors "cookclip/internal/errors"
	"cookclip/internal/messaging"
)

func newTestGateway(t *testing.T, cfg Config) (*Gateway, *RecordingAPI) {
	t.Helper()
	if cfg.AppID == "" {
		cfg.AppID, cfg.AppSecret = "cli_test", "secret"
	}
	gw, err := NewGateway(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	api := NewRecordingAPI()
	gw.SetAPI(api)
	return gw, api
}

func strPtr(s string) *string { return &s }

func messageEvent(messageID, chatType, msgType, content string) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Message: &larkim.EventMessage{
				MessageId:   strPtr(messageID),
				ChatId:      strPtr("oc_chat"),
				ChatType:    strPtr(chatType),
				MessageType: strPtr(msgType),
				Content:     strPtr(content),
			},
			Sender: &larkim.EventSender{
				SenderId: &larkim.UserId{OpenId: strPtr("ou_user")},
			},
		},
	}
}

func TestNewGatewayRequiresCredentials(t *testing.T) {
	if _, err := NewGateway(Config{}, nil); err == nil {
		t.Fatal("expected error for empty credentials")
	}
}

func TestNewGatewayDefaultsToDirectChats(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})
	if !gw.cfg.AllowDirect {
		t.Fatal("expected direct chats to be allowed by default")
	}
	if gw.cfg.DedupTTL != defaultDedupTTL {
		t.Fatalf("expected default dedup ttl, got %v", gw.cfg.DedupTTL)
	}
}

func TestToUpdate(t *testing.T) {
	gw, _ := newTestGateway(t, Config{AllowDirect: true})

	update, ok := gw.toUpdate(messageEvent("om_1", "p2p", "text", `{"text":" https://vm.tiktok.com/ZM123/ "}`))
	if !ok {
		t.Fatal("expected text message to be accepted")
	}
	want := messaging.Update{ChatID: "oc_chat", SenderID: "ou_user", MessageID: "om_1", Text: "https://vm.tiktok.com/ZM123/"}
	if update != want {
		t.Fatalf("unexpected update: %+v", update)
	}

	if _, ok := gw.toUpdate(messageEvent("om_1", "p2p", "text", `{"text":"again"}`)); ok {
		t.Fatal("expected duplicate message id to be dropped")
	}
	if _, ok := gw.toUpdate(messageEvent("om_2", "group", "text", `{"text":"hi"}`)); ok {
		t.Fatal("expected group message to be dropped when groups are disabled")
	}
	if _, ok := gw.toUpdate(messageEvent("om_3", "p2p", "image", `{"image_key":"img"}`)); ok {
		t.Fatal("expected image message to be dropped")
	}
	if _, ok := gw.toUpdate(nil); ok {
		t.Fatal("expected nil event to be dropped")
	}
}

func TestDuplicateWindowExpires(t *testing.T) {
	gw, _ := newTestGateway(t, Config{DedupTTL: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gw.now = func() time.Time { return now }

	if gw.isDuplicateMessage("om_1") {
		t.Fatal("first sighting is not a duplicate")
	}
	if !gw.isDuplicateMessage("om_1") {
		t.Fatal("second sighting within the window is a duplicate")
	}
	now = now.Add(2 * time.Minute)
	if gw.isDuplicateMessage("om_1") {
		t.Fatal("sighting after the window is not a duplicate")
	}
}

func TestExtractPostContent(t *testing.T) {
	raw := `{"title":"Dinner","content":[[{"tag":"text","text":"try this "},{"tag":"a","text":"link","href":"https://youtube.com/shorts/abc"}]]}`
	got := extractPostContent(raw)
	if got != "Dinner\ntry this https://youtube.com/shorts/abc" {
		t.Fatalf("unexpected post text %q", got)
	}
}

func TestExtractTextContent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"valid text", `{"text":"hello world"}`, "hello world"},
		{"whitespace text", `{"text":"  "}`, ""},
		{"empty raw", "", ""},
		{"invalid json", "not json", "not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTextContent(tt.raw); got != tt.expected {
				t.Fatalf("extractTextContent(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestSendTextWithButtons(t *testing.T) {
	gw, api := newTestGateway(t, Config{})
	ref, err := gw.SendText(context.Background(), "oc_chat", "Download it?",
		messaging.Button{Text: "Download", Data: "confirm"},
		messaging.Button{Text: "Cancel", Data: "cancel"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.MessageID != "om_recorded_1" || ref.ChatID != "oc_chat" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	calls := api.CallsByMethod("SendMessage")
	if len(calls) != 1 {
		t.Fatalf("expected one send, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Content, `Download: reply \"confirm\"`) {
		t.Fatalf("expected button hint in content, got %q", calls[0].Content)
	}
}

func TestEditAndDelete(t *testing.T) {
	gw, api := newTestGateway(t, Config{})
	ref := messaging.MessageRef{ChatID: "oc_chat", MessageID: "om_9"}
	if err := gw.EditText(context.Background(), ref, "⬇️ Downloading…"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := gw.Delete(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := api.Calls()
	if len(calls) != 2 || calls[0].Method != "UpdateMessage" || calls[1].Method != "DeleteMessage" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[0].MsgID != "om_9" || calls[0].Content != textContent("⬇️ Downloading…") {
		t.Fatalf("unexpected update %+v", calls[0])
	}
}

func TestSendVideoUploadsThenPostsCaption(t *testing.T) {
	gw, api := newTestGateway(t, Config{})
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("mp4-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	api.NextFileKey = "file_v1"

	_, err := gw.SendVideo(context.Background(), "oc_chat", messaging.Video{Path: path, Caption: "🎬 Lemon pasta", Duration: 42 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := api.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected upload, media and caption calls, got %+v", calls)
	}
	if calls[0].Method != "UploadFile" || string(calls[0].Payload) != "mp4-bytes" || calls[0].Duration != 42*time.Second {
		t.Fatalf("unexpected upload %+v", calls[0])
	}
	if calls[1].MsgType != "media" || calls[1].Content != fileContent("file_v1") {
		t.Fatalf("unexpected media message %+v", calls[1])
	}
	if calls[2].Content != textContent("🎬 Lemon pasta") {
		t.Fatalf("unexpected caption %+v", calls[2])
	}
}

func TestSendVideoUploadFailure(t *testing.T) {
	gw, api := newTestGateway(t, Config{})
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	api.NextError = errors.New("upload rejected")
	if _, err := gw.SendVideo(context.Background(), "oc_chat", messaging.Video{Path: path}); err == nil {
		t.Fatal("expected upload error")
	}
	if len(api.CallsByMethod("SendMessage")) != 0 {
		t.Fatal("no message should be posted after a failed upload")
	}
}

func TestResponseErrorMapsFrequencyLimit(t *testing.T) {
	err := responseError("create message", codeFrequencyLimit, "request trigger frequency limit")
	delay, ok := apperrors.RateLimitDelay(err)
	if !ok || delay != time.Second {
		t.Fatalf("expected 1s rate-limit delay, got %v %v", delay, ok)
	}
	if _, ok := apperrors.RateLimitDelay(responseError("create message", 230001, "bad request")); ok {
		t.Fatal("other codes are not rate limits")
	}
}
