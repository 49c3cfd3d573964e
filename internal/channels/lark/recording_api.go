package lark

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// APICall records a single outbound call made through an API.
type APICall struct {
	Method   string // "SendMessage", "UpdateMessage", "DeleteMessage", "UploadFile"
	ChatID   string
	MsgType  string
	Content  string
	MsgID    string
	FileName string
	FileType string
	Duration time.Duration
	Payload  []byte
}

// RecordingAPI implements API by recording all outbound calls for later
// assertion in tests.
type RecordingAPI struct {
	mu    sync.Mutex
	calls []APICall

	// NextFileKey is returned by UploadFile. Defaults to "file_recorded".
	NextFileKey string

	// NextError, when set, is returned by the next call (any method) and then cleared.
	NextError error

	sendCount int
}

var _ API = (*RecordingAPI)(nil)

// NewRecordingAPI creates a RecordingAPI.
func NewRecordingAPI() *RecordingAPI {
	return &RecordingAPI{}
}

func (r *RecordingAPI) popError() error {
	err := r.NextError
	r.NextError = nil
	return err
}

func (r *RecordingAPI) SendMessage(_ context.Context, chatID, msgType, content string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, APICall{Method: "SendMessage", ChatID: chatID, MsgType: msgType, Content: content})
	if err := r.popError(); err != nil {
		return "", err
	}
	r.sendCount++
	return fmt.Sprintf("om_recorded_%d", r.sendCount), nil
}

func (r *RecordingAPI) UpdateMessage(_ context.Context, messageID, msgType, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, APICall{Method: "UpdateMessage", MsgID: messageID, MsgType: msgType, Content: content})
	return r.popError()
}

func (r *RecordingAPI) DeleteMessage(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, APICall{Method: "DeleteMessage", MsgID: messageID})
	return r.popError()
}

func (r *RecordingAPI) UploadFile(_ context.Context, payload io.Reader, fileName, fileType string, duration time.Duration) (string, error) {
	data, readErr := io.ReadAll(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, APICall{Method: "UploadFile", Payload: data, FileName: fileName, FileType: fileType, Duration: duration})
	if err := r.popError(); err != nil {
		return "", err
	}
	if readErr != nil {
		return "", readErr
	}
	key := r.NextFileKey
	if key == "" {
		key = "file_recorded"
	}
	r.NextFileKey = ""
	return key, nil
}

// Calls returns a snapshot of all recorded calls.
func (r *RecordingAPI) Calls() []APICall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]APICall, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsByMethod returns calls filtered by method name.
func (r *RecordingAPI) CallsByMethod(method string) []APICall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []APICall
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
