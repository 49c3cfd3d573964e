package messaging

import (
	"context"
	"fmt"
	"sync"
)

// Call is one recorded Messenger invocation.
type Call struct {
	Op      string
	ChatID  string
	Ref     MessageRef
	Text    string
	Buttons []Button
	Video   Video
}

// RecordingMessenger is an in-memory Messenger for tests and dry runs.
type RecordingMessenger struct {
	mu     sync.Mutex
	calls  []Call
	nextID int
	fail   map[string][]error
}

var _ Messenger = (*RecordingMessenger)(nil)

// NewRecordingMessenger returns an empty recorder.
func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{fail: make(map[string][]error)}
}

// FailNext makes the next call of op ("send", "edit", "delete", "video")
// return err. Multiple errors queue up.
func (m *RecordingMessenger) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = append(m.fail[op], err)
}

// Calls returns a copy of all recorded calls.
func (m *RecordingMessenger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf filters recorded calls by op.
func (m *RecordingMessenger) CallsOf(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Texts returns the text of every send and edit, in order.
func (m *RecordingMessenger) Texts() []string {
	var out []string
	for _, c := range m.Calls() {
		if c.Op == "send" || c.Op == "edit" {
			out = append(out, c.Text)
		}
	}
	return out
}

func (m *RecordingMessenger) record(c Call) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	if errs := m.fail[c.Op]; len(errs) > 0 {
		m.fail[c.Op] = errs[1:]
		return MessageRef{}, errs[0]
	}
	if c.Op == "send" || c.Op == "video" {
		m.nextID++
		return MessageRef{ChatID: c.ChatID, MessageID: fmt.Sprintf("%d", m.nextID)}, nil
	}
	return c.Ref, nil
}

func (m *RecordingMessenger) SendText(_ context.Context, chatID, text string, buttons ...Button) (MessageRef, error) {
	return m.record(Call{Op: "send", ChatID: chatID, Text: text, Buttons: buttons})
}

func (m *RecordingMessenger) EditText(_ context.Context, ref MessageRef, text string, buttons ...Button) error {
	_, err := m.record(Call{Op: "edit", ChatID: ref.ChatID, Ref: ref, Text: text, Buttons: buttons})
	return err
}

func (m *RecordingMessenger) Delete(_ context.Context, ref MessageRef) error {
	_, err := m.record(Call{Op: "delete", ChatID: ref.ChatID, Ref: ref})
	return err
}

func (m *RecordingMessenger) SendVideo(_ context.Context, chatID string, video Video) (MessageRef, error) {
	return m.record(Call{Op: "video", ChatID: chatID, Text: video.Caption, Video: video})
}
