// Package acquisition drives one video request from probe to extraction.
package acquisition

import (
	"fmt"
	"sync"
	"time"

	"cookclip/internal/fetch"
)

// Stage is a state of the per-request state machine.
type Stage string

const (
	StageNew                  Stage = ""
	StageProbing              Stage = "probing"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageDownloading          Stage = "downloading"
	StageValidating           Stage = "validating"
	StageCompressing          Stage = "compressing"
	StageDelivering           Stage = "delivering"
	StageExtracting           Stage = "extracting"
	StageDone                 Stage = "done"
	StageFailed               Stage = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Validating loops back to Downloading when an artifact fails validation.
// Compressing may skip Delivering when no deliverable output exists.
var transitions = map[Stage][]Stage{
	StageNew:                  {StageProbing},
	StageProbing:              {StageAwaitingConfirmation, StageDownloading},
	StageAwaitingConfirmation: {StageDownloading},
	StageDownloading:          {StageValidating, StageDownloading},
	StageValidating:           {StageDownloading, StageCompressing, StageDelivering},
	StageCompressing:          {StageDelivering, StageExtracting},
	StageDelivering:           {StageExtracting},
	StageExtracting:           {StageDone},
}

// StageRecord is one entered stage.
type StageRecord struct {
	Stage   Stage     `json:"stage"`
	Entered time.Time `json:"entered"`
}

// Attempt outcomes.
const (
	AttemptOK      = "ok"
	AttemptFailed  = "failed"
	AttemptInvalid = "invalid"
)

// Attempt records one download try.
type Attempt struct {
	Number   int               `json:"number"`
	Profile  string            `json:"profile"`
	Outcome  string            `json:"outcome"`
	Kind     fetch.FailureKind `json:"-"`
	Detail   string            `json:"detail,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Run is the state of one request. It is safe for concurrent reads while
// the owning goroutine advances it.
type Run struct {
	ID  string
	URL string

	mu       sync.Mutex
	now      func() time.Time
	current  Stage
	stages   []StageRecord
	attempts []Attempt
}

// NewRun starts a request in the initial state.
func NewRun(id, rawURL string) *Run {
	return &Run{ID: id, URL: rawURL, now: time.Now}
}

// ResumeRun rebuilds a run that was parked awaiting confirmation when the
// original Run value is gone, e.g. after a restart with a durable
// confirmation store.
func ResumeRun(id, rawURL string) *Run {
	r := NewRun(id, rawURL)
	_ = r.Enter(StageProbing)
	_ = r.Enter(StageAwaitingConfirmation)
	return r
}

// Enter advances the run. Failed is reachable from every non-terminal stage.
func (r *Run) Enter(next Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.Terminal() {
		return fmt.Errorf("run %s is %s; cannot enter %s", r.ID, r.current, next)
	}
	if next != StageFailed && !allowed(r.current, next) {
		return fmt.Errorf("run %s: illegal transition %s -> %s", r.ID, displayStage(r.current), next)
	}
	r.current = next
	r.stages = append(r.stages, StageRecord{Stage: next, Entered: r.now()})
	return nil
}

func allowed(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func displayStage(s Stage) string {
	if s == StageNew {
		return "new"
	}
	return string(s)
}

// Stage returns the current stage.
func (r *Run) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stages returns the visited stages in order.
func (r *Run) Stages() []StageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageRecord(nil), r.stages...)
}

// Visited reports whether the run ever entered s.
func (r *Run) Visited(s Stage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.stages {
		if rec.Stage == s {
			return true
		}
	}
	return false
}

func (r *Run) addAttempt(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

// Attempts returns the download attempts made so far.
func (r *Run) Attempts() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attempt(nil), r.attempts...)
}
