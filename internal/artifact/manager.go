// Package artifact owns the lifetime of transient media files: every video,
// audio track and frame is named uniquely inside one work directory and has a
// defined deletion time.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cookclip/internal/logging"
)

// Kind labels what an artifact holds; it becomes part of the file name.
type Kind string

const (
	KindVideo      Kind = "video"
	KindCompressed Kind = "compressed"
	KindAudio      Kind = "audio"
	KindFrame      Kind = "frame"
)

// Config configures the lifecycle manager.
type Config struct {
	Dir string
	// TTL is how long delivered video/audio stay on disk.
	TTL time.Duration
	// SweepSchedule is a cron spec for the orphan sweep; empty disables it.
	SweepSchedule string
	// SweepAge is the minimum age of files the sweep removes. Defaults to 2×TTL.
	SweepAge time.Duration
}

// Manager creates unique artifact paths and deletes them on schedule.
type Manager struct {
	cfg    Config
	logger logging.Logger
	now    func() time.Time
	seq    atomic.Uint64

	mu       sync.Mutex
	timers   map[string]*time.Timer
	cron     *cron.Cron
	stopOnce sync.Once
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

const maxIDLength = 48

// NewManager creates the work directory when missing.
func NewManager(cfg Config, logger logging.Logger) (*Manager, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "cookclip")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.SweepAge <= 0 {
		cfg.SweepAge = 2 * cfg.TTL
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Manager{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Dir returns the shared work directory.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// TTL returns the post-delivery retention.
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

// Sanitize reduces an identifier to characters safe for file names.
func Sanitize(id string) string {
	clean := strings.Trim(unsafeChars.ReplaceAllString(id, "_"), "_")
	if len(clean) > maxIDLength {
		clean = clean[:maxIDLength]
	}
	if clean == "" {
		return "item"
	}
	return clean
}

// Path returns a fresh, collision-free path for an artifact. The file is not created.
func (m *Manager) Path(kind Kind, id, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%d_%d_%s_%s", m.now().UnixNano(), m.seq.Add(1), kind, Sanitize(id))
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(m.cfg.Dir, name)
}

// Remove deletes path immediately and cancels any scheduled removal.
// Removing a file that is already gone is not an error.
func (m *Manager) Remove(path string) error {
	if path == "" {
		return nil
	}
	m.mu.Lock()
	if t, ok := m.timers[path]; ok {
		t.Stop()
		delete(m.timers, path)
	}
	m.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("remove %s: %v", path, err)
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// RemoveQuietly deletes path and only logs failures.
func (m *Manager) RemoveQuietly(path string) {
	_ = m.Remove(path)
}

// ScheduleRemoval deletes path once the TTL elapses. Rescheduling a path resets its timer.
func (m *Manager) ScheduleRemoval(path string) {
	m.ScheduleRemovalAfter(path, m.cfg.TTL)
}

// ScheduleRemovalAfter deletes path after d.
func (m *Manager) ScheduleRemovalAfter(path string, d time.Duration) {
	if path == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[path]; ok {
		t.Stop()
	}
	m.timers[path] = time.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, path)
		m.mu.Unlock()
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("scheduled remove %s: %v", path, err)
			return
		}
		m.logger.Debug("expired artifact %s", filepath.Base(path))
	})
}

// Pending returns how many removals are scheduled.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Sweep removes files in the work directory older than the sweep age that
// have no scheduled removal. It returns the number of files deleted.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read work dir: %w", err)
	}
	cutoff := m.now().Add(-m.cfg.SweepAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(m.cfg.Dir, entry.Name())
		m.mu.Lock()
		_, scheduled := m.timers[path]
		m.mu.Unlock()
		if scheduled {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("sweep %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("swept %d orphaned artifacts", removed)
	}
	return removed, nil
}

// StartSweeper schedules Sweep on the configured cron spec.
func (m *Manager) StartSweeper() error {
	if strings.TrimSpace(m.cfg.SweepSchedule) == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(m.cfg.SweepSchedule, func() {
		if _, err := m.Sweep(); err != nil {
			m.logger.Warn("sweep failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.cfg.SweepSchedule, err)
	}
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	c.Start()
	return nil
}

// Close stops the sweeper and pending timers. Files with pending timers are
// left for the next sweep.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		for path, t := range m.timers {
			t.Stop()
			delete(m.timers, path)
		}
		c := m.cron
		m.mu.Unlock()
		if c != nil {
			<-c.Stop().Done()
		}
	})
}
