package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "tiktok_com_v_123", Sanitize("tiktok.com/@v/123"))
	assert.Equal(t, "item", Sanitize("../.."))
	assert.Len(t, Sanitize(strings.Repeat("a", 100)), maxIDLength)
}

func TestPathIsUniqueAndInsideDir(t *testing.T) {
	m := newTestManager(t, Config{})
	fixed := time.Unix(1700000000, 0)
	m.now = func() time.Time { return fixed }

	a := m.Path(KindVideo, "abc/def", "mp4")
	b := m.Path(KindVideo, "abc/def", ".mp4")
	assert.NotEqual(t, a, b)
	assert.Equal(t, m.Dir(), filepath.Dir(a))
	assert.True(t, strings.HasSuffix(a, "_video_abc_def.mp4"))
}

func TestRemoveIsIdempotentAndCancelsSchedule(t *testing.T) {
	m := newTestManager(t, Config{TTL: time.Hour})
	path := m.Path(KindAudio, "x", "mp3")
	touch(t, path)

	m.ScheduleRemoval(path)
	assert.Equal(t, 1, m.Pending())

	require.NoError(t, m.Remove(path))
	require.NoError(t, m.Remove(path))
	assert.Equal(t, 0, m.Pending())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestScheduledRemovalFires(t *testing.T) {
	m := newTestManager(t, Config{})
	path := m.Path(KindVideo, "x", "mp4")
	touch(t, path)

	m.ScheduleRemovalAfter(path, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Pending())
}

func TestSweepRemovesOnlyOldUnscheduledFiles(t *testing.T) {
	m := newTestManager(t, Config{TTL: time.Minute})
	old := m.Path(KindFrame, "old", "jpg")
	fresh := m.Path(KindFrame, "fresh", "jpg")
	held := m.Path(KindVideo, "held", "mp4")
	for _, p := range []string{old, fresh, held} {
		touch(t, p)
	}
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(held, past, past))
	m.ScheduleRemoval(held)

	removed, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, held)
}

func TestStartSweeperRejectsBadSchedule(t *testing.T) {
	m := newTestManager(t, Config{SweepSchedule: "not a schedule"})
	require.Error(t, m.StartSweeper())

	ok := newTestManager(t, Config{SweepSchedule: "@every 1h"})
	require.NoError(t, ok.StartSweeper())
}
