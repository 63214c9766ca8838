package blocklist

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/reqsentry/internal/model"
)

type sinkRecorder struct {
	events []string
}

func (s *sinkRecorder) Record(eventType, category string, severity model.Severity, identity string, data map[string]interface{}) *model.SecurityEvent {
	s.events = append(s.events, eventType+":"+identity)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestManager_BlockUnblock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.json")
	sink := &sinkRecorder{}
	manager := NewManager(path, sink, testLogger())

	assert.False(t, manager.IsBlocked("203.0.113.7"))

	entry := manager.BlockIP("203.0.113.7", "sql injection burst")
	assert.True(t, manager.IsBlocked("203.0.113.7"))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "sql injection burst", entry.Reason)

	// Re-blocking returns the original entry.
	again := manager.BlockIP("203.0.113.7", "other reason")
	assert.Equal(t, entry.ID, again.ID)

	assert.True(t, manager.UnblockIP("203.0.113.7"))
	assert.False(t, manager.IsBlocked("203.0.113.7"))
	assert.False(t, manager.UnblockIP("203.0.113.7"))

	assert.Contains(t, sink.events, "IP_BLOCKED:203.0.113.7")
	assert.Contains(t, sink.events, "IP_UNBLOCKED:203.0.113.7")
}

func TestManager_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.json")

	first := NewManager(path, nil, testLogger())
	first.BlockIP("203.0.113.1", "scanner")
	first.BlockIP("203.0.113.2", "correlated attack")

	// A fresh manager reloading the file reproduces the identical set.
	second := NewManager(path, nil, testLogger())
	require.NoError(t, second.Load())

	assert.Equal(t, first.Identities(), second.Identities())
	assert.True(t, second.IsBlocked("203.0.113.1"))
	assert.True(t, second.IsBlocked("203.0.113.2"))

	// Metadata survives through the sidecar.
	entries := second.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "scanner", entries[0].Reason)
}

func TestManager_LoadMissingFileIsCleanStart(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "absent.json"), nil, testLogger())
	assert.NoError(t, manager.Load())
	assert.Empty(t, manager.Identities())
}

func TestManager_PersistFailureKeepsMemoryState(t *testing.T) {
	// Point persistence at an unwritable path; blocking must still work.
	manager := NewManager("/proc/reqsentry/blocklist.json", nil, testLogger())
	manager.BlockIP("203.0.113.9", "test")
	assert.True(t, manager.IsBlocked("203.0.113.9"))
}
