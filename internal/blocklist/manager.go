// Package blocklist maintains the authoritative set of blocked identities.
// The identity set is the only state that must survive a restart; it is
// persisted as a JSON array with block metadata kept in a sidecar file.
package blocklist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sgerhart/reqsentry/internal/model"
)

// EventSink receives the security events the manager emits on block and
// unblock actions.
type EventSink interface {
	Record(eventType, category string, severity model.Severity, identity string, data map[string]interface{}) *model.SecurityEvent
}

// Manager is the block list manager. All mutation goes through BlockIP and
// UnblockIP; the in-memory set stays correct even when persistence fails.
type Manager struct {
	mu      sync.RWMutex
	blocked map[string]model.BlockEntry

	path     string
	metaPath string
	logger   *slog.Logger
	sink     EventSink
}

// NewManager creates a block list manager persisting to the given file.
func NewManager(path string, sink EventSink, logger *slog.Logger) *Manager {
	return &Manager{
		blocked:  make(map[string]model.BlockEntry),
		path:     path,
		metaPath: metaPathFor(path),
		logger:   logger,
		sink:     sink,
	}
}

func metaPathFor(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "_meta" + ext
}

// Load reads the persisted block list. A missing file is a clean start, not
// an error.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read block list: %w", err)
	}

	var identities []string
	if err := json.Unmarshal(data, &identities); err != nil {
		return fmt.Errorf("failed to parse block list: %w", err)
	}

	// Metadata is best-effort; identities without metadata still block.
	meta := m.loadMeta()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range identities {
		entry, ok := meta[identity]
		if !ok {
			entry = model.BlockEntry{
				ID:        uuid.NewString(),
				Identity:  identity,
				Reason:    "restored from disk",
				Timestamp: time.Now(),
			}
		}
		m.blocked[identity] = entry
	}

	m.logger.Info("Block list loaded", "path", m.path, "blocked", len(m.blocked))
	return nil
}

func (m *Manager) loadMeta() map[string]model.BlockEntry {
	meta := make(map[string]model.BlockEntry)
	data, err := os.ReadFile(m.metaPath)
	if err != nil {
		return meta
	}
	var entries []model.BlockEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		m.logger.Warn("Failed to parse block list metadata", "path", m.metaPath, "error", err)
		return meta
	}
	for _, e := range entries {
		meta[e.Identity] = e
	}
	return meta
}

// IsBlocked reports whether the identity is on the block list. This is the
// first check in the request pipeline.
func (m *Manager) IsBlocked(identity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, blocked := m.blocked[identity]
	return blocked
}

// BlockIP adds the identity to the block list, persists the set, and logs a
// maximum-severity security event. Blocking an already blocked identity
// refreshes nothing and returns the existing entry.
func (m *Manager) BlockIP(identity, reason string) model.BlockEntry {
	m.mu.Lock()
	if existing, ok := m.blocked[identity]; ok {
		m.mu.Unlock()
		return existing
	}

	entry := model.BlockEntry{
		ID:        uuid.NewString(),
		Identity:  identity,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	m.blocked[identity] = entry
	m.mu.Unlock()

	m.persist()

	m.logger.Warn("Identity blocked", "ip", identity, "reason", reason, "block_id", entry.ID)
	if m.sink != nil {
		m.sink.Record("IP_BLOCKED", model.CategoryAccessControl, model.SeverityCritical, identity, map[string]interface{}{
			"reason":   reason,
			"block_id": entry.ID,
		})
	}

	return entry
}

// UnblockIP removes the identity and persists the set.
func (m *Manager) UnblockIP(identity string) bool {
	m.mu.Lock()
	_, existed := m.blocked[identity]
	delete(m.blocked, identity)
	m.mu.Unlock()

	if !existed {
		return false
	}

	m.persist()

	m.logger.Info("Identity unblocked", "ip", identity)
	if m.sink != nil {
		m.sink.Record("IP_UNBLOCKED", model.CategoryAccessControl, model.SeverityMedium, identity, nil)
	}

	return true
}

// Entries returns the current block entries sorted by identity.
func (m *Manager) Entries() []model.BlockEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]model.BlockEntry, 0, len(m.blocked))
	for _, entry := range m.blocked {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })
	return entries
}

// Identities returns the blocked identity strings sorted.
func (m *Manager) Identities() []string {
	entries := m.Entries()
	identities := make([]string, len(entries))
	for i, e := range entries {
		identities[i] = e.Identity
	}
	return identities
}

// Flush re-persists the current set. Called on a schedule so a transient
// write failure is retried without waiting for the next mutation.
func (m *Manager) Flush() {
	m.persist()
}

// persist writes the identity array and metadata sidecar. Write failures
// are logged and swallowed: the in-memory set remains authoritative and the
// next successful write catches up.
func (m *Manager) persist() {
	identities := m.Identities()
	entries := m.Entries()

	if err := writeJSON(m.path, identities); err != nil {
		m.logger.Warn("Failed to persist block list", "path", m.path, "error", err)
	}
	if err := writeJSON(m.metaPath, entries); err != nil {
		m.logger.Warn("Failed to persist block list metadata", "path", m.metaPath, "error", err)
	}
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
