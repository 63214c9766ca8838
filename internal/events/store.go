// Package events keeps the append-only security event log: in-memory
// category buckets with retention trimming, newline-delimited JSON dated
// log files, and best-effort publishing to the event bus.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/sgerhart/reqsentry/internal/model"
)

// owaspMappings buckets event categories into OWASP Top 10 identifiers.
var owaspMappings = map[string]string{
	model.CategoryInjection:     "A03:2021-Injection",
	model.CategoryXSS:           "A03:2021-Injection",
	model.CategoryAccessControl: "A01:2021-Broken Access Control",
	model.CategoryAuthFailure:   "A07:2021-Identification and Authentication Failures",
	model.CategoryRateAbuse:     "A04:2021-Insecure Design",
	model.CategoryBlockedAccess: "A01:2021-Broken Access Control",
	model.CategoryAutomation:    "A07:2021-Identification and Authentication Failures",
}

// logLine is the NDJSON schema for the dated event log.
type logLine struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	IP        string         `json:"ip"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Severity  model.Severity `json:"severity"`
	Threats   []string       `json:"threats,omitempty"`
	RiskScore int            `json:"riskScore,omitempty"`
}

// Store is the security event store. Recording is cheap on the request
// path: file writes and bus publishes happen on a background goroutine.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]*model.SecurityEvent

	maxPerCategory int
	maxAge         time.Duration

	logDir string
	nc     *nats.Conn
	logger *slog.Logger

	writeCh chan *model.SecurityEvent
	done    chan struct{}

	current     *os.File
	currentDate string
}

// NewStore creates an event store. nc may be nil; publishing is then
// skipped. An empty logDir disables file logging.
func NewStore(logDir string, maxPerCategory int, maxAge time.Duration, nc *nats.Conn, logger *slog.Logger) *Store {
	s := &Store{
		buckets:        make(map[string][]*model.SecurityEvent),
		maxPerCategory: maxPerCategory,
		maxAge:         maxAge,
		logDir:         logDir,
		nc:             nc,
		logger:         logger,
		writeCh:        make(chan *model.SecurityEvent, 1024),
		done:           make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Record appends a new security event and hands it to the background
// writer. It returns the stored event for correlation.
func (s *Store) Record(eventType, category string, severity model.Severity, identity string, data map[string]interface{}) *model.SecurityEvent {
	if category == "" {
		category = model.CategoryMisc
	}

	event := &model.SecurityEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Category:     category,
		Severity:     severity,
		Timestamp:    time.Now(),
		Identity:     identity,
		Data:         data,
		OWASPMapping: owaspMappings[category],
	}

	s.mu.Lock()
	bucket := append(s.buckets[category], event)
	// Trim oldest entries past the per-category cap.
	if len(bucket) > s.maxPerCategory {
		bucket = bucket[len(bucket)-s.maxPerCategory:]
	}
	s.buckets[category] = bucket
	s.mu.Unlock()

	select {
	case s.writeCh <- event:
	default:
		// Writer backlog full; dropping the file/bus copy keeps the
		// request path from blocking. The in-memory copy is kept.
		s.logger.Warn("Event writer backlog full, dropping persisted copy", "event_id", event.ID)
	}

	return event
}

// Recent returns events across all categories inside the window, newest
// first, capped at limit. The time filter is applied before the count cap.
func (s *Store) Recent(window time.Duration, limit int) []*model.SecurityEvent {
	cutoff := time.Now().Add(-window)

	s.mu.RLock()
	var result []*model.SecurityEvent
	for _, bucket := range s.buckets {
		for _, event := range bucket {
			if event.Timestamp.After(cutoff) {
				result = append(result, event)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// ByCategory returns the newest events of one category.
func (s *Store) ByCategory(category string, limit int) []*model.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.buckets[category]
	if limit <= 0 || limit > len(bucket) {
		limit = len(bucket)
	}

	result := make([]*model.SecurityEvent, limit)
	for i := 0; i < limit; i++ {
		result[i] = bucket[len(bucket)-1-i]
	}
	return result
}

// TrimExpired drops events older than the retention horizon from every
// bucket. Called from the background maintenance schedule.
func (s *Store) TrimExpired(now time.Time) {
	cutoff := now.Add(-s.maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	for category, bucket := range s.buckets {
		idx := 0
		for idx < len(bucket) && !bucket[idx].Timestamp.After(cutoff) {
			idx++
		}
		if idx == len(bucket) {
			delete(s.buckets, category)
		} else if idx > 0 {
			s.buckets[category] = bucket[idx:]
		}
	}
}

// CleanupOldLogs removes dated log files older than maxAge.
func (s *Store) CleanupOldLogs(maxAge time.Duration) {
	if s.logDir == "" {
		return
	}

	entries, err := os.ReadDir(s.logDir)
	if err != nil {
		s.logger.Warn("Failed to list event log directory", "dir", s.logDir, "error", err)
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "events-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.logDir, entry.Name())); err != nil {
			s.logger.Warn("Failed to remove old event log", "file", entry.Name(), "error", err)
		} else {
			s.logger.Info("Removed old event log", "file", entry.Name())
		}
	}
}

// Stats returns bucket statistics for the admin API.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perCategory := make(map[string]int, len(s.buckets))
	total := 0
	for category, bucket := range s.buckets {
		perCategory[category] = len(bucket)
		total += len(bucket)
	}

	return map[string]interface{}{
		"total_events": total,
		"categories":   perCategory,
		"retention":    s.maxAge.String(),
	}
}

// Close flushes the writer and closes the current log file.
func (s *Store) Close() {
	close(s.writeCh)
	<-s.done
}

func (s *Store) writeLoop() {
	defer close(s.done)

	for event := range s.writeCh {
		s.appendLogLine(event)
		s.publish(event)
	}

	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}

// appendLogLine writes the NDJSON line to the dated log file, rotating the
// handle on date change. Failures are logged and swallowed: pipeline
// availability must not depend on storage availability.
func (s *Store) appendLogLine(event *model.SecurityEvent) {
	if s.logDir == "" {
		return
	}

	line := logLine{
		ID:        event.ID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		IP:        event.Identity,
		Type:      event.Type,
		Category:  event.Category,
		Severity:  event.Severity,
	}
	if threats, ok := event.Data["threats"].([]string); ok {
		line.Threats = threats
	}
	if score, ok := event.Data["risk_score"].(int); ok {
		line.RiskScore = score
	}

	data, err := json.Marshal(line)
	if err != nil {
		s.logger.Warn("Failed to marshal event log line", "event_id", event.ID, "error", err)
		return
	}

	file, err := s.logFileFor(event.Timestamp)
	if err != nil {
		s.logger.Warn("Failed to open event log file", "error", err)
		return
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		s.logger.Warn("Failed to append event log line", "event_id", event.ID, "error", err)
	}
}

func (s *Store) logFileFor(ts time.Time) (*os.File, error) {
	date := ts.UTC().Format("2006-01-02")
	if s.current != nil && s.currentDate == date {
		return s.current, nil
	}

	if s.current != nil {
		s.current.Close()
		s.current = nil
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(s.logDir, fmt.Sprintf("events-%s.ndjson", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s.current = file
	s.currentDate = date
	return file, nil
}

// publish sends the event to the bus. Best effort only.
func (s *Store) publish(event *model.SecurityEvent) {
	if s.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	subject := "reqsentry.events." + event.Category
	if err := s.nc.Publish(subject, data); err != nil {
		s.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}
