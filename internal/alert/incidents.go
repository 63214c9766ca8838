package alert

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

	"github.com/sgerhart/reqsentry/internal/model"
)

// Timeline action names
const (
	actionIncidentCreated   = "incident_created"
	actionResponseExecuted  = "automated_response_executed"
	actionIncidentEscalated = "incident_escalated"
	actionAcknowledged      = "incident_acknowledged"
	actionClosed            = "incident_closed"
)

// escalationDeadlines is the maximum time an unacknowledged incident may
// stay at its severity before the escalation check bumps it.
var escalationDeadlines = map[model.Severity]time.Duration{
	model.SeverityCritical: 5 * time.Minute,
	model.SeverityHigh:     15 * time.Minute,
	model.SeverityMedium:   30 * time.Minute,
	model.SeverityLow:      60 * time.Minute,
}

// Blocker is the slice of the block list manager the incident responder
// needs.
type Blocker interface {
	BlockIP(identity, reason string) model.BlockEntry
}

// IncidentManager owns the incident store and its status machine. Every
// state change appends a timeline entry and rewrites the incident's JSON
// document.
type IncidentManager struct {
	mu        sync.RWMutex
	incidents map[string]*model.Incident

	dir      string
	blocker  Blocker
	logger   *slog.Logger
	onCreate func(*model.Incident)
}

// OnCreate registers a callback invoked for every new incident, used for
// metrics and bus notifications.
func (im *IncidentManager) OnCreate(fn func(*model.Incident)) {
	im.onCreate = fn
}

// NewIncidentManager creates an incident manager persisting one JSON file
// per incident under dir (empty disables persistence).
func NewIncidentManager(dir string, blocker Blocker, logger *slog.Logger) *IncidentManager {
	return &IncidentManager{
		incidents: make(map[string]*model.Incident),
		dir:       dir,
		blocker:   blocker,
		logger:    logger,
	}
}

// CreateIncident opens a new incident and runs its automated response.
func (im *IncidentManager) CreateIncident(incidentType string, severity model.Severity, data map[string]interface{}) *model.Incident {
	now := time.Now()
	incident := &model.Incident{
		ID:              uuid.NewString(),
		Type:            incidentType,
		Severity:        severity,
		Status:          model.IncidentStatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
		Data:            data,
		EscalationLevel: 0,
		Timeline: []model.TimelineEntry{{
			Timestamp: now,
			Action:    actionIncidentCreated,
			Details:   fmt.Sprintf("type=%s severity=%s", incidentType, severity),
		}},
	}

	im.mu.Lock()
	im.incidents[incident.ID] = incident
	im.mu.Unlock()

	im.logger.Warn("Incident created",
		"incident_id", incident.ID,
		"type", incidentType,
		"severity", severity)

	if im.onCreate != nil {
		im.onCreate(incident)
	}

	im.ExecuteIncidentResponse(incident)
	return incident
}

// ExecuteIncidentResponse runs the automated response actions gated by the
// incident's severity and type, recording each executed action.
func (im *IncidentManager) ExecuteIncidentResponse(incident *model.Incident) {
	var actions []string

	if incident.Severity.AtLeast(model.SeverityHigh) {
		actions = append(actions, "block_ip", "notify_admin", "generate_report")
	}
	if strings.Contains(strings.ToLower(incident.Type), "auth") {
		actions = append(actions, "lock_account")
	}

	if len(actions) == 0 {
		im.persist(incident)
		return
	}

	identity, _ := incident.Data["ip"].(string)

	im.mu.Lock()
	for _, action := range actions {
		if action == "block_ip" && identity != "" && im.blocker != nil {
			im.mu.Unlock()
			im.blocker.BlockIP(identity, fmt.Sprintf("incident %s (%s)", incident.ID, incident.Type))
			im.mu.Lock()
		}
		incident.ResponseActions = append(incident.ResponseActions, action)
		incident.Timeline = append(incident.Timeline, model.TimelineEntry{
			Timestamp: time.Now(),
			Action:    actionResponseExecuted,
			Details:   action,
		})
	}
	incident.UpdatedAt = time.Now()
	im.mu.Unlock()

	im.logger.Info("Incident response executed",
		"incident_id", incident.ID,
		"actions", actions)

	im.persist(incident)
}

// Acknowledge marks an open incident as acknowledged, stopping escalation.
func (im *IncidentManager) Acknowledge(id string) (*model.Incident, error) {
	return im.transition(id, model.IncidentStatusOpen, model.IncidentStatusAcknowledged, actionAcknowledged)
}

// Close transitions an incident to closed.
func (im *IncidentManager) Close(id string) (*model.Incident, error) {
	im.mu.Lock()
	incident, ok := im.incidents[id]
	if !ok {
		im.mu.Unlock()
		return nil, fmt.Errorf("incident %s not found", id)
	}
	if incident.Status == model.IncidentStatusClosed {
		im.mu.Unlock()
		return incident, nil
	}
	incident.Status = model.IncidentStatusClosed
	incident.UpdatedAt = time.Now()
	incident.Timeline = append(incident.Timeline, model.TimelineEntry{
		Timestamp: time.Now(),
		Action:    actionClosed,
	})
	im.mu.Unlock()

	im.persist(incident)
	return incident, nil
}

func (im *IncidentManager) transition(id string, from, to model.IncidentStatus, action string) (*model.Incident, error) {
	im.mu.Lock()
	incident, ok := im.incidents[id]
	if !ok {
		im.mu.Unlock()
		return nil, fmt.Errorf("incident %s not found", id)
	}
	if incident.Status != from {
		im.mu.Unlock()
		return nil, fmt.Errorf("incident %s is %s, expected %s", id, incident.Status, from)
	}
	incident.Status = to
	incident.UpdatedAt = time.Now()
	incident.Timeline = append(incident.Timeline, model.TimelineEntry{
		Timestamp: time.Now(),
		Action:    action,
	})
	im.mu.Unlock()

	im.persist(incident)
	return incident, nil
}

// Get returns one incident by ID.
func (im *IncidentManager) Get(id string) (*model.Incident, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	incident, ok := im.incidents[id]
	return incident, ok
}

// List returns incidents filtered by status and minimum severity (empty
// values match everything), newest first.
func (im *IncidentManager) List(status model.IncidentStatus, minSeverity model.Severity) []*model.Incident {
	im.mu.RLock()
	var result []*model.Incident
	for _, incident := range im.incidents {
		if status != "" && incident.Status != status {
			continue
		}
		if minSeverity != "" && !incident.Severity.AtLeast(minSeverity) {
			continue
		}
		result = append(result, incident)
	}
	im.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// EscalateOverdue walks open incidents and escalates any that have sat
// unacknowledged past their severity deadline. Returns the incidents
// escalated in this pass.
func (im *IncidentManager) EscalateOverdue(now time.Time) []*model.Incident {
	im.mu.Lock()
	var overdue []*model.Incident
	for _, incident := range im.incidents {
		if incident.Status != model.IncidentStatusOpen {
			continue
		}
		deadline, ok := escalationDeadlines[incident.Severity]
		if !ok {
			continue
		}
		// UpdatedAt moves on every state change, so repeated passes do
		// not escalate again until the deadline elapses anew.
		if now.Sub(incident.UpdatedAt) < deadline {
			continue
		}
		incident.EscalationLevel++
		incident.UpdatedAt = now
		incident.Timeline = append(incident.Timeline, model.TimelineEntry{
			Timestamp: now,
			Action:    actionIncidentEscalated,
			Details:   fmt.Sprintf("level=%d", incident.EscalationLevel),
		})
		overdue = append(overdue, incident)
	}
	im.mu.Unlock()

	for _, incident := range overdue {
		im.logger.Warn("Incident escalated",
			"incident_id", incident.ID,
			"severity", incident.Severity,
			"escalation_level", incident.EscalationLevel)
		im.persist(incident)
	}
	return overdue
}

// StartEscalationLoop runs the escalation check on a fixed interval until
// stop is closed. Escalation is a scheduled check, not instantaneous.
func (im *IncidentManager) StartEscalationLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				im.EscalateOverdue(time.Now())
			case <-stop:
				return
			}
		}
	}()
}

// persist rewrites the incident's JSON document. Failures are logged and
// swallowed; in-memory state stays correct.
func (im *IncidentManager) persist(incident *model.Incident) {
	if im.dir == "" {
		return
	}

	im.mu.RLock()
	data, err := json.MarshalIndent(incident, "", "  ")
	im.mu.RUnlock()
	if err != nil {
		im.logger.Warn("Failed to marshal incident", "incident_id", incident.ID, "error", err)
		return
	}

	if err := os.MkdirAll(im.dir, 0o755); err != nil {
		im.logger.Warn("Failed to create incident directory", "dir", im.dir, "error", err)
		return
	}

	path := filepath.Join(im.dir, fmt.Sprintf("incident-%s.json", incident.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		im.logger.Warn("Failed to persist incident", "path", path, "error", err)
	}
}

// Stats returns incident counts by status.
func (im *IncidentManager) Stats() map[string]interface{} {
	im.mu.RLock()
	defer im.mu.RUnlock()

	byStatus := make(map[model.IncidentStatus]int)
	for _, incident := range im.incidents {
		byStatus[incident.Status]++
	}

	return map[string]interface{}{
		"incidents_total": len(im.incidents),
		"open":            byStatus[model.IncidentStatusOpen],
		"acknowledged":    byStatus[model.IncidentStatusAcknowledged],
		"closed":          byStatus[model.IncidentStatusClosed],
	}
}
