// Package alert turns suspicious threat analyses into alerts and, past the
// severity thresholds, into stateful incidents with automated response.
package alert

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/sgerhart/reqsentry/internal/events"
	"github.com/sgerhart/reqsentry/internal/model"
)

// Risk score thresholds for automated response
const (
	autoBlockScore = 70 // riskScore above this triggers auto-block when enabled
	incidentScore  = 75 // riskScore above this opens a high-severity incident
)

// Manager is the alert and incident manager.
type Manager struct {
	store     *Store
	incidents *IncidentManager
	events    *events.Store
	blocker   Blocker

	autoBlock bool
	nc        *nats.Conn
	logger    *slog.Logger
}

// NewManager creates the alert and incident manager. nc may be nil.
func NewManager(store *Store, incidents *IncidentManager, eventStore *events.Store, blocker Blocker, autoBlock bool, nc *nats.Conn, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		incidents: incidents,
		events:    eventStore,
		blocker:   blocker,
		autoBlock: autoBlock,
		nc:        nc,
		logger:    logger,
	}
}

// Incidents exposes the incident manager for the API and correlation layers.
func (m *Manager) Incidents() *IncidentManager {
	return m.incidents
}

// Alerts exposes the alert store.
func (m *Manager) Alerts() *Store {
	return m.store
}

// HandleSuspicious records an alert for a suspicious analysis, logs the
// matching security event, and evaluates the automated response policy.
// It returns the created alert and the security event for correlation.
func (m *Manager) HandleSuspicious(rc *model.RequestContext, analysis *model.ThreatAnalysis) (*model.Alert, *model.SecurityEvent) {
	alert := &model.Alert{
		ID:        uuid.NewString(),
		RequestID: uuid.NewString(),
		Timestamp: rc.Timestamp,
		Identity:  rc.Identity,
		UserAgent: rc.UserAgent,
		URL:       rc.URL,
		Method:    rc.Method,
		Threats:   analysis.Threats,
		RiskScore: analysis.RiskScore,
		Details:   fmt.Sprintf("%d analyzer(s) triggered", len(analysis.PerAnalyzer)),
	}

	m.store.Add(alert)

	m.logger.Warn("Security alert raised",
		"alert_id", alert.ID,
		"ip", alert.Identity,
		"risk_score", alert.RiskScore,
		"threats", alert.Threats)

	event := m.events.Record("SUSPICIOUS_REQUEST", categoryFor(analysis.Threats), severityFor(analysis.RiskScore), rc.Identity, map[string]interface{}{
		"alert_id":   alert.ID,
		"url":        rc.URL,
		"method":     rc.Method,
		"threats":    analysis.Threats,
		"risk_score": analysis.RiskScore,
	})

	m.publishAlert(alert)

	if m.autoBlock && analysis.RiskScore > autoBlockScore && m.blocker != nil {
		m.blocker.BlockIP(rc.Identity, fmt.Sprintf("auto-block: risk score %d", analysis.RiskScore))
	}

	if analysis.RiskScore > incidentScore {
		m.incidents.CreateIncident(model.IncidentTypeHighRiskRequest, model.SeverityHigh, map[string]interface{}{
			"ip":         rc.Identity,
			"alert_id":   alert.ID,
			"url":        rc.URL,
			"threats":    analysis.Threats,
			"risk_score": analysis.RiskScore,
		})
	}

	return alert, event
}

func (m *Manager) publishAlert(alert *model.Alert) {
	if m.nc == nil {
		return
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := m.nc.Publish("reqsentry.alerts", data); err != nil {
		m.logger.Warn("Failed to publish alert", "alert_id", alert.ID, "error", err)
	}
}

// severityFor tiers a risk score into a severity.
func severityFor(riskScore int) model.Severity {
	switch {
	case riskScore > 75:
		return model.SeverityHigh
	case riskScore > 40:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// categoryFor picks the event category from the dominant threat tag.
func categoryFor(threats []string) string {
	for _, threat := range threats {
		switch threat {
		case "sql_injection", "command_injection":
			return model.CategoryInjection
		case "xss_attempt":
			return model.CategoryXSS
		case "path_traversal":
			return model.CategoryAccessControl
		case "rate_limit_exceeded", "repeated_suspicious_activity":
			return model.CategoryRateAbuse
		case "bot_signature", "automated_request_volume", "user_agent_rotation", "attack_tool_user_agent", "missing_user_agent":
			return model.CategoryAutomation
		}
	}
	return model.CategoryMisc
}
