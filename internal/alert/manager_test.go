package alert

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/reqsentry/internal/events"
	"github.com/sgerhart/reqsentry/internal/model"
)

type blockRecorder struct {
	blocked []string
}

func (b *blockRecorder) BlockIP(identity, reason string) model.BlockEntry {
	b.blocked = append(b.blocked, identity)
	return model.BlockEntry{ID: "test", Identity: identity, Reason: reason, Timestamp: time.Now()}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testManager(t *testing.T, autoBlock bool) (*Manager, *blockRecorder) {
	t.Helper()
	blocker := &blockRecorder{}
	eventStore := events.NewStore("", 100, time.Hour, nil, testLogger())
	t.Cleanup(eventStore.Close)

	incidents := NewIncidentManager("", blocker, testLogger())
	manager := NewManager(NewStore(100), incidents, eventStore, blocker, autoBlock, nil, testLogger())
	return manager, blocker
}

func suspiciousRequest(identity string) *model.RequestContext {
	return &model.RequestContext{
		Identity:  identity,
		UserAgent: "sqlmap/1.7",
		Timestamp: time.Now(),
		URL:       "/login",
		Method:    "POST",
	}
}

func TestHandleSuspicious_CreatesAlertAndEvent(t *testing.T) {
	manager, _ := testManager(t, false)

	analysis := &model.ThreatAnalysis{
		IsSuspicious: true,
		Threats:      []string{"sql_injection"},
		RiskScore:    50,
	}

	alert, event := manager.HandleSuspicious(suspiciousRequest("10.0.0.1"), analysis)

	require.NotNil(t, alert)
	assert.Equal(t, 50, alert.RiskScore)
	assert.Equal(t, []string{"sql_injection"}, alert.Threats)

	require.NotNil(t, event)
	assert.Equal(t, model.CategoryInjection, event.Category)
	assert.Equal(t, "SUSPICIOUS_REQUEST", event.Type)

	recent := manager.Alerts().Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, alert.ID, recent[0].ID)
}

func TestHandleSuspicious_AutoBlockAboveThreshold(t *testing.T) {
	manager, blocker := testManager(t, true)

	manager.HandleSuspicious(suspiciousRequest("10.0.0.2"), &model.ThreatAnalysis{
		IsSuspicious: true, Threats: []string{"sql_injection"}, RiskScore: 70,
	})
	assert.Empty(t, blocker.blocked, "score of exactly 70 must not auto-block")

	manager.HandleSuspicious(suspiciousRequest("10.0.0.3"), &model.ThreatAnalysis{
		IsSuspicious: true, Threats: []string{"sql_injection"}, RiskScore: 71,
	})
	assert.Contains(t, blocker.blocked, "10.0.0.3")
}

func TestHandleSuspicious_NoAutoBlockWhenDisabled(t *testing.T) {
	manager, blocker := testManager(t, false)

	manager.HandleSuspicious(suspiciousRequest("10.0.0.4"), &model.ThreatAnalysis{
		IsSuspicious: true, Threats: []string{"sql_injection"}, RiskScore: 95,
	})

	// The blocker still fires through the incident response path, but not
	// through the auto-block policy itself; with score > 75 an incident
	// exists either way.
	incidents := manager.Incidents().List("", "")
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentTypeHighRiskRequest, incidents[0].Type)
	assert.Contains(t, blocker.blocked, "10.0.0.4")
}

func TestHandleSuspicious_IncidentAboveThreshold(t *testing.T) {
	manager, _ := testManager(t, false)

	manager.HandleSuspicious(suspiciousRequest("10.0.0.5"), &model.ThreatAnalysis{
		IsSuspicious: true, Threats: []string{"xss_attempt"}, RiskScore: 75,
	})
	assert.Empty(t, manager.Incidents().List("", ""), "score of exactly 75 must not open an incident")

	manager.HandleSuspicious(suspiciousRequest("10.0.0.6"), &model.ThreatAnalysis{
		IsSuspicious: true, Threats: []string{"xss_attempt"}, RiskScore: 76,
	})

	incidents := manager.Incidents().List("", "")
	require.Len(t, incidents, 1)
	assert.Equal(t, model.SeverityHigh, incidents[0].Severity)
	assert.Equal(t, model.IncidentStatusOpen, incidents[0].Status)
}

func TestStore_CapsHistory(t *testing.T) {
	store := NewStore(5)

	for i := 0; i < 8; i++ {
		store.Add(&model.Alert{ID: fmt.Sprintf("a%d", i), Identity: "10.0.0.1"})
	}

	recent := store.Recent(0)
	require.Len(t, recent, 5)
	// Most recent retained, oldest overwritten.
	assert.Equal(t, "a7", recent[0].ID)
	assert.Equal(t, "a3", recent[4].ID)
}

func TestIncident_LifecycleAndTimeline(t *testing.T) {
	im := NewIncidentManager("", nil, testLogger())

	incident := im.CreateIncident(model.IncidentTypeHighRiskRequest, model.SeverityHigh, map[string]interface{}{"ip": "10.0.0.1"})

	assert.Equal(t, model.IncidentStatusOpen, incident.Status)
	assert.Equal(t, 0, incident.EscalationLevel)
	require.NotEmpty(t, incident.Timeline)
	assert.Equal(t, "incident_created", incident.Timeline[0].Action)

	// High severity triggered automated response actions, each on the
	// timeline.
	assert.Contains(t, incident.ResponseActions, "block_ip")
	assert.Contains(t, incident.ResponseActions, "notify_admin")
	assert.Contains(t, incident.ResponseActions, "generate_report")

	acked, err := im.Acknowledge(incident.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentStatusAcknowledged, acked.Status)

	// Acknowledge is only valid from open.
	_, err = im.Acknowledge(incident.ID)
	assert.Error(t, err)

	closed, err := im.Close(incident.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentStatusClosed, closed.Status)
	assert.Equal(t, "incident_closed", closed.Timeline[len(closed.Timeline)-1].Action)
}

func TestIncident_AuthTypeLocksAccount(t *testing.T) {
	im := NewIncidentManager("", nil, testLogger())

	incident := im.CreateIncident("AUTH_BRUTE_FORCE", model.SeverityMedium, nil)

	assert.Contains(t, incident.ResponseActions, "lock_account")
	assert.NotContains(t, incident.ResponseActions, "block_ip")
}

func TestIncident_EscalateOverdue(t *testing.T) {
	im := NewIncidentManager("", nil, testLogger())

	high := im.CreateIncident(model.IncidentTypeHighRiskRequest, model.SeverityHigh, nil)
	acked := im.CreateIncident(model.IncidentTypeHighRiskRequest, model.SeverityHigh, nil)
	_, err := im.Acknowledge(acked.ID)
	require.NoError(t, err)

	// Before the 15 minute high-severity deadline nothing escalates.
	assert.Empty(t, im.EscalateOverdue(time.Now().Add(10*time.Minute)))

	escalated := im.EscalateOverdue(time.Now().Add(16 * time.Minute))
	require.Len(t, escalated, 1)
	assert.Equal(t, high.ID, escalated[0].ID)
	assert.Equal(t, 1, escalated[0].EscalationLevel)
	assert.Equal(t, "incident_escalated", escalated[0].Timeline[len(escalated[0].Timeline)-1].Action)

	// The deadline restarts after an escalation.
	assert.Empty(t, im.EscalateOverdue(time.Now().Add(17*time.Minute)))
	assert.Len(t, im.EscalateOverdue(time.Now().Add(32*time.Minute)), 1)
}

func TestIncident_PersistedToFile(t *testing.T) {
	dir := t.TempDir()
	im := NewIncidentManager(dir, nil, testLogger())

	incident := im.CreateIncident(model.IncidentTypeCorrelatedAttack, model.SeverityHigh, nil)

	path := fmt.Sprintf("%s/incident-%s.json", dir, incident.ID)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
