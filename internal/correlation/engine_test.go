package correlation

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/reqsentry/internal/alert"
	"github.com/sgerhart/reqsentry/internal/events"
	"github.com/sgerhart/reqsentry/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEngine(t *testing.T) (*Engine, *events.Store, *alert.IncidentManager) {
	t.Helper()
	eventStore := events.NewStore("", 1000, time.Hour, nil, testLogger())
	t.Cleanup(eventStore.Close)

	incidents := alert.NewIncidentManager("", nil, testLogger())
	engine := NewEngine(eventStore, incidents, time.Hour, 1000, testLogger())
	return engine, eventStore, incidents
}

func TestEvaluate_NoPriorsNoCorrelations(t *testing.T) {
	engine, store, _ := testEngine(t)

	event := store.Record("E", model.CategoryInjection, model.SeverityHigh, "10.0.0.1", nil)
	result := engine.Evaluate(event)

	assert.Equal(t, event.ID, result.EventID)
	assert.Empty(t, result.Correlations)
	assert.Equal(t, 0, result.CorrelationScore)
}

func TestEvaluate_ScoresAllDimensions(t *testing.T) {
	engine, store, _ := testEngine(t)

	prior := store.Record("E", model.CategoryInjection, model.SeverityHigh, "10.0.0.1", nil)
	event := store.Record("E", model.CategoryInjection, model.SeverityHigh, "10.0.0.1", nil)

	result := engine.Evaluate(event)
	require.Len(t, result.Correlations, 1)

	c := result.Correlations[0]
	assert.Equal(t, prior.ID, c.CorrelatedEvent.ID)
	assert.Contains(t, c.Type, "temporal")
	assert.Contains(t, c.Type, "pattern")
	assert.Contains(t, c.Type, "source")
	// Near-simultaneous: 10 temporal + 5 same category + 8 same source.
	assert.Equal(t, 23, c.Score)
}

func TestEvaluate_AttackSequencePair(t *testing.T) {
	engine, store, _ := testEngine(t)

	store.Record("E", model.CategoryAuthFailure, model.SeverityMedium, "10.0.0.1", nil)
	event := store.Record("E", model.CategoryAccessControl, model.SeverityHigh, "10.0.0.2", nil)

	result := engine.Evaluate(event)
	require.Len(t, result.Correlations, 1)

	// Different identity and category, but a known progression pair:
	// 10 temporal + 15 sequence.
	assert.Equal(t, 25, result.Correlations[0].Score)
}

func TestEvaluate_UnrelatedEventsDoNotCorrelate(t *testing.T) {
	engine, store, _ := testEngine(t)

	old := store.Record("E", model.CategoryXSS, model.SeverityLow, "10.0.0.1", nil)
	old.Timestamp = time.Now().Add(-30 * time.Minute) // outside temporal window

	event := store.Record("E", model.CategoryRateAbuse, model.SeverityLow, "10.0.0.2", nil)

	result := engine.Evaluate(event)
	assert.Empty(t, result.Correlations)
}

func TestEvaluate_Idempotent(t *testing.T) {
	engine, store, _ := testEngine(t)

	for i := 0; i < 4; i++ {
		store.Record("E", model.CategoryInjection, model.SeverityMedium, "10.0.0.1", nil)
	}
	event := store.Record("E", model.CategoryInjection, model.SeverityMedium, "10.0.0.1", nil)

	first := engine.Evaluate(event)
	second := engine.Evaluate(event)

	assert.Equal(t, first.CorrelationScore, second.CorrelationScore)
	assert.Len(t, second.Correlations, first.CorrelationScore)
}

func TestEvaluate_CachesResultByEventID(t *testing.T) {
	engine, store, _ := testEngine(t)

	event := store.Record("E", model.CategoryMisc, model.SeverityLow, "10.0.0.1", nil)
	engine.Evaluate(event)

	cached, ok := engine.Result(event.ID)
	require.True(t, ok)
	assert.Equal(t, event.ID, cached.EventID)

	_, ok = engine.Result("missing")
	assert.False(t, ok)
}

func TestEvaluate_TwoStageEscalation(t *testing.T) {
	engine, store, incidents := testEngine(t)

	// Burst of events from one identity inside the correlation window.
	// Each new event correlates with every prior; the incident opens only
	// once the count exceeds five, and exactly once for the identity.
	for i := 0; i < 8; i++ {
		event := store.Record("SUSPICIOUS_REQUEST", model.CategoryInjection, model.SeverityMedium, "203.0.113.50", nil)
		engine.Evaluate(event)
	}

	created := incidents.List("", "")
	require.Len(t, created, 1)
	assert.Equal(t, model.IncidentTypeCorrelatedAttack, created[0].Type)
	assert.Equal(t, model.SeverityHigh, created[0].Severity)
	assert.Equal(t, "203.0.113.50", created[0].Data["ip"])
}

func TestEvaluate_FewCorrelationsDoNotEscalate(t *testing.T) {
	engine, store, incidents := testEngine(t)

	// Five correlated priors give an attack score of exactly 50, which is
	// not strictly above the escalation threshold.
	for i := 0; i < 5; i++ {
		store.Record("E", model.CategoryInjection, model.SeverityMedium, "10.0.0.9", nil)
	}
	event := store.Record("E", model.CategoryInjection, model.SeverityMedium, "10.0.0.9", nil)
	result := engine.Evaluate(event)

	assert.Equal(t, 5, result.CorrelationScore)
	assert.Empty(t, incidents.List("", ""))
}
