// Package correlation relates each new security event to recent events by
// temporal proximity, category pattern, and shared source, escalating to an
// incident when correlation density is high.
package correlation

import (
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sgerhart/reqsentry/internal/alert"
	"github.com/sgerhart/reqsentry/internal/events"
	"github.com/sgerhart/reqsentry/internal/model"
)

// Correlation scoring constants
const (
	temporalWindow    = 5 * time.Minute
	sameCategoryScore = 5
	sequencePairScore = 15
	sameSourceScore   = 8

	// Two-stage threshold: at least minCorrelations matches before the
	// response is even evaluated, and an attack score above
	// escalateAttackScore (count*10, so strictly more than 5 correlated
	// priors) before an incident is opened.
	minCorrelations     = 3
	attackScorePerMatch = 10
	escalateAttackScore = 50
)

// attackSequences lists known attack-progression category pairs: a prior
// event of the first category followed by a new event of the second.
var attackSequences = map[[2]string]bool{
	{model.CategoryAuthFailure, model.CategoryAccessControl}:   true,
	{model.CategoryRateAbuse, model.CategoryAuthFailure}:       true,
	{model.CategoryInjection, model.CategoryAccessControl}:     true,
	{model.CategoryAutomation, model.CategoryInjection}:        true,
	{model.CategoryBlockedAccess, model.CategoryAccessControl}: true,
}

// Engine is the correlation engine.
type Engine struct {
	events    *events.Store
	incidents *alert.IncidentManager
	logger    *slog.Logger

	window    time.Duration
	maxEvents int

	// results keeps recent correlation results by event ID for audit.
	results *lru.Cache[string, *model.CorrelationResult]
	// escalated suppresses repeat incidents for the same identity while a
	// correlated attack is already being handled.
	escalated *expirable.LRU[string, time.Time]
}

// NewEngine creates a correlation engine over the event store.
func NewEngine(eventStore *events.Store, incidents *alert.IncidentManager, window time.Duration, maxEvents int, logger *slog.Logger) *Engine {
	results, _ := lru.New[string, *model.CorrelationResult](4096)
	return &Engine{
		events:    eventStore,
		incidents: incidents,
		logger:    logger,
		window:    window,
		maxEvents: maxEvents,
		results:   results,
		escalated: expirable.NewLRU[string, time.Time](1024, nil, 10*time.Minute),
	}
}

// Evaluate correlates a new event against recent events and, when the
// correlation density crosses both thresholds, escalates to an incident.
// The time filter is applied before the most-recent-N cap.
func (e *Engine) Evaluate(event *model.SecurityEvent) *model.CorrelationResult {
	result := &model.CorrelationResult{EventID: event.ID}

	priors := e.events.Recent(e.window, e.maxEvents)
	for _, prior := range priors {
		if prior.ID == event.ID {
			continue
		}
		if c, ok := correlate(event, prior); ok {
			result.Correlations = append(result.Correlations, c)
		}
	}
	result.CorrelationScore = len(result.Correlations)

	e.results.Add(event.ID, result)

	if result.CorrelationScore >= minCorrelations {
		e.handleCorrelatedAttack(event, result)
	}

	return result
}

// correlate scores one prior event against the new event. A prior matches
// when any dimension scores; the entry carries the summed score and the
// matched dimension names.
func correlate(event, prior *model.SecurityEvent) (model.Correlation, bool) {
	var types []string
	score := 0

	apart := event.Timestamp.Sub(prior.Timestamp)
	if apart < 0 {
		apart = -apart
	}
	if apart <= temporalWindow {
		// Decaying proximity: closer pairs score higher.
		if s := 10 - int(apart.Minutes()); s > 0 {
			types = append(types, "temporal")
			score += s
		}
	}

	if event.Category == prior.Category {
		types = append(types, "pattern")
		score += sameCategoryScore
	} else if attackSequences[[2]string{prior.Category, event.Category}] {
		types = append(types, "pattern")
		score += sequencePairScore
	}

	if event.Identity != "" && event.Identity == prior.Identity {
		types = append(types, "source")
		score += sameSourceScore
	}

	if len(types) == 0 {
		return model.Correlation{}, false
	}

	return model.Correlation{
		Type:            strings.Join(types, ","),
		CorrelatedEvent: prior,
		Score:           score,
	}, true
}

// handleCorrelatedAttack evaluates the escalation stage.
func (e *Engine) handleCorrelatedAttack(event *model.SecurityEvent, result *model.CorrelationResult) {
	attackScore := result.CorrelationScore * attackScorePerMatch

	e.logger.Info("Correlated activity detected",
		"event_id", event.ID,
		"ip", event.Identity,
		"correlations", result.CorrelationScore,
		"attack_score", attackScore)

	if attackScore <= escalateAttackScore {
		return
	}

	if _, already := e.escalated.Get(event.Identity); already {
		return
	}
	e.escalated.Add(event.Identity, time.Now())

	e.incidents.CreateIncident(model.IncidentTypeCorrelatedAttack, model.SeverityHigh, map[string]interface{}{
		"ip":                event.Identity,
		"event_id":          event.ID,
		"attack_score":      attackScore,
		"correlation_count": result.CorrelationScore,
	})
}

// Result returns the cached correlation result for an event ID.
func (e *Engine) Result(eventID string) (*model.CorrelationResult, bool) {
	return e.results.Get(eventID)
}

// Stats returns engine statistics.
func (e *Engine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"window":         e.window.String(),
		"max_events":     e.maxEvents,
		"cached_results": e.results.Len(),
	}
}
