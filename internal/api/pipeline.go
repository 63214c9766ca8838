// Package api exposes the security pipeline as HTTP middleware plus the
// admin/read API. The pipeline order is fixed: block list short-circuit,
// threat scoring, metrics update, alerting, correlation.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sgerhart/reqsentry/internal/alert"
	"github.com/sgerhart/reqsentry/internal/analyzer"
	"github.com/sgerhart/reqsentry/internal/blocklist"
	"github.com/sgerhart/reqsentry/internal/correlation"
	"github.com/sgerhart/reqsentry/internal/events"
	"github.com/sgerhart/reqsentry/internal/metrics"
	"github.com/sgerhart/reqsentry/internal/model"
	"github.com/sgerhart/reqsentry/internal/window"
)

// Denial is the fixed-shape body returned when a request is refused.
type Denial struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
}

// Decision is the pipeline outcome for one request.
type Decision struct {
	Allow     bool
	Status    int
	RequestID string
	Body      *Denial
	Analysis  *model.ThreatAnalysis
}

// Pipeline runs the per-request security checks.
type Pipeline struct {
	blocklist  *blocklist.Manager
	engine     *analyzer.Engine
	alerts     *alert.Manager
	correlator *correlation.Engine
	events     *events.Store
	tracker    *window.Tracker
	metrics    *metrics.Metrics
	aggregator *metrics.Aggregator

	rateCeiling int
	logger      *slog.Logger
}

// NewPipeline wires the pipeline components.
func NewPipeline(bl *blocklist.Manager, engine *analyzer.Engine, alerts *alert.Manager, correlator *correlation.Engine, eventStore *events.Store, tracker *window.Tracker, m *metrics.Metrics, agg *metrics.Aggregator, rateCeiling int, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		blocklist:   bl,
		engine:      engine,
		alerts:      alerts,
		correlator:  correlator,
		events:      eventStore,
		tracker:     tracker,
		metrics:     m,
		aggregator:  agg,
		rateCeiling: rateCeiling,
		logger:      logger,
	}
}

// Inspect runs the pipeline for one request and returns the decision.
func (p *Pipeline) Inspect(rc *model.RequestContext) Decision {
	requestID := uuid.NewString()

	// Block list first: a blocked identity never reaches the scoring
	// engine, but the attempt is still logged as a security event.
	if p.blocklist.IsBlocked(rc.Identity) {
		p.events.Record("BLOCKED_REQUEST_ATTEMPT", model.CategoryBlockedAccess, model.SeverityMedium, rc.Identity, map[string]interface{}{
			"url":    rc.URL,
			"method": rc.Method,
		})
		p.metrics.BlockedTotal.Inc()
		p.metrics.DenialsTotal.WithLabelValues("blocked").Inc()
		p.aggregator.ObserveBlocked()

		return Decision{
			Status:    http.StatusForbidden,
			RequestID: requestID,
			Body:      denial("Access denied", "IP_BLOCKED"),
		}
	}

	start := time.Now()
	analysis := p.engine.Analyze(rc)
	p.metrics.RequestDuration.Observe(time.Since(start).Seconds())

	p.metrics.RequestsTotal.Inc()
	p.aggregator.ObserveRequest(rc.Identity, time.Since(start), false)

	if analysis.IsSuspicious {
		p.metrics.SuspiciousTotal.Inc()
		for _, threat := range analysis.Threats {
			p.metrics.ThreatsTotal.WithLabelValues(threat).Inc()
		}
		p.aggregator.ObserveSuspicious(analysis.Threats)

		_, event := p.alerts.HandleSuspicious(rc, analysis)
		if event != nil {
			p.correlator.Evaluate(event)
		}
	}

	// Hard rate ceiling is enforced after scoring so the window state and
	// alerting still see the request.
	if p.rateCeiling > 0 && p.tracker.RecentCount(rc.Identity, window.KindRequest, time.Minute) > p.rateCeiling {
		p.metrics.DenialsTotal.WithLabelValues("rate_limited").Inc()
		return Decision{
			Status:    http.StatusTooManyRequests,
			RequestID: requestID,
			Body:      denial("Too many requests", "RATE_LIMITED"),
			Analysis:  analysis,
		}
	}

	return Decision{
		Allow:     true,
		RequestID: requestID,
		Analysis:  analysis,
	}
}

func denial(message, code string) *Denial {
	return &Denial{
		Success:   false,
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
