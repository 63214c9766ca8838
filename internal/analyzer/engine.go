// Package analyzer implements the signal analyzers and the threat scoring
// engine that composes them into one verdict per request.
package analyzer

import (
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sgerhart/reqsentry/internal/model"
	"github.com/sgerhart/reqsentry/internal/rules"
	"github.com/sgerhart/reqsentry/internal/window"
)

// maxRiskScore caps the aggregate risk score. The suspicious flag is
// independent of the score: a single high-confidence analyzer is enough.
const maxRiskScore = 100

// Thresholds holds the tunable trigger points for the signal analyzers.
type Thresholds struct {
	RatePerMinute       int   // requests in last 60s before rate_limit_exceeded
	SuspiciousPerMinute int   // suspicious events in last 60s before severe rate signal
	MaxPayloadBytes     int64 // content length before large_payload
	BotRequestsPerMin   int   // requests in last 60s before automation is suspicious
	MaxUserAgents       int   // distinct user agents per identity before rotation signal
}

// DefaultThresholds returns the built-in trigger points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RatePerMinute:       100,
		SuspiciousPerMinute: 10,
		MaxPayloadBytes:     1 << 20,
		BotRequestsPerMin:   50,
		MaxUserAgents:       5,
	}
}

// signalFunc is one signal analyzer: a pure function over the request and
// the sliding window state.
type signalFunc func(rc *model.RequestContext) model.AnalyzerVerdict

// Engine is the threat scoring engine. It runs synchronously on the request
// path and performs no I/O.
type Engine struct {
	tracker    *window.Tracker
	ruleLoader *rules.Loader
	thresholds Thresholds
	logger     *slog.Logger

	// uaHistory remembers recently seen user agents per identity so agent
	// rotation from a single source can be flagged.
	uaHistory *expirable.LRU[string, *agentSet]
}

// NewEngine creates a threat scoring engine.
func NewEngine(tracker *window.Tracker, ruleLoader *rules.Loader, thresholds Thresholds, logger *slog.Logger) *Engine {
	return &Engine{
		tracker:    tracker,
		ruleLoader: ruleLoader,
		thresholds: thresholds,
		logger:     logger,
		uaHistory:  expirable.NewLRU[string, *agentSet](4096, nil, 10*time.Minute),
	}
}

// Analyze records the request in the sliding window and runs every signal
// analyzer, composing their verdicts into one ThreatAnalysis. The risk
// score is the capped sum of triggered scores; the suspicious flag is set
// if any single analyzer flags the request.
func (e *Engine) Analyze(rc *model.RequestContext) *model.ThreatAnalysis {
	e.tracker.RecordEvent(rc.Identity, window.KindRequest)

	signals := []signalFunc{
		e.analyzeRate,
		e.analyzeContent,
		e.analyzeUserAgent,
		e.analyzePayloadSize,
		e.analyzePathTraversal,
		e.analyzeSQLInjection,
		e.analyzeXSS,
		e.analyzeBot,
	}

	analysis := &model.ThreatAnalysis{}
	seen := make(map[string]bool)

	for _, signal := range signals {
		verdict := signal(rc)
		if verdict.Score == 0 && !verdict.Suspicious && len(verdict.Issues) == 0 {
			continue
		}

		analysis.PerAnalyzer = append(analysis.PerAnalyzer, verdict)
		analysis.RiskScore += verdict.Score
		if verdict.Suspicious {
			analysis.IsSuspicious = true
		}
		for _, issue := range verdict.Issues {
			if !seen[issue] {
				seen[issue] = true
				analysis.Threats = append(analysis.Threats, issue)
			}
		}
	}

	if analysis.RiskScore > maxRiskScore {
		analysis.RiskScore = maxRiskScore
	}

	if analysis.IsSuspicious {
		e.tracker.RecordEvent(rc.Identity, window.KindSuspicious)
	}

	return analysis
}
