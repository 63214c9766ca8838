package model

import (
	"net/http"
	"strings"
	"time"
)

// Severity levels for alerts and incidents
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityLevels orders severities for comparison
var severityLevels = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Level returns the numeric rank of a severity (0 if unknown).
func (s Severity) Level() int {
	return severityLevels[s]
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Level() >= other.Level()
}

// IncidentStatus defines the lifecycle state of an incident
type IncidentStatus string

const (
	IncidentStatusOpen         IncidentStatus = "open"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusClosed       IncidentStatus = "closed"
)

// Well-known incident types
const (
	IncidentTypeHighRiskRequest  = "HIGH_RISK_REQUEST"
	IncidentTypeCorrelatedAttack = "CORRELATED_ATTACK_DETECTED"
	IncidentTypeManualBlock      = "MANUAL_BLOCK"
)

// Event categories (OWASP-style buckets)
const (
	CategoryInjection     = "injection"
	CategoryXSS           = "xss"
	CategoryAccessControl = "access_control"
	CategoryAuthFailure   = "auth_failure"
	CategoryRateAbuse     = "rate_abuse"
	CategoryBlockedAccess = "blocked_access"
	CategoryAutomation    = "automation"
	CategoryMisc          = "misc"
)

// RequestContext is the read-only descriptor of one inbound HTTP request.
// It is built once per request and never persisted.
type RequestContext struct {
	Identity      string            `json:"identity"`
	UserAgent     string            `json:"user_agent"`
	Timestamp     time.Time         `json:"timestamp"`
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       http.Header       `json:"-"`
	Body          string            `json:"-"`
	Query         map[string]string `json:"-"`
	ContentLength int64             `json:"content_length"`
	Referer       string            `json:"referer"`
}

// Header returns a header value with case-insensitive lookup.
func (rc *RequestContext) Header(name string) string {
	if rc.Headers == nil {
		return ""
	}
	return rc.Headers.Get(name)
}

// Inputs returns the attacker-controlled text facets of the request,
// keyed by facet name, for signature matching.
func (rc *RequestContext) Inputs() map[string]string {
	inputs := map[string]string{
		"url":     rc.URL,
		"body":    rc.Body,
		"referer": rc.Referer,
	}
	if len(rc.Query) > 0 {
		var sb strings.Builder
		for k, v := range rc.Query {
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
			sb.WriteByte('&')
		}
		inputs["query"] = sb.String()
	}
	return inputs
}

// AnalyzerVerdict is the result of one signal analyzer.
type AnalyzerVerdict struct {
	Analyzer   string   `json:"analyzer"`
	Suspicious bool     `json:"suspicious"`
	Score      int      `json:"score"`
	Issues     []string `json:"issues,omitempty"`
}

// ThreatAnalysis is the aggregate verdict for one request. Derived value,
// kept only on the alert or log entry it triggers.
type ThreatAnalysis struct {
	IsSuspicious bool              `json:"is_suspicious"`
	Threats      []string          `json:"threats"`
	RiskScore    int               `json:"risk_score"`
	PerAnalyzer  []AnalyzerVerdict `json:"per_analyzer"`
}

// HasThreat reports whether the analysis carries the given threat tag.
func (ta *ThreatAnalysis) HasThreat(tag string) bool {
	for _, t := range ta.Threats {
		if t == tag {
			return true
		}
	}
	return false
}

// Alert records one suspicious request.
type Alert struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Identity  string    `json:"identity"`
	UserAgent string    `json:"user_agent"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Threats   []string  `json:"threats"`
	RiskScore int       `json:"risk_score"`
	Details   string    `json:"details,omitempty"`
}

// SecurityEvent is one entry in the append-only security event log.
type SecurityEvent struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Category     string                 `json:"category"`
	Severity     Severity               `json:"severity"`
	Timestamp    time.Time              `json:"timestamp"`
	Identity     string                 `json:"ip"`
	Data         map[string]interface{} `json:"data,omitempty"`
	OWASPMapping string                 `json:"owasp_mapping,omitempty"`
}

// TimelineEntry records one state-changing action on an incident.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
}

// Incident is a stateful record of an ongoing response to a detected
// threat or correlated attack, distinct from a one-shot Alert.
type Incident struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	Severity        Severity               `json:"severity"`
	Status          IncidentStatus         `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Data            map[string]interface{} `json:"data,omitempty"`
	ResponseActions []string               `json:"response_actions"`
	EscalationLevel int                    `json:"escalation_level"`
	Timeline        []TimelineEntry        `json:"timeline"`
}

// Correlation is one scored relationship between a new event and a prior one.
type Correlation struct {
	Type            string         `json:"type"` // temporal, pattern, source
	CorrelatedEvent *SecurityEvent `json:"correlated_event"`
	Score           int            `json:"score"`
}

// CorrelationResult holds all correlations found for one event. Ephemeral
// per evaluation but cached by event ID for audit.
type CorrelationResult struct {
	EventID          string        `json:"event_id"`
	Correlations     []Correlation `json:"correlations"`
	CorrelationScore int           `json:"correlation_score"`
}

// BlockEntry carries the metadata recorded when an identity is blocked.
type BlockEntry struct {
	ID        string    `json:"id"`
	Identity  string    `json:"ip"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
