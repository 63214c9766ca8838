// Package metrics carries the Prometheus instrumentation and the rolling
// daily traffic aggregator used for reporting. The aggregator informs
// reports only, never control decisions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the pipeline.
type Metrics struct {
	RequestsTotal   prometheus.Counter
	SuspiciousTotal prometheus.Counter
	BlockedTotal    prometheus.Counter
	IncidentsTotal  prometheus.Counter
	DenialsTotal    *prometheus.CounterVec
	ThreatsTotal    *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	BlocklistSize   prometheus.Gauge
	OpenIncidents   prometheus.Gauge
}

// NewMetrics creates and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reqsentry_requests_total",
			Help: "Total requests inspected by the pipeline",
		}),
		SuspiciousTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reqsentry_suspicious_requests_total",
			Help: "Requests flagged suspicious by the scoring engine",
		}),
		BlockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reqsentry_blocked_requests_total",
			Help: "Requests denied by the block list",
		}),
		IncidentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reqsentry_incidents_total",
			Help: "Incidents created",
		}),
		DenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqsentry_denials_total",
			Help: "Denial responses sent, by reason",
		}, []string{"reason"}),
		ThreatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqsentry_threats_total",
			Help: "Threat tags observed on suspicious requests",
		}, []string{"threat"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reqsentry_analysis_duration_seconds",
			Help:    "Time spent in the threat scoring engine per request",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		BlocklistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reqsentry_blocklist_size",
			Help: "Identities currently on the block list",
		}),
		OpenIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reqsentry_open_incidents",
			Help: "Incidents currently open",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.SuspiciousTotal,
		m.BlockedTotal,
		m.IncidentsTotal,
		m.DenialsTotal,
		m.ThreatsTotal,
		m.RequestDuration,
		m.BlocklistSize,
		m.OpenIncidents,
	)
	return m
}

// Aggregator keeps the rolling daily counters for reporting. Counters reset
// on the UTC day boundary.
type Aggregator struct {
	mu sync.Mutex

	day              string
	totalRequests    int64
	suspicious       int64
	blocked          int64
	errorResponses   int64
	uniqueIdentities map[string]struct{}
	threatTypes      map[string]int64
	responseTimes    []float64
}

// NewAggregator creates an empty aggregator for the current UTC day.
func NewAggregator() *Aggregator {
	return &Aggregator{
		day:              time.Now().UTC().Format("2006-01-02"),
		uniqueIdentities: make(map[string]struct{}),
		threatTypes:      make(map[string]int64),
	}
}

// ObserveRequest records one inspected request.
func (a *Aggregator) ObserveRequest(identity string, duration time.Duration, errored bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked(time.Now())
	a.totalRequests++
	a.uniqueIdentities[identity] = struct{}{}
	a.responseTimes = append(a.responseTimes, duration.Seconds()*1000)
	if errored {
		a.errorResponses++
	}
}

// ObserveSuspicious records a suspicious verdict and its threat tags.
func (a *Aggregator) ObserveSuspicious(threats []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked(time.Now())
	a.suspicious++
	for _, threat := range threats {
		a.threatTypes[threat]++
	}
}

// ObserveBlocked records a request denied by the block list.
func (a *Aggregator) ObserveBlocked() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked(time.Now())
	a.blocked++
}

// rolloverLocked resets the counters when the UTC day has changed.
func (a *Aggregator) rolloverLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day == a.day {
		return
	}
	a.day = day
	a.totalRequests = 0
	a.suspicious = 0
	a.blocked = 0
	a.errorResponses = 0
	a.uniqueIdentities = make(map[string]struct{})
	a.threatTypes = make(map[string]int64)
	a.responseTimes = nil
}

// Snapshot returns the current day's counters for reporting.
func (a *Aggregator) Snapshot() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked(time.Now())

	var avgMs float64
	if len(a.responseTimes) > 0 {
		sum := 0.0
		for _, ms := range a.responseTimes {
			sum += ms
		}
		avgMs = sum / float64(len(a.responseTimes))
	}

	threats := make(map[string]int64, len(a.threatTypes))
	for k, v := range a.threatTypes {
		threats[k] = v
	}

	return map[string]interface{}{
		"day":                 a.day,
		"total_requests":      a.totalRequests,
		"suspicious_requests": a.suspicious,
		"blocked_requests":    a.blocked,
		"error_responses":     a.errorResponses,
		"unique_identities":   len(a.uniqueIdentities),
		"threat_types":        threats,
		"avg_response_ms":     avgMs,
	}
}
