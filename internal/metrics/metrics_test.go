package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestAggregator_Snapshot(t *testing.T) {
	agg := NewAggregator()

	agg.ObserveRequest("10.0.0.1", 2*time.Millisecond, false)
	agg.ObserveRequest("10.0.0.1", 4*time.Millisecond, false)
	agg.ObserveRequest("10.0.0.2", 3*time.Millisecond, true)
	agg.ObserveSuspicious([]string{"sql_injection", "xss_attempt"})
	agg.ObserveSuspicious([]string{"sql_injection"})
	agg.ObserveBlocked()

	snap := agg.Snapshot()

	assert.Equal(t, int64(3), snap["total_requests"])
	assert.Equal(t, int64(2), snap["suspicious_requests"])
	assert.Equal(t, int64(1), snap["blocked_requests"])
	assert.Equal(t, int64(1), snap["error_responses"])
	assert.Equal(t, 2, snap["unique_identities"])

	threats := snap["threat_types"].(map[string]int64)
	assert.Equal(t, int64(2), threats["sql_injection"])
	assert.Equal(t, int64(1), threats["xss_attempt"])
	assert.InDelta(t, 3.0, snap["avg_response_ms"].(float64), 0.01)
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RequestsTotal.Inc()
	m.DenialsTotal.WithLabelValues("blocked").Inc()
	m.BlocklistSize.Set(3)

	families, err := registry.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["reqsentry_requests_total"])
	assert.True(t, names["reqsentry_denials_total"])
	assert.True(t, names["reqsentry_blocklist_size"])
}
