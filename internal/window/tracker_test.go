package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RecordAndCount(t *testing.T) {
	tracker := NewTracker(1 * time.Hour)

	tracker.RecordEvent("10.0.0.1", KindRequest)
	tracker.RecordEvent("10.0.0.1", KindRequest)
	tracker.RecordEvent("10.0.0.1", KindSuspicious)
	tracker.RecordEvent("10.0.0.2", KindRequest)

	assert.Equal(t, 2, tracker.RecentCount("10.0.0.1", KindRequest, time.Minute))
	assert.Equal(t, 1, tracker.RecentCount("10.0.0.1", KindSuspicious, time.Minute))
	assert.Equal(t, 1, tracker.RecentCount("10.0.0.2", KindRequest, time.Minute))
	assert.Equal(t, 0, tracker.RecentCount("10.0.0.3", KindRequest, time.Minute))
}

func TestTracker_WindowFiltering(t *testing.T) {
	tracker := NewTracker(1 * time.Hour)

	base := time.Now()
	tracker.now = func() time.Time { return base.Add(-2 * time.Minute) }
	tracker.RecordEvent("10.0.0.1", KindRequest)

	tracker.now = func() time.Time { return base.Add(-30 * time.Second) }
	tracker.RecordEvent("10.0.0.1", KindRequest)

	// Query at base: only the entry 30s old falls inside a 1 minute window.
	tracker.now = func() time.Time { return base }
	assert.Equal(t, 1, tracker.RecentCount("10.0.0.1", KindRequest, time.Minute))
	assert.Equal(t, 2, tracker.RecentCount("10.0.0.1", KindRequest, 5*time.Minute))
}

func TestTracker_EmptyIdentity(t *testing.T) {
	tracker := NewTracker(1 * time.Hour)
	tracker.RecordEvent("", KindRequest)
	assert.Equal(t, 0, tracker.RecentCount("", KindRequest, time.Minute))

	stats := tracker.Stats()
	assert.Equal(t, 0, stats["identity_count"])
}

func TestTracker_Prune(t *testing.T) {
	tracker := NewTracker(1 * time.Hour)

	base := time.Now()
	tracker.now = func() time.Time { return base.Add(-2 * time.Hour) }
	tracker.RecordEvent("old", KindRequest)
	tracker.RecordEvent("mixed", KindRequest)

	tracker.now = func() time.Time { return base }
	tracker.RecordEvent("mixed", KindSuspicious)
	tracker.RecordEvent("fresh", KindRequest)

	tracker.Prune(base)

	stats := tracker.Stats()
	assert.Equal(t, 2, stats["identity_count"]) // "old" evicted entirely
	assert.Equal(t, 0, tracker.RecentCount("old", KindRequest, 3*time.Hour))
	assert.Equal(t, 1, tracker.RecentCount("mixed", KindSuspicious, 3*time.Hour))
	assert.Equal(t, 0, tracker.RecentCount("mixed", KindRequest, 3*time.Hour))
}

func TestTracker_QueriesDoNotDependOnPruning(t *testing.T) {
	tracker := NewTracker(1 * time.Hour)

	base := time.Now()
	tracker.now = func() time.Time { return base.Add(-30 * time.Minute) }
	tracker.RecordEvent("10.0.0.1", KindRequest)

	// No prune has run; the stale entry is filtered out by the query alone.
	tracker.now = func() time.Time { return base }
	assert.Equal(t, 0, tracker.RecentCount("10.0.0.1", KindRequest, time.Minute))
	assert.Equal(t, 1, tracker.RecentCount("10.0.0.1", KindRequest, time.Hour))
}
