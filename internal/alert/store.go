package alert

import (
	"container/ring"
	"sync"

	"github.com/sgerhart/reqsentry/internal/model"
)

// Store keeps the capped alert history: the most recent maxAlerts alerts
// are retained in a ring buffer, oldest overwritten first.
type Store struct {
	mu        sync.RWMutex
	alerts    *ring.Ring
	maxAlerts int
	total     int64
}

// NewStore creates an alert store retaining the most recent maxAlerts.
func NewStore(maxAlerts int) *Store {
	return &Store{
		alerts:    ring.New(maxAlerts),
		maxAlerts: maxAlerts,
	}
}

// Add appends an alert, evicting the oldest when full.
func (s *Store) Add(alert *model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts.Value = alert
	s.alerts = s.alerts.Next()
	s.total++
}

// Recent returns alerts newest first, capped at limit (0 means all
// retained).
func (s *Store) Recent(limit int) []*model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var collected []*model.Alert
	s.alerts.Do(func(value interface{}) {
		if alert, ok := value.(*model.Alert); ok && alert != nil {
			collected = append(collected, alert)
		}
	})

	// Ring iteration yields oldest first; reverse for newest first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}

	if limit > 0 && len(collected) > limit {
		collected = collected[:limit]
	}
	return collected
}

// ByIdentity returns retained alerts for one identity, newest first.
func (s *Store) ByIdentity(identity string, limit int) []*model.Alert {
	var result []*model.Alert
	for _, alert := range s.Recent(0) {
		if alert.Identity == identity {
			result = append(result, alert)
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result
}

// Stats returns store statistics.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retained := 0
	s.alerts.Do(func(value interface{}) {
		if value != nil {
			retained++
		}
	})

	return map[string]interface{}{
		"alerts_total":    s.total,
		"alerts_retained": retained,
		"capacity":        s.maxAlerts,
	}
}
