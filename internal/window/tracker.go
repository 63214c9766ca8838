// Package window tracks per-identity request activity over sliding time
// windows. Timestamp logs are append-only; queries re-filter by age on every
// call rather than trusting pruning to have already happened.
package window

import (
	"sync"
	"time"
)

// EventKind selects which per-identity log an operation touches.
type EventKind string

const (
	KindRequest    EventKind = "request"
	KindSuspicious EventKind = "suspicious"
)

// identityLog holds the two timestamp lists for one identity.
type identityLog struct {
	mu         sync.RWMutex
	requests   []time.Time
	suspicious []time.Time
}

// Tracker maintains per-identity sliding window logs with background pruning.
type Tracker struct {
	mu         sync.RWMutex
	identities map[string]*identityLog
	maxAge     time.Duration

	pruneTicker *time.Ticker
	stopPrune   chan struct{}

	// now is swappable for tests
	now func() time.Time
}

// NewTracker creates a tracker that retains entries up to maxAge.
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{
		identities: make(map[string]*identityLog),
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// RecordEvent appends the current timestamp to the identity's log of the
// given kind.
func (t *Tracker) RecordEvent(identity string, kind EventKind) {
	if identity == "" {
		return
	}

	t.mu.Lock()
	log, exists := t.identities[identity]
	if !exists {
		log = &identityLog{}
		t.identities[identity] = log
	}
	t.mu.Unlock()

	ts := t.now()

	log.mu.Lock()
	switch kind {
	case KindSuspicious:
		log.suspicious = append(log.suspicious, ts)
	default:
		log.requests = append(log.requests, ts)
	}
	log.mu.Unlock()
}

// RecentCount returns how many events of the given kind the identity has
// within the window ending now.
func (t *Tracker) RecentCount(identity string, kind EventKind, window time.Duration) int {
	t.mu.RLock()
	log, exists := t.identities[identity]
	t.mu.RUnlock()

	if !exists {
		return 0
	}

	cutoff := t.now().Add(-window)

	log.mu.RLock()
	defer log.mu.RUnlock()

	entries := log.requests
	if kind == KindSuspicious {
		entries = log.suspicious
	}

	// Filter on every call instead of assuming pruning already ran;
	// this also tolerates slight clock skew between appends.
	count := 0
	for _, ts := range entries {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// StartPruning launches the background prune loop. Pruning runs off the
// request path so recording and counting never wait on it.
func (t *Tracker) StartPruning(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pruneTicker != nil {
		return
	}

	t.pruneTicker = time.NewTicker(interval)
	t.stopPrune = make(chan struct{})

	go func(ticker *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-ticker.C:
				t.Prune(t.now())
			case <-stop:
				return
			}
		}
	}(t.pruneTicker, t.stopPrune)
}

// StopPruning stops the background prune loop.
func (t *Tracker) StopPruning() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pruneTicker != nil {
		t.pruneTicker.Stop()
		t.pruneTicker = nil
	}
	if t.stopPrune != nil {
		close(t.stopPrune)
		t.stopPrune = nil
	}
}

// Prune drops entries older than the retention horizon and removes
// identities whose logs are both empty.
func (t *Tracker) Prune(now time.Time) {
	cutoff := now.Add(-t.maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	for identity, log := range t.identities {
		log.mu.Lock()
		log.requests = trimOlder(log.requests, cutoff)
		log.suspicious = trimOlder(log.suspicious, cutoff)
		empty := len(log.requests) == 0 && len(log.suspicious) == 0
		log.mu.Unlock()

		if empty {
			delete(t.identities, identity)
		}
	}
}

// trimOlder drops leading entries at or before the cutoff. Lists are in
// time order, so the survivors form a suffix.
func trimOlder(entries []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(entries) && !entries[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return entries
	}
	if idx == len(entries) {
		return nil
	}
	kept := make([]time.Time, len(entries)-idx)
	copy(kept, entries[idx:])
	return kept
}

// Stats returns tracker statistics for the admin API.
func (t *Tracker) Stats() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	totalRequests := 0
	totalSuspicious := 0
	for _, log := range t.identities {
		log.mu.RLock()
		totalRequests += len(log.requests)
		totalSuspicious += len(log.suspicious)
		log.mu.RUnlock()
	}

	return map[string]interface{}{
		"identity_count":     len(t.identities),
		"request_entries":    totalRequests,
		"suspicious_entries": totalSuspicious,
		"max_age":            t.maxAge.String(),
	}
}
