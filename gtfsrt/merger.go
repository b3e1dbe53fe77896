package gtfsrt

import (
	"sync"
	"time"
)

type delayKey struct {
	tripID string
	stopID string
}

// Merger is the realtime overlay: the current prediction per (trip, stop)
// plus a trip-level fallback, with staleness tracking. Safe for concurrent
// readers and one ingest loop.
type Merger struct {
	mu          sync.RWMutex
	byKey       map[delayKey]TripDelay
	refreshGap  time.Duration
	staleAfter  time.Duration
	lastSuccess time.Time
}

// NewMerger builds an empty overlay. refreshGap is the expected fetch
// interval; entries and the overall status expire after staleAfter.
func NewMerger(refreshGap, staleAfter time.Duration) *Merger {
	return &Merger{
		byKey:      map[delayKey]TripDelay{},
		refreshGap: refreshGap,
		staleAfter: staleAfter,
	}
}

// Ingest upserts records keyed (trip, stop). A record whose ingestion
// timestamp is older than the stored one is dropped, so replayed or
// reordered fetches cannot roll predictions backwards.
func (m *Merger) Ingest(updates []TripDelay, fetchedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		k := delayKey{tripID: u.TripID, stopID: u.StopID}
		if cur, ok := m.byKey[k]; ok && u.IngestedAt.Before(cur.IngestedAt) {
			continue
		}
		m.byKey[k] = u
	}
	if fetchedAt.After(m.lastSuccess) {
		m.lastSuccess = fetchedAt
	}
}

// Sweep drops entries whose ingestion timestamp is past the staleness
// threshold and returns how many were removed.
func (m *Merger) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, v := range m.byKey {
		if now.Sub(v.IngestedAt) > m.staleAfter {
			delete(m.byKey, k)
			removed++
		}
	}
	return removed
}

// Clear drops the whole overlay. Used when the feed has been unavailable
// long enough that serving old delays would mislead.
func (m *Merger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey = map[delayKey]TripDelay{}
}

// Lookup returns the per-stop prediction for a trip's call, if present.
func (m *Merger) Lookup(tripID, stopID string) (TripDelay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byKey[delayKey{tripID: tripID, stopID: stopID}]
	return d, ok
}

// DelayForTrip returns the trip-level fallback prediction.
func (m *Merger) DelayForTrip(tripID string) (TripDelay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byKey[delayKey{tripID: tripID}]
	return d, ok
}

// Resolve returns the best prediction for a trip's call at a stop: the
// per-stop record when present, else the trip-level fallback.
func (m *Merger) Resolve(tripID, stopID string) (TripDelay, bool) {
	if d, ok := m.Lookup(tripID, stopID); ok {
		return d, true
	}
	return m.DelayForTrip(tripID)
}

// Size returns the number of stored records.
func (m *Merger) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

// Status classifies the overlay by the age of the last successful fetch.
func (m *Merger) Status(now time.Time) string {
	m.mu.RLock()
	last := m.lastSuccess
	m.mu.RUnlock()
	if last.IsZero() {
		return StatusUnavailable
	}
	age := now.Sub(last)
	switch {
	case age <= m.refreshGap*2:
		return StatusLive
	case age <= m.staleAfter:
		return StatusStale
	default:
		return StatusUnavailable
	}
}

// LastSuccess reports when a fetch last completed.
func (m *Merger) LastSuccess() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccess
}
