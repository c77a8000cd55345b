package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest cycle timing details.
type Snapshot struct {
	LastCycleTime       *time.Time `json:"last_cycle_time"`
	LastSkipTime        *time.Time `json:"last_skip_time,omitempty"`
	CycleDurationMS     int64      `json:"cycle_duration_ms"`
	FacilitiesEvaluated int        `json:"facilities_evaluated"`
	FacilitiesFailed    int        `json:"facilities_failed"`
	Improvements        int        `json:"improvements"`
}

// CycleStats summarizes one completed crawl cycle.
type CycleStats struct {
	Duration            time.Duration
	FacilitiesEvaluated int
	FacilitiesFailed    int
	Improvements        int
}

// Tracker records cycle timing for health endpoints.
type Tracker struct {
	mu       sync.RWMutex
	now      func() time.Time
	lastTick time.Time
	lastSkip time.Time
	last     time.Time
	stats    CycleStats
	ready    bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: func() time.Time { return time.Now().UTC() }}
}

// RecordCycle updates cycle timing and readiness.
func (t *Tracker) RecordCycle(stats CycleStats) {
	if t == nil {
		return
	}
	now := t.now()
	t.mu.Lock()
	t.last = now
	t.lastTick = now
	t.stats = stats
	t.ready = true
	t.mu.Unlock()
}

// RecordSkip marks a tick that fell outside the execution window. It keeps
// the liveness check green without touching readiness.
func (t *Tracker) RecordSkip() {
	if t == nil {
		return
	}
	now := t.now()
	t.mu.Lock()
	t.lastSkip = now
	t.lastTick = now
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		LastCycleTime:       timePtr(t.last),
		LastSkipTime:        timePtr(t.lastSkip),
		CycleDurationMS:     int64(t.stats.Duration / time.Millisecond),
		FacilitiesEvaluated: t.stats.FacilitiesEvaluated,
		FacilitiesFailed:    t.stats.FacilitiesFailed,
		Improvements:        t.stats.Improvements,
	}
}

// Ready reports whether at least one cycle has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the loop ticked (cycle or skip) within 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if pollInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastTick.IsZero() {
		return false
	}
	return now.Sub(t.lastTick) <= 2*pollInterval
}

func timePtr(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
