package state

import (
	"context"
	"time"

	"github.com/nholik/slot-sentinel/internal/status"
)

// DayState is the persisted status of one day.
type DayState struct {
	Status   status.Status   `json:"status"`
	Category status.Category `json:"category,omitempty"`
}

// MonthRecord is the last persisted capture of one facility month.
type MonthRecord struct {
	Facility   string           `json:"facility"`
	Year       int              `json:"year"`
	Month      time.Month       `json:"month"`
	CapturedAt time.Time        `json:"captured_at"`
	Days       map[int]DayState `json:"days"`
	Summary    map[string]int   `json:"summary"`
}

// Statuses returns the day → status view of the record.
func (r MonthRecord) Statuses() map[int]status.Status {
	out := make(map[int]status.Status, len(r.Days))
	for day, d := range r.Days {
		out[day] = d.Status
	}
	return out
}

// Categories returns the day → category view of the record.
func (r MonthRecord) Categories() map[int]status.Category {
	out := make(map[int]status.Category, len(r.Days))
	for day, d := range r.Days {
		out[day] = d.Category
	}
	return out
}

// Store persists the record of a single facility month.
type Store interface {
	// Load returns the stored record; found is false when there is none yet.
	Load(ctx context.Context) (record MonthRecord, found bool, err error)
	Save(ctx context.Context, record MonthRecord) error
}
