package transition

import (
	"sort"
	"time"

	"github.com/nholik/slot-sentinel/internal/status"
)

// DayChange captures one day whose status moved between two captures.
type DayChange struct {
	Day              int
	Previous         status.Status
	Current          status.Status
	PreviousCategory status.Category
}

// Improvement is a DayChange placed in its facility and month.
type Improvement struct {
	Facility string
	Year     int
	Month    time.Month
	DayChange
}

// Date returns the calendar date of the improvement in loc.
func (i Improvement) Date(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(i.Year, i.Month, i.Day, 0, 0, 0, 0, loc)
}

// DetectImprovements compares two day→status maps and returns the days whose status
// strictly improved. Days missing from either side are ignored, as is any day whose
// previous or current status is Undetermined.
func DetectImprovements(prev, cur map[int]status.Status) []DayChange {
	changes := make([]DayChange, 0)
	for day, current := range cur {
		previous, ok := prev[day]
		if !ok {
			continue
		}
		if !previous.Less(current) {
			continue
		}
		changes = append(changes, DayChange{Day: day, Previous: previous, Current: current})
	}

	// Sort by day for deterministic output
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Day < changes[j].Day
	})

	return changes
}

// Suppress tags each change with its previous category and drops those whose previous
// category is listed in suppressed. A nil or empty suppressed list keeps every change.
func Suppress(changes []DayChange, prevCategories map[int]status.Category, suppressed []status.Category) []DayChange {
	drop := make(map[status.Category]struct{}, len(suppressed))
	for _, category := range suppressed {
		drop[category] = struct{}{}
	}

	kept := make([]DayChange, 0, len(changes))
	for _, change := range changes {
		change.PreviousCategory = prevCategories[change.Day]
		if _, skip := drop[change.PreviousCategory]; skip && change.PreviousCategory != status.CategoryNone {
			continue
		}
		kept = append(kept, change)
	}
	return kept
}

// Place attaches facility and month to day changes.
func Place(facility string, year int, month time.Month, changes []DayChange) []Improvement {
	out := make([]Improvement, 0, len(changes))
	for _, change := range changes {
		out = append(out, Improvement{Facility: facility, Year: year, Month: month, DayChange: change})
	}
	return out
}

// Summarize counts days per display symbol. Every symbol is present, zero or not.
func Summarize(statuses map[int]status.Status) map[string]int {
	counts := map[string]int{
		status.Available.Symbol():    0,
		status.Partial.Symbol():      0,
		status.Unavailable.Symbol():  0,
		status.Undetermined.Symbol(): 0,
	}
	for _, s := range statuses {
		counts[s.Symbol()]++
	}
	return counts
}

// Changed reports whether two day→status maps differ in any day or status.
func Changed(prev, cur map[int]status.Status) bool {
	if len(prev) != len(cur) {
		return true
	}
	for day, current := range cur {
		previous, ok := prev[day]
		if !ok || previous != current {
			return true
		}
	}
	return false
}
