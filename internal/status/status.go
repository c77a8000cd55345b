package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the normalized availability of a day or a time slot.
// Unavailable < Partial < Available; Undetermined has no rank.
type Status int

const (
	Undetermined Status = iota
	Unavailable
	Partial
	Available
)

var names = map[Status]string{
	Undetermined: "undetermined",
	Unavailable:  "unavailable",
	Partial:      "partial",
	Available:    "available",
}

var symbols = map[Status]string{
	Undetermined: "未判定",
	Unavailable:  "×",
	Partial:      "△",
	Available:    "○",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Symbol returns the calendar symbol used by the reservation site.
func (s Status) Symbol() string {
	if symbol, ok := symbols[s]; ok {
		return symbol
	}
	return symbols[Undetermined]
}

// Ranked reports whether s takes part in ordering comparisons.
func (s Status) Ranked() bool {
	return s == Unavailable || s == Partial || s == Available
}

// Less reports whether s is strictly below other. Undetermined is never less or greater.
func (s Status) Less(other Status) bool {
	if !s.Ranked() || !other.Ranked() {
		return false
	}
	return s < other
}

// Parse converts a name or a symbol back to a Status.
func Parse(value string) (Status, error) {
	trimmed := strings.TrimSpace(value)
	for status, name := range names {
		if strings.EqualFold(trimmed, name) {
			return status, nil
		}
	}
	switch trimmed {
	case "○", "〇":
		return Available, nil
	case "△":
		return Partial, nil
	case "×":
		return Unavailable, nil
	case "未判定", "":
		return Undetermined, nil
	}
	return Undetermined, fmt.Errorf("unknown status %q", value)
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name or symbol.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Category records which rule produced a classification. Holiday, maintenance and
// outside all normalize to Unavailable but stay distinguishable for reporting.
type Category string

const (
	CategoryNone        Category = ""
	CategoryCircle      Category = "circle"
	CategoryTriangle    Category = "triangle"
	CategoryCross       Category = "cross"
	CategoryHoliday     Category = "holiday"
	CategoryMaintenance Category = "maintenance"
	CategoryOutside     Category = "outside"
)

// DefaultCategoryOrder is the order rules are evaluated in when built from pattern maps.
var DefaultCategoryOrder = []Category{
	CategoryCircle,
	CategoryTriangle,
	CategoryCross,
	CategoryHoliday,
	CategoryMaintenance,
	CategoryOutside,
}

// StatusFor returns the status a category normalizes to.
func StatusFor(category Category) Status {
	switch category {
	case CategoryCircle:
		return Available
	case CategoryTriangle:
		return Partial
	case CategoryCross, CategoryHoliday, CategoryMaintenance, CategoryOutside:
		return Unavailable
	default:
		return Undetermined
	}
}

// Special reports whether the category marks a closed day rather than a booked one.
func (c Category) Special() bool {
	return c == CategoryHoliday || c == CategoryMaintenance || c == CategoryOutside
}
