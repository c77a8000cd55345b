package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/nholik/slot-sentinel/internal/calendar"
	"github.com/nholik/slot-sentinel/internal/transition"
)

const (
	defaultTitle    = "空き状況が改善しました"
	flagNoSlots     = "（空き枠なし・カレンダーのみ）"
	flagNotDrilled  = "（時間帯未確認）"
	slotLinePrefix  = "・"
	defaultFacility = "default"
)

var weekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// DayReport is one improved day with whatever the detail view yielded.
type DayReport struct {
	Improvement transition.Improvement
	Slots       []calendar.TimeSlot
	// Inspected is true when the day's detail view was opened.
	Inspected bool
}

// FacilityReport collects a facility's improved days for one run.
type FacilityReport struct {
	Facility string
	Name     string
	Color    int
	Days     []DayReport
}

// Message is one composed notification, ready for any sink.
type Message struct {
	Facility string
	Title    string
	Color    int
	Footer   string
	Lines    []string
	Days     int
}

// Description returns the message body.
func (m Message) Description() string {
	return strings.Join(m.Lines, "\n")
}

// Plain renders the whole message as text without losing any line.
func (m Message) Plain() string {
	if len(m.Lines) == 0 {
		return m.Title
	}
	return m.Title + "\n" + m.Description()
}

// ComposeOptions shapes composed messages.
type ComposeOptions struct {
	Title  string
	Footer string
}

// Compose renders one message per facility report that has improved days, in
// input order.
func Compose(reports []FacilityReport, opts ComposeOptions) []Message {
	title := opts.Title
	if title == "" {
		title = defaultTitle
	}

	messages := make([]Message, 0, len(reports))
	for _, report := range reports {
		if len(report.Days) == 0 {
			continue
		}
		facility := report.Facility
		if facility == "" {
			facility = defaultFacility
		}
		name := report.Name
		if name == "" {
			name = facility
		}

		lines := make([]string, 0, len(report.Days)*2)
		for _, day := range report.Days {
			lines = append(lines, dayLines(day)...)
		}
		messages = append(messages, Message{
			Facility: facility,
			Title:    fmt.Sprintf("%s：%s", title, name),
			Color:    report.Color,
			Footer:   opts.Footer,
			Lines:    lines,
			Days:     len(report.Days),
		})
	}
	return messages
}

func dayLines(day DayReport) []string {
	head := FormatImprovement(day.Improvement)
	switch {
	case !day.Inspected:
		return []string{head + " " + flagNotDrilled}
	case len(day.Slots) == 0:
		return []string{head + " " + flagNoSlots}
	}
	lines := make([]string, 0, 1+len(day.Slots))
	lines = append(lines, head)
	for _, slot := range day.Slots {
		lines = append(lines, slotLinePrefix+slot.Label)
	}
	return lines
}

// FormatImprovement renders "2026年1月12日（月） : × → ○".
func FormatImprovement(imp transition.Improvement) string {
	return fmt.Sprintf("%s : %s → %s", FormatDate(imp.Date(time.UTC)), imp.Previous.Symbol(), imp.Current.Symbol())
}

// FormatDate renders a date as "2026年1月12日（月）".
func FormatDate(date time.Time) string {
	return fmt.Sprintf("%d年%d月%d日（%s）", date.Year(), int(date.Month()), date.Day(), weekdays[date.Weekday()])
}
