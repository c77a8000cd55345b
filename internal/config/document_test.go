package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nholik/slot-sentinel/internal/status"
)

const sampleDocument = `
selectors:
  calendar: "table.reservation-calendar"
  dialogs: []
facilities:
  - name: 南浦和コミュニティセンター
    alias: 南浦和
    color: "#E67E22"
    click_sequence:
      - 施設の空き状況
      - 利用目的から
      - selector: "a.facility-minami"
        fallbacks: ["text=南浦和コミュニティセンター"]
        verify: "table.reservation-calendar"
    month_shifts: [2, 0, 1, 1]
    next_month_selector: "a[href*='moveCalender']"
    day_selector: "td a[data-day='{day}']"
    slot_labels:
      午前: "9～12時"
  - name: 岸町公民館
    click_sequence: [施設の空き状況, 岸町公民館]
status_patterns:
  circle: ["○", "空き"]
notify:
  per_facility: true
  suppress_special_categories: false
navigation:
  retries: 4
`

func writeDocument(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func TestLoadDocument_Valid(t *testing.T) {
	doc, err := LoadDocument(writeDocument(t, sampleDocument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.Facilities) != 2 {
		t.Fatalf("expected 2 facilities, got %d", len(doc.Facilities))
	}
	minami := doc.Facilities[0]
	if minami.ID != "南浦和" || minami.Alias != "南浦和" {
		t.Fatalf("expected id to default to alias, got %+v", minami)
	}
	if got := minami.MonthShifts; len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("expected shifts sorted and unique, got %v", got)
	}
	if minami.ClickSequence[0].Selector != "text=施設の空き状況" {
		t.Fatalf("expected label step, got %+v", minami.ClickSequence[0])
	}
	if minami.ClickSequence[2].Verify != "table.reservation-calendar" {
		t.Fatalf("expected mapping step, got %+v", minami.ClickSequence[2])
	}
	if minami.ColorValue() != 0xE67E22 {
		t.Fatalf("unexpected colour %x", minami.ColorValue())
	}

	kishi := doc.Facilities[1]
	if kishi.ID != "岸町公民館" || kishi.Color != defaultColor || len(kishi.MonthShifts) != 2 {
		t.Fatalf("expected defaults for second facility, got %+v", kishi)
	}

	if len(doc.Selectors.Dialogs) != 0 {
		t.Fatalf("explicit empty dialogs must be kept, got %v", doc.Selectors.Dialogs)
	}
	if len(doc.Selectors.NextMonth) == 0 || len(doc.Selectors.Back) == 0 {
		t.Fatalf("expected selector defaults")
	}
	if doc.Navigation.Retries != 4 || doc.Navigation.StepTimeout != defaultStepTimeout {
		t.Fatalf("unexpected navigation settings %+v", doc.Navigation)
	}
	if !doc.Notify.PerFacility || doc.SuppressedCategories() != nil {
		t.Fatalf("unexpected notify settings %+v", doc.Notify)
	}
	if !doc.Debug.DumpHTML() || !doc.Debug.TakeScreenshots() || !doc.Debug.CaptureFailures() {
		t.Fatalf("debug options should default to enabled")
	}
}

func TestLoadDocument_JSON(t *testing.T) {
	body := `{"facilities": [{"name": "鈴谷公民館", "click_sequence": ["施設の空き状況", "鈴谷公民館"], "month_shifts": [0]}]}`
	doc, err := LoadDocument(writeDocument(t, body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Facilities[0].Name != "鈴谷公民館" || len(doc.Facilities[0].ClickSequence) != 2 {
		t.Fatalf("unexpected facility %+v", doc.Facilities[0])
	}
	if got := doc.SuppressedCategories(); len(got) != 3 {
		t.Fatalf("expected special categories suppressed by default, got %v", got)
	}
}

func TestLoadDocument_Classifier(t *testing.T) {
	doc, err := LoadDocument(writeDocument(t, sampleDocument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	classifier := doc.Classifier()

	cases := []struct {
		signals status.Signals
		want    status.Status
	}{
		{status.Signals{Text: "空き"}, status.Available},
		{status.Signals{Text: "休館"}, status.Unavailable},
		{status.Signals{Classes: []string{"is-available"}}, status.Available},
		{status.Signals{Classes: []string{"is-unavailable"}}, status.Unavailable},
		{status.Signals{Text: "-"}, status.Undetermined},
	}
	for _, tc := range cases {
		if got := classifier.Classify(tc.signals).Status; got != tc.want {
			t.Fatalf("classify %+v = %v, want %v", tc.signals, got, tc.want)
		}
	}
}

func TestLoadDocument_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid yaml", "facilities: [", "parse config document"},
		{"no facilities", "facilities: []", "no facilities"},
		{"missing name", "facilities:\n  - click_sequence: [a]\n", "name is required"},
		{"missing click sequence", "facilities:\n  - name: a\n", "click_sequence is required"},
		{"duplicate id", "facilities:\n  - {name: a, click_sequence: [x]}\n  - {name: b, id: a, click_sequence: [x]}\n", "duplicate id"},
		{"bad shift", "facilities:\n  - {name: a, click_sequence: [x], month_shifts: [13]}\n", "out of range"},
		{"bad colour", "facilities:\n  - {name: a, click_sequence: [x], color: blue}\n", "color"},
		{"day selector without placeholder", "facilities:\n  - {name: a, click_sequence: [x], day_selector: td}\n", "{day}"},
		{"unknown category", "facilities:\n  - {name: a, click_sequence: [x]}\nstatus_patterns:\n  sparkle: [\"*\"]\n", "unknown category"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadDocument(writeDocument(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadDocument_FileNotFound(t *testing.T) {
	if _, err := LoadDocument("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadDocument(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSelectFacilities(t *testing.T) {
	doc, err := LoadDocument(writeDocument(t, sampleDocument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err := doc.SelectFacilities("")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected all facilities, got %v %v", all, err)
	}
	one, err := doc.SelectFacilities("南浦和コミュニティセンター")
	if err != nil || len(one) != 1 || one[0].Alias != "南浦和" {
		t.Fatalf("expected match by name, got %v %v", one, err)
	}
	if _, err := doc.SelectFacilities("unknown"); err == nil {
		t.Fatalf("expected error for unknown facility")
	}
}

func TestFacilityHelpers(t *testing.T) {
	doc, err := LoadDocument(writeDocument(t, sampleDocument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	minami := doc.Facilities[0]

	step, ok := minami.DayStep(12)
	if !ok || step.Selector != "td a[data-day='12']" {
		t.Fatalf("unexpected day step %+v", step)
	}
	if _, ok := doc.Facilities[1].DayStep(12); ok {
		t.Fatalf("expected drill-in disabled without day_selector")
	}

	candidates := doc.NextMonthCandidates(minami)
	if candidates[0] != "a[href*='moveCalender']" || len(candidates) != len(doc.Selectors.NextMonth)+1 {
		t.Fatalf("expected facility selector first, got %v", candidates)
	}
	if doc.CalendarSelectorFor(minami) != "table.reservation-calendar" {
		t.Fatalf("unexpected calendar selector %q", doc.CalendarSelectorFor(minami))
	}
}
