package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nholik/slot-sentinel/internal/calendar"
	"github.com/nholik/slot-sentinel/internal/navigation"
	"github.com/nholik/slot-sentinel/internal/page"
	"github.com/nholik/slot-sentinel/internal/status"
	"gopkg.in/yaml.v3"
)

// DayPlaceholder is replaced with the day number in Facility.DaySelector.
const DayPlaceholder = "{day}"

const (
	defaultColor         = "#3498DB"
	defaultNavRetries    = 2
	defaultRetryDelay    = 3 * time.Second
	defaultStepTimeout   = 15 * time.Second
	defaultVerifyTimeout = 15 * time.Second
	defaultPollEvery     = 500 * time.Millisecond
	maxMonthShift        = 12
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Document is the facility configuration file (YAML, or JSON which YAML accepts).
type Document struct {
	Selectors        Selectors           `yaml:"selectors"`
	Facilities       []Facility          `yaml:"facilities"`
	StatusPatterns   map[string][]string `yaml:"status_patterns"`
	CSSClassPatterns map[string][]string `yaml:"css_class_patterns"`
	Debug            Debug               `yaml:"debug"`
	Notify           NotifySettings      `yaml:"notify"`
	Navigation       NavigationSettings  `yaml:"navigation"`
}

// Selectors are the site-wide selectors shared by all facilities.
type Selectors struct {
	Calendar   string            `yaml:"calendar"`
	DayCells   string            `yaml:"day_cells"`
	DayPattern string            `yaml:"day_pattern"`
	NextMonth  []string          `yaml:"next_month"`
	Dialogs    []string          `yaml:"dialogs"`
	SlotCells  string            `yaml:"slot_cells"`
	Back       []navigation.Step `yaml:"back"`
}

// Facility is one monitored facility.
type Facility struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	Alias             string            `yaml:"alias"`
	Color             string            `yaml:"color"`
	ClickSequence     []navigation.Step `yaml:"click_sequence"`
	MonthShifts       []int             `yaml:"month_shifts"`
	CalendarSelector  string            `yaml:"calendar_selector"`
	NextMonthSelector string            `yaml:"next_month_selector"`
	DaySelector       string            `yaml:"day_selector"`
	SlotLabelAttr     string            `yaml:"slot_label_attr"`
	SlotLabels        map[string]string `yaml:"slot_labels"`
}

// Debug controls diagnostic artifacts.
type Debug struct {
	DumpCalendarHTML *bool `yaml:"dump_calendar_html"`
	Screenshots      *bool `yaml:"screenshots"`
	CaptureOnFailure *bool `yaml:"capture_on_failure"`
}

// NotifySettings controls message grouping and filtering.
type NotifySettings struct {
	PerFacility               bool   `yaml:"per_facility"`
	SuppressSpecialCategories *bool  `yaml:"suppress_special_categories"`
	Title                     string `yaml:"title"`
	Footer                    string `yaml:"footer"`
}

// NavigationSettings tunes retries and waits of the navigation engine.
type NavigationSettings struct {
	Retries       int           `yaml:"retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	StepTimeout   time.Duration `yaml:"step_timeout"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// LoadDocument parses and validates the facility document at path.
func LoadDocument(path string) (Document, error) {
	if path == "" {
		return Document{}, errors.New("config document path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read config document: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument decodes, defaults and validates a document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse config document: %w", err)
	}
	doc.applyDefaults()
	if err := doc.validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d *Document) applyDefaults() {
	if d.Selectors.Calendar == "" {
		d.Selectors.Calendar = "table.reservation-calendar, table.calendar, [role='grid']"
	}
	if d.Selectors.DayCells == "" {
		d.Selectors.DayCells = calendar.DefaultDayCellSelector
	}
	if len(d.Selectors.NextMonth) == 0 {
		d.Selectors.NextMonth = []string{page.TextSelector("次の月"), page.TextSelector("次"), "a[href*='moveCalender']"}
	}
	if d.Selectors.Dialogs == nil {
		d.Selectors.Dialogs = []string{
			page.TextSelector("同意する"),
			page.TextSelector("OK"),
			page.TextSelector("確認"),
			page.TextSelector("閉じる"),
		}
	}
	if d.Selectors.SlotCells == "" {
		d.Selectors.SlotCells = calendar.DefaultSlotCellSelector
	}
	if len(d.Selectors.Back) == 0 {
		d.Selectors.Back = []navigation.Step{navigation.LabelStep("戻る")}
	}

	if d.StatusPatterns == nil {
		d.StatusPatterns = map[string][]string{}
	}
	for category, phrases := range defaultStatusPatterns {
		if _, ok := d.StatusPatterns[category]; !ok {
			d.StatusPatterns[category] = phrases
		}
	}
	if d.CSSClassPatterns == nil {
		d.CSSClassPatterns = map[string][]string{}
	}
	for category, tokens := range defaultClassPatterns {
		if _, ok := d.CSSClassPatterns[category]; !ok {
			d.CSSClassPatterns[category] = tokens
		}
	}

	if d.Navigation.Retries == 0 {
		d.Navigation.Retries = defaultNavRetries
	}
	if d.Navigation.RetryDelay == 0 {
		d.Navigation.RetryDelay = defaultRetryDelay
	}
	if d.Navigation.StepTimeout == 0 {
		d.Navigation.StepTimeout = defaultStepTimeout
	}
	if d.Navigation.VerifyTimeout == 0 {
		d.Navigation.VerifyTimeout = defaultVerifyTimeout
	}
	if d.Navigation.PollInterval == 0 {
		d.Navigation.PollInterval = defaultPollEvery
	}

	for i := range d.Facilities {
		f := &d.Facilities[i]
		if f.Alias == "" {
			f.Alias = f.Name
		}
		if f.ID == "" {
			f.ID = f.Alias
		}
		if f.Color == "" {
			f.Color = defaultColor
		}
		if len(f.MonthShifts) == 0 {
			f.MonthShifts = []int{0, 1}
		}
		f.MonthShifts = uniqueSorted(f.MonthShifts)
	}
}

func (d Document) validate() error {
	if len(d.Facilities) == 0 {
		return errors.New("config document contains no facilities")
	}
	if d.Navigation.Retries < 0 {
		return errors.New("navigation.retries cannot be negative")
	}
	for category := range d.StatusPatterns {
		if !knownCategory(category) {
			return fmt.Errorf("status_patterns: unknown category %q", category)
		}
	}
	for category := range d.CSSClassPatterns {
		if !knownCategory(category) {
			return fmt.Errorf("css_class_patterns: unknown category %q", category)
		}
	}
	for _, step := range d.Selectors.Back {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("selectors.back: %w", err)
		}
	}

	seen := make(map[string]bool)
	for i, f := range d.Facilities {
		if f.Name == "" {
			return fmt.Errorf("facility %d: name is required", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("facility %q: duplicate id", f.ID)
		}
		seen[f.ID] = true

		if len(f.ClickSequence) == 0 {
			return fmt.Errorf("facility %q: click_sequence is required", f.Name)
		}
		for _, step := range f.ClickSequence {
			if err := step.Validate(); err != nil {
				return fmt.Errorf("facility %q: %w", f.Name, err)
			}
		}
		for _, shift := range f.MonthShifts {
			if shift < 0 || shift > maxMonthShift {
				return fmt.Errorf("facility %q: month shift %d out of range 0-%d", f.Name, shift, maxMonthShift)
			}
		}
		if !colorPattern.MatchString(f.Color) {
			return fmt.Errorf("facility %q: color must look like #RRGGBB", f.Name)
		}
		if f.DaySelector != "" && !strings.Contains(f.DaySelector, DayPlaceholder) {
			return fmt.Errorf("facility %q: day_selector must contain %s", f.Name, DayPlaceholder)
		}
	}
	return nil
}

// SelectFacilities returns the facilities matching filter by id, name or alias.
// An empty filter selects all facilities.
func (d Document) SelectFacilities(filter string) ([]Facility, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return d.Facilities, nil
	}
	for _, f := range d.Facilities {
		if f.ID == filter || f.Name == filter || f.Alias == filter {
			return []Facility{f}, nil
		}
	}
	return nil, fmt.Errorf("no facility matches %q", filter)
}

// Classifier builds the status classifier from the document's pattern maps.
func (d Document) Classifier() *status.Classifier {
	return status.NewClassifier(status.RulesFromPatterns(d.StatusPatterns, d.CSSClassPatterns), nil)
}

// SuppressedCategories returns the previous-day categories whose improvements are not notified.
func (d Document) SuppressedCategories() []status.Category {
	if d.Notify.SuppressSpecialCategories != nil && !*d.Notify.SuppressSpecialCategories {
		return nil
	}
	return []status.Category{status.CategoryHoliday, status.CategoryMaintenance, status.CategoryOutside}
}

// DumpHTML reports whether calendar HTML is written next to snapshots.
func (d Debug) DumpHTML() bool { return d.DumpCalendarHTML == nil || *d.DumpCalendarHTML }

// TakeScreenshots reports whether PNG captures are taken.
func (d Debug) TakeScreenshots() bool { return d.Screenshots == nil || *d.Screenshots }

// CaptureFailures reports whether navigation failures leave debug artifacts.
func (d Debug) CaptureFailures() bool { return d.CaptureOnFailure == nil || *d.CaptureOnFailure }

// CalendarSelectorFor returns the facility override, else the shared selector.
func (d Document) CalendarSelectorFor(f Facility) string {
	if f.CalendarSelector != "" {
		return f.CalendarSelector
	}
	return d.Selectors.Calendar
}

// NextMonthCandidates returns the facility's selector first, then the shared ones.
func (d Document) NextMonthCandidates(f Facility) []string {
	out := make([]string, 0, len(d.Selectors.NextMonth)+1)
	if f.NextMonthSelector != "" {
		out = append(out, f.NextMonthSelector)
	}
	return append(out, d.Selectors.NextMonth...)
}

// DayStep builds the drill-in step for day, or false when drill-in is not configured.
func (f Facility) DayStep(day int) (navigation.Step, bool) {
	if f.DaySelector == "" {
		return navigation.Step{}, false
	}
	selector := strings.ReplaceAll(f.DaySelector, DayPlaceholder, strconv.Itoa(day))
	return navigation.Step{Name: fmt.Sprintf("day %d", day), Selector: selector}, true
}

// ColorValue returns the facility colour as 0xRRGGBB.
func (f Facility) ColorValue() int {
	value, err := strconv.ParseInt(strings.TrimPrefix(f.Color, "#"), 16, 32)
	if err != nil {
		return 0x3498DB
	}
	return int(value)
}

var defaultStatusPatterns = map[string][]string{
	string(status.CategoryCircle):      {"○", "〇", "空きあり", "空き有"},
	string(status.CategoryTriangle):    {"△", "一部空き", "残りわずか"},
	string(status.CategoryCross):       {"×", "満", "予約あり", "空きなし"},
	string(status.CategoryHoliday):     {"休館", "休所", "休業"},
	string(status.CategoryMaintenance): {"保守", "点検", "メンテナンス"},
	string(status.CategoryOutside):     {"受付期間外", "期間外", "受付終了"},
}

var defaultClassPatterns = map[string][]string{
	string(status.CategoryCircle):      {"available", "vacant"},
	string(status.CategoryTriangle):    {"partial", "few"},
	string(status.CategoryCross):       {"unavailable", "full", "reserved"},
	string(status.CategoryHoliday):     {"holiday", "closed"},
	string(status.CategoryMaintenance): {"maintenance"},
	string(status.CategoryOutside):     {"outside", "disabled"},
}

func knownCategory(name string) bool {
	for _, category := range status.DefaultCategoryOrder {
		if string(category) == name {
			return true
		}
	}
	return false
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
