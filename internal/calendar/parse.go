// Package calendar turns rendered reservation views into day and slot records.
package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nholik/slot-sentinel/internal/page"
	"github.com/nholik/slot-sentinel/internal/status"
)

const (
	DefaultDayCellSelector = "tbody td, [role='gridcell']"
	dayHeadLength          = 40
	rawSnippetLength       = 120

	rootCandidateSelector = "[role='grid'], table"
	rootCellSelector      = "td, [role='gridcell']"
	minMonthCells         = 28
	minRootScore          = 5
)

var weekdayMarkers = []string{"日", "月", "火", "水", "木", "金", "土"}

var (
	// ErrTableNotFound is returned when the calendar root is missing from the view.
	// It wraps page.ErrNotFound so callers can treat it as a navigation failure.
	ErrTableNotFound = fmt.Errorf("calendar table: %w", page.ErrNotFound)
	// ErrParseEmpty is returned when the calendar exists but yields no day records.
	ErrParseEmpty = errors.New("calendar yielded no day records")
)

var (
	defaultDayPattern  = regexp.MustCompile(`(?m)^\s*([1-9]|[12]\d|3[01])\s*日`)
	anywhereDayPattern = regexp.MustCompile(`([1-9]|[12]\d|3[01])\s*日`)
	yearMonthPattern   = regexp.MustCompile(`(\d{4})\s*年\s*(\d{1,2})\s*月`)
)

// DayRecord is the classified state of one calendar day.
type DayRecord struct {
	Day      int             `json:"day"`
	Status   status.Status   `json:"status"`
	Category status.Category `json:"category,omitempty"`
	Raw      string          `json:"raw,omitempty"`
}

// Month is one parsed month grid.
type Month struct {
	Year       int
	Month      time.Month
	Days       map[int]DayRecord
	Warnings   []string
	SourceHTML string
}

// Statuses returns the day → status view used for diffing and persistence.
func (m Month) Statuses() map[int]status.Status {
	out := make(map[int]status.Status, len(m.Days))
	for day, record := range m.Days {
		out[day] = record.Status
	}
	return out
}

// ParserConfig selects the calendar parts of a rendered view.
type ParserConfig struct {
	CalendarSelector string
	DayCellSelector  string
	// DayPattern overrides the day-number regex; its first group must be the day.
	DayPattern string
}

// Parser extracts a Month from a rendered view.
type Parser struct {
	calendarSelector string
	cellSelector     string
	dayPattern       *regexp.Regexp
	classifier       *status.Classifier
}

// NewParser validates the configuration and returns a Parser.
func NewParser(cfg ParserConfig, classifier *status.Classifier) (*Parser, error) {
	if strings.TrimSpace(cfg.CalendarSelector) == "" {
		return nil, errors.New("calendar selector is required")
	}
	cells := cfg.DayCellSelector
	if strings.TrimSpace(cells) == "" {
		cells = DefaultDayCellSelector
	}
	pattern := defaultDayPattern
	if cfg.DayPattern != "" {
		compiled, err := regexp.Compile(cfg.DayPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid day pattern: %w", err)
		}
		if compiled.NumSubexp() < 1 {
			return nil, errors.New("day pattern needs a capture group")
		}
		pattern = compiled
	}
	return &Parser{
		calendarSelector: cfg.CalendarSelector,
		cellSelector:     cells,
		dayPattern:       pattern,
		classifier:       classifier,
	}, nil
}

// CalendarSelector returns the selector the parser locates the grid with.
func (p *Parser) CalendarSelector() string {
	return p.calendarSelector
}

// Parse reads the month grid out of html. fallbackYear/fallbackMonth are used when
// the view carries no "YYYY年M月" heading.
func (p *Parser) Parse(html string, fallbackYear int, fallbackMonth time.Month) (Month, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Month{}, fmt.Errorf("parse html: %w", err)
	}

	root := doc.Find(p.calendarSelector).First()
	if root.Length() == 0 {
		root = locateRoot(doc, fallbackYear, fallbackMonth)
	}
	if root == nil || root.Length() == 0 {
		return Month{}, fmt.Errorf("%w: %s", ErrTableNotFound, p.calendarSelector)
	}

	month := Month{
		Year:  fallbackYear,
		Month: fallbackMonth,
		Days:  map[int]DayRecord{},
	}
	if y, m, ok := YearMonth(root.Text()); ok {
		month.Year, month.Month = y, m
	} else if y, m, ok := YearMonth(doc.Text()); ok {
		month.Year, month.Month = y, m
	}
	if outer, err := goquery.OuterHtml(root); err == nil {
		month.SourceHTML = outer
	}

	root.Find(p.cellSelector).Each(func(_ int, cell *goquery.Selection) {
		day, ok := p.dayNumber(cell)
		if !ok {
			return
		}
		result := p.classifier.Classify(CellSignals(cell))
		if _, dup := month.Days[day]; dup {
			month.Warnings = append(month.Warnings, fmt.Sprintf("duplicate day %d, keeping last cell", day))
		}
		month.Days[day] = DayRecord{
			Day:      day,
			Status:   result.Status,
			Category: result.Category,
			Raw:      snippet(cellText(cell), rawSnippetLength),
		}
	})

	if len(month.Days) == 0 {
		return month, ErrParseEmpty
	}
	return month, nil
}

// locateRoot scores every grid-like element when the configured selector
// misses. A candidate needs at least two of: a matching month heading, four
// weekday markers, and a month's worth of cells. The best score wins; ties go
// to the element that comes first in the document.
func locateRoot(doc *goquery.Document, year int, month time.Month) *goquery.Selection {
	var (
		best      *goquery.Selection
		bestScore int
	)
	doc.Find(rootCandidateSelector).Each(func(_ int, el *goquery.Selection) {
		text := el.Text()
		score := 0
		if y, m, ok := YearMonth(text); ok && y == year && m == month {
			score += 2
		}
		markers := 0
		for _, marker := range weekdayMarkers {
			if strings.Contains(text, marker) {
				markers++
			}
		}
		if markers >= 4 {
			score += 3
		}
		if el.Find(rootCellSelector).Length() >= minMonthCells {
			score += 3
		}
		if score >= minRootScore && score > bestScore {
			best, bestScore = el, score
		}
	})
	return best
}

func (p *Parser) dayNumber(cell *goquery.Selection) (int, bool) {
	if day, ok := p.matchDay(p.dayPattern, snippet(cellText(cell), dayHeadLength)); ok {
		return day, true
	}
	aria, _ := cell.Attr("aria-label")
	title, _ := cell.Attr("title")
	if day, ok := p.matchDay(anywhereDayPattern, aria+" "+title); ok {
		return day, true
	}
	var (
		found int
		ok    bool
	)
	cell.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		alt, _ := img.Attr("alt")
		imgTitle, _ := img.Attr("title")
		found, ok = p.matchDay(anywhereDayPattern, alt+" "+imgTitle)
		return !ok
	})
	return found, ok
}

func (p *Parser) matchDay(pattern *regexp.Regexp, text string) (int, bool) {
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	day, err := strconv.Atoi(m[1])
	if err != nil || day < 1 || day > 31 {
		return 0, false
	}
	return day, true
}

// CellSignals collects classifier input from a table cell.
func CellSignals(cell *goquery.Selection) status.Signals {
	sig := status.Signals{Text: cellText(cell)}
	sig.Aria, _ = cell.Attr("aria-label")
	sig.Title, _ = cell.Attr("title")
	cell.Find("img").Each(func(_ int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		title, _ := img.Attr("title")
		sig.Alt = append(sig.Alt, strings.TrimSpace(alt+" "+title))
		src, _ := img.Attr("src")
		sig.Src = append(sig.Src, src)
	})
	if class, ok := cell.Attr("class"); ok {
		sig.Classes = append(sig.Classes, strings.Fields(class)...)
	}
	cell.Children().Each(func(_ int, child *goquery.Selection) {
		if class, ok := child.Attr("class"); ok {
			sig.Classes = append(sig.Classes, strings.Fields(class)...)
		}
	})
	return sig
}

// YearMonth finds the first "YYYY年M月" in text.
func YearMonth(text string) (int, time.Month, bool) {
	m := yearMonthPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, 0, false
	}
	return year, time.Month(month), true
}

func cellText(cell *goquery.Selection) string {
	return strings.TrimSpace(cell.Text())
}

func snippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
