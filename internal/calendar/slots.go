package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nholik/slot-sentinel/internal/status"
)

// DefaultSlotCellSelector matches body cells of the day-detail time table.
const DefaultSlotCellSelector = "table tbody td"

// TimeSlot is one bookable, available time range on a day.
type TimeSlot struct {
	Facility string        `json:"facility"`
	Date     time.Time     `json:"date"`
	Label    string        `json:"label"`
	Status   status.Status `json:"status"`
}

// SlotConfig selects slot cells on the day-detail view.
type SlotConfig struct {
	CellSelector string
	// LabelAttr names a cell attribute carrying the raw slot label.
	LabelAttr string
	// Labels maps raw labels to human-readable ranges, e.g. "午前" → "9～12時".
	Labels map[string]string
}

// SlotExtractor reads available slots from a day-detail view.
type SlotExtractor struct {
	cfg        SlotConfig
	classifier *status.Classifier
}

// NewSlotExtractor returns an extractor using classifier for each slot cell.
func NewSlotExtractor(cfg SlotConfig, classifier *status.Classifier) *SlotExtractor {
	if strings.TrimSpace(cfg.CellSelector) == "" {
		cfg.CellSelector = DefaultSlotCellSelector
	}
	return &SlotExtractor{cfg: cfg, classifier: classifier}
}

// Extract returns the Available slots of html in document order.
func (e *SlotExtractor) Extract(html, facility string, date time.Time) ([]TimeSlot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	slots := make([]TimeSlot, 0)
	doc.Find(e.cfg.CellSelector).Each(func(_ int, cell *goquery.Selection) {
		result := e.classifier.Classify(CellSignals(cell))
		if result.Status != status.Available {
			return
		}
		slots = append(slots, TimeSlot{
			Facility: facility,
			Date:     date,
			Label:    e.lookup(e.rawLabel(cell)),
			Status:   status.Available,
		})
	})
	return slots, nil
}

func (e *SlotExtractor) lookup(raw string) string {
	if mapped, ok := e.cfg.Labels[raw]; ok && mapped != "" {
		return mapped
	}
	return raw
}

func (e *SlotExtractor) rawLabel(cell *goquery.Selection) string {
	if e.cfg.LabelAttr != "" {
		if value, ok := cell.Attr(e.cfg.LabelAttr); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	if header := columnHeader(cell); header != "" {
		return header
	}
	if text := stripSymbols(cellText(cell)); text != "" {
		return text
	}
	return positionLabel(cell)
}

// positionLabel names an unlabeled cell by its row header and column, e.g.
// "体育室 枠2", or "枠2" when the row has no header.
func positionLabel(cell *goquery.Selection) string {
	column := fmt.Sprintf("枠%d", cell.PrevAllFiltered("td").Length()+1)
	row := cell.ParentsFiltered("tr").First()
	if header := strings.TrimSpace(row.ChildrenFiltered("th").First().Text()); header != "" {
		return header + " " + column
	}
	return column
}

// columnHeader returns the thead text of the column cell sits in.
func columnHeader(cell *goquery.Selection) string {
	row := cell.ParentsFiltered("tr").First()
	table := cell.ParentsFiltered("table").First()
	if row.Length() == 0 || table.Length() == 0 {
		return ""
	}
	index := cell.Index()
	if index < 0 {
		return ""
	}
	headers := table.Find("thead tr").Last().Children()
	if index >= headers.Length() {
		return ""
	}
	return strings.TrimSpace(headers.Eq(index).Text())
}

var symbolReplacer = strings.NewReplacer("○", "", "〇", "", "△", "", "×", "")

func stripSymbols(text string) string {
	return strings.TrimSpace(symbolReplacer.Replace(text))
}
