// Package walker visits a facility's configured months and turns each into
// improvement events, snapshots and status records.
package walker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/slot-sentinel/internal/calendar"
	"github.com/nholik/slot-sentinel/internal/config"
	"github.com/nholik/slot-sentinel/internal/navigation"
	"github.com/nholik/slot-sentinel/internal/notify"
	"github.com/nholik/slot-sentinel/internal/page"
	"github.com/nholik/slot-sentinel/internal/snapshot"
	"github.com/nholik/slot-sentinel/internal/state"
	"github.com/nholik/slot-sentinel/internal/status"
	"github.com/nholik/slot-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

// MonthOutcome describes what happened to one configured month.
type MonthOutcome struct {
	Shift        int
	Year         int
	Month        time.Month
	Summary      map[string]int
	Improvements int
	// Baseline is true when no prior record existed, so nothing could be diffed.
	Baseline bool
	// Skipped is true when the calendar parsed to no days.
	Skipped bool
	Changed bool
	// PersistErr is set when the snapshot could not be written. Events are kept.
	PersistErr error
}

// Report is the outcome of walking one facility.
type Report struct {
	Facility config.Facility
	Months   []MonthOutcome
	Days     []notify.DayReport
}

// FacilityReport converts r into the composer's input.
func (r Report) FacilityReport() notify.FacilityReport {
	name := r.Facility.Name
	if name == "" {
		name = r.Facility.ID
	}
	return notify.FacilityReport{
		Facility: r.Facility.ID,
		Name:     name,
		Color:    r.Facility.ColorValue(),
		Days:     r.Days,
	}
}

// Summary adds up the per-status day counts of every parsed month.
func (r Report) Summary() map[string]int {
	total := transition.Summarize(nil)
	for _, month := range r.Months {
		for symbol, count := range month.Summary {
			total[symbol] += count
		}
	}
	return total
}

// Options configures a Walker.
type Options struct {
	BaseURL  string
	Location *time.Location
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Walker crawls facilities on one page, one at a time.
type Walker struct {
	page       page.Page
	engine     *navigation.Engine
	store      *snapshot.Store
	doc        config.Document
	classifier *status.Classifier
	baseURL    string
	loc        *time.Location
	now        func() time.Time
	logger     zerolog.Logger
}

// New returns a Walker driving p with engine and persisting through store.
func New(p page.Page, engine *navigation.Engine, store *snapshot.Store, doc config.Document, opts Options) *Walker {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Walker{
		page:       p,
		engine:     engine,
		store:      store,
		doc:        doc,
		classifier: doc.Classifier(),
		baseURL:    opts.BaseURL,
		loc:        opts.Location,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// Walk visits every configured month of f in ascending order. A failure scoped
// to one month captures debug artifacts, re-enters the calendar from the base
// URL and moves on to the next configured month. Only a failed entry stops the
// facility. The returned error joins every month failure.
func (w *Walker) Walk(ctx context.Context, f config.Facility) (Report, error) {
	logger := w.logger.With().Str("facility", f.ID).Logger()
	report := Report{Facility: f, Days: make([]notify.DayReport, 0)}

	calendarSelector := w.doc.CalendarSelectorFor(f)
	parser, err := calendar.NewParser(calendar.ParserConfig{
		CalendarSelector: calendarSelector,
		DayCellSelector:  w.doc.Selectors.DayCells,
		DayPattern:       w.doc.Selectors.DayPattern,
	}, w.classifier)
	if err != nil {
		return report, fmt.Errorf("calendar parser for %s: %w", f.ID, err)
	}
	extractor := calendar.NewSlotExtractor(calendar.SlotConfig{
		CellSelector: w.doc.Selectors.SlotCells,
		LabelAttr:    f.SlotLabelAttr,
		Labels:       f.SlotLabels,
	}, w.classifier)

	if err := w.enter(ctx, f, calendarSelector); err != nil {
		w.captureFailure(ctx, f, "enter")
		return report, err
	}

	start := w.now().In(w.loc)
	position := 0
	lost := false
	var errs []error
	for _, shift := range f.MonthShifts {
		if lost {
			if err := w.enter(ctx, f, calendarSelector); err != nil {
				w.captureFailure(ctx, f, fmt.Sprintf("reenter-%d", shift))
				return report, errors.Join(append(errs, err)...)
			}
			logger.Info().Int("shift", shift).Msg("calendar re-entered")
			position, lost = 0, false
		}

		if err := w.advance(ctx, f, calendarSelector, &position, shift); err != nil {
			if ctx.Err() != nil {
				return report, errors.Join(append(errs, err)...)
			}
			w.captureFailure(ctx, f, fmt.Sprintf("next-month-%d", position+1))
			logger.Error().Err(err).Int("shift", shift).Msg("month not reachable, continuing with the next month")
			errs = append(errs, err)
			lost = true
			continue
		}

		fallback := time.Date(start.Year(), start.Month()+time.Month(shift), 1, 0, 0, 0, 0, w.loc)
		outcome, days, err := w.month(ctx, f, parser, extractor, calendarSelector, fallback, logger)
		outcome.Shift = shift
		report.Days = append(report.Days, days...)
		if outcome.Summary != nil || outcome.Skipped {
			report.Months = append(report.Months, outcome)
		}
		if err != nil {
			if ctx.Err() != nil {
				return report, errors.Join(append(errs, err)...)
			}
			w.captureFailure(ctx, f, fmt.Sprintf("month-%d", shift))
			logger.Error().Err(err).Int("shift", shift).Msg("month failed, continuing with the next month")
			errs = append(errs, err)
			lost = true
		}
	}

	logger.Info().
		Int("months", len(report.Months)).
		Int("improvements", len(report.Days)).
		Int("failures", len(errs)).
		Msg("facility walked")
	return report, errors.Join(errs...)
}

// advance pages forward until *position reaches shift.
func (w *Walker) advance(ctx context.Context, f config.Facility, calendarSelector string, position *int, shift int) error {
	for *position < shift {
		if _, err := w.engine.NextMonth(ctx, f.ID, w.doc.NextMonthCandidates(f), calendarSelector); err != nil {
			return fmt.Errorf("advance %s to month +%d: %w", f.ID, *position+1, err)
		}
		*position++
	}
	return nil
}

// enter opens the base URL and runs the facility's click sequence, retrying the
// whole sequence from the start with a constant delay.
func (w *Walker) enter(ctx context.Context, f config.Facility, calendarSelector string) error {
	attempt := 0
	operation := func() error {
		attempt++
		if err := w.page.Navigate(ctx, w.baseURL); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("navigate to %s: %w", w.baseURL, err)
		}
		if dismissed := w.engine.Dismiss(ctx, w.doc.Selectors.Dialogs); len(dismissed) > 0 {
			w.logger.Debug().Str("facility", f.ID).Strs("dialogs", dismissed).Msg("dialogs dismissed")
		}
		if _, err := w.engine.Run(ctx, f.ID, f.ClickSequence); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if err := w.engine.WaitCalendar(ctx, f.ID, calendarSelector); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}
	onRetry := func(err error, wait time.Duration) {
		w.logger.Warn().
			Err(err).
			Str("facility", f.ID).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("navigation failed, retrying from base url")
	}

	retries := w.doc.Navigation.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.doc.Navigation.RetryDelay), uint64(retries)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, onRetry); err != nil {
		return fmt.Errorf("enter %s after %d attempts: %w", f.ID, attempt, err)
	}
	return nil
}

// month handles the calendar currently on screen. Returned day reports are kept
// even when the error is non-nil.
func (w *Walker) month(
	ctx context.Context,
	f config.Facility,
	parser *calendar.Parser,
	extractor *calendar.SlotExtractor,
	calendarSelector string,
	fallback time.Time,
	logger zerolog.Logger,
) (MonthOutcome, []notify.DayReport, error) {
	outcome := MonthOutcome{Year: fallback.Year(), Month: fallback.Month()}

	html, err := w.page.HTML(ctx)
	if err != nil {
		return outcome, nil, fmt.Errorf("read calendar of %s: %w", f.ID, err)
	}
	capture := snapshot.Capture{}
	if w.doc.Debug.TakeScreenshots() {
		if image, err := w.screenshot(ctx, calendarSelector); err == nil {
			capture.Image = image
		} else {
			logger.Warn().Err(err).Msg("calendar screenshot failed")
		}
	}

	parsed, err := parser.Parse(html, fallback.Year(), fallback.Month())
	switch {
	case errors.Is(err, calendar.ErrParseEmpty):
		logger.Warn().Int("year", parsed.Year).Int("month", int(parsed.Month)).Msg("calendar yielded no days, skipping month")
		outcome.Year, outcome.Month = parsed.Year, parsed.Month
		outcome.Skipped = true
		return outcome, nil, nil
	case err != nil:
		return outcome, nil, fmt.Errorf("parse calendar of %s: %w", f.ID, err)
	}
	for _, warning := range parsed.Warnings {
		logger.Warn().Str("warning", warning).Msg("calendar parse warning")
	}

	outcome.Year, outcome.Month = parsed.Year, parsed.Month
	if w.doc.Debug.DumpHTML() {
		capture.HTML = parsed.SourceHTML
	}
	current := parsed.Statuses()
	outcome.Summary = transition.Summarize(current)
	mlog := logger.With().Int("year", parsed.Year).Int("month", int(parsed.Month)).Logger()

	previous, found, err := w.store.Load(ctx, f.Alias, parsed.Year, parsed.Month)
	if err != nil {
		mlog.Error().Err(err).Msg("load previous record failed, skipping month")
		outcome.Skipped = true
		return outcome, nil, nil
	}

	var improvements []transition.Improvement
	if found {
		changes := transition.DetectImprovements(previous.Statuses(), current)
		changes = transition.Suppress(changes, previous.Categories(), w.doc.SuppressedCategories())
		improvements = transition.Place(f.ID, parsed.Year, parsed.Month, changes)
	} else {
		outcome.Baseline = true
	}
	outcome.Improvements = len(improvements)

	days, navErr := w.drill(ctx, f, extractor, calendarSelector, improvements, mlog)

	record := state.MonthRecord{
		Facility:   f.ID,
		Year:       parsed.Year,
		Month:      parsed.Month,
		CapturedAt: w.now().UTC(),
		Days:       make(map[int]state.DayState, len(parsed.Days)),
		Summary:    outcome.Summary,
	}
	for day, rec := range parsed.Days {
		record.Days[day] = state.DayState{Status: rec.Status, Category: rec.Category}
	}
	result, err := w.store.Persist(ctx, f.Alias, record, capture)
	if err != nil {
		mlog.Error().Err(err).Msg("persist snapshot failed, keeping events")
		outcome.PersistErr = err
	}
	outcome.Changed = result.Changed

	mlog.Info().
		Int("days", len(parsed.Days)).
		Int("improvements", len(improvements)).
		Bool("baseline", outcome.Baseline).
		Bool("changed", outcome.Changed).
		Msg("month processed")
	return outcome, days, navErr
}

// drill opens the detail view of each improved day to read its time slots. If
// returning to the calendar fails, the remaining days are reported uninspected
// and the navigation error is returned.
func (w *Walker) drill(
	ctx context.Context,
	f config.Facility,
	extractor *calendar.SlotExtractor,
	calendarSelector string,
	improvements []transition.Improvement,
	logger zerolog.Logger,
) ([]notify.DayReport, error) {
	days := make([]notify.DayReport, 0, len(improvements))
	var navErr error
	for _, imp := range improvements {
		report := notify.DayReport{Improvement: imp}
		step, ok := f.DayStep(imp.Day)
		if !ok || navErr != nil || ctx.Err() != nil {
			days = append(days, report)
			continue
		}

		dlog := logger.With().Int("day", imp.Day).Logger()
		if _, err := w.engine.Run(ctx, f.ID, []navigation.Step{step}); err != nil {
			dlog.Warn().Err(err).Msg("day detail not reachable")
			days = append(days, report)
			continue
		}

		html, err := w.page.HTML(ctx)
		if err == nil {
			report.Slots, err = extractor.Extract(html, f.ID, imp.Date(w.loc))
		}
		if err != nil {
			dlog.Warn().Err(err).Msg("slot extraction failed")
		} else {
			report.Inspected = true
			dlog.Debug().Int("slots", len(report.Slots)).Msg("day inspected")
		}
		days = append(days, report)

		if err := w.back(ctx, f, calendarSelector); err != nil {
			dlog.Error().Err(err).Msg("return to calendar failed")
			navErr = fmt.Errorf("return to calendar of %s: %w", f.ID, err)
		}
	}
	return days, navErr
}

func (w *Walker) back(ctx context.Context, f config.Facility, calendarSelector string) error {
	if len(w.doc.Selectors.Back) > 0 {
		if _, err := w.engine.Run(ctx, f.ID, w.doc.Selectors.Back); err != nil {
			return err
		}
	}
	return w.engine.WaitCalendar(ctx, f.ID, calendarSelector)
}

// screenshot captures the calendar element, or the whole page when the
// element cannot be located.
func (w *Walker) screenshot(ctx context.Context, calendarSelector string) ([]byte, error) {
	el, err := w.page.Find(ctx, calendarSelector, w.doc.Navigation.StepTimeout)
	if err != nil {
		if !page.IsNotFound(err) {
			return nil, err
		}
		return w.page.Screenshot(ctx)
	}
	image, err := el.Screenshot(ctx)
	if err != nil || len(image) == 0 {
		return w.page.Screenshot(ctx)
	}
	return image, nil
}

func (w *Walker) captureFailure(ctx context.Context, f config.Facility, label string) {
	if !w.doc.Debug.CaptureFailures() || ctx.Err() != nil {
		return
	}
	capture := snapshot.Capture{}
	if html, err := w.page.HTML(ctx); err == nil {
		capture.HTML = html
	}
	if image, err := w.page.Screenshot(ctx); err == nil {
		capture.Image = image
	}
	path, err := w.store.SaveDebug(f.Alias, label, capture)
	if err != nil {
		w.logger.Error().Err(err).Str("facility", f.ID).Msg("debug capture failed")
		return
	}
	w.logger.Info().Str("facility", f.ID).Str("path", path).Msg("debug capture saved")
}
