// Package navigation drives a page through configured click sequences.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/slot-sentinel/internal/calendar"
	"github.com/nholik/slot-sentinel/internal/page"
	"github.com/rs/zerolog"
)

const (
	defaultStepTimeout    = 10 * time.Second
	defaultVerifyTimeout  = 15 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultDismissTimeout = 1500 * time.Millisecond

	scriptScheme = "javascript:"
)

// State is a position in the navigation state machine.
type State int

const (
	Idle State = iota
	Advancing
	Verified
	Arrived
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Advancing:
		return "advancing"
	case Verified:
		return "verified"
	case Arrived:
		return "arrived"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition is one entry in a run's trace. Step is -1 for Idle and Arrived.
type Transition struct {
	State    State
	Step     int
	Selector string
}

// Result is the outcome of running a sequence.
type Result struct {
	State State
	Trace []Transition
	// Used holds the selector that was clicked for each completed step.
	Used []string
}

// Options tunes the engine's waits.
type Options struct {
	StepTimeout    time.Duration
	VerifyTimeout  time.Duration
	PollInterval   time.Duration
	DismissTimeout time.Duration
	Logger         zerolog.Logger
}

// Engine executes click sequences on one page. It holds no per-run state.
type Engine struct {
	page   page.Page
	opts   Options
	logger zerolog.Logger
}

// New returns an Engine for p; zero durations fall back to defaults.
func New(p page.Page, opts Options) *Engine {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaultVerifyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DismissTimeout <= 0 {
		opts.DismissTimeout = defaultDismissTimeout
	}
	return &Engine{page: p, opts: opts, logger: opts.Logger}
}

// Run executes steps in order from the current view. It does not retry; a failed
// step leaves the result in the Failed state and returns an *Error.
func (e *Engine) Run(ctx context.Context, facility string, steps []Step) (Result, error) {
	result := Result{State: Idle, Trace: []Transition{{State: Idle, Step: -1}}}
	record := func(state State, step int, selector string) {
		result.State = state
		result.Trace = append(result.Trace, Transition{State: state, Step: step, Selector: selector})
	}

	for i, step := range steps {
		record(Advancing, i, step.Selector)

		selector, err := e.advance(ctx, step)
		if err != nil {
			record(Failed, i, step.Selector)
			return result, e.wrap(ctx, err, facility, i)
		}
		result.Used = append(result.Used, selector)

		if step.Verify != "" {
			if err := page.WaitFor(ctx, e.page, step.Verify, e.opts.VerifyTimeout); err != nil {
				record(Failed, i, step.Verify)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, ctxErr
				}
				return result, &Error{Kind: KindVerificationTimeout, Facility: facility, Step: i, Selector: step.Verify, Err: err}
			}
		}
		record(Verified, i, selector)
		e.logger.Debug().Str("facility", facility).Int("step", i).Str("selector", page.Describe(selector)).Msg("navigation step verified")
	}

	record(Arrived, -1, "")
	return result, nil
}

// stepError carries the selector a step failed on before facility/index are known.
type stepError struct {
	kind     Kind
	selector string
	err      error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.selector, e.err) }

func (e *Engine) wrap(ctx context.Context, err error, facility string, step int) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var se *stepError
	if errors.As(err, &se) {
		return &Error{Kind: se.kind, Facility: facility, Step: step, Selector: se.selector, Err: se.err}
	}
	return &Error{Kind: KindSelectorNotFound, Facility: facility, Step: step, Err: err}
}

func (e *Engine) advance(ctx context.Context, step Step) (string, error) {
	for _, action := range step.PreActions {
		switch action.Type {
		case ActionWait:
			if err := page.WaitFor(ctx, e.page, action.Selector, e.opts.StepTimeout); err != nil {
				return "", &stepError{kind: KindSelectorNotFound, selector: action.Selector, err: err}
			}
		case ActionSleep:
			if err := sleepWithContext(ctx, action.Duration); err != nil {
				return "", err
			}
		}
	}

	candidates := step.Candidates()
	if len(candidates) == 0 {
		return "", &stepError{kind: KindSelectorNotFound, err: errors.New("step has no selector")}
	}
	var lastErr error
	for _, selector := range candidates {
		if err := e.click(ctx, selector, step.scrolls(), e.opts.StepTimeout); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			e.logger.Debug().Err(err).Str("selector", page.Describe(selector)).Msg("navigation candidate failed")
			lastErr = err
			continue
		}
		return selector, nil
	}
	return "", &stepError{kind: KindSelectorNotFound, selector: candidates[0], err: lastErr}
}

func (e *Engine) click(ctx context.Context, selector string, scroll bool, timeout time.Duration) error {
	el, err := e.page.Find(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if scroll {
		if err := el.ScrollIntoView(ctx); err != nil {
			e.logger.Debug().Err(err).Str("selector", page.Describe(selector)).Msg("scroll into view failed")
		}
	}
	return el.Click(ctx)
}

// NextMonth advances the calendar by one month. Candidates are tried in order; a
// click counts only once calendarSelector shows a different calendar than before
// the click. When no click works, a candidate whose href is a javascript: URL is
// evaluated directly. Returns the candidate that worked.
func (e *Engine) NextMonth(ctx context.Context, facility string, candidates []string, calendarSelector string) (string, error) {
	before := e.monthView(ctx, calendarSelector)

	var (
		clicked bool
		lastErr error
	)
	for _, selector := range candidates {
		if selector == "" {
			continue
		}
		if err := e.click(ctx, selector, false, e.opts.StepTimeout); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			e.logger.Debug().Err(err).Str("facility", facility).Str("selector", page.Describe(selector)).Msg("next-month candidate failed")
			lastErr = err
			continue
		}
		clicked = true
		if err := e.waitForChange(ctx, calendarSelector, before); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			e.logger.Debug().Err(err).Str("facility", facility).Str("selector", page.Describe(selector)).Msg("next-month click did not change calendar")
			lastErr = err
			continue
		}
		return selector, nil
	}

	for _, selector := range candidates {
		ran, err := e.evalHref(ctx, selector)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		if !ran {
			continue
		}
		clicked = true
		if err := e.waitForChange(ctx, calendarSelector, before); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		e.logger.Debug().Str("facility", facility).Str("selector", page.Describe(selector)).Msg("next month reached through link script")
		return selector, nil
	}

	kind := KindSelectorNotFound
	if clicked {
		kind = KindVerificationTimeout
	}
	return "", &Error{Kind: kind, Facility: facility, Step: -1, Selector: calendarSelector, Err: lastErr}
}

// evalHref runs the script of a javascript: link matched by selector. It
// reports false when the selector is a text selector, matches nothing, or
// its href is not a script.
func (e *Engine) evalHref(ctx context.Context, selector string) (bool, error) {
	if _, isText := page.TextLabel(selector); isText || selector == "" {
		return false, nil
	}
	el, err := e.page.Find(ctx, selector, e.opts.PollInterval)
	if err != nil {
		if page.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	href, ok, err := el.Attribute(ctx, "href")
	if err != nil || !ok {
		return false, err
	}
	script, ok := hrefScript(href)
	if !ok {
		return false, nil
	}
	if err := e.page.Eval(ctx, script); err != nil {
		return false, &stepError{kind: KindSelectorNotFound, selector: selector, err: err}
	}
	return true, nil
}

func hrefScript(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if len(href) < len(scriptScheme) || !strings.EqualFold(href[:len(scriptScheme)], scriptScheme) {
		return "", false
	}
	script := strings.TrimSpace(href[len(scriptScheme):])
	if unescaped, err := url.PathUnescape(script); err == nil {
		script = unescaped
	}
	return script, script != ""
}

// monthView is the calendar as seen before a month change.
type monthView struct {
	html  string
	year  int
	month time.Month
	dated bool
}

func (e *Engine) monthView(ctx context.Context, selector string) monthView {
	view := monthView{html: e.calendarHTML(ctx, selector)}
	text := view.html
	if text == "" {
		// Without the calendar element the page heading still tells the month.
		text, _ = e.page.HTML(ctx)
	}
	view.year, view.month, view.dated = calendar.YearMonth(text)
	return view
}

// advanced reports whether html shows the month after before. A changed
// calendar counts unless both headings name the same month; with no calendar
// to compare against, the heading must name the following month.
func (before monthView) advanced(html string) bool {
	year, month, dated := calendar.YearMonth(html)
	if before.dated && dated {
		next := time.Date(before.year, before.month+1, 1, 0, 0, 0, 0, time.UTC)
		if year == next.Year() && month == next.Month() {
			return true
		}
		if year == before.year && month == before.month {
			return false
		}
		return before.html != "" && html != before.html
	}
	if before.html == "" {
		return false
	}
	return html != before.html
}

func (e *Engine) calendarHTML(ctx context.Context, selector string) string {
	el, err := e.page.Find(ctx, selector, e.opts.PollInterval)
	if err != nil {
		return ""
	}
	html, err := el.HTML(ctx)
	if err != nil {
		return ""
	}
	return html
}

func (e *Engine) waitForChange(ctx context.Context, selector string, before monthView) error {
	verifyCtx, cancel := context.WithTimeout(ctx, e.opts.VerifyTimeout)
	defer cancel()

	operation := func() error {
		el, err := e.page.Find(verifyCtx, selector, e.opts.PollInterval)
		if err != nil {
			return err
		}
		html, err := el.HTML(verifyCtx)
		if err != nil {
			return err
		}
		if !before.advanced(html) {
			return errors.New("calendar did not move to the next month")
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(e.opts.PollInterval), verifyCtx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationTimeout, err)
	}
	return nil
}

// WaitCalendar waits until selector is present, reporting a VerificationTimeout otherwise.
func (e *Engine) WaitCalendar(ctx context.Context, facility, selector string) error {
	if err := page.WaitFor(ctx, e.page, selector, e.opts.VerifyTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindVerificationTimeout, Facility: facility, Step: -1, Selector: selector, Err: err}
	}
	return nil
}

// Dismiss clicks any of the optional dialog buttons that are present and returns
// the ones that were clicked. Failures are ignored.
func (e *Engine) Dismiss(ctx context.Context, selectors []string) []string {
	clicked := make([]string, 0)
	for _, selector := range selectors {
		if ctx.Err() != nil {
			return clicked
		}
		if err := e.click(ctx, selector, false, e.opts.DismissTimeout); err != nil {
			continue
		}
		e.logger.Debug().Str("selector", page.Describe(selector)).Msg("dismissed dialog")
		clicked = append(clicked, selector)
	}
	return clicked
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
