package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nholik/slot-sentinel/internal/config"
	"github.com/nholik/slot-sentinel/internal/healthcheck"
	"github.com/nholik/slot-sentinel/internal/journal"
	"github.com/nholik/slot-sentinel/internal/metrics"
	"github.com/nholik/slot-sentinel/internal/navigation"
	"github.com/nholik/slot-sentinel/internal/notify"
	"github.com/nholik/slot-sentinel/internal/status"
	"github.com/nholik/slot-sentinel/internal/walker"
	"github.com/rs/zerolog"
)

// ErrAllFacilitiesFailed is returned when no facility could be walked in a cycle.
var ErrAllFacilitiesFailed = errors.New("all facilities failed")

// FacilityWalker walks one facility.
type FacilityWalker interface {
	Walk(ctx context.Context, f config.Facility) (walker.Report, error)
}

// Journal stores the improvements of a run.
type Journal interface {
	Record(ctx context.Context, run journal.Run, reports []notify.FacilityReport) error
}

// CycleResult summarizes one RunCycle.
type CycleResult struct {
	RunID    string
	Reports  []walker.Report
	Failures map[string]error
	Messages int
	Duration time.Duration
}

// Improvements counts the improved days across reports.
func (r CycleResult) Improvements() int {
	total := 0
	for _, report := range r.Reports {
		total += len(report.Days)
	}
	return total
}

// Coordinator walks the configured facilities one after another and hands the
// collected improvements to the notifier.
type Coordinator struct {
	logger     zerolog.Logger
	doc        config.Document
	facilities []config.Facility
	walker     FacilityWalker
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	tracker    *healthcheck.Tracker
	journal    Journal
	now        func() time.Time
	newRunID   func() string
}

// Option customizes coordinator behavior.
type Option func(*Coordinator)

// WithMetrics records cycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracker records cycle timing for health endpoints.
func WithTracker(t *healthcheck.Tracker) Option {
	return func(c *Coordinator) {
		c.tracker = t
	}
}

// WithJournal records improvements of every run.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) {
		c.journal = j
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(c *Coordinator) {
		c.newRunID = next
	}
}

// New constructs a Coordinator for facilities.
func New(logger zerolog.Logger, doc config.Document, facilities []config.Facility, w FacilityWalker, notifier notify.Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:     logger,
		doc:        doc,
		facilities: facilities,
		walker:     w,
		notifier:   notifier,
		now:        time.Now,
		newRunID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCycle walks every facility once. A facility's failure is logged and does
// not affect the others; improvements found before a failure are still sent.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleResult, error) {
	started := c.now()
	result := CycleResult{RunID: c.newRunID(), Failures: map[string]error{}}
	logger := c.logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().Int("facilities", len(c.facilities)).Msg("cycle started")

	composeOpts := notify.ComposeOptions{Title: c.doc.Notify.Title, Footer: c.doc.Notify.Footer}
	pending := make([]notify.FacilityReport, 0, len(c.facilities))
	for _, facility := range c.facilities {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		report, err := c.walker.Walk(ctx, facility)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.Failures[facility.ID] = err
			c.metrics.IncFailures(facility.ID, failureKind(err))
			logger.Error().Err(err).Str("facility", facility.ID).Msg("facility walk failed")
		}
		result.Reports = append(result.Reports, report)
		c.recordFacility(report)

		fr := report.FacilityReport()
		if c.doc.Notify.PerFacility {
			result.Messages += c.deliver(ctx, logger, notify.Compose([]notify.FacilityReport{fr}, composeOpts))
			continue
		}
		pending = append(pending, fr)
	}
	if !c.doc.Notify.PerFacility {
		result.Messages += c.deliver(ctx, logger, notify.Compose(pending, composeOpts))
	}

	finished := c.now()
	result.Duration = finished.Sub(started)

	facilityReports := make([]notify.FacilityReport, 0, len(result.Reports))
	for _, report := range result.Reports {
		facilityReports = append(facilityReports, report.FacilityReport())
	}
	if c.journal != nil {
		run := journal.Run{
			ID:         result.RunID,
			StartedAt:  started,
			FinishedAt: finished,
			Facilities: len(c.facilities),
			Failures:   len(result.Failures),
		}
		if err := c.journal.Record(ctx, run, facilityReports); err != nil {
			logger.Error().Err(err).Msg("journal record failed")
		}
	}

	c.metrics.ObserveCycleDuration(result.Duration)
	c.tracker.RecordCycle(healthcheck.CycleStats{
		Duration:            result.Duration,
		FacilitiesEvaluated: len(c.facilities),
		FacilitiesFailed:    len(result.Failures),
		Improvements:        result.Improvements(),
	})

	logger.Info().
		Int("improvements", result.Improvements()).
		Int("messages", result.Messages).
		Int("failures", len(result.Failures)).
		Dur("duration", result.Duration).
		Msg("cycle finished")

	if len(c.facilities) > 0 && len(result.Failures) == len(c.facilities) {
		errs := make([]error, 0, len(result.Failures))
		for _, facility := range c.facilities {
			errs = append(errs, result.Failures[facility.ID])
		}
		return result, fmt.Errorf("%w: %w", ErrAllFacilitiesFailed, errors.Join(errs...))
	}
	c.metrics.SetLastSuccessfulCycleTimestamp(finished)
	return result, nil
}

func (c *Coordinator) recordFacility(report walker.Report) {
	summary := report.Summary()
	for _, s := range []status.Status{status.Available, status.Partial, status.Unavailable, status.Undetermined} {
		c.metrics.SetDays(report.Facility.ID, s.String(), summary[s.Symbol()])
	}
	c.metrics.AddImprovements(report.Facility.ID, len(report.Days))
	for _, month := range report.Months {
		if month.PersistErr != nil {
			c.metrics.IncFailures(report.Facility.ID, "persist")
		}
	}
}

// deliver sends messages and returns how many were handed to the notifier.
// Delivery failures are logged, never returned.
func (c *Coordinator) deliver(ctx context.Context, logger zerolog.Logger, messages []notify.Message) int {
	if len(messages) == 0 || c.notifier == nil {
		return 0
	}
	if err := c.notifier.Notify(ctx, messages); err != nil {
		c.metrics.IncDeliveries("failure")
		logger.Error().Err(err).Int("messages", len(messages)).Msg("notification delivery failed")
		return len(messages)
	}
	c.metrics.IncDeliveries("success")
	logger.Info().Int("messages", len(messages)).Msg("notifications sent")
	return len(messages)
}

func failureKind(err error) string {
	if kind := navigation.KindOf(err); kind != 0 {
		return kind.String()
	}
	return "other"
}
