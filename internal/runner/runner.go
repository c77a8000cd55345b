package runner

import (
	"context"
	"errors"
	"time"

	"github.com/nholik/slot-sentinel/internal/healthcheck"
	"github.com/nholik/slot-sentinel/internal/metrics"
	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Runner orchestrates the main execution loop.
type Runner struct {
	logger        zerolog.Logger
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	window        *Window
	force         bool
	now           func() time.Time
	tracker       *healthcheck.Tracker
	metrics       *metrics.Metrics
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce sets the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithWindow restricts cycles to the given hours.
func WithWindow(w Window) Option {
	return func(r *Runner) {
		r.window = &w
	}
}

// WithForce runs cycles regardless of the window.
func WithForce(force bool) Option {
	return func(r *Runner) {
		r.force = force
	}
}

// WithClock overrides the time source used for window checks.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithTracker marks skipped ticks as alive for the health endpoint.
func WithTracker(t *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = t
	}
}

// WithMetrics counts skipped cycles.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// New constructs a Runner with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		runOnce: func(context.Context) error { return nil },
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	// Run immediately on startup
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial run cycle failed")
	}

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("run cycle failed")
			}
		}
	}
}

// RunOnce executes a single cycle when the window allows it. ran is false when
// the cycle was skipped.
func (r *Runner) RunOnce(ctx context.Context) (ran bool, err error) {
	if !r.Allowed() {
		r.logger.Info().
			Str("window", r.window.String()).
			Msg("outside execution window, skipping cycle")
		r.tracker.RecordSkip()
		r.metrics.IncCyclesSkipped()
		return false, nil
	}
	started := r.now()
	return true, wrapCycle(started, r.runOnce(ctx))
}

// Allowed reports whether a cycle may run now.
func (r *Runner) Allowed() bool {
	if r.force || r.window == nil {
		return true
	}
	return r.window.Contains(r.now())
}
