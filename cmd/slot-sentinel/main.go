package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/nholik/slot-sentinel/internal/config"
	"github.com/nholik/slot-sentinel/internal/coordinator"
	"github.com/nholik/slot-sentinel/internal/healthcheck"
	"github.com/nholik/slot-sentinel/internal/journal"
	"github.com/nholik/slot-sentinel/internal/logging"
	"github.com/nholik/slot-sentinel/internal/metrics"
	"github.com/nholik/slot-sentinel/internal/navigation"
	"github.com/nholik/slot-sentinel/internal/page"
	"github.com/nholik/slot-sentinel/internal/runner"
	"github.com/nholik/slot-sentinel/internal/server"
	"github.com/nholik/slot-sentinel/internal/snapshot"
	"github.com/nholik/slot-sentinel/internal/walker"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	facility   string
	once       bool
	force      bool
	dryRun     bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "slot-sentinel",
		Short: "Watch a facility reservation calendar for newly opened days",
		Long: `slot-sentinel crawls a facility reservation site, classifies every calendar day,
and notifies when a day's availability improves since the previous check.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			return run(cmd.Context(), cfg, opts.once)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "facility document path (overrides SLOT_CONFIG_PATH)")
	cmd.Flags().StringVar(&opts.facility, "facility", "", "only crawl the facility with this id, name or alias")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&opts.force, "force", false, "ignore the execution window")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log notifications instead of sending them")

	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// apply overrides environment settings with flags the user set explicitly.
func (o *rootOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("config") {
		cfg.ConfigPath = o.configPath
	}
	if flags.Changed("facility") {
		cfg.Facility = o.facility
	}
	if flags.Changed("force") {
		cfg.Force = o.force
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = o.dryRun
	}
}

func run(parent context.Context, cfg config.Config, once bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.NewWithLevel(cfg.LogLevel)
	logger.Info().Str("version", version).Bool("once", once).Msg("slot-sentinel starting")

	source, err := config.NewDocumentSource(cfg.ConfigPath)
	if err != nil {
		return err
	}
	doc, _, err := source.Load(ctx)
	if err != nil {
		return err
	}
	facilities, err := doc.SelectFacilities(cfg.Facility)
	if err != nil {
		return err
	}
	logger.Info().
		Str("document", cfg.ConfigPath).
		Str("fingerprint", source.Fingerprint()).
		Int("facilities", len(facilities)).
		Msg("config document loaded")

	notifier, err := buildNotifier(logger, cfg)
	if err != nil {
		return err
	}

	collector := metrics.New()
	tracker := healthcheck.NewTracker()

	coordOpts := []coordinator.Option{coordinator.WithMetrics(collector), coordinator.WithTracker(tracker)}
	var history server.History
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.JournalPath).Msg("journal unavailable, continuing without it")
	} else {
		defer j.Close()
		coordOpts = append(coordOpts, coordinator.WithJournal(j))
		history = j
		if versions, err := j.AppliedMigrations(ctx); err == nil && len(versions) > 0 {
			logger.Info().Str("path", cfg.JournalPath).Int("schema_version", versions[len(versions)-1]).Msg("journal opened")
		}
	}

	loc := cfg.Location()
	store := snapshot.New(cfg.OutputDir, snapshot.Options{HistoryLimit: cfg.HistoryLimit, Location: loc}, logger)

	cycle := func(ctx context.Context) error {
		next, changed, err := source.Load(ctx)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("config document reload failed, keeping previous document")
		case changed:
			selected, err := next.SelectFacilities(cfg.Facility)
			if err != nil {
				logger.Warn().Err(err).Msg("reloaded config document rejected, keeping previous document")
				break
			}
			doc, facilities = next, selected
			logger.Info().
				Str("fingerprint", source.Fingerprint()).
				Int("facilities", len(facilities)).
				Msg("config document changed")
		}

		browser, err := page.Launch(ctx, page.BrowserConfig{
			RemoteURL:      cfg.BrowserURL,
			Headless:       cfg.Headless,
			BlockResources: cfg.BlockResources,
			Logger:         logger,
		})
		if err != nil {
			collector.IncFailures("all", "browser")
			return err
		}
		defer func() {
			if err := browser.Close(); err != nil {
				logger.Warn().Err(err).Msg("browser close failed")
			}
		}()

		engine := navigation.New(browser.Page(), navigation.Options{
			StepTimeout:   doc.Navigation.StepTimeout,
			VerifyTimeout: doc.Navigation.VerifyTimeout,
			PollInterval:  doc.Navigation.PollInterval,
			Logger:        logger,
		})
		w := walker.New(browser.Page(), engine, store, doc, walker.Options{
			BaseURL:  cfg.BaseURL,
			Location: loc,
			Logger:   logger,
		})
		_, err = coordinator.New(logger, doc, facilities, w, notifier, coordOpts...).RunCycle(ctx)
		return err
	}

	r := runner.New(logger, cfg.PollInterval,
		runner.WithRunOnce(cycle),
		runner.WithWindow(runner.Window{Start: cfg.WindowStart, End: cfg.WindowEnd, Location: loc}),
		runner.WithForce(cfg.Force),
		runner.WithTracker(tracker),
		runner.WithMetrics(collector),
	)

	if once {
		_, err := r.RunOnce(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	server.Start(ctx, logger, server.Options{
		PollInterval: cfg.PollInterval,
		Tracker:      tracker,
		Metrics:      collector,
		History:      history,
		HealthPort:   cfg.HealthPort,
		MetricsPort:  cfg.MetricsPort,
	})
	return r.Run(ctx)
}
