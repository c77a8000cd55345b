package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nholik/slot-sentinel/internal/healthcheck"
	"github.com/nholik/slot-sentinel/internal/journal"
	"github.com/nholik/slot-sentinel/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// History lists journaled improvements.
type History interface {
	Recent(ctx context.Context, facility string, limit int) ([]journal.Entry, error)
}

// Options selects which endpoints are served and where.
type Options struct {
	PollInterval time.Duration
	Tracker      *healthcheck.Tracker
	Metrics      *metrics.Metrics
	// History, when set, is served at /history next to the health routes.
	History     History
	HealthPort  int
	MetricsPort int
}

// Start launches health and metrics HTTP servers as configured.
func Start(ctx context.Context, logger zerolog.Logger, opts Options) {
	if opts.HealthPort == 0 && opts.MetricsPort == 0 {
		return
	}

	if opts.HealthPort > 0 && opts.MetricsPort > 0 && opts.HealthPort == opts.MetricsPort {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, opts)
		registerMetricsRoute(mux, opts.Metrics)
		startServer(ctx, logger, mux, opts.HealthPort, "health/metrics")
		return
	}

	if opts.HealthPort > 0 {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, opts)
		startServer(ctx, logger, mux, opts.HealthPort, "health")
	}

	if opts.MetricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, opts.Metrics)
		startServer(ctx, logger, mux, opts.MetricsPort, "metrics")
	}
}

// NewHealthMux returns the health routes without starting a server.
func NewHealthMux(opts Options) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthRoutes(mux, opts)
	return mux
}

func registerHealthRoutes(mux *http.ServeMux, opts Options) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(opts.Tracker, opts.PollInterval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(opts.Tracker))
	if opts.History != nil {
		mux.HandleFunc("/history", historyHandler(opts.History))
	}
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

// historyHandler serves GET /history?facility=<id>&limit=<n>.
func historyHandler(history History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		entries, err := history.Recent(r.Context(), r.URL.Query().Get("facility"), limit)
		if err != nil {
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		healthcheck.WriteJSON(w, http.StatusOK, entries)
	}
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
