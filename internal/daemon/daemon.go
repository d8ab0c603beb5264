// Package daemon runs the engine unattended. It schedules drift
// detection at a fixed interval and serves Prometheus metrics and a
// health probe over HTTP. Applies stay human-driven; the daemon only
// watches and reports.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/varunnarsana/stratus/drift"
	"github.com/varunnarsana/stratus/manifest"
	"github.com/varunnarsana/stratus/orchestrator"
	"github.com/varunnarsana/stratus/telemetry"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultListenAddr = ":9090"
	shutdownGrace     = 5 * time.Second
)

// Config holds daemon settings.
type Config struct {
	Workspace    string
	ManifestPath string
	Interval     time.Duration
	ListenAddr   string
}

// Daemon owns the scheduled drift loop and the HTTP surface.
type Daemon struct {
	cfg     Config
	engine  *orchestrator.Engine
	log     *telemetry.Logger
	metrics *Metrics
	started time.Time

	mu     sync.Mutex
	status checkStatus
}

type checkStatus struct {
	checks    int64
	skipped   int64
	findings  int
	lastCheck time.Time
	lastError string
}

// New builds a daemon around an engine. The manifest is re-read on
// every tick, so edits take effect without a restart.
func New(cfg Config, engine *orchestrator.Engine) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("daemon requires an engine")
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("daemon requires a workspace")
	}
	if cfg.ManifestPath == "" {
		return nil, fmt.Errorf("daemon requires a manifest path")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}

	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to init daemon metrics: %w", err)
	}

	return &Daemon{
		cfg:     cfg,
		engine:  engine,
		log:     telemetry.NewLogger("daemon"),
		metrics: metrics,
		started: time.Now(),
	}, nil
}

// Run blocks until a signal arrives, the context is cancelled, or an
// actor fails. SIGINT and SIGTERM shut down cleanly.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	loopCtx, stopLoop := context.WithCancel(ctx)
	g.Add(func() error {
		return d.loop(loopCtx)
	}, func(error) {
		stopLoop()
	})

	srv := &http.Server{
		Addr:              d.cfg.ListenAddr,
		Handler:           d.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Add(func() error {
		d.log.Info().Str("addr", d.cfg.ListenAddr).Msg("daemon http listening")
		return srv.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	d.log.Info().
		Str("workspace", d.cfg.Workspace).
		Str("manifest", d.cfg.ManifestPath).
		Dur("interval", d.cfg.Interval).
		Msg("daemon started")

	err := g.Run()
	var sig run.SignalError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &sig):
		d.log.Info().Str("signal", sig.Signal.String()).Msg("daemon stopped")
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, http.ErrServerClosed):
		return nil
	default:
		return err
	}
}

// loop runs one check immediately, then one per tick.
func (d *Daemon) loop(ctx context.Context) error {
	d.check(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.check(ctx)
		}
	}
}

// check loads the manifest and runs one drift pass. A held workspace
// lock means an apply is mid-flight: the pass is skipped, not failed.
func (d *Daemon) check(ctx context.Context) {
	started := time.Now()

	m, err := manifest.Load(d.cfg.ManifestPath)
	if err != nil {
		d.log.Error().Err(err).Msg("drift check aborted: manifest unreadable")
		d.metrics.RecordCheck(ctx, "error", time.Since(started))
		d.note(func(s *checkStatus) {
			s.checks++
			s.lastCheck = time.Now()
			s.lastError = err.Error()
		})
		return
	}

	report, err := d.engine.DriftCheck(ctx, d.cfg.Workspace, m.Resources)
	var inFlight *drift.InFlightError
	switch {
	case errors.As(err, &inFlight):
		d.log.Info().
			Str("holder", inFlight.Holder).
			Str("operation", inFlight.Operation).
			Msg("drift check skipped: apply in flight")
		d.metrics.RecordCheck(ctx, "skipped", time.Since(started))
		d.note(func(s *checkStatus) {
			s.checks++
			s.skipped++
			s.lastCheck = time.Now()
			s.lastError = ""
		})
	case errors.Is(err, context.Canceled):
		// Shutting down; nothing to record.
	case err != nil:
		d.log.Error().Err(err).Msg("drift check failed")
		d.metrics.RecordCheck(ctx, "error", time.Since(started))
		d.note(func(s *checkStatus) {
			s.checks++
			s.lastCheck = time.Now()
			s.lastError = err.Error()
		})
	default:
		outcome := "ok"
		if !report.Clean() {
			outcome = "drift"
		}
		d.log.Info().
			Int("checked", report.Checked).
			Int("findings", len(report.Findings)).
			Str("worst", string(report.Worst())).
			Msg("drift check finished")
		d.metrics.RecordCheck(ctx, outcome, time.Since(started))
		d.metrics.RecordFindings(ctx, len(report.Findings))
		d.note(func(s *checkStatus) {
			s.checks++
			s.findings = len(report.Findings)
			s.lastCheck = time.Now()
			s.lastError = ""
		})
	}
}

func (d *Daemon) note(update func(*checkStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	update(&d.status)
}

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status        string `json:"status"`
	Workspace     string `json:"workspace"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Checks        int64  `json:"checks"`
	Skipped       int64  `json:"skipped"`
	Findings      int    `json:"findings"`
	LastCheck     string `json:"last_check,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Health reports the daemon's view of itself. Status degrades when the
// most recent check errored.
func (d *Daemon) Health() HealthStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := HealthStatus{
		Status:        "ok",
		Workspace:     d.cfg.Workspace,
		UptimeSeconds: int64(time.Since(d.started).Seconds()),
		Checks:        d.status.checks,
		Skipped:       d.status.skipped,
		Findings:      d.status.findings,
		LastError:     d.status.lastError,
	}
	if !d.status.lastCheck.IsZero() {
		h.LastCheck = d.status.lastCheck.UTC().Format(time.RFC3339)
	}
	if d.status.lastError != "" {
		h.Status = "degraded"
	}
	return h
}

// Routes returns the daemon's HTTP handler: Prometheus metrics on
// /metrics and the health probe on /healthz.
func (d *Daemon) Routes() http.Handler {
	mux := http.NewServeMux()
	if telemetry.PrometheusRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	return mux
}
