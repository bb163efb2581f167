// Package daemon assembles the camera supervision tree and its supporting
// services from a config.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/camera-agents/internal/agent"
	"github.com/t77yq/camera-agents/internal/camera"
	"github.com/t77yq/camera-agents/internal/config"
	"github.com/t77yq/camera-agents/internal/jobs"
	"github.com/t77yq/camera-agents/internal/messaging"
	"github.com/t77yq/camera-agents/internal/model"
	"github.com/t77yq/camera-agents/internal/monitor"
	"github.com/t77yq/camera-agents/internal/storage"
	"github.com/t77yq/camera-agents/internal/supervisor"
	"github.com/t77yq/camera-agents/internal/units"
)

const shutdownTimeout = 5 * time.Second

// Daemon owns every long-lived component of camerad run
type Daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *prometheus.Registry
	metrics    *monitor.Metrics
	history    *storage.SQLiteHistory
	events     *messaging.EventPublisher
	alerts     *monitor.AlertManager
	sink       *monitor.EventSink
	collector  *monitor.Collector
	jobs       *jobs.Scheduler
	supervisor *supervisor.Supervisor
	pairs      []*units.Pair
	server     *http.Server
}

// New builds the daemon on an open NATS connection. Nothing runs until Run.
func New(cfg *config.Config, nc *nats.Conn, logger *zap.Logger) (*Daemon, error) {
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.Named("daemon"),
		registry: prometheus.NewRegistry(),
	}

	if err := d.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := d.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	metrics, err := monitor.NewMetrics(d.registry)
	if err != nil {
		return nil, err
	}
	d.metrics = metrics

	var js nats.JetStreamContext
	if cfg.NATS.Events {
		js, err = nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		d.events, err = messaging.NewEventPublisher(js, logger)
		if err != nil {
			return nil, err
		}
	}

	if cfg.History.Path != "" {
		d.history, err = storage.NewSQLiteHistory(logger, cfg.History.Path)
		if err != nil {
			return nil, err
		}
	}

	// Nil pointers must not reach the sink as non-nil interfaces.
	var (
		recorder       monitor.StatusRecorder
		statusPub      monitor.StatusPublisher
		alertPub       monitor.AlertPublisher
		systemPub      monitor.SystemPublisher
		sinkAlerts     *monitor.AlertManager
		alertsConsumer nats.JetStreamContext
	)
	if d.history != nil {
		recorder = d.history
	}
	if d.events != nil {
		statusPub = d.events
		alertPub = d.events
		systemPub = d.events
		alertsConsumer = js
	}

	d.alerts = monitor.NewAlertManager(logger, alertsConsumer, alertPub)
	if alertsConsumer == nil {
		sinkAlerts = d.alerts
	}
	if err := addDefaultRules(d.alerts); err != nil {
		d.Close()
		return nil, err
	}
	d.sink = monitor.NewEventSink(recorder, statusPub, d.metrics, sinkAlerts, logger)

	d.supervisor = supervisor.New(cfg.App.Name, supervisorConfig(cfg.Supervisor), d.hooks(), logger)

	framePub := messaging.NewNATSPublisher(nc, logger)
	for _, camCfg := range cfg.Cameras {
		cam := camera.NewSimulated(camera.SimulatedConfig{
			Index:     camCfg.Index,
			Width:     camCfg.Width,
			Height:    camCfg.Height,
			FPS:       camCfg.FPS,
			DropEvery: camCfg.DropEvery,
		}, logger)

		pair, err := units.NewPair(units.PairConfig{
			CameraIndex:          camCfg.Index,
			Width:                camCfg.Width,
			Height:               camCfg.Height,
			BufferSize:           camCfg.BufferSize,
			Subject:              camCfg.Subject,
			MaxConsecutiveErrors: camCfg.MaxConsecutiveErrors,
		}, cam, framePub, logger)
		if err != nil {
			d.Close()
			return nil, err
		}

		for _, unit := range pair.Units() {
			d.watchUnit(unit)
			if err := d.supervisor.AddUnit(unit); err != nil {
				d.Close()
				return nil, err
			}
		}
		d.pairs = append(d.pairs, pair)
	}

	d.collector = monitor.NewCollector(d.supervisor, d.metrics, systemPub, cfg.Metrics.Interval, logger)
	for _, pair := range d.pairs {
		d.collector.AddChannel(pair.Index, pair.Channel)
	}

	d.jobs = jobs.NewScheduler(logger)
	if d.history != nil && cfg.History.Retention > 0 && cfg.History.CleanupSchedule != "" {
		if err := d.jobs.Add(jobs.RetentionJobName, cfg.History.CleanupSchedule,
			jobs.RetentionJob(d.history, cfg.History.Retention, logger)); err != nil {
			d.Close()
			return nil, err
		}
	}
	if cfg.Metrics.ReportSchedule != "" {
		if err := d.jobs.Add(jobs.ReportJobName, cfg.Metrics.ReportSchedule,
			jobs.ReportJob(d.supervisor, logger)); err != nil {
			d.Close()
			return nil, err
		}
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.Handler())
		d.server = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return d, nil
}

func supervisorConfig(cfg config.SupervisorConfig) supervisor.Config {
	sc := supervisor.Config{
		RestartFailed: cfg.RestartFailed,
		CheckInterval: cfg.CheckInterval,
		StopTimeout:   cfg.StopTimeout,
	}
	if cfg.Backoff.InitialDelay > 0 {
		sc.Backoff = &supervisor.RestartDelay{
			Base:   cfg.Backoff.InitialDelay,
			Max:    cfg.Backoff.MaxDelay,
			Factor: cfg.Backoff.Multiplier,
		}
	}
	return sc
}

func addDefaultRules(alerts *monitor.AlertManager) error {
	rules := []*model.AlertRule{
		{Name: "Unit failed", Type: model.AlertTypeUnitFailure, Severity: model.AlertSeverityError},
		{Name: "Unit timed out", Type: model.AlertTypeUnitTimeout, Severity: model.AlertSeverityWarning},
		{Name: "Unit restart loop", Type: model.AlertTypeRestartLoop, Severity: model.AlertSeverityCritical},
	}
	for _, rule := range rules {
		if err := alerts.AddRule(rule); err != nil {
			return fmt.Errorf("failed to add alert rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

func (d *Daemon) watchUnit(unit *agent.Unit) {
	unit.SetStatusChangeCallback(d.sink.Handle)
	unit.SetErrorCallback(func(name string, err error) {
		d.logger.Error("Unit reported error",
			zap.String("unit", name),
			zap.Error(err))
	})
}

func (d *Daemon) hooks() supervisor.Hooks {
	return supervisor.Hooks{
		PostStart: func() {
			d.logger.Info("All units started", zap.Int("cameras", len(d.pairs)))
		},
		OnUnitFailed: func(unit supervisor.Managed, attempt int) {
			d.metrics.ObserveRestart(unit.Name())
			d.alerts.HandleRestart(unit.ID(), unit.Name(), attempt)
		},
		PreStop: func() {
			d.logger.Info("Stopping camera units")
		},
	}
}

// Handler serves the daemon's Prometheus registry
func (d *Daemon) Handler() http.Handler {
	return promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry})
}

// Supervisor returns the unit supervisor
func (d *Daemon) Supervisor() *supervisor.Supervisor {
	return d.supervisor
}

// Pairs returns the camera pairs in config order
func (d *Daemon) Pairs() []*units.Pair {
	return d.pairs
}

// Alerts returns the alert manager
func (d *Daemon) Alerts() *monitor.AlertManager {
	return d.alerts
}

// Collector returns the metrics collector
func (d *Daemon) Collector() *monitor.Collector {
	return d.collector
}

// Run starts the support services and supervises the units until ctx is
// done, a unit failure ends supervision or the metrics server fails.
func (d *Daemon) Run(ctx context.Context) error {
	d.sink.Start()
	defer d.sink.Close()

	if err := d.alerts.Start(ctx); err != nil {
		return err
	}
	defer d.alerts.Stop()

	if err := d.collector.Start(ctx); err != nil {
		return err
	}
	defer d.collector.Stop()

	d.jobs.Start()
	defer d.jobs.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.supervisor.Run(gctx)
	})

	if d.server != nil {
		g.Go(func() error {
			d.logger.Info("Serving metrics", zap.String("addr", d.server.Addr))
			if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return d.server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close releases storage. Call it after Run returns.
func (d *Daemon) Close() error {
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}
