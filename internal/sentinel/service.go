// Package sentinel assembles the monitoring subsystem: one service object
// constructed at start and injected into everything that needs it - no
// hidden shared state.
package sentinel

import (
	"context"
	"fmt"
	"time"

	"github.com/opspulse/sentinel/internal/alerting"
	"github.com/opspulse/sentinel/internal/config"
	"github.com/opspulse/sentinel/internal/health"
	"github.com/opspulse/sentinel/internal/history"
	"github.com/opspulse/sentinel/internal/metrics"
	"github.com/opspulse/sentinel/internal/monitoring"
	"github.com/opspulse/sentinel/internal/notify"
	"github.com/opspulse/sentinel/internal/recovery"
	"github.com/opspulse/sentinel/internal/resources"
	"github.com/opspulse/sentinel/internal/scheduler"
)

// Metric names recorded by the resource watch task.
const (
	MetricProcessMemoryPct = "process_memory_pct"
	MetricProcessCPUPct    = "process_cpu_pct"
	MetricSystemMemoryPct  = "system_memory_pct"
	MetricSystemCPUPct     = "system_cpu_pct"
)

// leakCheckWindow separates the two allocation snapshots of a leak check.
const leakCheckWindow = 30 * time.Second

// Service owns every component of the subsystem.
type Service struct {
	cfg *config.Config

	leakWindow time.Duration

	Log       *monitoring.Logger
	History   *history.Store
	EventLog  *history.EventLog
	Metrics   *metrics.Store
	Alerts    *alerting.Dispatcher
	Health    *health.Registry
	Recovery  *recovery.Controller
	Scheduler *scheduler.Scheduler
}

// New constructs the service. An unreadable or unwritable state file is the
// only fatal condition: without durable state sentinel must not start.
func New(cfg *config.Config) (*Service, error) {
	log := monitoring.New(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})

	eventLog, err := history.NewEventLog(cfg.History.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("event log unavailable: %w", err)
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("history store unavailable: %w", err)
	}

	// A nil mailer disables transmission; the durable log is unaffected.
	var mailer alerting.Mailer
	if m := notify.New(cfg.Notify); m != nil {
		mailer = m
	} else {
		log.Info().Msg("transmission disabled: smtp options incomplete")
	}

	dispatcher := alerting.NewDispatcher(cfg.Alerts, eventLog, store, mailer, log)
	metricStore := metrics.NewStore()
	registry := health.NewRegistry(dispatcher, store, log)

	sampler, err := resources.NewOSSampler()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resource sampler unavailable: %w", err)
	}

	controller := recovery.NewController(cfg.Recovery, sampler, recovery.ExecSupervisor{}, dispatcher, store, log)

	s := &Service{
		cfg:        cfg,
		leakWindow: leakCheckWindow,
		Log:        log,
		History:    store,
		EventLog:   eventLog,
		Metrics:    metricStore,
		Alerts:     dispatcher,
		Health:     registry,
		Recovery:   controller,
		Scheduler:  scheduler.New(cfg.Scheduler, store, store, log),
	}
	s.registerTasks(sampler)
	return s, nil
}

// Register exposes probe registration to the monitored application. It is
// the only contract the rest of the platform must satisfy.
func (s *Service) Register(name string, probe health.Probe) {
	s.Health.Register(name, probe)
}

// registerTasks binds the built-in maintenance tasks.
func (s *Service) registerTasks(sampler resources.Sampler) {
	s.Scheduler.AddTask("health_checks", func(ctx context.Context) error {
		s.Health.RunAll(ctx)
		return nil
	})

	s.Scheduler.AddTask("resource_watch", func(ctx context.Context) error {
		usage, err := sampler.Sample(ctx)
		if err != nil {
			return err
		}
		s.Metrics.Record(MetricProcessMemoryPct, usage.ProcessMemoryPct, "percent", nil)
		s.Metrics.Record(MetricProcessCPUPct, usage.ProcessCPUPct, "percent", nil)
		s.Metrics.Record(MetricSystemMemoryPct, usage.SystemMemoryPct, "percent", nil)
		s.Metrics.Record(MetricSystemCPUPct, usage.SystemCPUPct, "percent", nil)
		s.Alerts.EvaluateResource(&usage.SystemMemoryPct, &usage.SystemCPUPct, nil)
		return nil
	})

	s.Scheduler.AddTask("self_heal", func(ctx context.Context) error {
		_, err := s.Recovery.Run(ctx)
		return err
	})

	s.Scheduler.AddTask("memory_stability", func(ctx context.Context) error {
		reports := s.Metrics.StabilityReport(MetricProcessMemoryPct)
		record := map[string]any{"metric": MetricProcessMemoryPct, "reports": reports}
		for _, r := range reports {
			if r.Window == 24*time.Hour && r.Label == metrics.LabelIncreasing {
				record["optimization_opportunity"] = true
				s.Log.Warn().
					Str("metric", MetricProcessMemoryPct).
					Float64("slope", r.Stats.Slope).
					Msg("memory trending up over 24h, worth investigating")
			}
		}
		return s.History.Append(history.CategoryStabilityChecks, record)
	})

	s.Scheduler.AddTask("leak_check", func(ctx context.Context) error {
		report, err := s.Metrics.LeakCheck(ctx, "heap", s.leakWindow)
		if err != nil {
			return err
		}
		return s.History.Append(history.CategoryLeakChecks, report)
	})
}

// Run blocks driving the maintenance loop until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	s.Scheduler.Run(ctx)
}

// Close releases durable resources.
func (s *Service) Close() error {
	return s.History.Close()
}
