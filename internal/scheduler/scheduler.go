// Package scheduler drives all maintenance tasks on interval-gated cadences.
//
// DESIGN: One cooperative single-threaded loop polls at a fixed tick and
// runs due tasks sequentially - no task ever executes concurrently with
// another. A task is due when its cadence has elapsed since the durable
// last run; the min-interval gate additionally protects every invocation,
// so a restart cannot re-run a task early, and the timestamp is persisted
// only after completion, so a mid-task crash cannot falsely mark it done.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/opspulse/sentinel/internal/config"
	"github.com/opspulse/sentinel/internal/history"
	"github.com/opspulse/sentinel/internal/monitoring"
)

// TaskFunc is one maintenance task body.
type TaskFunc func(ctx context.Context) error

// StateStore persists task last-run timestamps across restarts.
type StateStore interface {
	LastRun(task string) (time.Time, bool, error)
	SetLastRun(task string, t time.Time) error
}

// Recorder records failed task runs.
type Recorder interface {
	Append(category string, record any) error
}

// Scheduler runs registered tasks on their configured cadences.
type Scheduler struct {
	cfg   config.SchedulerConfig
	state StateStore
	store Recorder
	log   *monitoring.Logger

	tasks map[string]TaskFunc
	order []string // registration order, keeps execution deterministic

	now func() time.Time
}

// New creates a scheduler. store may be nil.
func New(cfg config.SchedulerConfig, state StateStore, store Recorder, log *monitoring.Logger) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		state: state,
		store: store,
		log:   log.Component("scheduler"),
		tasks: make(map[string]TaskFunc),
		now:   time.Now,
	}
}

// AddTask registers a task body under a name. Re-registration replaces the
// body but keeps the original position in the execution order.
func (s *Scheduler) AddTask(name string, fn TaskFunc) {
	if _, ok := s.tasks[name]; !ok {
		s.order = append(s.order, name)
	}
	s.tasks[name] = fn
}

// RunTask runs one task if it is enabled and its min interval has elapsed.
// Returns whether the task body executed.
func (s *Scheduler) RunTask(ctx context.Context, name string) (bool, error) {
	fn, ok := s.tasks[name]
	if !ok {
		return false, fmt.Errorf("unknown task '%s'", name)
	}

	taskCfg := s.cfg.Tasks[name]
	if !taskCfg.On() {
		return false, nil
	}

	now := s.now()
	last, known, err := s.state.LastRun(name)
	if err != nil {
		// Unreadable state skips the run rather than risking a double
		// execution inside the min interval.
		s.log.Error().Err(err).Str("task", name).Msg("task_state_read_failed")
		return false, err
	}
	if known && now.Sub(last) < taskCfg.MinInterval {
		s.log.Debug().
			Str("task", name).
			Time("last_run", last).
			Dur("min_interval", taskCfg.MinInterval).
			Msg("task_skipped")
		return false, nil
	}

	start := now
	runErr, panicked := s.execute(ctx, name, fn)
	duration := s.now().Sub(start)

	if taskCfg.MaxRuntime > 0 && duration > taskCfg.MaxRuntime {
		s.log.Warn().
			Str("task", name).
			Dur("duration", duration).
			Dur("max_runtime", taskCfg.MaxRuntime).
			Msg("task_overran")
	}

	if runErr != nil {
		s.log.Error().Err(runErr).Str("task", name).Msg("task_failed")
		if s.store != nil {
			record := map[string]any{
				"task":      name,
				"error":     runErr.Error(),
				"outcome":   "failed",
				"timestamp": s.now(),
			}
			if err := s.store.Append(history.CategoryRecoverySuccess, record); err != nil {
				s.log.Error().Err(err).Str("task", name).Msg("history_write_failed")
			}
		}
	}

	// A panic means the task did not complete: leave last_run untouched so
	// the next tick retries.
	if !panicked {
		if err := s.state.SetLastRun(name, s.now()); err != nil {
			s.log.Error().Err(err).Str("task", name).Msg("task_state_write_failed")
		}
	}

	return true, runErr
}

// execute runs the task body, converting a panic into an error.
func (s *Scheduler) execute(ctx context.Context, name string, fn TaskFunc) (err error, panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("task '%s' panicked: %v", name, v)
			panicked = true
		}
	}()
	return fn(ctx), false
}

// Tick runs every due task once, in registration order. A task is due when
// its cadence has elapsed since the durable last run. A failing task never
// halts the others.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, name := range s.order {
		if ctx.Err() != nil {
			return
		}
		if !s.due(name) {
			continue
		}
		_, _ = s.RunTask(ctx, name)
	}
}

// due reports whether the task's cadence has elapsed. State errors and
// never-run tasks fall through to RunTask, which owns that handling.
func (s *Scheduler) due(name string) bool {
	cadence := s.cfg.Tasks[name].Cadence
	if cadence <= 0 {
		return true
	}
	last, known, err := s.state.LastRun(name)
	if err != nil || !known {
		return true
	}
	return s.now().Sub(last) >= cadence
}

// Run is the cooperative maintenance loop. It polls at the configured tick
// until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().
		Dur("tick", s.cfg.Tick).
		Int("tasks", len(s.order)).
		Msg("maintenance_loop_started")

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	// First pass immediately so a fresh start doesn't idle a full tick.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("maintenance_loop_stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
