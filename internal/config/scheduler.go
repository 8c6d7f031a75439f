// Scheduler configuration - maintenance task cadences.
//
// DESIGN: User config is merged OVER built-in defaults, so a task missing
// from the file keeps its defaults and a task unknown to the defaults is
// never silently dropped.
package config

import (
	"fmt"
	"time"
)

// TaskConfig controls one maintenance task.
type TaskConfig struct {
	Enabled     *bool         `yaml:"enabled"`      // nil means keep default
	Cadence     time.Duration `yaml:"cadence"`      // how often the loop runs the task
	MaxRuntime  time.Duration `yaml:"max_runtime"`  // warn (non-fatal) when exceeded
	MinInterval time.Duration `yaml:"min_interval"` // hard skip gate between runs
}

// On reports whether the task is enabled (default true).
func (t TaskConfig) On() bool {
	return t.Enabled == nil || *t.Enabled
}

// SchedulerConfig contains the maintenance loop settings.
type SchedulerConfig struct {
	Tick  time.Duration         `yaml:"tick"`  // poll interval, default 1m
	Tasks map[string]TaskConfig `yaml:"tasks"` // task name -> settings
}

// defaultTasks are the built-in maintenance tasks and their cadences.
func defaultTasks() map[string]TaskConfig {
	return map[string]TaskConfig{
		"health_checks":    {Cadence: time.Minute, MaxRuntime: 30 * time.Second, MinInterval: time.Minute},
		"resource_watch":   {Cadence: time.Minute, MaxRuntime: 30 * time.Second, MinInterval: time.Minute},
		"self_heal":        {Cadence: 5 * time.Minute, MaxRuntime: time.Minute, MinInterval: 5 * time.Minute},
		"memory_stability": {Cadence: time.Hour, MaxRuntime: time.Minute, MinInterval: time.Hour},
		"leak_check":       {Cadence: 6 * time.Hour, MaxRuntime: 5 * time.Minute, MinInterval: 6 * time.Hour},
	}
}

func (s *SchedulerConfig) applyDefaults() {
	if s.Tick == 0 {
		s.Tick = time.Minute
	}

	merged := defaultTasks()
	for name, user := range s.Tasks {
		base := merged[name] // zero value for tasks the defaults don't know
		if user.Enabled != nil {
			base.Enabled = user.Enabled
		}
		if user.Cadence != 0 {
			base.Cadence = user.Cadence
		}
		if user.MaxRuntime != 0 {
			base.MaxRuntime = user.MaxRuntime
		}
		if user.MinInterval != 0 {
			base.MinInterval = user.MinInterval
		}
		merged[name] = base
	}
	s.Tasks = merged
}

// Validate checks scheduler sanity.
func (s *SchedulerConfig) Validate() error {
	if s.Tick < 0 {
		return fmt.Errorf("scheduler.tick must not be negative")
	}
	for name, task := range s.Tasks {
		if task.MinInterval < 0 {
			return fmt.Errorf("scheduler.tasks.%s.min_interval must not be negative", name)
		}
	}
	return nil
}
