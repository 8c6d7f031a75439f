// Package recovery implements the staged self-healing state machine:
// probe -> soft remediation -> re-probe -> hard remediation -> escalate.
//
// DESIGN: The controller is stateless across calls; every Run starts at
// NOMINAL and the only persisted state is the append-only audit trail. The
// soft stage is never skippable - a transient spike must not become an
// availability incident - and the hard restart is the single irreversible
// action in the whole subsystem.
package recovery

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/opspulse/sentinel/internal/config"
	"github.com/opspulse/sentinel/internal/health"
	"github.com/opspulse/sentinel/internal/history"
	"github.com/opspulse/sentinel/internal/monitoring"
	"github.com/opspulse/sentinel/internal/resources"
)

// Stages of one recovery pass.
const (
	StageNominal = "NOMINAL"
	StageSoft    = "SOFT_RECOVERY_ATTEMPTED"
	StageHard    = "HARD_RESTART_TRIGGERED"
)

// Attempt outcomes.
const (
	OutcomeResolved  = "resolved"
	OutcomeEscalated = "escalated"
)

// Attempt is one audit-trail entry. Append-only.
type Attempt struct {
	Stage     string    `json:"stage"` // soft or hard
	Reason    string    `json:"reason"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Alerter is the controller's egress for critical conditions.
type Alerter interface {
	CriticalError(context string, err error) bool
	Dispatch(subject, body string, dedupKey ...string)
}

// Recorder persists recovery attempts.
type Recorder interface {
	Append(category string, record any) error
}

// Controller drives the staged recovery state machine.
type Controller struct {
	cfg        config.RecoveryConfig
	sampler    resources.Sampler
	probe      health.Probe // nil when no endpoint is configured
	supervisor Supervisor
	alerter    Alerter
	store      Recorder
	log        *monitoring.Logger

	mu       sync.Mutex
	attempts []Attempt
	cleanups []func()

	now func() time.Time
}

// NewController creates a controller. store may be nil.
func NewController(cfg config.RecoveryConfig, sampler resources.Sampler, supervisor Supervisor, alerter Alerter, store Recorder, log *monitoring.Logger) *Controller {
	c := &Controller{
		cfg:        cfg,
		sampler:    sampler,
		supervisor: supervisor,
		alerter:    alerter,
		store:      store,
		log:        log.Component("recovery"),
		now:        time.Now,
	}
	if cfg.HealthEndpoint != "" {
		c.probe = health.HTTPProbe(cfg.HealthEndpoint, cfg.ProbeTimeout)
	}
	return c
}

// AddCleanup registers an extra zero-downtime remediation hook run during
// the soft stage.
func (c *Controller) AddCleanup(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// Attempts returns a copy of the audit trail.
func (c *Controller) Attempts() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Attempt, len(c.attempts))
	copy(out, c.attempts)
	return out
}

// check probes the health endpoint and samples resources against the
// configured thresholds. Violations escalate through the stages; an
// evaluation error is ambiguous and only ever reaches the alert path.
func (c *Controller) check(ctx context.Context) (violations []string, evalErr error) {
	if c.probe != nil {
		if err := c.probe(ctx); err != nil {
			violations = append(violations, fmt.Sprintf("health endpoint unhealthy: %v", err))
		}
	}

	usage, err := c.sampler.Sample(ctx)
	if err != nil {
		return violations, err
	}

	if usage.ProcessMemoryPct > c.cfg.ProcessMemoryPct {
		violations = append(violations, fmt.Sprintf("process memory %.1f%% exceeds %.0f%%", usage.ProcessMemoryPct, c.cfg.ProcessMemoryPct))
	}
	if usage.ProcessCPUPct > c.cfg.ProcessCPUPct {
		violations = append(violations, fmt.Sprintf("process cpu %.1f%% exceeds %.0f%%", usage.ProcessCPUPct, c.cfg.ProcessCPUPct))
	}
	if usage.SystemMemoryPct > c.cfg.SystemMemoryPct {
		violations = append(violations, fmt.Sprintf("system memory %.1f%% exceeds %.0f%%", usage.SystemMemoryPct, c.cfg.SystemMemoryPct))
	}
	return violations, nil
}

func (c *Controller) record(attempt Attempt) {
	c.mu.Lock()
	c.attempts = append(c.attempts, attempt)
	c.mu.Unlock()

	if c.store != nil {
		category := history.CategoryRecoverySuccess
		if err := c.store.Append(category, attempt); err != nil {
			c.log.Error().Err(err).Str("stage", attempt.Stage).Msg("history_write_failed")
		}
	}
}

// softRemediate performs the zero-downtime in-process cleanup pass.
func (c *Controller) softRemediate() {
	runtime.GC()
	debug.FreeOSMemory()

	c.mu.Lock()
	cleanups := make([]func(), len(c.cleanups))
	copy(cleanups, c.cleanups)
	c.mu.Unlock()
	for _, fn := range cleanups {
		fn()
	}
}

// Run executes one recovery pass. Returns false when everything was nominal,
// true when a soft remediation resolved the incident. It does not return at
// all when the hard restart succeeds; a failed respawn returns its error
// after a critical alert.
func (c *Controller) Run(ctx context.Context) (bool, error) {
	violations, evalErr := c.check(ctx)
	if evalErr != nil {
		// Ambiguous signal: alert, never restart on it.
		c.log.Warn().Err(evalErr).Msg("evaluation_failed")
		c.alerter.CriticalError("recovery evaluation", evalErr)
	}
	if len(violations) == 0 {
		return false, nil
	}

	reason := strings.Join(violations, "; ")
	c.log.Warn().Str("stage", StageSoft).Str("reason", reason).Msg("soft_recovery")
	c.record(Attempt{Stage: "soft", Reason: reason, Timestamp: c.now()})
	c.softRemediate()

	violations, evalErr = c.check(ctx)
	if evalErr != nil {
		c.log.Warn().Err(evalErr).Msg("evaluation_failed")
		c.alerter.CriticalError("recovery evaluation", evalErr)
	}
	if len(violations) == 0 {
		c.record(Attempt{Stage: "soft", Reason: reason, Outcome: OutcomeResolved, Timestamp: c.now()})
		c.log.Info().Msg("soft_recovery_resolved")
		return true, nil
	}

	reason = strings.Join(violations, "; ")
	c.record(Attempt{Stage: "hard", Reason: reason, Outcome: OutcomeEscalated, Timestamp: c.now()})
	c.alerter.Dispatch("Hard restart triggered", fmt.Sprintf("Soft recovery did not resolve: %s", reason), "recovery.hard")
	c.log.Error().Str("stage", StageHard).Str("reason", reason).Msg("hard_restart")

	if err := c.supervisor.Respawn(); err != nil {
		c.alerter.Dispatch("Hard restart failed", err.Error(), "recovery.respawn")
		return true, fmt.Errorf("respawn failed: %w", err)
	}
	return true, nil
}
