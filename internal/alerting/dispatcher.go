// Package alerting evaluates alert conditions, deduplicates them per key,
// and is the single egress point from sentinel to operators.
//
// DESIGN: Every Evaluate* call collects trigger reasons, then dispatches at
// most once per key per cooldown window. Dispatch writes the durable log
// first, mirrors into the history store, and only then attempts SMTP
// transmission; a transmission failure is logged and absorbed. No method of
// the Dispatcher ever panics or returns an error to the caller - the host
// application's request path must not notice a broken alert channel.
package alerting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opspulse/sentinel/internal/config"
	"github.com/opspulse/sentinel/internal/history"
	"github.com/opspulse/sentinel/internal/monitoring"
)

// Resource sub-keys checked by EvaluateResource.
const (
	KeyResourceMemory = "resource.memory"
	KeyResourceCPU    = "resource.cpu"
	KeyResourceGPU    = "resource.gpu"
)

// Built-in resource thresholds (percent), overridable per key in config.
const (
	defaultMemoryPct = 80.0
	defaultCPUPct    = 90.0
	defaultGPUPct    = 90.0
)

// EventSink receives the durable event log line for every alert.
type EventSink interface {
	Append(line history.AlertLine) error
}

// Recorder mirrors alert events into the structured history store.
type Recorder interface {
	Append(category string, record any) error
}

// Mailer transmits one alert externally.
type Mailer interface {
	Send(subject, body string) error
}

// Event is one dispatched alert. Append-only, never mutated.
type Event struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	DedupKey  string    `json:"dedup_key,omitempty"`
}

// keyState is the per-key mutable alerting state.
type keyState struct {
	lastAlert time.Time
	failures  int
}

// Dispatcher owns all per-key alert state.
type Dispatcher struct {
	cfg    config.AlertsConfig
	sink   EventSink
	store  Recorder
	mailer Mailer // nil disables transmission
	log    *monitoring.Logger

	mu    sync.Mutex
	state map[string]*keyState

	now func() time.Time
}

// NewDispatcher creates a dispatcher. mailer may be nil.
func NewDispatcher(cfg config.AlertsConfig, sink EventSink, store Recorder, mailer Mailer, log *monitoring.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		store:  store,
		mailer: mailer,
		log:    log.Component("alerting"),
		state:  make(map[string]*keyState),
		now:    time.Now,
	}
}

func (d *Dispatcher) key(name string) *keyState {
	ks, ok := d.state[name]
	if !ok {
		ks = &keyState{}
		d.state[name] = ks
	}
	return ks
}

// cooldownElapsed reports whether the key may alert again at time t.
func (d *Dispatcher) cooldownElapsed(ks *keyState, key string, t time.Time) bool {
	return ks.lastAlert.IsZero() || t.Sub(ks.lastAlert) >= d.cfg.Cooldown(key)
}

// EvaluateLatency checks one timed call against its latency threshold and
// the key's consecutive-failure limit. Returns whether an alert fired.
func (d *Dispatcher) EvaluateLatency(key string, latency time.Duration, success bool, threshold time.Duration) bool {
	d.mu.Lock()

	ks := d.key(key)
	var reasons []string

	if threshold > 0 && latency > threshold {
		reasons = append(reasons, fmt.Sprintf("High latency: %.2fs", latency.Seconds()))
	}

	if success {
		ks.failures = 0
	} else {
		ks.failures++
	}
	if limit := d.cfg.FailureLimit(key); ks.failures >= limit {
		reasons = append(reasons, fmt.Sprintf("Consecutive failures: %d", ks.failures))
	}

	now := d.now()
	fire := len(reasons) > 0 && d.cooldownElapsed(ks, key, now)
	if fire {
		ks.lastAlert = now
	}
	d.mu.Unlock()

	if fire {
		d.Dispatch(fmt.Sprintf("Alert: %s", key), strings.Join(reasons, "; "), key)
	}
	return fire
}

// EvaluateErrorRate checks the errors/total ratio against a threshold.
// Stateless apart from the cooldown stamp; total 0 never fires.
func (d *Dispatcher) EvaluateErrorRate(key string, total, errors int, threshold float64) bool {
	if total <= 0 {
		return false
	}

	rate := float64(errors) / float64(total)
	if rate <= threshold {
		return false
	}

	d.mu.Lock()
	ks := d.key(key)
	now := d.now()
	fire := d.cooldownElapsed(ks, key, now)
	if fire {
		ks.lastAlert = now
	}
	d.mu.Unlock()

	if fire {
		body := fmt.Sprintf("High error rate: %.1f%% (%d/%d)", rate*100, errors, total)
		d.Dispatch(fmt.Sprintf("Alert: %s", key), body, key)
	}
	return fire
}

// resourceThreshold resolves the effective threshold for a resource sub-key.
func (d *Dispatcher) resourceThreshold(key string, builtin float64) float64 {
	if rule, ok := d.cfg.Rules[key]; ok && rule.Threshold > 0 {
		return rule.Threshold
	}
	return builtin
}

// EvaluateResource checks up to three resource percentages. Simultaneous
// breaches coalesce into one message; the cooldown is stamped per sub-key so
// an independent later breach still fires on its own.
func (d *Dispatcher) EvaluateResource(memoryPct, cpuPct, gpuPct *float64) bool {
	type check struct {
		key       string
		label     string
		value     *float64
		threshold float64
	}
	checks := []check{
		{KeyResourceMemory, "Memory", memoryPct, d.resourceThreshold(KeyResourceMemory, defaultMemoryPct)},
		{KeyResourceCPU, "CPU", cpuPct, d.resourceThreshold(KeyResourceCPU, defaultCPUPct)},
		{KeyResourceGPU, "GPU", gpuPct, d.resourceThreshold(KeyResourceGPU, defaultGPUPct)},
	}

	d.mu.Lock()
	now := d.now()
	var parts []string
	for _, c := range checks {
		if c.value == nil || *c.value <= c.threshold {
			continue
		}
		ks := d.key(c.key)
		if !d.cooldownElapsed(ks, c.key, now) {
			continue
		}
		ks.lastAlert = now
		parts = append(parts, fmt.Sprintf("%s: %.1f%% (limit %.0f%%)", c.label, *c.value, c.threshold))
	}
	d.mu.Unlock()

	if len(parts) == 0 {
		return false
	}
	d.Dispatch("Resource threshold exceeded", strings.Join(parts, "; "), "resource")
	return true
}

// CriticalError is the unconditional-severity path used by health checks and
// recovery. Still deduplicated per context so a flapping service cannot
// storm the operator.
func (d *Dispatcher) CriticalError(context string, err error) bool {
	key := "critical." + context

	d.mu.Lock()
	ks := d.key(key)
	now := d.now()
	fire := d.cooldownElapsed(ks, key, now)
	if fire {
		ks.lastAlert = now
	}
	d.mu.Unlock()

	if fire {
		body := context
		if err != nil {
			body = fmt.Sprintf("%s: %v", context, err)
		}
		d.Dispatch("Critical error", body, key)
	}
	return fire
}

// Dispatch persists and transmits one alert. The durable log write comes
// first and is never blocked by transmission; every failure is absorbed.
func (d *Dispatcher) Dispatch(subject, body string, dedupKey ...string) {
	event := Event{
		ID:        uuid.NewString(),
		Subject:   subject,
		Body:      body,
		Timestamp: d.now(),
	}
	if len(dedupKey) > 0 {
		event.DedupKey = dedupKey[0]
	}

	if d.sink != nil {
		if err := d.sink.Append(history.AlertLine{Timestamp: event.Timestamp, Subject: subject, Body: body}); err != nil {
			d.log.Error().Err(err).Str("subject", subject).Msg("event_log_write_failed")
		}
	}

	if d.store != nil {
		if err := d.store.Append(history.CategoryAlerts, event); err != nil {
			d.log.Error().Err(err).Str("subject", subject).Msg("history_write_failed")
		}
	}

	d.log.Warn().Str("subject", subject).Str("body", body).Msg("alert_dispatched")

	if d.mailer != nil {
		if err := d.mailer.Send(subject, body); err != nil {
			d.log.Error().Err(err).Str("subject", subject).Msg("transmission_failed")
		}
	}
}
