// Package health runs named boolean probes, detects up/down transitions and
// accumulates the uptime/downtime ledger.
//
// DESIGN: A probe is func(ctx) error - nil means healthy. A panic inside a
// probe is recovered and treated as unhealthy with the panic text recorded.
// The ledger partitions observed time into contiguous up/down intervals:
// every transition carries the duration since the previous one, so summing
// durations per direction recovers total observed time.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opspulse/sentinel/internal/history"
	"github.com/opspulse/sentinel/internal/monitoring"
)

// Probe reports the health of one service. nil return means healthy.
type Probe func(ctx context.Context) error

// CheckResult is the outcome of one probe invocation.
type CheckResult struct {
	Healthy  bool          `json:"healthy"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Transition is one ledger entry. Duration is the length of the interval
// that just ended: From "up" means Duration of uptime, From "down" downtime.
type Transition struct {
	Service   string        `json:"service"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Summary is the folded ledger for one service.
type Summary struct {
	Uptime      time.Duration `json:"uptime"`
	Downtime    time.Duration `json:"downtime"`
	Transitions int           `json:"transitions"`
}

// Alerter is the critical-error path every unhealthy result goes through.
type Alerter interface {
	CriticalError(context string, err error) bool
}

// Recorder mirrors transitions into the structured history store.
type Recorder interface {
	Append(category string, record any) error
}

type serviceStatus struct {
	known          bool
	healthy        bool
	lastTransition time.Time
}

// Registry holds one probe per name and the per-service status.
type Registry struct {
	mu      sync.Mutex
	probes  map[string]Probe
	status  map[string]*serviceStatus
	ledger  []Transition
	alerter Alerter
	store   Recorder
	log     *monitoring.Logger

	now func() time.Time
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(alerter Alerter, store Recorder, log *monitoring.Logger) *Registry {
	return &Registry{
		probes:  make(map[string]Probe),
		status:  make(map[string]*serviceStatus),
		alerter: alerter,
		store:   store,
		log:     log.Component("health"),
		now:     time.Now,
	}
}

// Register stores one probe per name, replacing on re-registration.
// This is the only contract the monitored application must satisfy.
func (r *Registry) Register(name string, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = probe
}

// runProbe invokes one probe, converting a panic into an error.
func runProbe(ctx context.Context, probe Probe) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("probe panicked: %v", v)
		}
	}()
	return probe(ctx)
}

// RunAll invokes every registered probe and folds the results into the
// status map and transition ledger. Any unhealthy result - first detection
// or repeat - goes through the critical-error path.
func (r *Registry) RunAll(ctx context.Context) map[string]CheckResult {
	r.mu.Lock()
	probes := make(map[string]Probe, len(r.probes))
	for name, probe := range r.probes {
		probes[name] = probe
	}
	r.mu.Unlock()

	results := make(map[string]CheckResult, len(probes))
	for name, probe := range probes {
		start := time.Now()
		err := runProbe(ctx, probe)
		res := CheckResult{Healthy: err == nil, Duration: time.Since(start)}
		if err != nil {
			res.Err = err.Error()
		}
		results[name] = res

		r.observe(name, res, err)
	}

	if r.store != nil && len(results) > 0 {
		record := map[string]any{"timestamp": r.now(), "results": results}
		if err := r.store.Append(history.CategoryHealthChecks, record); err != nil {
			r.log.Error().Err(err).Msg("history_write_failed")
		}
	}

	return results
}

// observe updates one service's status from a probe result.
func (r *Registry) observe(name string, res CheckResult, probeErr error) {
	now := r.now()

	r.mu.Lock()
	st, ok := r.status[name]
	if !ok {
		st = &serviceStatus{}
		r.status[name] = st
	}

	var transition *Transition
	if !st.known {
		// First cycle for a new service: no transition regardless of result.
		st.known = true
		st.healthy = res.Healthy
		st.lastTransition = now
	} else if st.healthy != res.Healthy {
		tr := Transition{
			Service:   name,
			From:      direction(st.healthy),
			To:        direction(res.Healthy),
			Timestamp: now,
			Duration:  now.Sub(st.lastTransition),
		}
		r.ledger = append(r.ledger, tr)
		st.healthy = res.Healthy
		st.lastTransition = now
		transition = &tr
	}
	r.mu.Unlock()

	if transition != nil {
		r.log.Info().
			Str("service", name).
			Str("from", transition.From).
			Str("to", transition.To).
			Dur("interval", transition.Duration).
			Msg("health_transition")

		if r.store != nil {
			// A closed "up" interval is uptime, a closed "down" one downtime.
			category := history.CategoryServiceUptime
			if transition.From == "down" {
				category = history.CategoryServiceDowntime
			}
			if err := r.store.Append(category, transition); err != nil {
				r.log.Error().Err(err).Str("service", name).Msg("history_write_failed")
			}
		}
	}

	if !res.Healthy {
		r.alerter.CriticalError(name, probeErr)
	}
}

func direction(healthy bool) string {
	if healthy {
		return "up"
	}
	return "down"
}

// Status is the current recorded state of one service.
type Status struct {
	Name           string    `json:"name"`
	Healthy        bool      `json:"healthy"`
	LastTransition time.Time `json:"last_transition"`
}

// Statuses returns the current recorded state of every observed service.
func (r *Registry) Statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.status))
	for name, st := range r.status {
		if !st.known {
			continue
		}
		out[name] = Status{Name: name, Healthy: st.healthy, LastTransition: st.lastTransition}
	}
	return out
}

// Ledger returns a copy of the transition ledger.
func (r *Registry) Ledger() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.ledger))
	copy(out, r.ledger)
	return out
}

// UptimeDowntimeSummary folds the ledger into cumulative per-service totals.
// O(transitions), not O(cycles).
func (r *Registry) UptimeDowntimeSummary() map[string]Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Summary)
	for _, tr := range r.ledger {
		s := out[tr.Service]
		if tr.From == "up" {
			s.Uptime += tr.Duration
		} else {
			s.Downtime += tr.Duration
		}
		s.Transitions++
		out[tr.Service] = s
	}
	return out
}
