package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/sentinel/internal/history"
	"github.com/opspulse/sentinel/internal/monitoring"
)

type fakeAlerter struct {
	mu       sync.Mutex
	contexts []string
}

func (a *fakeAlerter) CriticalError(context string, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contexts = append(a.contexts, context)
	return true
}

type fakeRecorder struct {
	mu         sync.Mutex
	categories []string
}

func (r *fakeRecorder) Append(category string, record any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = append(r.categories, category)
	return nil
}

func (r *fakeRecorder) count(category string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.categories {
		if c == category {
			n++
		}
	}
	return n
}

// scriptedProbe returns the scripted results one per call, healthy when true.
func scriptedProbe(results []bool) Probe {
	i := 0
	return func(ctx context.Context) error {
		healthy := results[i]
		if i < len(results)-1 {
			i++
		}
		if healthy {
			return nil
		}
		return errors.New("service unavailable")
	}
}

type registryEnv struct {
	r        *Registry
	alerter  *fakeAlerter
	recorder *fakeRecorder
	clock    time.Time
}

func newRegistryEnv() *registryEnv {
	env := &registryEnv{
		alerter:  &fakeAlerter{},
		recorder: &fakeRecorder{},
		clock:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	log := monitoring.New(monitoring.LoggerConfig{Level: "disabled"})
	env.r = NewRegistry(env.alerter, env.recorder, log)
	env.r.now = func() time.Time { return env.clock }
	return env
}

func (e *registryEnv) advance(d time.Duration) { e.clock = e.clock.Add(d) }

func TestRunAll_ReturnsResults(t *testing.T) {
	env := newRegistryEnv()
	env.r.Register("db", func(ctx context.Context) error { return nil })
	env.r.Register("cache", func(ctx context.Context) error { return errors.New("timeout") })

	results := env.r.RunAll(context.Background())

	require.Len(t, results, 2)
	assert.True(t, results["db"].Healthy)
	assert.Empty(t, results["db"].Err)
	assert.False(t, results["cache"].Healthy)
	assert.Equal(t, "timeout", results["cache"].Err)
}

func TestRunAll_FirstCycleNoTransitionButAlerts(t *testing.T) {
	env := newRegistryEnv()
	env.r.Register("db", func(ctx context.Context) error { return errors.New("down") })

	env.r.RunAll(context.Background())

	assert.Empty(t, env.r.Ledger(), "first cycle records no transition")
	assert.Equal(t, []string{"db"}, env.alerter.contexts, "but still alerts when unhealthy")
}

func TestRunAll_TransitionLedger(t *testing.T) {
	env := newRegistryEnv()
	// Probe results true,true,false,false,true over 5 cycles.
	env.r.Register("api", scriptedProbe([]bool{true, true, false, false, true}))

	for i := 0; i < 5; i++ {
		env.r.RunAll(context.Background())
		env.advance(time.Minute)
	}

	ledger := env.r.Ledger()
	require.Len(t, ledger, 2, "exactly two transitions: up->down and down->up")

	assert.Equal(t, "up", ledger[0].From)
	assert.Equal(t, "down", ledger[0].To)
	assert.Equal(t, 2*time.Minute, ledger[0].Duration)

	assert.Equal(t, "down", ledger[1].From)
	assert.Equal(t, "up", ledger[1].To)
	assert.Equal(t, 2*time.Minute, ledger[1].Duration)

	// Cycles 3 and 4 each independently invoke the critical-error path.
	assert.Equal(t, []string{"api", "api"}, env.alerter.contexts)

	// The finished up interval mirrors as uptime, the down one as downtime.
	assert.Equal(t, 1, env.recorder.count(history.CategoryServiceUptime))
	assert.Equal(t, 1, env.recorder.count(history.CategoryServiceDowntime))
}

func TestRunAll_PanickingProbeIsUnhealthy(t *testing.T) {
	env := newRegistryEnv()
	env.r.Register("flaky", func(ctx context.Context) error { panic("boom") })

	results := env.r.RunAll(context.Background())

	require.Contains(t, results, "flaky")
	assert.False(t, results["flaky"].Healthy)
	assert.Contains(t, results["flaky"].Err, "boom")
}

func TestRegister_ReplacesProbe(t *testing.T) {
	env := newRegistryEnv()
	env.r.Register("svc", func(ctx context.Context) error { return errors.New("old") })
	env.r.Register("svc", func(ctx context.Context) error { return nil })

	results := env.r.RunAll(context.Background())

	assert.True(t, results["svc"].Healthy)
}

func TestUptimeDowntimeSummary_TotalsMatchLedger(t *testing.T) {
	env := newRegistryEnv()
	env.r.Register("api", scriptedProbe([]bool{true, false, true, false, false, true, true}))

	intervals := []time.Duration{
		time.Minute, 3 * time.Minute, 30 * time.Second,
		2 * time.Minute, time.Minute, 45 * time.Second, time.Minute,
	}
	for _, d := range intervals {
		env.r.RunAll(context.Background())
		env.advance(d)
	}

	var wantUp, wantDown time.Duration
	for _, tr := range env.r.Ledger() {
		if tr.From == "up" {
			wantUp += tr.Duration
		} else {
			wantDown += tr.Duration
		}
	}

	summary := env.r.UptimeDowntimeSummary()
	require.Contains(t, summary, "api")
	assert.Equal(t, wantUp, summary["api"].Uptime)
	assert.Equal(t, wantDown, summary["api"].Downtime)
	assert.Equal(t, len(env.r.Ledger()), summary["api"].Transitions)

	// The ledger partitions observed time into contiguous intervals.
	assert.Equal(t, wantUp+wantDown, summary["api"].Uptime+summary["api"].Downtime)
}

func TestStatuses_ReflectLastCycle(t *testing.T) {
	env := newRegistryEnv()
	env.r.Register("api", scriptedProbe([]bool{true, false}))

	env.r.RunAll(context.Background())
	env.advance(time.Minute)
	env.r.RunAll(context.Background())

	statuses := env.r.Statuses()
	require.Contains(t, statuses, "api")
	assert.False(t, statuses["api"].Healthy)
	assert.Equal(t, env.clock, statuses["api"].LastTransition)
}

func TestRunAll_MirrorsCycleIntoHistory(t *testing.T) {
	env := newRegistryEnv()
	env.r.Register("db", func(ctx context.Context) error { return nil })

	env.r.RunAll(context.Background())

	assert.Equal(t, 1, env.recorder.count(history.CategoryHealthChecks))
}
