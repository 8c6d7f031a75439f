package alerting

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/sentinel/internal/config"
	"github.com/opspulse/sentinel/internal/history"
	"github.com/opspulse/sentinel/internal/monitoring"
)

type capturingSink struct {
	mu    sync.Mutex
	lines []history.AlertLine
	fail  bool
}

func (s *capturingSink) Append(line history.AlertLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.lines = append(s.lines, line)
	return nil
}

type capturingRecorder struct {
	mu      sync.Mutex
	records []any
	fail    bool
}

func (r *capturingRecorder) Append(category string, record any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("db locked")
	}
	r.records = append(r.records, record)
	return nil
}

type capturingMailer struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	fail     bool
}

func (m *capturingMailer) Send(subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("relay unreachable")
	}
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return nil
}

type testEnv struct {
	d      *Dispatcher
	sink   *capturingSink
	store  *capturingRecorder
	mailer *capturingMailer
	clock  time.Time
}

func newTestEnv(cfg config.AlertsConfig) *testEnv {
	if cfg.DefaultCooldown == 0 {
		cfg.DefaultCooldown = 5 * time.Minute
	}
	if cfg.DefaultFailureLimit == 0 {
		cfg.DefaultFailureLimit = 3
	}

	env := &testEnv{
		sink:   &capturingSink{},
		store:  &capturingRecorder{},
		mailer: &capturingMailer{},
		clock:  time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	log := monitoring.New(monitoring.LoggerConfig{Level: "disabled"})
	env.d = NewDispatcher(cfg, env.sink, env.store, env.mailer, log)
	env.d.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) advance(d time.Duration) { e.clock = e.clock.Add(d) }

func TestEvaluateLatency_HighLatencyFires(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	fired := env.d.EvaluateLatency("api.latency", 6*time.Second, true, 5*time.Second)

	assert.True(t, fired)
	require.Len(t, env.mailer.bodies, 1)
	assert.Contains(t, env.mailer.bodies[0], "High latency: 6.00s")
	require.Len(t, env.sink.lines, 1)
	assert.Contains(t, env.sink.lines[0].Body, "High latency: 6.00s")
}

func TestEvaluateLatency_UnderThresholdSilent(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	fired := env.d.EvaluateLatency("api.latency", 2*time.Second, true, 5*time.Second)

	assert.False(t, fired)
	assert.Empty(t, env.sink.lines)
}

func TestEvaluateLatency_ConsecutiveFailureCycle(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	// Two failures stay under the limit of 3.
	assert.False(t, env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second))
	assert.False(t, env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second))

	// Third consecutive failure alerts once.
	assert.True(t, env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second))
	require.Len(t, env.sink.lines, 1)
	assert.Contains(t, env.sink.lines[0].Body, "Consecutive failures: 3")

	// Fourth failure inside the cooldown does not re-alert.
	env.advance(time.Minute)
	assert.False(t, env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second))
	assert.Len(t, env.sink.lines, 1)

	// After the cooldown, the fifth failure alerts again.
	env.advance(5 * time.Minute)
	assert.True(t, env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second))
	require.Len(t, env.sink.lines, 2)
	assert.Contains(t, env.sink.lines[1].Body, "Consecutive failures: 5")
}

func TestEvaluateLatency_SuccessResetsCounter(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second)
	env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second)
	env.d.EvaluateLatency("svc", time.Second, true, 5*time.Second)

	// A single failure after the reset must not re-trigger.
	fired := env.d.EvaluateLatency("svc", time.Second, false, 5*time.Second)

	assert.False(t, fired)
	assert.Empty(t, env.sink.lines)
}

func TestEvaluateLatency_CooldownNeverViolated(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{DefaultCooldown: 2 * time.Minute})

	var fireTimes []time.Time
	for i := 0; i < 40; i++ {
		if env.d.EvaluateLatency("api", 10*time.Second, true, time.Second) {
			fireTimes = append(fireTimes, env.clock)
		}
		env.advance(30 * time.Second)
	}

	require.NotEmpty(t, fireTimes)
	for i := 1; i < len(fireTimes); i++ {
		gap := fireTimes[i].Sub(fireTimes[i-1])
		assert.GreaterOrEqual(t, gap, 2*time.Minute, "alerts %d and %d too close", i-1, i)
	}
}

func TestEvaluateErrorRate(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	assert.False(t, env.d.EvaluateErrorRate("ingest", 0, 0, 0.1), "no traffic never fires")
	assert.False(t, env.d.EvaluateErrorRate("ingest", 100, 5, 0.1))

	assert.True(t, env.d.EvaluateErrorRate("ingest", 100, 25, 0.1))
	require.Len(t, env.sink.lines, 1)
	assert.Contains(t, env.sink.lines[0].Body, "High error rate: 25.0%")

	// Still breaching inside the cooldown: deduplicated.
	assert.False(t, env.d.EvaluateErrorRate("ingest", 100, 30, 0.1))
}

func TestEvaluateResource_CoalescesSimultaneousBreaches(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	mem, cpu := 85.0, 95.0
	fired := env.d.EvaluateResource(&mem, &cpu, nil)

	assert.True(t, fired)
	require.Len(t, env.sink.lines, 1)
	assert.Contains(t, env.sink.lines[0].Body, "Memory: 85.0%")
	assert.Contains(t, env.sink.lines[0].Body, "CPU: 95.0%")
}

func TestEvaluateResource_PerSubKeyCooldown(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	mem := 85.0
	require.True(t, env.d.EvaluateResource(&mem, nil, nil))

	// Memory is cooling down, but a fresh CPU breach fires independently.
	env.advance(time.Minute)
	cpu := 95.0
	fired := env.d.EvaluateResource(&mem, &cpu, nil)

	assert.True(t, fired)
	require.Len(t, env.sink.lines, 2)
	assert.Contains(t, env.sink.lines[1].Body, "CPU: 95.0%")
	assert.NotContains(t, env.sink.lines[1].Body, "Memory")
}

func TestEvaluateResource_WithinThresholds(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	mem, cpu, gpu := 50.0, 50.0, 50.0
	assert.False(t, env.d.EvaluateResource(&mem, &cpu, &gpu))
	assert.Empty(t, env.sink.lines)
}

func TestEvaluateResource_ConfiguredThreshold(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{
		Rules: map[string]config.AlertRule{
			KeyResourceMemory: {Threshold: 95},
		},
	})

	mem := 90.0
	assert.False(t, env.d.EvaluateResource(&mem, nil, nil), "90%% is under the raised limit")

	mem = 96.0
	assert.True(t, env.d.EvaluateResource(&mem, nil, nil))
}

func TestCriticalError_Deduplicated(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	assert.True(t, env.d.CriticalError("database", errors.New("connection refused")))
	assert.False(t, env.d.CriticalError("database", errors.New("connection refused")))

	// A different context has its own cooldown.
	assert.True(t, env.d.CriticalError("cache", errors.New("timeout")))

	env.advance(6 * time.Minute)
	assert.True(t, env.d.CriticalError("database", errors.New("still down")))
}

func TestDispatch_DurableWriteBeforeTransmission(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})
	env.mailer.fail = true

	env.d.Dispatch("subject", "body")

	// Transmission failure never blocks or undoes the durable writes.
	require.Len(t, env.sink.lines, 1)
	assert.Len(t, env.store.records, 1)
}

func TestEvaluate_AbsorbsPersistenceFailures(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})
	env.sink.fail = true
	env.store.fail = true
	env.mailer.fail = true

	assert.NotPanics(t, func() {
		fired := env.d.EvaluateLatency("api", 10*time.Second, true, time.Second)
		assert.True(t, fired)
	})
}

func TestDispatcher_ConcurrentSameKeyNoDoubleAlert(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	var wg sync.WaitGroup
	fires := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fires <- env.d.EvaluateLatency("api", 10*time.Second, true, time.Second)
		}()
	}
	wg.Wait()
	close(fires)

	count := 0
	for fired := range fires {
		if fired {
			count++
		}
	}
	assert.Equal(t, 1, count, "simultaneous breaches on one key must alert once")
}

func TestDispatch_EventRecordShape(t *testing.T) {
	env := newTestEnv(config.AlertsConfig{})

	env.d.Dispatch("subject", "body", "some.key")

	require.Len(t, env.store.records, 1)
	event, ok := env.store.records[0].(Event)
	require.True(t, ok, fmt.Sprintf("unexpected record type %T", env.store.records[0]))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "some.key", event.DedupKey)
	assert.Equal(t, env.clock, event.Timestamp)
}
