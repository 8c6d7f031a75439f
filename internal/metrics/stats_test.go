package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out timestamps advancing by step per call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestStore(step time.Duration) (*Store, *fakeClock) {
	clock := newFakeClock(step)
	s := NewStore()
	s.now = clock.now
	return s, clock
}

func TestWindowStats_Empty(t *testing.T) {
	s, _ := newTestStore(time.Second)

	stats := s.WindowStats("missing", time.Hour)

	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, 0.0, stats.Slope)
}

func TestWindowStats_SingleSample(t *testing.T) {
	s, _ := newTestStore(time.Second)
	s.Record("api.latency", 1.5, "s", nil)

	stats := s.WindowStats("api.latency", time.Hour)

	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1.5, stats.Min)
	assert.Equal(t, 1.5, stats.Max)
	assert.Equal(t, 1.5, stats.Mean)
	assert.Equal(t, 0.0, stats.Slope)
}

func TestWindowStats_KnownSlope(t *testing.T) {
	s, _ := newTestStore(time.Second)
	for i := 1; i <= 5; i++ {
		s.Record("counter", float64(i), "", nil)
	}

	stats := s.WindowStats("counter", time.Hour)

	assert.Equal(t, 5, stats.Count)
	assert.InDelta(t, 1.0, stats.Slope, 1e-9)
	assert.InDelta(t, 3.0, stats.Mean, 1e-9)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 5.0, stats.Max)
}

func TestWindowStats_ExcludesOldSamples(t *testing.T) {
	s, clock := newTestStore(time.Minute)

	s.Record("mem", 100, "mb", nil)
	s.Record("mem", 100, "mb", nil)
	clock.t = clock.t.Add(3 * time.Hour)
	s.Record("mem", 5, "mb", nil)

	stats := s.WindowStats("mem", time.Hour)

	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 5.0, stats.Mean)
}

func TestStabilityReport_MonotonicIncreasing(t *testing.T) {
	s, _ := newTestStore(time.Second)
	for i := 0; i < 50; i++ {
		s.Record("mem", float64(i), "mb", nil)
	}

	reports := s.StabilityReport("mem", 24*time.Hour)

	require.Len(t, reports, 1)
	assert.Equal(t, LabelIncreasing, reports[0].Label)
	assert.InDelta(t, 1.0, reports[0].Stats.Slope, 1e-9)
}

func TestStabilityReport_Constant(t *testing.T) {
	s, _ := newTestStore(time.Second)
	for i := 0; i < 50; i++ {
		s.Record("mem", 42, "mb", nil)
	}

	reports := s.StabilityReport("mem", 24*time.Hour)

	require.Len(t, reports, 1)
	assert.Equal(t, LabelStable, reports[0].Label)
	assert.Empty(t, reports[0].AnomalyIndices)
}

func TestStabilityReport_Decreasing(t *testing.T) {
	s, _ := newTestStore(time.Second)
	for i := 0; i < 50; i++ {
		s.Record("disk", float64(100 - i), "gb", nil)
	}

	reports := s.StabilityReport("disk", 24*time.Hour)

	require.Len(t, reports, 1)
	assert.Equal(t, LabelDecreasing, reports[0].Label)
}

func TestStabilityReport_DefaultWindows(t *testing.T) {
	s, _ := newTestStore(time.Second)
	s.Record("mem", 1, "mb", nil)

	reports := s.StabilityReport("mem")

	require.Len(t, reports, 4)
	assert.Equal(t, time.Hour, reports[0].Window)
	assert.Equal(t, 7*24*time.Hour, reports[3].Window)
}

func TestStabilityReport_FlagsAnomalies(t *testing.T) {
	s, _ := newTestStore(time.Second)
	for i := 0; i < 49; i++ {
		s.Record("latency", 10, "ms", nil)
	}
	s.Record("latency", 1000, "ms", nil)

	reports := s.StabilityReport("latency", 24*time.Hour)

	require.Len(t, reports, 1)
	assert.Equal(t, []int{49}, reports[0].AnomalyIndices)
}

func TestRecord_NeverRejectsInput(t *testing.T) {
	s, _ := newTestStore(time.Second)

	// Malformed input is the caller's problem; Record must still not blow up.
	s.Record("", -1e308, "", map[string]string{"": ""})
	s.Record("weird", 0, "", nil)

	assert.Equal(t, 1, s.Len(""))
	assert.Equal(t, 1, s.Len("weird"))
}

func TestRecord_PrunesBeyondRetention(t *testing.T) {
	s, _ := newTestStore(time.Second)
	s.retention = 10

	for i := 0; i < 25; i++ {
		s.Record("busy", float64(i), "", nil)
	}

	samples := s.Samples("busy")
	require.Len(t, samples, 10)
	assert.Equal(t, 15.0, samples[0].Value)
	assert.Equal(t, 24.0, samples[9].Value)
}
