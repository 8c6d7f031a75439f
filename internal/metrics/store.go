// Package metrics keeps time-series history of named numeric samples and
// derives window statistics, trend labels and leak reports from it.
//
// DESIGN: Producers append from arbitrary goroutines; analysis runs on the
// scheduler thread. Record takes the lock only long enough to append, and
// every analysis snapshots the sample slice first, so producers never block
// on analysis and analysis tolerates concurrent appends.
package metrics

import (
	"sync"
	"time"
)

// DefaultRetention caps the samples kept per metric name.
const DefaultRetention = 10_000

// Sample is one immutable recorded measurement.
type Sample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Store is the append-only metric history.
type Store struct {
	mu        sync.Mutex
	series    map[string][]Sample
	retention int

	now      func() time.Time
	snapshot SnapshotFunc // allocation-accounting source for LeakCheck
}

// NewStore creates an empty metric store with default retention.
func NewStore() *Store {
	return &Store{
		series:    make(map[string][]Sample),
		retention: DefaultRetention,
		now:       time.Now,
		snapshot:  runtimeSnapshot,
	}
}

// Record appends a sample. It never fails: validation is the caller's
// responsibility, and a monitoring write must not disturb the host app.
func (s *Store) Record(name string, value float64, unit string, tags map[string]string) {
	sample := Sample{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Timestamp: s.now(),
		Tags:      tags,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := append(s.series[name], sample)
	if len(samples) > s.retention {
		samples = samples[len(samples)-s.retention:]
	}
	s.series[name] = samples
}

// Samples returns a copy of the recorded samples for a name.
func (s *Store) Samples(name string) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Sample, len(s.series[name]))
	copy(out, s.series[name])
	return out
}

// Len returns the number of retained samples for a name.
func (s *Store) Len(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series[name])
}

// windowSamples snapshots the samples of name recorded within window of now.
func (s *Store) windowSamples(name string, window time.Duration) []Sample {
	cutoff := s.now().Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.series[name]
	// Samples are append-ordered by time; find the first inside the window.
	i := len(samples)
	for i > 0 && !samples[i-1].Timestamp.Before(cutoff) {
		i--
	}

	out := make([]Sample, len(samples)-i)
	copy(out, samples[i:])
	return out
}
