// Package metrics - leak.go diagnoses memory growth from allocation
// accounting.
//
// DESIGN: LeakCheck diffs two point-in-time snapshots of the runtime's
// per-class memory counters. It is deliberately independent from the trend
// check in stats.go: that one watches OS-level memory, this one watches
// object-level accounting, and either can catch leaks the other misses.
// Growth is reported in absolute bytes - a percentage would divide by the
// very quantity under diagnosis.
package metrics

import (
	"context"
	"sort"
	"time"

	runtimemetrics "runtime/metrics"
)

// DefaultLeakContributors is the number of top growth classes reported.
const DefaultLeakContributors = 5

// HeapSnapshot maps an allocation class name to its current byte count.
type HeapSnapshot map[string]uint64

// SnapshotFunc produces a point-in-time allocation-accounting snapshot.
// Exposed as a capability so tests supply synthetic snapshots.
type SnapshotFunc func() HeapSnapshot

// Contributor is one allocation class and its growth between snapshots.
type Contributor struct {
	Class  string `json:"class"`
	Growth int64  `json:"growth_bytes"`
}

// LeakReport is the result of one leak check.
type LeakReport struct {
	Name         string        `json:"name"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	TotalGrowth  int64         `json:"total_growth_bytes"`
	Contributors []Contributor `json:"contributors"`
}

// runtimeSnapshot samples every /memory/classes/ counter.
func runtimeSnapshot() HeapSnapshot {
	descs := runtimemetrics.All()
	samples := make([]runtimemetrics.Sample, 0, len(descs))
	for _, d := range descs {
		if d.Kind == runtimemetrics.KindUint64 {
			samples = append(samples, runtimemetrics.Sample{Name: d.Name})
		}
	}
	runtimemetrics.Read(samples)

	snap := make(HeapSnapshot, len(samples))
	for _, s := range samples {
		if len(s.Name) > 16 && s.Name[:16] == "/memory/classes/" {
			snap[s.Name] = s.Value.Uint64()
		}
	}
	return snap
}

// SetSnapshotFunc replaces the allocation-accounting source.
func (s *Store) SetSnapshotFunc(fn SnapshotFunc) {
	s.snapshot = fn
}

// LeakCheck takes two snapshots separated by duration and returns the top
// growth contributors plus total growth. The wait is context-cancelable.
func (s *Store) LeakCheck(ctx context.Context, name string, duration time.Duration) (*LeakReport, error) {
	start := s.now()
	before := s.snapshot()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(duration):
	}

	after := s.snapshot()
	end := s.now()

	report := &LeakReport{Name: name, Start: start, End: end}
	for class, afterBytes := range after {
		growth := int64(afterBytes) - int64(before[class])
		report.TotalGrowth += growth
		if growth > 0 {
			report.Contributors = append(report.Contributors, Contributor{Class: class, Growth: growth})
		}
	}

	sort.Slice(report.Contributors, func(i, j int) bool {
		if report.Contributors[i].Growth != report.Contributors[j].Growth {
			return report.Contributors[i].Growth > report.Contributors[j].Growth
		}
		return report.Contributors[i].Class < report.Contributors[j].Class
	})
	if len(report.Contributors) > DefaultLeakContributors {
		report.Contributors = report.Contributors[:DefaultLeakContributors]
	}

	return report, nil
}
