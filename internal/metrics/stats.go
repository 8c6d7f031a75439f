// Package metrics - stats.go computes window statistics and trend labels.
package metrics

import (
	"math"
	"time"
)

// SlopeEpsilon separates "stable" from a real trend, in units per sample.
const SlopeEpsilon = 0.05

// AnomalyZScore flags samples this many standard deviations from the mean.
const AnomalyZScore = 3.0

// Stability labels.
const (
	LabelStable     = "stable"
	LabelIncreasing = "increasing"
	LabelDecreasing = "decreasing"
)

// Stats summarizes one window of samples.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
	Slope  float64 `json:"slope"` // units per sample, OLS over sample index
}

// TrendReport labels one window. Derived, never persisted as-is.
type TrendReport struct {
	Window         time.Duration `json:"window"`
	Stats          Stats         `json:"stats"`
	Label          string        `json:"label"`
	AnomalyIndices []int         `json:"anomaly_indices,omitempty"`
}

// DefaultStabilityWindows are the windows StabilityReport inspects when the
// caller passes none.
var DefaultStabilityWindows = []time.Duration{
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// WindowStats computes min/max/mean/stddev and OLS slope over the samples of
// name recorded within window. Empty and single-sample windows yield slope 0.
func (s *Store) WindowStats(name string, window time.Duration) Stats {
	return computeStats(s.windowSamples(name, window))
}

func computeStats(samples []Sample) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	st := Stats{Count: n, Min: samples[0].Value, Max: samples[0].Value}
	var sum float64
	for _, sample := range samples {
		v := sample.Value
		sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = sum / float64(n)

	var sqDiff float64
	for _, sample := range samples {
		d := sample.Value - st.Mean
		sqDiff += d * d
	}
	st.Stddev = math.Sqrt(sqDiff / float64(n))

	st.Slope = olsSlope(samples)
	return st
}

// olsSlope fits value against sample index by ordinary least squares.
func olsSlope(samples []Sample) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}

	// Mean of indices 0..n-1.
	xMean := float64(n-1) / 2

	var yMean float64
	for _, s := range samples {
		yMean += s.Value
	}
	yMean /= float64(n)

	var num, den float64
	for i, s := range samples {
		dx := float64(i) - xMean
		num += dx * (s.Value - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// StabilityReport labels each window stable/increasing/decreasing against
// SlopeEpsilon and flags samples whose z-score exceeds AnomalyZScore.
// With no windows given, DefaultStabilityWindows are used.
func (s *Store) StabilityReport(name string, windows ...time.Duration) []TrendReport {
	if len(windows) == 0 {
		windows = DefaultStabilityWindows
	}

	reports := make([]TrendReport, 0, len(windows))
	for _, window := range windows {
		samples := s.windowSamples(name, window)
		stats := computeStats(samples)

		label := LabelStable
		switch {
		case stats.Slope > SlopeEpsilon:
			label = LabelIncreasing
		case stats.Slope < -SlopeEpsilon:
			label = LabelDecreasing
		}

		var anomalies []int
		if stats.Stddev > 0 {
			for i, sample := range samples {
				if math.Abs(sample.Value-stats.Mean)/stats.Stddev > AnomalyZScore {
					anomalies = append(anomalies, i)
				}
			}
		}

		reports = append(reports, TrendReport{
			Window:         window,
			Stats:          stats,
			Label:          label,
			AnomalyIndices: anomalies,
		})
	}
	return reports
}
