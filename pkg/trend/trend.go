// Package trend computes a supplemental, advisory-only exposure trend per
// cluster: a linear regression of detection hit-count against time, used to
// flag clusters that are getting worse rather than just clusters that are
// currently bad. It never feeds into confidence, priority, or likelihood.
package trend

import (
	"math"
	"sort"
	"time"

	"github.com/sajari/regression"
)

// Observation is one day's detection count contributing to a cluster, used
// to fit the exposure trend.
type Observation struct {
	Day   time.Time
	Count float64
}

// PerDay fits hits-per-day against day offset and returns the slope in
// hits/day. Fewer than 3 observations yields 0 (insufficient data for a
// meaningful trend).
func PerDay(observations []Observation) float64 {
	if len(observations) < 3 {
		return 0
	}

	sorted := append([]Observation(nil), observations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Day.Before(sorted[j].Day) })

	origin := sorted[0].Day

	r := new(regression.Regression)
	r.SetObserved("detections_per_day")
	r.SetVar(0, "day_offset")

	for _, obs := range sorted {
		offset := obs.Day.Sub(origin).Hours() / 24
		r.Train(regression.DataPoint(obs.Count, []float64{offset}))
	}

	if err := r.Run(); err != nil {
		return 0
	}

	slope := r.Coeff(1)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}
	return slope
}
