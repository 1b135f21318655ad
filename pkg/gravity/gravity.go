// Package gravity implements C2: a single-pass adaptive exponential
// smoother that separates the gravity vector from raw acceleration,
// leaving a linear-acceleration residual for the impulse detector.
package gravity

import (
	"math"
	"sort"

	"github.com/tarekm28/ouajourad/pkg/model"
)

const tau = 0.5 // seconds

// Estimate fills in Gravity and LinAccelMag on every sample, in place,
// following the recurrence in spec.md §4.2:
//
//	alpha_i = dt_i / (tau + dt_i)
//	g_i     = alpha_i*a_i + (1-alpha_i)*g_{i-1}      (g_0 = a_0)
//
// dt_i is the actual inter-sample gap; a non-finite or non-positive gap
// falls back to the median positive gap across the trip, or 0.01s if none
// exists. A sample with a NaN in its accel vector inherits the previous
// gravity estimate untouched.
func Estimate(samples []model.Sample) {
	if len(samples) == 0 {
		return
	}

	medianDt := medianPositiveDt(samples)

	var g model.Vec3
	haveG := false

	for i := range samples {
		a := samples[i].Accel
		if hasNaN(a) {
			samples[i].Gravity = g
			samples[i].LinAccelMag = vecMag(sub(a, g))
			continue
		}

		if !haveG {
			g = a
			haveG = true
		} else {
			dt := 0.0
			if i > 0 {
				dt = samples[i].TS.Sub(samples[i-1].TS).Seconds()
			}
			if !isFinitePositive(dt) {
				dt = medianDt
			}
			alpha := dt / (tau + dt)
			g = model.Vec3{
				X: alpha*a.X + (1-alpha)*g.X,
				Y: alpha*a.Y + (1-alpha)*g.Y,
				Z: alpha*a.Z + (1-alpha)*g.Z,
			}
		}

		samples[i].Gravity = g
		samples[i].LinAccelMag = vecMag(sub(a, g))
	}
}

func medianPositiveDt(samples []model.Sample) float64 {
	gaps := make([]float64, 0, len(samples))
	for i := 1; i < len(samples); i++ {
		dt := samples[i].TS.Sub(samples[i-1].TS).Seconds()
		if isFinitePositive(dt) {
			gaps = append(gaps, dt)
		}
	}
	if len(gaps) == 0 {
		return 0.01
	}
	sort.Float64s(gaps)
	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[mid]
	}
	return (gaps[mid-1] + gaps[mid]) / 2
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func hasNaN(v model.Vec3) bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}

func sub(a, b model.Vec3) model.Vec3 {
	return model.Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func vecMag(v model.Vec3) float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}
