// Package impulse implements C4: it scans a trip's linear-acceleration
// magnitude for robust outliers, refines each candidate to a local peak,
// debounces by stability-aware spacing, and emits a Detection per accepted
// peak.
package impulse

import (
	"math"
	"sort"

	"github.com/tarekm28/ouajourad/pkg/model"
)

const (
	rollingWindow  = 10
	rollingMin     = 5
	madConsistency = 1.4826
	epsScale       = 1e-6
	speedGateMPS   = 3.0
	refineRadius   = 5
	baseZThresh    = 3.5
	debounceBase   = 1.0
)

// Detect runs the impulse detector over an already gravity/stability
// annotated sample table and returns accepted detections in ts order.
//
// hasSpeed reports whether any sample in the trip carried a GPS speed
// reading at all; when false the speed gate is skipped entirely, per
// spec.md's "removing GPS still produces detections" requirement.
func Detect(tripID string, samples []model.Sample, hasSpeed bool) []model.Detection {
	n := len(samples)
	if n == 0 {
		return nil
	}

	z := robustZScores(samples)

	type candidate struct {
		index int
		z     float64
	}

	var candidates []candidate
	for i := 0; i < n; i++ {
		if !isLocalMax(z, i) {
			continue
		}
		thresh := baseZThresh + samples[i].Stability
		if z[i] <= thresh {
			continue
		}
		if hasSpeed && samples[i].Speed < speedGateMPS {
			continue
		}
		candidates = append(candidates, candidate{index: i, z: z[i]})
	}

	if len(candidates) == 0 {
		return nil
	}

	peaks := make([]int, len(candidates))
	for ci, c := range candidates {
		lo := c.index - refineRadius
		hi := c.index + refineRadius
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		best := lo
		for k := lo; k <= hi; k++ {
			if z[k] > z[best] {
				best = k
			}
		}
		peaks[ci] = best
	}

	sort.Ints(peaks)
	peaks = dedupeInts(peaks)

	var detections []model.Detection
	var lastAccepted *model.Sample
	var lastStability float64

	for _, idx := range peaks {
		s := samples[idx]
		if lastAccepted != nil {
			gap := s.TS.Sub(lastAccepted.TS).Seconds()
			required := debounceBase * (1 + math.Max(s.Stability, lastStability))
			if gap < required {
				continue
			}
		}

		detections = append(detections, model.Detection{
			TripID:     tripID,
			TS:         s.TS,
			Lat:        s.Lat,
			Lon:        s.Lon,
			Intensity:  math.Abs(z[idx]),
			Stability:  s.Stability,
			MountState: s.MountState,
		})

		sc := s
		lastAccepted = &sc
		lastStability = s.Stability
	}

	return detections
}

// RobustZScores exposes the same rolling-median/MAD baseline used by
// Detect, so the roughness segmenter can share it without re-running
// impulse candidate selection.
func RobustZScores(samples []model.Sample) []float64 {
	return robustZScores(samples)
}

// robustZScores computes a rolling-median baseline and rolling-MAD scale
// over L = |a - g| with window 10 (min 5), scale factor 1.4826 for Gaussian
// consistency.
func robustZScores(samples []model.Sample) []float64 {
	n := len(samples)
	z := make([]float64, n)
	half := rollingWindow / 2

	for i := 0; i < n; i++ {
		lo := i - half
		hi := i + half - 1
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		if hi-lo+1 < rollingMin {
			if i-rollingMin+1 >= 0 {
				lo = i - rollingMin + 1
				hi = i
			} else if i+rollingMin-1 < n {
				lo = i
				hi = i + rollingMin - 1
			}
		}

		window := make([]float64, 0, hi-lo+1)
		for k := lo; k <= hi; k++ {
			v := samples[k].LinAccelMag
			if !math.IsNaN(v) {
				window = append(window, v)
			}
		}

		med := medianOf(window)
		mad := madOf(window, med) * madConsistency
		scale := math.Max(mad, epsScale)

		l := samples[i].LinAccelMag
		zi := (l - med) / scale
		if math.IsNaN(zi) || math.IsInf(zi, 0) {
			zi = 0
		}
		z[i] = zi
	}

	return z
}

func isLocalMax(z []float64, i int) bool {
	if i > 0 && !(z[i] > z[i-1]) {
		return false
	}
	if i < len(z)-1 && !(z[i] >= z[i+1]) {
		return false
	}
	return true
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	cp := append([]float64(nil), values...)
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}

func madOf(values []float64, median float64) float64 {
	if len(values) == 0 {
		return 0
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - median)
	}
	return medianOf(devs)
}

func dedupeInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
