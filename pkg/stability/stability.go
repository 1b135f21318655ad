// Package stability implements C3: it windows a trip's samples into 1-second
// floors of ts and assigns each window a scalar stability score and a
// qualitative mount_state, broadcasting both back onto every sample in the
// window.
package stability

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tarekm28/ouajourad/pkg/model"
)

const (
	jitterExpCoeff = 0.6
	hfExpCoeff     = 0.6
	madFloor       = 1e-3
	rollingMeanWin = 10
)

// Classify computes jitter and HF-energy per 1-second window, normalizes
// each by a robust scale across the trip's windows, combines them into a
// soft-AND stability score, and writes Stability and MountState back onto
// every sample.
func Classify(samples []model.Sample) {
	if len(samples) == 0 {
		return
	}

	windows := groupByFloorSecond(samples)

	hfSeries := residualMagnitudes(samples, rollingMeanWin)

	jitters := make([]float64, len(windows))
	energies := make([]float64, len(windows))
	for i, w := range windows {
		jitters[i] = windowJitter(samples, w)
		energies[i] = windowRMS(hfSeries, w)
	}

	jScale := robustScale(jitters)
	eScale := robustScale(energies)

	for i, w := range windows {
		jNorm := jitters[i] / jScale
		eNorm := energies[i] / eScale
		s := 1 - math.Exp(-jitterExpCoeff*jNorm)*math.Exp(-hfExpCoeff*eNorm)
		s = clamp01(s)

		ms := mountState(s)

		for k := w.start; k < w.end; k++ {
			samples[k].Stability = s
			samples[k].MountState = ms
		}
	}
}

type window struct {
	start, end int // sample index range [start, end)
}

// groupByFloorSecond partitions samples (already sorted by ts) into
// contiguous runs sharing the same 1-second floor.
func groupByFloorSecond(samples []model.Sample) []window {
	windows := make([]window, 0, len(samples)/10+1)
	start := 0
	floor := samples[0].TS.Unix()
	for i := 1; i < len(samples); i++ {
		f := samples[i].TS.Unix()
		if f != floor {
			windows = append(windows, window{start: start, end: i})
			start = i
			floor = f
		}
	}
	windows = append(windows, window{start: start, end: len(samples)})
	return windows
}

// windowJitter is the standard deviation of the angle between each sample's
// unit gravity vector and the window's mean unit gravity vector. A window
// too sparse to form a meaningful mean, or one whose gravity vectors are
// unit-less (zero magnitude), yields 0.
func windowJitter(samples []model.Sample, w window) float64 {
	n := w.end - w.start
	if n < 2 {
		return 0
	}

	var mx, my, mz float64
	units := make([][3]float64, 0, n)
	for i := w.start; i < w.end; i++ {
		g := samples[i].Gravity
		mag := math.Sqrt(g.X*g.X + g.Y*g.Y + g.Z*g.Z)
		if mag < 1e-9 || math.IsNaN(mag) {
			continue
		}
		u := [3]float64{g.X / mag, g.Y / mag, g.Z / mag}
		units = append(units, u)
		mx += u[0]
		my += u[1]
		mz += u[2]
	}
	if len(units) < 2 {
		return 0
	}

	mx /= float64(len(units))
	my /= float64(len(units))
	mz /= float64(len(units))
	mmag := math.Sqrt(mx*mx + my*my + mz*mz)
	if mmag < 1e-9 {
		return 0
	}
	mx, my, mz = mx/mmag, my/mmag, mz/mmag

	angles := make([]float64, len(units))
	for i, u := range units {
		dot := u[0]*mx + u[1]*my + u[2]*mz
		dot = math.Max(-1, math.Min(1, dot))
		angles[i] = math.Acos(dot)
	}

	return stat.StdDev(angles, nil)
}

// residualMagnitudes computes |linear_accel - rolling_mean(linear_accel,
// window, centered)| across the whole trip, one value per sample.
func residualMagnitudes(samples []model.Sample, window int) []float64 {
	n := len(samples)
	out := make([]float64, n)
	half := window / 2

	for i := 0; i < n; i++ {
		lo := i - half
		hi := i + half - 1
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		var sum float64
		count := 0
		for k := lo; k <= hi; k++ {
			v := samples[k].LinAccelMag
			if !math.IsNaN(v) {
				sum += v
				count++
			}
		}
		mean := 0.0
		if count > 0 {
			mean = sum / float64(count)
		}
		v := samples[i].LinAccelMag
		if math.IsNaN(v) {
			out[i] = 0
			continue
		}
		out[i] = math.Abs(v - mean)
	}
	return out
}

// windowRMS is the RMS of the residual series over [w.start, w.end).
func windowRMS(residual []float64, w window) float64 {
	n := w.end - w.start
	if n == 0 {
		return 0
	}
	var sumSq float64
	count := 0
	for i := w.start; i < w.end; i++ {
		v := residual[i]
		if math.IsNaN(v) {
			continue
		}
		sumSq += v * v
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(count))
}

// robustScale is 1e-3 + MAD(metric) across windows, falling back to std
// dev, then to 1e-3, if MAD collapses to zero.
func robustScale(values []float64) float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return madFloor
	}

	mad := medianAbsoluteDeviation(finite)
	if mad > 0 {
		return madFloor + mad
	}

	sd := stat.StdDev(finite, nil)
	if sd > 0 {
		return madFloor + sd
	}

	return madFloor
}

func medianAbsoluteDeviation(values []float64) float64 {
	cp := append([]float64(nil), values...)
	med := medianInPlace(cp)

	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return medianInPlace(devs)
}

func medianInPlace(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

func mountState(score float64) model.MountState {
	if math.IsNaN(score) {
		return model.MountUnknown
	}
	switch {
	case score < 0.25:
		return model.MountMounted
	case score < 0.65:
		return model.MountLoose
	default:
		return model.MountHandheld
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
