// Package roughness implements C6: it bins a trip's low-stability samples
// into a coarse grid and emits a per-cell RMS roughness figure. Cross-trip
// merge of these segments is performed by the persistence layer per the
// hit-weighted running-mean contract.
package roughness

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tarekm28/ouajourad/pkg/model"
)

const (
	cellDegrees      = 40.0 / 111111.0
	stabilityCeiling = 0.4
	minSamplesPerCell = 10
)

// Segment extracts rough-road segments from a trip's annotated samples and
// a parallel z-score series (robust vertical-acceleration z, as computed by
// pkg/impulse's baseline). The two slices must be the same length and index
// order as the trip's sample table.
func Segment(samples []model.Sample, z []float64) []model.RoughSegment {
	if len(samples) == 0 || len(samples) != len(z) {
		return nil
	}

	type cell struct {
		latCell, lonCell int64
	}

	type accum struct {
		lats, lons, zsSq []float64
		lastTS           model.Sample
	}

	groups := make(map[cell]*accum)
	order := make([]cell, 0)

	for i, s := range samples {
		if !model.HasCoord(s.Lat, s.Lon) {
			continue
		}
		if s.Stability > stabilityCeiling {
			continue
		}
		zi := z[i]
		if math.IsNaN(zi) || math.IsInf(zi, 0) {
			continue
		}

		c := cell{
			latCell: int64(math.Floor(s.Lat / cellDegrees)),
			lonCell: int64(math.Floor(s.Lon / cellDegrees)),
		}
		a, ok := groups[c]
		if !ok {
			a = &accum{}
			groups[c] = a
			order = append(order, c)
		}
		a.lats = append(a.lats, s.Lat)
		a.lons = append(a.lons, s.Lon)
		a.zsSq = append(a.zsSq, zi*zi)
		if s.TS.After(a.lastTS.TS) {
			a.lastTS = s
		}
	}

	segments := make([]model.RoughSegment, 0, len(order))
	for _, c := range order {
		a := groups[c]
		if len(a.zsSq) < minSamplesPerCell {
			continue
		}
		segments = append(segments, model.RoughSegment{
			SegmentID:    cellDigest(c.latCell, c.lonCell),
			Lat:          stat.Mean(a.lats, nil),
			Lon:          stat.Mean(a.lons, nil),
			Roughness:    math.Sqrt(stat.Mean(a.zsSq, nil)),
			RoughWindows: len(a.zsSq),
			Trips:        1,
			LastTS:       a.lastTS.TS,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].SegmentID < segments[j].SegmentID
	})

	return segments
}

func cellDigest(latCell, lonCell int64) string {
	key := fmt.Sprintf("%d:%d", latCell, lonCell)
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
