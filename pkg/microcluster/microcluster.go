// Package microcluster implements C5: it deduplicates a single trip's
// detections into a 10 m grid so writers can collapse dense bursts before
// persistence. Cross-trip clustering is handled separately by pkg/cluster.
package microcluster

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/tarekm28/ouajourad/pkg/model"
)

const cellDegrees = 10.0 / 111111.0

// Build groups detections with a valid coordinate into 10 m grid cells and
// emits one MicroCluster per nonempty cell, sorted by descending hit count
// then by id for determinism.
func Build(detections []model.Detection) []model.MicroCluster {
	type cell struct {
		latCell, lonCell int64
	}

	groups := make(map[cell][]model.Detection)
	order := make([]cell, 0)

	for _, d := range detections {
		if !d.HasCoordinate() {
			continue
		}
		c := cell{
			latCell: int64(math.Floor(d.Lat / cellDegrees)),
			lonCell: int64(math.Floor(d.Lon / cellDegrees)),
		}
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], d)
	}

	clusters := make([]model.MicroCluster, 0, len(order))
	for _, c := range order {
		members := groups[c]
		mc := model.MicroCluster{
			ID:              cellDigest(c.latCell, c.lonCell),
			MountStateCount: make(map[model.MountState]int),
		}

		var sumLat, sumLon, sumIntensity, sumStability float64
		for _, d := range members {
			sumLat += d.Lat
			sumLon += d.Lon
			sumIntensity += d.Intensity
			sumStability += d.Stability
			if d.TS.After(mc.LastTS) {
				mc.LastTS = d.TS
			}
			mc.MountStateCount[d.MountState]++
		}

		n := float64(len(members))
		mc.Hits = len(members)
		mc.Lat = sumLat / n
		mc.Lon = sumLon / n
		mc.AvgIntensity = sumIntensity / n
		mc.AvgStability = sumStability / n

		clusters = append(clusters, mc)
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Hits != clusters[j].Hits {
			return clusters[i].Hits > clusters[j].Hits
		}
		return clusters[i].ID < clusters[j].ID
	})

	return clusters
}

// cellDigest is a stable 40-hex digest of "lat_cell:lon_cell".
func cellDigest(latCell, lonCell int64) string {
	key := fmt.Sprintf("%d:%d", latCell, lonCell)
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
