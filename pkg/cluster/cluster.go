// Package cluster implements C7: on-demand DBSCAN clustering of detections
// across trips, with a confidence/priority/likelihood model attached to each
// resulting cluster. Clustering runs against a haversine-distance grid
// index rather than Euclidean coordinates, since members are plain
// lat/lon pairs.
package cluster

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tarekm28/ouajourad/pkg/model"
	"github.com/tarekm28/ouajourad/pkg/trend"
)

const (
	earthRadiusM = 6371000.0
	minEpsM      = 2.0
	maxEpsM      = 30.0
	defaultEpsM  = 5.0
	minSamples   = 1
)

// Detection is a single detection plus the user_id of its owning trip,
// resolved by the caller before aggregation.
type Detection struct {
	model.Detection
	UserID string
}

// Aggregate clusters detections with valid coordinates using DBSCAN over
// haversine distance and computes confidence/priority/likelihood for each
// resulting cluster. totalTrips is the global trip count; a value of 0
// yields an empty result (UnknownClusterState).
func Aggregate(detections []Detection, totalTrips int, now time.Time, epsM float64) []model.Cluster {
	if totalTrips == 0 {
		return nil
	}

	points := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.HasCoordinate() {
			points = append(points, d)
		}
	}
	if len(points) == 0 {
		return nil
	}

	eps := epsM
	if math.IsNaN(eps) || math.IsInf(eps, 0) {
		eps = defaultEpsM
	}
	if eps < minEpsM {
		eps = minEpsM
	}
	if eps > maxEpsM {
		eps = maxEpsM
	}
	epsRad := eps / earthRadiusM

	labels := dbscan(points, epsRad)

	maxLabel := 0
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}

	buckets := make([][]int, maxLabel+1)
	for i, l := range labels {
		if l >= 1 {
			buckets[l] = append(buckets[l], i)
		}
	}

	clusters := make([]model.Cluster, 0, maxLabel)
	for cid := 1; cid <= maxLabel; cid++ {
		members := buckets[cid]
		if len(members) == 0 {
			continue
		}
		clusters = append(clusters, buildCluster(points, members, totalTrips, now))
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Priority != clusters[j].Priority {
			return clusters[i].Priority > clusters[j].Priority
		}
		return clusters[i].Confidence > clusters[j].Confidence
	})

	return clusters
}

// dbscan runs DBSCAN with min_samples=1, so every point is its own core
// point and noise never occurs; the algorithm reduces to connected
// components under the eps-radius haversine graph.
func dbscan(points []Detection, epsRad float64) []int {
	n := len(points)
	labels := make([]int, n)
	index := newGridIndex(points, epsRad)

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}
		clusterID++
		expand(points, index, labels, i, clusterID, epsRad)
	}
	return labels
}

func expand(points []Detection, index *gridIndex, labels []int, seed, clusterID int, epsRad float64) {
	labels[seed] = clusterID
	queue := index.regionQuery(points, seed, epsRad)

	for q := 0; q < len(queue); q++ {
		idx := queue[q]
		if labels[idx] != 0 {
			continue
		}
		labels[idx] = clusterID
		if len(points) >= minSamples {
			more := index.regionQuery(points, idx, epsRad)
			queue = append(queue, more...)
		}
	}
}

// gridIndex buckets points into cells sized to epsRad (in radians of
// latitude and of longitude). A neighbor query scans the adjacent latitude
// rows and as many longitude columns as eps spans at the point's latitude.
type gridIndex struct {
	cellRad float64
	grid    map[[2]int64][]int
}

func newGridIndex(points []Detection, epsRad float64) *gridIndex {
	cellRad := epsRad
	if cellRad <= 0 {
		cellRad = 1e-9
	}
	idx := &gridIndex{cellRad: cellRad, grid: make(map[[2]int64][]int, len(points))}
	for i, p := range points {
		c := idx.cellOf(p.Lat, p.Lon)
		idx.grid[c] = append(idx.grid[c], i)
	}
	return idx
}

func (g *gridIndex) cellOf(lat, lon float64) [2]int64 {
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	return [2]int64{
		int64(math.Floor(latRad / g.cellRad)),
		int64(math.Floor(lonRad / g.cellRad)),
	}
}

func (g *gridIndex) regionQuery(points []Detection, idx int, epsRad float64) []int {
	p := points[idx]
	base := g.cellOf(p.Lat, p.Lon)
	var neighbors []int

	// eps covers more longitude cells as cos(lat) shrinks; next to a pole
	// the grid gives no bound, so every point is checked.
	cosLat := math.Cos(math.Min(math.Abs(p.Lat)*math.Pi/180+epsRad, math.Pi/2))
	if cosLat < 1e-3 {
		for j := range points {
			if haversine(p.Lat, p.Lon, points[j].Lat, points[j].Lon) <= epsRad*earthRadiusM {
				neighbors = append(neighbors, j)
			}
		}
		return neighbors
	}
	lonReach := int64(math.Ceil(1 / cosLat))

	for dLat := int64(-1); dLat <= 1; dLat++ {
		for dLon := -lonReach; dLon <= lonReach; dLon++ {
			cell := [2]int64{base[0] + dLat, base[1] + dLon}
			for _, candidate := range g.grid[cell] {
				if haversine(p.Lat, p.Lon, points[candidate].Lat, points[candidate].Lon) <= epsRad*earthRadiusM {
					neighbors = append(neighbors, candidate)
				}
			}
		}
	}
	return neighbors
}

// haversine returns the great-circle distance between two lat/lon points
// in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

func buildCluster(points []Detection, members []int, totalTrips int, now time.Time) model.Cluster {
	users := make(map[string]struct{})
	lats := make([]float64, 0, len(members))
	lons := make([]float64, 0, len(members))
	intensities := make([]float64, 0, len(members))
	stabilities := make([]float64, 0, len(members))
	dailyCounts := make(map[time.Time]float64)
	var lastTS time.Time

	for _, idx := range members {
		p := points[idx]
		lats = append(lats, p.Lat)
		lons = append(lons, p.Lon)
		intensities = append(intensities, p.Intensity)
		stabilities = append(stabilities, p.Stability)
		if p.UserID != "" {
			users[p.UserID] = struct{}{}
		}
		if p.TS.After(lastTS) {
			lastTS = p.TS
		}
		dailyCounts[p.TS.UTC().Truncate(24*time.Hour)]++
	}

	hits := len(members)
	lat := stat.Mean(lats, nil)
	lon := stat.Mean(lons, nil)
	avgIntensity := stat.Mean(intensities, nil)
	avgStability := stat.Mean(stabilities, nil)

	coverage := clamp01(float64(len(users)) / float64(totalTrips))
	hitsTerm := 1 - math.Exp(-float64(hits)/3.0)
	intensityTerm := sigmoid((avgIntensity - 4) / 2)
	stabilityQ := 1 - clamp01(avgStability)

	raw := 0.45*coverage + 0.25*hitsTerm + 0.20*intensityTerm + 0.10*stabilityQ

	ageDays := math.Max(0, now.Sub(lastTS).Hours()/24)
	recency := math.Exp(-ageDays / 60)
	confidence := clamp01(raw * recency)

	normIntensity := math.Min(avgIntensity/10.0, 1)
	priority := clamp01(0.7*confidence + 0.3*normIntensity*(1-avgStability))

	return model.Cluster{
		ClusterID:           clusterID(lat, lon),
		Lat:                 lat,
		Lon:                 lon,
		Hits:                hits,
		Users:               len(users),
		LastTS:              lastTS,
		AvgIntensity:        avgIntensity,
		AvgStability:        avgStability,
		Exposure:            float64(hits),
		Confidence:          confidence,
		Priority:            priority,
		Likelihood:          likelihoodOf(confidence),
		ExposureTrendPerDay: trend.PerDay(dailyObservations(dailyCounts)),
	}
}

// dailyObservations turns a cluster's per-day detection tally into the
// observation series trend.PerDay fits its regression against.
func dailyObservations(counts map[time.Time]float64) []trend.Observation {
	out := make([]trend.Observation, 0, len(counts))
	for day, count := range counts {
		out = append(out, trend.Observation{Day: day, Count: count})
	}
	return out
}

func likelihoodOf(confidence float64) model.Likelihood {
	switch {
	case confidence >= 0.66:
		return model.VeryLikely
	case confidence >= 0.40:
		return model.Likely
	default:
		return model.Uncertain
	}
}

// clusterID is "pc_" + first 10 hex chars of SHA-1("{round(lat,4)}:{round(lon,4)}"),
// so centroids closer than ~11 m collide intentionally.
func clusterID(lat, lon float64) string {
	key := fmt.Sprintf("%.4f:%.4f", round4(lat), round4(lon))
	sum := sha1.Sum([]byte(key))
	return "pc_" + hex.EncodeToString(sum[:])[:10]
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
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
