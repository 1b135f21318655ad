// Package query implements C8: post-filtering the sorted cluster list by a
// confidence threshold that depends on the dashboard flag, plus a GeoJSON
// export used by downstream mapping tools.
package query

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/tarekm28/ouajourad/pkg/model"
)

const dashboardQuantile = 0.75

// Params are the request parameters accepted by the cluster query endpoint.
type Params struct {
	MinConf   float64
	Dashboard bool
	Limit     int // <=0 means unlimited
}

// Shape applies C8's threshold rule to an already-sorted cluster list
// (sorted by (-priority, -confidence), as produced by pkg/cluster) and then
// truncates to Limit.
func Shape(clusters []model.Cluster, p Params) []model.Cluster {
	theta := threshold(clusters, p)

	out := make([]model.Cluster, 0, len(clusters))
	for _, c := range clusters {
		if c.Confidence >= theta {
			out = append(out, c)
		}
	}

	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}

func threshold(clusters []model.Cluster, p Params) float64 {
	if !p.Dashboard {
		return math.Max(0, p.MinConf)
	}
	if p.MinConf > 0 {
		return p.MinConf
	}
	return quantileConfidence(clusters, dashboardQuantile)
}

// quantileConfidence is the linear-interpolated quantile of cluster
// confidences: rank q*(n-1) over the sorted values, interpolating between
// the two neighbouring values. A single cluster's confidence is returned
// verbatim.
func quantileConfidence(clusters []model.Cluster, q float64) float64 {
	if len(clusters) == 0 {
		return 0
	}
	if len(clusters) == 1 {
		return clusters[0].Confidence
	}

	values := make([]float64, len(clusters))
	for i, c := range clusters {
		values[i] = c.Confidence
	}
	sort.Float64s(values)

	pos := q * float64(len(values)-1)
	lo := int(math.Floor(pos))
	if lo >= len(values)-1 {
		return values[len(values)-1]
	}
	frac := pos - float64(lo)
	return values[lo] + frac*(values[lo+1]-values[lo])
}

// GeoJSONFeatureCollection is the minimal GeoJSON shape emitted for a
// cluster list, matching the export tooling's expected structure.
type GeoJSONFeatureCollection struct {
	Type     string          `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

type geoJSONFeature struct {
	Type       string                 `json:"type"`
	Geometry   geoJSONPoint           `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// ToGeoJSON renders a cluster list as a GeoJSON FeatureCollection, one
// Point feature per cluster, ordered [lon, lat] per the GeoJSON spec.
func ToGeoJSON(clusters []model.Cluster) ([]byte, error) {
	fc := GeoJSONFeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]geoJSONFeature, len(clusters)),
	}

	for i, c := range clusters {
		fc.Features[i] = geoJSONFeature{
			Type:     "Feature",
			Geometry: geoJSONPoint{Type: "Point", Coordinates: [2]float64{c.Lon, c.Lat}},
			Properties: map[string]interface{}{
				"cluster_id":    c.ClusterID,
				"hits":          c.Hits,
				"users":         c.Users,
				"avg_intensity": c.AvgIntensity,
				"avg_stability": c.AvgStability,
				"confidence":    c.Confidence,
				"priority":      c.Priority,
				"likelihood":    c.Likelihood,
				"last_ts":       c.LastTS,
			},
		}
	}

	return json.Marshal(fc)
}
