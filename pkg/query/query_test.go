package query

import (
	"encoding/json"
	"testing"

	"github.com/tarekm28/ouajourad/pkg/model"
)

func clusters(confidences ...float64) []model.Cluster {
	out := make([]model.Cluster, len(confidences))
	for i, c := range confidences {
		out[i] = model.Cluster{ClusterID: "c", Confidence: c}
	}
	return out
}

func TestShapeAppliesMinConfWhenNotDashboard(t *testing.T) {
	in := clusters(0.1, 0.5, 0.9)
	out := Shape(in, Params{MinConf: 0.4, Dashboard: false})
	if len(out) != 2 {
		t.Fatalf("expected 2 clusters above 0.4, got %d", len(out))
	}
}

func TestShapeDashboardUsesExplicitMinConfWhenSet(t *testing.T) {
	in := clusters(0.1, 0.5, 0.9)
	out := Shape(in, Params{MinConf: 0.6, Dashboard: true})
	if len(out) != 1 {
		t.Fatalf("expected 1 cluster above 0.6, got %d", len(out))
	}
}

func TestShapeDashboardFallsBackToQuantileWhenMinConfZero(t *testing.T) {
	// 10 clusters, confidences 0.0..0.9. Linear-interpolation quantile at
	// 0.75 over 10 sorted values lands at rank 0.75*9=6.75, interpolating
	// between index 6 (0.6) and index 7 (0.7): 0.6 + 0.75*0.1 = 0.675. Only
	// 0.7, 0.8, 0.9 clear that threshold. The nearest-rank (empirical)
	// quantile would instead land exactly on 0.7 and admit the same three
	// clusters, so these assertions hold under either rule.
	in := clusters(0.0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9)
	out := Shape(in, Params{Dashboard: true})
	if len(out) != 3 {
		t.Fatalf("expected 3 clusters above the 0.675 quantile cut, got %d", len(out))
	}
	for _, c := range out {
		if c.Confidence < 0.675 {
			t.Errorf("expected only clusters >= 0.675 to survive the quantile cut, got %v", c.Confidence)
		}
	}
}

func TestShapeSingleClusterQuantileReturnsItself(t *testing.T) {
	in := clusters(0.3)
	out := Shape(in, Params{Dashboard: true})
	if len(out) != 1 {
		t.Fatalf("expected the lone cluster to survive its own quantile, got %d", len(out))
	}
}

func TestShapeLimitTruncates(t *testing.T) {
	in := clusters(0.9, 0.8, 0.7)
	out := Shape(in, Params{MinConf: 0, Dashboard: false, Limit: 2})
	if len(out) != 2 {
		t.Fatalf("expected limit to truncate to 2, got %d", len(out))
	}
}

func TestShapeZeroLimitMeansUnlimited(t *testing.T) {
	in := clusters(0.9, 0.8, 0.7)
	out := Shape(in, Params{MinConf: 0, Dashboard: false, Limit: 0})
	if len(out) != 3 {
		t.Fatalf("expected limit<=0 to mean unlimited, got %d", len(out))
	}
}

func TestToGeoJSONOrdersCoordinatesLonLat(t *testing.T) {
	in := []model.Cluster{{ClusterID: "c1", Lat: 33.89, Lon: 35.50, Confidence: 0.5}}
	raw, err := ToGeoJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fc GeoJSONFeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	coords := fc.Features[0].Geometry.Coordinates
	if coords[0] != 35.50 || coords[1] != 33.89 {
		t.Errorf("expected [lon, lat] ordering, got %v", coords)
	}
}

func TestToGeoJSONEmptyClusterList(t *testing.T) {
	raw, err := ToGeoJSON(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var fc GeoJSONFeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 0 {
		t.Fatalf("expected empty FeatureCollection, got %+v", fc)
	}
}
