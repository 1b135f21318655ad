package model

import "testing"

func TestHasCoord(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"valid", 33.8886, 35.4955, true},
		{"sentinel", NoCoord, NoCoord, false},
		{"lat sentinel only", NoCoord, 35.4955, false},
		{"out of range lat", 91, 0, false},
		{"out of range lon", 0, 181, false},
		{"boundary", 90, 180, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasCoord(tc.lat, tc.lon); got != tc.want {
				t.Errorf("HasCoord(%v, %v) = %v, want %v", tc.lat, tc.lon, got, tc.want)
			}
		})
	}
}

func TestDetectionHasCoordinate(t *testing.T) {
	d := Detection{Lat: NoCoord, Lon: NoCoord}
	if d.HasCoordinate() {
		t.Error("expected no coordinate for sentinel detection")
	}

	d.Lat, d.Lon = 33.89, 35.50
	if !d.HasCoordinate() {
		t.Error("expected coordinate for valid lat/lon")
	}
}

func TestTripHasGPS(t *testing.T) {
	trip := Trip{Samples: []Sample{
		{Lat: NoCoord, Lon: NoCoord},
		{Lat: NoCoord, Lon: NoCoord},
	}}
	if trip.HasGPS() {
		t.Error("expected no GPS for all-sentinel samples")
	}

	trip.Samples = append(trip.Samples, Sample{Lat: 33.89, Lon: 35.50})
	if !trip.HasGPS() {
		t.Error("expected GPS once a valid sample is present")
	}
}

func TestRoughSegmentConfidence(t *testing.T) {
	cases := []struct {
		name         string
		trips, rough int
		wantMin      float64
		wantMax      float64
	}{
		{"single observation", 1, 1, 0, 1},
		{"saturates at 1", 10, 100, 1, 1},
		{"zero", 0, 0, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seg := RoughSegment{Trips: tc.trips, RoughWindows: tc.rough}
			got := seg.Confidence()
			if got < tc.wantMin || got > tc.wantMax {
				t.Errorf("Confidence() = %v, want in [%v, %v]", got, tc.wantMin, tc.wantMax)
			}
		})
	}
}
