package normalize

import (
	"testing"
	"time"

	"github.com/tarekm28/ouajourad/pkg/model"
)

func TestNormalizeEmptyYieldsSkipped(t *testing.T) {
	result := Normalize(Payload{}, time.Now())
	if len(result.Samples) != 0 {
		t.Fatalf("expected empty result for empty payload, got %d samples", len(result.Samples))
	}
}

func TestNormalizeNoAccelYieldsSkipped(t *testing.T) {
	p := Payload{
		Samples: []RawSample{
			{HasLatLon: true, Latitude: 33.89, Longitude: 35.50},
		},
	}
	result := Normalize(p, time.Now())
	if len(result.Samples) != 0 {
		t.Fatalf("expected empty result when no sample carries accel, got %d", len(result.Samples))
	}
}

func TestNormalizeOrdersByTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Payload{
		Samples: []RawSample{
			{Timestamp: base.Add(2 * time.Second).Format(time.RFC3339Nano), HasAccel: true, Accel: model.Vec3{Z: 9.8}},
			{Timestamp: base.Format(time.RFC3339Nano), HasAccel: true, Accel: model.Vec3{Z: 9.8}},
			{Timestamp: base.Add(1 * time.Second).Format(time.RFC3339Nano), HasAccel: true, Accel: model.Vec3{Z: 9.8}},
		},
	}

	result := Normalize(p, time.Now())
	if len(result.Samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(result.Samples))
	}
	for i := 1; i < len(result.Samples); i++ {
		if result.Samples[i].TS.Before(result.Samples[i-1].TS) {
			t.Fatalf("samples not ordered by timestamp: %v before %v", result.Samples[i].TS, result.Samples[i-1].TS)
		}
	}
}

func TestNormalizeDropsUnparsableTimestamp(t *testing.T) {
	p := Payload{
		Samples: []RawSample{
			{Timestamp: "not-a-timestamp", HasAccel: true, Accel: model.Vec3{Z: 9.8}},
			{HasAccel: true, Accel: model.Vec3{Z: 9.8}},
		},
	}

	result := Normalize(p, time.Now())
	if len(result.Samples) != 1 {
		t.Fatalf("expected the unparsable-timestamp row to be dropped, got %d samples", len(result.Samples))
	}
}

func TestNormalizeMissingCoordUsesSentinel(t *testing.T) {
	p := Payload{
		Samples: []RawSample{
			{HasAccel: true, Accel: model.Vec3{Z: 9.8}},
		},
	}

	result := Normalize(p, time.Now())
	if result.Samples[0].Lat != model.NoCoord || result.Samples[0].Lon != model.NoCoord {
		t.Fatalf("expected sentinel coordinate, got (%v, %v)", result.Samples[0].Lat, result.Samples[0].Lon)
	}
}

func TestNormalizeUptimeOffsetAnchorsToStartTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	offset := int64(500)
	p := Payload{
		StartTime: start,
		Samples: []RawSample{
			{UptimeMS: &offset, HasAccel: true, Accel: model.Vec3{Z: 9.8}},
		},
	}

	result := Normalize(p, time.Now())
	want := start.Add(500 * time.Millisecond)
	if !result.Samples[0].TS.Equal(want) {
		t.Fatalf("expected ts %v, got %v", want, result.Samples[0].TS)
	}
}

func TestNormalizeHasSpeedFlag(t *testing.T) {
	p := Payload{
		Samples: []RawSample{
			{HasAccel: true, Accel: model.Vec3{Z: 9.8}},
		},
	}
	if Normalize(p, time.Now()).HasSpeed {
		t.Fatal("expected HasSpeed false when no sample carries speed")
	}

	p.Samples[0].HasSpeed = true
	p.Samples[0].SpeedMPS = 10
	if !Normalize(p, time.Now()).HasSpeed {
		t.Fatal("expected HasSpeed true once a sample carries speed")
	}
}
