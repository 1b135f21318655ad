package normalize

import "testing"

func TestDecodeJSONRequiresIdentity(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"samples":[]}`))
	if err == nil {
		t.Fatal("expected error for payload missing user_id/trip_id")
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	_, err := DecodeJSON([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestDecodeJSONFullSample(t *testing.T) {
	body := []byte(`{
		"user_id": "u1",
		"trip_id": "t1",
		"samples": [
			{"timestamp": "2026-01-01T00:00:00Z", "latitude": 33.89, "longitude": 35.50, "accuracy_m": 5, "speed_mps": 10, "accel": [0,0,9.8], "gyro": [0,0,0]}
		]
	}`)

	p, err := DecodeJSON(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != "u1" || p.TripID != "t1" {
		t.Fatalf("unexpected identity: %+v", p)
	}
	if len(p.Samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(p.Samples))
	}

	s := p.Samples[0]
	if !s.HasLatLon || s.Latitude != 33.89 || s.Longitude != 35.50 || s.Accuracy != 5 {
		t.Errorf("unexpected lat/lon: %+v", s)
	}
	if !s.HasSpeed || s.SpeedMPS != 10 {
		t.Errorf("unexpected speed: %+v", s)
	}
	if !s.HasAccel || s.Accel.Z != 9.8 {
		t.Errorf("unexpected accel: %+v", s)
	}
	if !s.HasGyro {
		t.Errorf("expected gyro present")
	}
}

func TestDecodeJSONOptionalFieldsAbsent(t *testing.T) {
	body := []byte(`{"user_id":"u1","trip_id":"t1","samples":[{}]}`)
	p, err := DecodeJSON(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := p.Samples[0]
	if s.HasLatLon || s.HasSpeed || s.HasAccel || s.HasGyro {
		t.Errorf("expected no optional fields set, got %+v", s)
	}
}
