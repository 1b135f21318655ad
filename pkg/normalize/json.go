package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tarekm28/ouajourad/pkg/model"
)

// wireSample is one sample as it appears on the wire: every scalar field
// is a pointer so its absence can be distinguished from a zero value.
type wireSample struct {
	Timestamp string      `json:"timestamp,omitempty"`
	UptimeMS  *int64      `json:"uptime_ms,omitempty"`
	Lat       *float64    `json:"latitude,omitempty"`
	Lon       *float64    `json:"longitude,omitempty"`
	Accuracy  float64     `json:"accuracy_m,omitempty"`
	Speed     *float64    `json:"speed_mps,omitempty"`
	Accel     *[3]float64 `json:"accel,omitempty"`
	Gyro      *[3]float64 `json:"gyro,omitempty"`
}

// wirePayload is a trip upload as it appears on the wire.
type wirePayload struct {
	UserID      string       `json:"user_id"`
	TripID      string       `json:"trip_id"`
	StartTime   *time.Time   `json:"start_time,omitempty"`
	EndTime     *time.Time   `json:"end_time,omitempty"`
	SampleCount int          `json:"sample_count,omitempty"`
	Samples     []wireSample `json:"samples"`
}

// DecodeJSON parses a trip upload body into a Payload. It returns an
// error only on malformed JSON or a missing user_id/trip_id: this is the
// PayloadInvalid error kind (spec.md §7), and the caller is responsible
// for turning it into a 400 response.
func DecodeJSON(body []byte) (Payload, error) {
	var req wirePayload
	if err := json.Unmarshal(body, &req); err != nil {
		return Payload{}, fmt.Errorf("normalize: decode payload: %w", err)
	}
	if req.UserID == "" || req.TripID == "" {
		return Payload{}, fmt.Errorf("normalize: payload missing user_id or trip_id")
	}

	p := Payload{
		UserID:      req.UserID,
		TripID:      req.TripID,
		SampleCount: req.SampleCount,
	}
	if req.StartTime != nil {
		p.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		p.EndTime = *req.EndTime
	}

	p.Samples = make([]RawSample, len(req.Samples))
	for i, rs := range req.Samples {
		ns := RawSample{Timestamp: rs.Timestamp, UptimeMS: rs.UptimeMS}
		if rs.Lat != nil && rs.Lon != nil {
			ns.HasLatLon = true
			ns.Latitude = *rs.Lat
			ns.Longitude = *rs.Lon
			ns.Accuracy = rs.Accuracy
		}
		if rs.Speed != nil {
			ns.HasSpeed = true
			ns.SpeedMPS = *rs.Speed
		}
		if rs.Accel != nil {
			ns.HasAccel = true
			ns.Accel = model.Vec3{X: rs.Accel[0], Y: rs.Accel[1], Z: rs.Accel[2]}
		}
		if rs.Gyro != nil {
			ns.HasGyro = true
			ns.Gyro = model.Vec3{X: rs.Gyro[0], Y: rs.Gyro[1], Z: rs.Gyro[2]}
		}
		p.Samples[i] = ns
	}

	return p, nil
}
