// Package normalize implements C1, the sample normalizer: it turns a raw
// trip upload payload into a time-ordered, fully-typed sample table.
package normalize

import (
	"sort"
	"time"

	"github.com/tarekm28/ouajourad/pkg/model"
)

// RawSample is one sample as received in a trip upload payload. Every
// scalar is optional; a present field is indicated by its Has* flag.
type RawSample struct {
	Timestamp string // ISO-8601, optional
	UptimeMS  *int64 // monotonic offset from trip start, optional

	HasLatLon bool
	Latitude  float64
	Longitude float64
	Accuracy  float64

	HasSpeed bool
	SpeedMPS float64

	HasAccel bool
	Accel    model.Vec3

	HasGyro bool
	Gyro    model.Vec3
}

// Payload is a trip upload as received at the ingress endpoint.
type Payload struct {
	UserID      string
	TripID      string
	StartTime   time.Time // zero if not supplied
	EndTime     time.Time
	SampleCount int
	Samples     []RawSample
}

// Result is the normalizer's output: a time-ordered sample table plus a
// flag recording whether any sample carried a GPS speed reading at all
// (the impulse detector's speed gate is only active when it did).
type Result struct {
	Samples  []model.Sample
	HasSpeed bool
	HasAccel bool
}

// Normalize builds the uniform sample table described in spec.md §4.1.
// An empty sample list, or a payload whose accel is entirely absent,
// yields an empty result without error — this is ProcessingSkipped
// (spec.md §7), not a failure.
func Normalize(p Payload, ingestTime time.Time) Result {
	if len(p.Samples) == 0 {
		return Result{}
	}

	type row struct {
		sample model.Sample
		order  int
		ok     bool
	}

	rows := make([]row, 0, len(p.Samples))
	anyAccel := false
	anySpeed := false

	for i, raw := range p.Samples {
		ts, ok := resolveTS(raw, p.StartTime, ingestTime, i)
		if !ok {
			continue
		}

		s := model.Sample{
			TS:  ts,
			Lat: model.NoCoord,
			Lon: model.NoCoord,
		}

		if raw.HasLatLon {
			s.Lat = raw.Latitude
			s.Lon = raw.Longitude
		}
		if raw.HasSpeed {
			s.Speed = raw.SpeedMPS
			anySpeed = true
		}
		if raw.HasAccel {
			s.Accel = raw.Accel
			anyAccel = true
		}
		if raw.HasGyro {
			s.Gyro = raw.Gyro
		}

		rows = append(rows, row{sample: s, order: i, ok: true})
	}

	if !anyAccel {
		return Result{}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].sample.TS.Before(rows[j].sample.TS)
	})

	samples := make([]model.Sample, len(rows))
	for i, r := range rows {
		samples[i] = r.sample
	}

	return Result{Samples: samples, HasSpeed: anySpeed, HasAccel: anyAccel}
}

// resolveTS picks ts by priority: sample timestamp -> monotonic offset from
// trip start -> synthetic 20 Hz grid anchored at ingest time. A sample
// whose timestamp field is present but fails to parse is dropped.
func resolveTS(raw RawSample, start, ingestTime time.Time, index int) (time.Time, bool) {
	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			ts, err = time.Parse(time.RFC3339, raw.Timestamp)
		}
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	}

	if raw.UptimeMS != nil && !start.IsZero() {
		return start.Add(time.Duration(*raw.UptimeMS) * time.Millisecond).UTC(), true
	}

	const syntheticHz = 20.0
	return ingestTime.Add(time.Duration(float64(index)/syntheticHz*1000) * time.Millisecond).UTC(), true
}
