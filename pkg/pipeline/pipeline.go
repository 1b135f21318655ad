// Package pipeline wires the per-trip processing stages (C1 through C6)
// into a single call, the unit of work a background job runs for one
// uploaded trip. Cross-trip aggregation (C7/C8) lives in pkg/cluster and
// pkg/query, since it operates on the whole detections table rather than a
// single trip.
package pipeline

import (
	"time"

	"github.com/tarekm28/ouajourad/pkg/gravity"
	"github.com/tarekm28/ouajourad/pkg/impulse"
	"github.com/tarekm28/ouajourad/pkg/microcluster"
	"github.com/tarekm28/ouajourad/pkg/model"
	"github.com/tarekm28/ouajourad/pkg/normalize"
	"github.com/tarekm28/ouajourad/pkg/roughness"
	"github.com/tarekm28/ouajourad/pkg/stability"
)

// Result is everything a trip-processing job needs to persist.
type Result struct {
	Samples       []model.Sample
	Detections    []model.Detection
	MicroClusters []model.MicroCluster
	RoughSegments []model.RoughSegment
}

// Run executes C1 through C6 over a single trip upload. It never returns an
// error: degenerate input (no samples, no accel) simply yields an empty
// Result, per the ProcessingSkipped error kind.
func Run(tripID string, payload normalize.Payload, ingestTime time.Time) Result {
	normalized := normalize.Normalize(payload, ingestTime)
	if len(normalized.Samples) == 0 {
		return Result{}
	}

	samples := normalized.Samples
	gravity.Estimate(samples)
	stability.Classify(samples)

	detections := impulse.Detect(tripID, samples, normalized.HasSpeed)
	micro := microcluster.Build(detections)

	z := impulse.RobustZScores(samples)
	segments := roughness.Segment(samples, z)

	return Result{
		Samples:       samples,
		Detections:    detections,
		MicroClusters: micro,
		RoughSegments: segments,
	}
}
