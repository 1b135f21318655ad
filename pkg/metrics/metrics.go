// Package metrics exposes Prometheus instrumentation for the job queue and
// processing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every metric the daemon exports.
type Registry struct {
	JobQueueDepth       prometheus.Gauge
	ProcessingDuration  prometheus.Histogram
	DetectionsEmitted   prometheus.Counter
	SegmentsEmitted     prometheus.Counter
	JobFailures         prometheus.Counter
	ClusterConfidence   prometheus.Histogram
	ClusterQueryLatency prometheus.Histogram
}

// New registers and returns every metric against reg.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		JobQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ouajourad",
			Name:      "job_queue_depth",
			Help:      "Number of trip-processing jobs currently in flight.",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ouajourad",
			Name:      "trip_processing_duration_seconds",
			Help:      "Time to run C1-C6 over a single trip.",
			Buckets:   prometheus.DefBuckets,
		}),
		DetectionsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ouajourad",
			Name:      "detections_emitted_total",
			Help:      "Total detections emitted by the impulse detector.",
		}),
		SegmentsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ouajourad",
			Name:      "rough_segments_emitted_total",
			Help:      "Total rough-road segments emitted by the roughness segmenter.",
		}),
		JobFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ouajourad",
			Name:      "job_failures_total",
			Help:      "Total trip-processing jobs that failed.",
		}),
		ClusterConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ouajourad",
			Name:      "cluster_confidence",
			Help:      "Distribution of confidence across clusters returned by a query.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 10),
		}),
		ClusterQueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ouajourad",
			Name:      "cluster_query_duration_seconds",
			Help:      "Time to serve a cluster query, including any DBSCAN recompute.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
