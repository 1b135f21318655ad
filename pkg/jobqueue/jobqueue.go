// Package jobqueue runs per-trip processing as mutually independent
// background jobs on a bounded worker pool, one job per trip, with no
// cross-job shared mutable state.
package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tarekm28/ouajourad/pkg/logx"
	"github.com/tarekm28/ouajourad/pkg/mqttpub"
)

// Job is a single trip-processing unit of work.
type Job struct {
	ID     string
	TripID string
	Run    func(ctx context.Context) (detections int, err error)
}

// Pool runs jobs on a fixed-width semaphore, bounding concurrent DB pool
// acquires to the same limit the storage layer enforces.
type Pool struct {
	sem       *semaphore.Weighted
	logger    *logx.Logger
	publisher *mqttpub.Publisher
	perf      *logx.PerformanceLogger
}

// New creates a worker pool with the given concurrency limit.
func New(concurrency int64, logger *logx.Logger, publisher *mqttpub.Publisher) *Pool {
	return &Pool{
		sem:       semaphore.NewWeighted(concurrency),
		logger:    logger,
		publisher: publisher,
		perf:      logx.NewPerformanceLogger(logger),
	}
}

// Submit assigns a job id and runs the job asynchronously once a pool slot
// is available. It returns immediately with the assigned job id.
func (p *Pool) Submit(ctx context.Context, tripID string, run func(ctx context.Context) (int, error)) string {
	jobID := uuid.NewString()
	job := Job{ID: jobID, TripID: tripID, Run: run}

	p.publisher.PublishJobEvent(mqttpub.JobEvent{
		JobID:     job.ID,
		TripID:    job.TripID,
		Stage:     "queued",
		Timestamp: time.Now().UTC(),
	})

	go p.execute(ctx, job)

	return jobID
}

// ReportPerformance logs any trip-processing slowdowns or error-rate spikes
// observed since the pool started, for a caller to invoke on a ticker.
func (p *Pool) ReportPerformance() {
	p.perf.LogSlowOperations(2 * time.Second)
	p.perf.LogHighErrorRates(90.0)
}

func (p *Pool) execute(ctx context.Context, job Job) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.logger.Warn("job_acquire_failed", "job_id", job.ID, "trip_id", job.TripID, "error", err)
		p.publisher.PublishJobEvent(mqttpub.JobEvent{
			JobID:     job.ID,
			TripID:    job.TripID,
			Stage:     "failed",
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}
	defer p.sem.Release(1)

	p.publisher.PublishJobEvent(mqttpub.JobEvent{
		JobID:     job.ID,
		TripID:    job.TripID,
		Stage:     "started",
		Timestamp: time.Now().UTC(),
	})

	op := p.perf.StartOperation("trip_processing")
	detections, err := job.Run(ctx)
	op.Complete(err)

	if err != nil {
		p.logger.Error("job_failed", "job_id", job.ID, "trip_id", job.TripID, "error", err)
		p.publisher.PublishJobEvent(mqttpub.JobEvent{
			JobID:     job.ID,
			TripID:    job.TripID,
			Stage:     "failed",
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	p.logger.Info("job_completed", "job_id", job.ID, "trip_id", job.TripID, "detections", detections)
	p.publisher.PublishJobEvent(mqttpub.JobEvent{
		JobID:      job.ID,
		TripID:     job.TripID,
		Stage:      "completed",
		Detections: detections,
		Timestamp:  time.Now().UTC(),
	})
}
