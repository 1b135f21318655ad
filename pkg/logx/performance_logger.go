package logx

import (
	"fmt"
	"sync"
	"time"
)

// PerformanceLogger tracks timing and error-rate metrics for named
// operations (trip-processing jobs, HTTP handlers, storage calls) and
// logs summaries and anomalies through a *Logger.
type PerformanceLogger struct {
	logger       *Logger
	metrics      map[string]*PerformanceMetric
	metricsMutex sync.RWMutex
}

// PerformanceMetric tracks performance data for a specific operation.
type PerformanceMetric struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastExecuted  time.Time     `json:"last_executed"`
	ErrorCount    int64         `json:"error_count"`
	SuccessRate   float64       `json:"success_rate"`
}

// PerformanceContext tracks a single in-flight operation.
type PerformanceContext struct {
	metricName string
	startTime  time.Time
	logger     *PerformanceLogger
}

// NewPerformanceLogger creates a new performance logger.
func NewPerformanceLogger(logger *Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger:  logger,
		metrics: make(map[string]*PerformanceMetric),
	}
}

// StartOperation begins timing an operation.
func (pl *PerformanceLogger) StartOperation(metricName string) *PerformanceContext {
	pl.metricsMutex.Lock()
	defer pl.metricsMutex.Unlock()

	if _, exists := pl.metrics[metricName]; !exists {
		pl.metrics[metricName] = &PerformanceMetric{
			Name:        metricName,
			MinDuration: time.Hour,
		}
	}

	return &PerformanceContext{
		metricName: metricName,
		startTime:  time.Now(),
		logger:     pl,
	}
}

// Complete records the outcome of an operation and logs slow or failing ones.
func (pc *PerformanceContext) Complete(err error) {
	duration := time.Since(pc.startTime)

	pc.logger.metricsMutex.Lock()
	defer pc.logger.metricsMutex.Unlock()

	metric := pc.logger.metrics[pc.metricName]
	metric.Count++
	metric.TotalDuration += duration
	metric.LastExecuted = time.Now()

	if duration < metric.MinDuration {
		metric.MinDuration = duration
	}
	if duration > metric.MaxDuration {
		metric.MaxDuration = duration
	}
	metric.AvgDuration = metric.TotalDuration / time.Duration(metric.Count)

	if err != nil {
		metric.ErrorCount++
	}
	metric.SuccessRate = float64(metric.Count-metric.ErrorCount) / float64(metric.Count) * 100

	if err != nil {
		pc.logger.logger.Error("operation failed",
			"metric", pc.metricName,
			"duration", duration.String(),
			"error", err.Error(),
			"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
		)
		return
	}

	if duration > 500*time.Millisecond || metric.Count%500 == 0 {
		pc.logger.logger.Info("operation completed",
			"metric", pc.metricName,
			"duration", duration.String(),
			"avg_duration", metric.AvgDuration.String(),
			"total_operations", metric.Count,
		)
	}
}

// GetMetric returns a copy of a named metric, or nil if unknown.
func (pl *PerformanceLogger) GetMetric(name string) *PerformanceMetric {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	metric, exists := pl.metrics[name]
	if !exists {
		return nil
	}
	cp := *metric
	return &cp
}

// LogSlowOperations warns about operations whose average duration exceeds threshold.
func (pl *PerformanceLogger) LogSlowOperations(threshold time.Duration) {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	for name, metric := range pl.metrics {
		if metric.AvgDuration > threshold {
			pl.logger.Warn("slow operation detected",
				"metric", name,
				"avg_duration", metric.AvgDuration.String(),
				"threshold", threshold.String(),
				"total_operations", metric.Count,
			)
		}
	}
}

// LogHighErrorRates warns about operations whose success rate has dropped below threshold.
func (pl *PerformanceLogger) LogHighErrorRates(threshold float64) {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	for name, metric := range pl.metrics {
		if metric.SuccessRate < threshold && metric.Count > 10 {
			pl.logger.Error("high error rate detected",
				"metric", name,
				"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
				"threshold", fmt.Sprintf("%.2f%%", threshold),
				"error_count", metric.ErrorCount,
			)
		}
	}
}
