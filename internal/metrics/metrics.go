// Package metrics provides Prometheus metrics for the file processing
// engine, adapted from the partition/pipeline metrics of the retrieved
// bronze-copier (internal/metrics/metrics.go) to this domain's job/chunk/row
// counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	JobsStarted   prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsCancelled prometheus.Counter

	ChunksProcessed *prometheus.CounterVec
	ChunkDuration   *prometheus.HistogramVec

	RowsProcessed *prometheus.CounterVec

	RetryAttempts *prometheus.CounterVec

	ActiveChunks      prometheus.Gauge
	ActiveJobs        prometheus.Gauge
	FailedRecordQueue prometheus.Gauge
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics. Call this once
// at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rowforge"
	}

	m := &Metrics{
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of jobs started",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that transitioned to FAILED",
		}),
		JobsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Total number of jobs that transitioned to CANCELLED",
		}),
		ChunksProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_processed_total",
				Help:      "Total number of chunks processed, by terminal status",
			},
			[]string{"status"},
		),
		ChunkDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_duration_seconds",
				Help:      "Wall-clock duration of one chunk workflow run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
			},
			[]string{"status"},
		),
		RowsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_processed_total",
				Help:      "Total number of rows processed, by outcome",
			},
			[]string{"outcome"}, // valid, invalid, duplicate
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of activity retry attempts",
			},
			[]string{"activity"},
		),
		ActiveChunks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chunks",
			Help:      "Number of chunk workflows currently in flight, summed across jobs",
		}),
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of job workflows currently running",
		}),
		FailedRecordQueue: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_record_queue_depth",
			Help:      "Number of failed records awaiting a reprocess pass for the job whose failed records were most recently listed (not summed across jobs)",
		}),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance. Returns nil if Init has not been
// called.
func Get() *Metrics {
	return defaultMetrics
}

// RecordRowOutcome increments the rows-processed counter for one outcome.
func (m *Metrics) RecordRowOutcome(outcome string, n float64) {
	if n <= 0 {
		return
	}
	m.RowsProcessed.WithLabelValues(outcome).Add(n)
}

// RecordChunkTerminal increments the chunks-processed counter and observes
// its duration for one terminal status ("completed" or "failed").
func (m *Metrics) RecordChunkTerminal(status string, durationSeconds float64) {
	m.ChunksProcessed.WithLabelValues(status).Inc()
	m.ChunkDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordRetry increments the retry counter for one activity name.
func (m *Metrics) RecordRetry(activity string) {
	m.RetryAttempts.WithLabelValues(activity).Inc()
}
