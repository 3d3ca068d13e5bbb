// Package metrics records Prometheus metrics for a single job run.
//
// A batch job exits before anything could scrape it, so the metrics live in
// a per-run registry that is pushed to a Pushgateway at the end of the run
// when one is configured.
//
// # Basic Usage
//
//	m := metrics.NewJob("report1")
//	m.FilesRead(len(keys))
//	timer := metrics.NewTimer("extract")
//	extract()
//	m.ObserveStage(timer.Name(), timer.Stop())
//	m.RunFinished(metrics.StatusSuccess, time.Now())
//	err := m.Push(ctx, "http://pushgateway:9091", "xetra")
//
// All methods are no-ops on a nil *Job.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "xetra"

// Run statuses used as the status label of the runs counter.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Job holds the metrics of one run.
type Job struct {
	registry      *prometheus.Registry
	filesRead     prometheus.Counter
	rowsExtracted prometheus.Counter
	rowsReported  prometheus.Counter
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// NewJob creates the run's metrics in a fresh registry, labelled with the
// report name.
func NewJob(report string) *Job {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"report": report}

	return &Job{
		registry: reg,
		filesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "source_files_read_total",
			Help:        "Number of source objects read",
			ConstLabels: labels,
		}),
		rowsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rows_extracted_total",
			Help:        "Number of source rows extracted",
			ConstLabels: labels,
		}),
		rowsReported: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rows_reported_total",
			Help:        "Number of rows written to the report",
			ConstLabels: labels,
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "stage_duration_seconds",
			Help:        "Duration of the job stages",
			ConstLabels: labels,
			Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "runs_total",
			Help:        "Number of finished runs by status",
			ConstLabels: labels,
		}, []string{"status"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful run",
			ConstLabels: labels,
		}),
	}
}

// Registry returns the registry holding the run's metrics.
func (j *Job) Registry() *prometheus.Registry {
	if j == nil {
		return nil
	}
	return j.registry
}

// FilesRead adds n to the number of source objects read.
func (j *Job) FilesRead(n int) {
	if j == nil {
		return
	}
	j.filesRead.Add(float64(n))
}

// RowsExtracted adds n to the number of extracted rows.
func (j *Job) RowsExtracted(n int) {
	if j == nil {
		return
	}
	j.rowsExtracted.Add(float64(n))
}

// RowsReported adds n to the number of report rows.
func (j *Job) RowsReported(n int) {
	if j == nil {
		return
	}
	j.rowsReported.Add(float64(n))
}

// ObserveStage records how long a stage took.
func (j *Job) ObserveStage(stage string, d time.Duration) {
	if j == nil {
		return
	}
	j.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RunFinished counts the run and, on success, stamps the last success time.
func (j *Job) RunFinished(status string, at time.Time) {
	if j == nil {
		return
	}
	j.runs.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		j.lastSuccess.Set(float64(at.Unix()))
	}
}

// Push sends the registry to the Pushgateway at url under jobName,
// replacing the metrics previously pushed for that job.
func (j *Job) Push(ctx context.Context, url, jobName string) error {
	if j == nil || url == "" {
		return nil
	}
	return push.New(url, jobName).Gatherer(j.registry).PushContext(ctx)
}

// Timer measures the duration of a named stage.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the stage name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the time elapsed since the timer was created. It can be
// called more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
