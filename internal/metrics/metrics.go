// Package metrics records operational metrics for dedup and diff runs
// through a small pluggable Backend.
//
// The default backend discards everything, so call sites never need to
// check whether metrics are configured. Concrete systems live in the
// prompush and datadog subpackages.
package metrics

import "time"

// Metric names shared by all backends.
const (
	StepTotal    = "deduplines_step_total"
	StepDuration = "deduplines_step_duration_seconds"
	LinesTotal   = "deduplines_lines_total"
	ShardsTotal  = "deduplines_shards_total"
)

// Step names recorded by the engine.
const (
	StepPartition = "partition"
	StepReconcile = "reconcile"
	StepMerge     = "merge"
	StepTotalRun  = "total"
)

// Line kinds recorded by the engine.
const (
	KindRead     = "read"
	KindDistinct = "distinct"
	KindWritten  = "written"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// Nop returns a backend that discards everything.
func Nop() Backend { return nopBackend{} }

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
// It must be called before any run starts.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of step and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordLines adds delta to the line counter of the given kind
// (read, distinct, written). Non-positive deltas are ignored.
func RecordLines(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(LinesTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordShards counts shards reconciled for the given job.
func RecordShards(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(ShardsTotal, float64(delta), Labels{
		"job": job,
	})
}
