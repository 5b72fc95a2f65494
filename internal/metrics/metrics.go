// Package metrics provides Prometheus metrics for sync runs.
//
// bmsync is a batch command, so metrics are collected in a private registry
// and written in the text exposition format for node_exporter's textfile
// collector rather than served over HTTP.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hherb/bmlib/internal/publication"
)

const namespace = "bmlib"

// Recorder collects sync metrics.
type Recorder struct {
	registry *prometheus.Registry

	// RecordsTotal counts stored records by source and result.
	RecordsTotal *prometheus.CounterVec
	// DaysTotal counts processed days by source and ledger status.
	DaysTotal *prometheus.CounterVec
	// FetchErrorsTotal counts failed day fetches.
	FetchErrorsTotal *prometheus.CounterVec
	// SyncDuration measures whole sync runs.
	SyncDuration prometheus.Histogram
	// LastSyncTimestamp is the unix time the last sync finished.
	LastSyncTimestamp prometheus.Gauge
}

// New returns a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Total number of records stored, by result",
			},
			[]string{"source", "result"},
		),
		DaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "days_total",
				Help:      "Total number of source-days processed, by status",
			},
			[]string{"source", "status"},
		),
		FetchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Total number of failed day fetches",
			},
			[]string{"source"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		LastSyncTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_sync_timestamp_seconds",
				Help:      "Unix time the last sync run finished",
			},
		),
	}
	r.registry.MustRegister(r.RecordsTotal, r.DaysTotal, r.FetchErrorsTotal, r.SyncDuration, r.LastSyncTimestamp)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordResult records one stored record.
func (r *Recorder) RecordResult(source, result string) {
	r.RecordsTotal.WithLabelValues(source, result).Inc()
}

// RecordDay records a processed day.
func (r *Recorder) RecordDay(source string, status publication.DayStatus) {
	r.DaysTotal.WithLabelValues(source, string(status)).Inc()
}

// RecordFetchError records a failed fetch.
func (r *Recorder) RecordFetchError(source string) {
	r.FetchErrorsTotal.WithLabelValues(source).Inc()
}

// ObserveSyncDuration records a finished sync run.
func (r *Recorder) ObserveSyncDuration(d time.Duration) {
	r.SyncDuration.Observe(d.Seconds())
	r.LastSyncTimestamp.SetToCurrentTime()
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
