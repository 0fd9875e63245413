// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters and histograms the engine updates on every
// ingestion and materialization pass, intended to be registered once
// against a shared prometheus.Registerer and scraped by cmd serve.
type Metrics struct {
	OperationsIngested prometheus.Counter
	BatchesIngested    prometheus.Counter
	SyncLocalRuns       prometheus.Counter
	SyncLocalSkipped    prometheus.Counter
	BucketsReaped       prometheus.Counter
	IngestDuration      prometheus.Histogram
}

// NewMetrics constructs and registers the engine's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketsync_operations_ingested_total",
			Help: "Total number of oplog operations ingested across all buckets.",
		}),
		BatchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketsync_batches_ingested_total",
			Help: "Total number of operation batches ingested.",
		}),
		SyncLocalRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketsync_sync_local_runs_total",
			Help: "Total number of successful sync_local materialization passes.",
		}),
		SyncLocalSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketsync_sync_local_skipped_total",
			Help: "Total number of sync_local calls skipped because CanUpdateLocal returned false.",
		}),
		BucketsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketsync_buckets_reaped_total",
			Help: "Total number of pending-delete buckets permanently removed.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "bucketsync_ingest_duration_seconds",
			Help: "Duration of InsertOperation calls.",
		}),
	}

	reg.MustRegister(
		m.OperationsIngested,
		m.BatchesIngested,
		m.SyncLocalRuns,
		m.SyncLocalSkipped,
		m.BucketsReaped,
		m.IngestDuration,
	)

	return m
}
