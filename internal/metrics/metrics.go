// Package metrics exposes Prometheus counters and gauges for the harvest,
// ingest, dedup, and Solr update pipeline stages, grounded on the teacher's
// pkg/metrics pattern: package-level collectors registered at init, a
// promhttp.Handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HarvestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_harvest_runs_total",
			Help: "Total number of harvest runs by source and final state",
		},
		[]string{"source", "state"},
	)

	HarvestRecordsFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_harvest_records_fetched_total",
			Help: "Total number of records fetched from upstream by source",
		},
		[]string{"source"},
	)

	HarvestDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_harvest_deletions_total",
			Help: "Total number of records deleted during harvest (reported deleted by the source, or missing from a full set), by source",
		},
		[]string{"source"},
	)

	HarvestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recordmanager_harvest_duration_seconds",
			Help:    "Duration of a harvest run in seconds, by source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	IngestRecordsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_ingest_records_stored_total",
			Help: "Total number of records stored by the ingestion pipeline, by source",
		},
		[]string{"source"},
	)

	IngestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_ingest_errors_total",
			Help: "Total number of records that failed ingestion, by source",
		},
		[]string{"source"},
	)

	DedupGroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recordmanager_dedup_groups_total",
			Help: "Current number of non-deleted Dedup Groups",
		},
	)

	DedupMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_dedup_matches_total",
			Help: "Total number of dedup candidate matches found, by match field",
		},
		[]string{"field"},
	)

	DedupConsistencyViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recordmanager_dedup_consistency_violations_total",
			Help: "Total number of Dedup Group invariant violations repaired",
		},
	)

	SolrUpdateRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_solr_update_runs_total",
			Help: "Total number of Merge & Solr Update Pipeline runs by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	SolrDocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_solr_documents_indexed_total",
			Help: "Total number of documents added to Solr, by source",
		},
		[]string{"source"},
	)

	SolrDocumentsDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordmanager_solr_documents_deleted_total",
			Help: "Total number of documents deleted from Solr, by source",
		},
		[]string{"source"},
	)

	SolrBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recordmanager_solr_batch_duration_seconds",
			Help:    "Duration of one add-batch POST to the Solr update endpoint",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueReuseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recordmanager_solr_queue_reuse_total",
			Help: "Total number of Solr update runs that reused a previously built queue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HarvestRunsTotal,
		HarvestRecordsFetchedTotal,
		HarvestDeletionsTotal,
		HarvestDuration,
		IngestRecordsStoredTotal,
		IngestErrorsTotal,
		DedupGroupsTotal,
		DedupMatchesTotal,
		DedupConsistencyViolationsTotal,
		SolrUpdateRunsTotal,
		SolrDocumentsIndexedTotal,
		SolrDocumentsDeletedTotal,
		SolrBatchDuration,
		QueueReuseTotal,
	)
}

// Handler returns the Prometheus scrape handler, mounted by cmd/recordmanager
// under the daemon's HTTP listener when metrics are enabled.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an in-flight operation for later recording
// to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
