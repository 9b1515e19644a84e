// Package metrics exposes Bartholomew's Prometheus instrumentation:
// upsert/recall throughput and latency, rule-engine decisions, and
// index health. Collection is gated on BARTHO_METRICS=1 so the
// library stays dependency-free for embedders who don't scrape it.
package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bartholomew_upserts_total",
			Help: "Total number of memory upserts by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: stored, blocked, consent_refused
	)

	UpsertDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bartholomew_upsert_duration_seconds",
			Help:    "Time taken to evaluate and persist a memory upsert",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RecallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bartholomew_recalls_total",
			Help: "Total number of hybrid retrieval queries by fusion mode",
		},
		[]string{"fusion_mode"},
	)

	RecallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bartholomew_recall_duration_seconds",
			Help:    "Time taken to run a hybrid retrieval query",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"fusion_mode"},
	)

	RecallResultsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bartholomew_recall_results_returned",
			Help:    "Number of results returned per hybrid retrieval query",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	RulesEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bartholomew_rules_evaluated_total",
			Help: "Total number of rule-engine evaluations by matched category",
		},
		[]string{"category"},
	)

	RulesReloadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bartholomew_rules_reload_total",
			Help: "Total number of memory_rules.yaml reload attempts by outcome",
		},
		[]string{"outcome"}, // outcome: success, error
	)

	EmbeddingsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bartholomew_embeddings_persisted_total",
			Help: "Total number of embeddings persisted by source",
		},
		[]string{"source"}, // source: summary, full
	)

	EmbeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bartholomew_embedding_duration_seconds",
			Help:    "Time taken to compute an embedding batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	FTSIndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bartholomew_fts_index_rows",
			Help: "Number of rows currently indexed in the FTS5 table",
		},
	)

	VectorIndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bartholomew_vector_index_rows",
			Help: "Number of rows currently stored in the vector index",
		},
	)

	NudgesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bartholomew_nudges_sent_total",
			Help: "Total number of consent nudges sent to the user",
		},
	)
)

var enabled = os.Getenv("BARTHO_METRICS") == "1"

func init() {
	if !enabled {
		return
	}
	prometheus.MustRegister(
		UpsertsTotal,
		UpsertDuration,
		RecallsTotal,
		RecallDuration,
		RecallResultsReturned,
		RulesEvaluatedTotal,
		RulesReloadTotal,
		EmbeddingsPersistedTotal,
		EmbeddingDuration,
		FTSIndexSize,
		VectorIndexSize,
		NudgesSentTotal,
	)
}

// Enabled reports whether BARTHO_METRICS=1 was set at process start.
func Enabled() bool {
	return enabled
}

// Handler returns the Prometheus scrape handler. Callers should mount
// it only when Enabled() is true.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's wall-clock duration for histogram
// observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time to histogram, a no-op when
// metrics collection is disabled.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	if !enabled {
		return
	}
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	if !enabled {
		return
	}
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
