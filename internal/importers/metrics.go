package importers

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	eventsTotal   *prometheus.CounterVec
	writeLatency  *prometheus.HistogramVec
	filesTotal    *prometheus.CounterVec
	importsTotal  *prometheus.CounterVec
	checkpoints   prometheus.Counter
	heartbeats    *prometheus.CounterVec
	activeFiles   prometheus.Gauge
	aggregateRuns prometheus.Counter
	recordsParsed prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		eventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "events_total",
			Help:      "Write events applied to the entity store.",
		}, []string{"kind", "result"}),
		writeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bulkimport",
			Name:      "write_latency_seconds",
			Help:      "Latency distribution for applying one write event.",
			Buckets: []float64{
				0.0005, 0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5, 1,
			},
		}, []string{"kind"}),
		filesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "files_total",
			Help:      "File import jobs reaching a terminal state.",
		}, []string{"state"}),
		importsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "imports_total",
			Help:      "Import jobs reaching a terminal state, by outcome.",
		}, []string{"state", "outcome"}),
		checkpoints: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "checkpoints_total",
			Help:      "Checkpoints persisted by the dispatcher.",
		}),
		heartbeats: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent to the scheduler.",
		}, []string{"result"}),
		activeFiles: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "bulkimport",
			Name:      "active_files",
			Help:      "File import jobs currently being processed.",
		}),
		aggregateRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "aggregate_runs_total",
			Help:      "Parent aggregation passes run after file completions.",
		}),
		recordsParsed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "records_parsed_total",
			Help:      "Source records read by producers, skipped ones included.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
