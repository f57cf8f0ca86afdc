package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPlanterMetrics() {
	r.TreesPlanted = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_trees_planted_total",
			Help: "Total number of root nodes produced by the tree planter",
		},
		[]string{"format"},
	)

	r.PlantDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbor_plant_duration_seconds",
			Help:    "Time spent planting trees in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"format"},
	)

	r.PlantFailures = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_plant_failures_total",
			Help: "Total number of failed loads",
		},
		[]string{"format"},
	)
}

func (r *Registry) initSchedulerMetrics() {
	r.SchedulerRuns = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_scheduler_runs_total",
			Help: "Total number of I/O loop scheduler runs",
		},
		[]string{"status"},
	)

	r.SchedulerDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbor_scheduler_duration_seconds",
			Help:    "I/O loop scheduler run duration in seconds",
			Buckets: []float64{0.0005, 0.005, 0.05, 0.5, 5, 60},
		},
	)

	r.DataFileOpens = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_data_file_opens_total",
			Help: "Total number of data file open/close brackets",
		},
	)

	r.NodesRead = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_nodes_read_total",
			Help: "Total number of trees whose fields were parsed from disk",
		},
	)

	r.BytesRead = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_bytes_read_total",
			Help: "Total number of raw bytes read by text field parsers",
		},
	)
}

func (r *Registry) initExportMetrics() {
	r.ExportGroups = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_export_groups_total",
			Help: "Total number of data files written by the exporter",
		},
	)

	r.ExportNodes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_export_nodes_total",
			Help: "Total number of node records written by the exporter",
		},
	)

	r.ExportTrees = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_export_trees_total",
			Help: "Total number of trees written by the exporter",
		},
	)

	r.ExportBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_export_bytes_total",
			Help: "Total number of bytes written by the exporter",
		},
	)

	r.ExportDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbor_export_duration_seconds",
			Help:    "Export duration in seconds",
			Buckets: []float64{0.01, 0.1, 1, 10, 60, 600},
		},
	)
}
