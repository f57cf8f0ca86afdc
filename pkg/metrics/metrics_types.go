package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the arbor engine
type Registry struct {
	// Planter Metrics
	TreesPlanted  *prometheus.CounterVec
	PlantDuration *prometheus.HistogramVec
	PlantFailures *prometheus.CounterVec

	// Scheduler Metrics
	SchedulerRuns     *prometheus.CounterVec
	SchedulerDuration prometheus.Histogram
	DataFileOpens     prometheus.Counter
	NodesRead         prometheus.Counter
	BytesRead         prometheus.Counter

	// Export Metrics
	ExportGroups   prometheus.Counter
	ExportNodes    prometheus.Counter
	ExportTrees    prometheus.Counter
	ExportBytes    prometheus.Counter
	ExportDuration prometheus.Histogram

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)
