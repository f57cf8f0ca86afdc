package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initPlanterMetrics()
	r.initSchedulerMetrics()
	r.initExportMetrics()

	return r
}

// OrDefault returns r, or the default registry when r is nil
func OrDefault(r *Registry) *Registry {
	if r == nil {
		return DefaultRegistry()
	}
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordPlant records a load of one source
func (r *Registry) RecordPlant(format string, trees int, duration time.Duration, err error) {
	if err != nil {
		r.PlantFailures.WithLabelValues(format).Inc()
		return
	}
	r.TreesPlanted.WithLabelValues(format).Add(float64(trees))
	r.PlantDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordSchedulerRun records one I/O loop run
func (r *Registry) RecordSchedulerRun(filesOpened, nodesRead int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.SchedulerRuns.WithLabelValues(status).Inc()
	r.SchedulerDuration.Observe(duration.Seconds())
	r.DataFileOpens.Add(float64(filesOpened))
	r.NodesRead.Add(float64(nodesRead))
}

// RecordBytesRead records raw bytes consumed by a parser
func (r *Registry) RecordBytesRead(n int64) {
	r.BytesRead.Add(float64(n))
}

// RecordExportGroup records one flushed export group
func (r *Registry) RecordExportGroup(trees, nodes int, bytes int64) {
	r.ExportGroups.Inc()
	r.ExportTrees.Add(float64(trees))
	r.ExportNodes.Add(float64(nodes))
	r.ExportBytes.Add(float64(bytes))
}

// RecordExport records a completed export
func (r *Registry) RecordExport(duration time.Duration) {
	r.ExportDuration.Observe(duration.Seconds())
}
