package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.TreesPlanted == nil || r.SchedulerRuns == nil || r.ExportGroups == nil {
		t.Error("metrics not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry() should return the same instance")
	}
	if OrDefault(nil) != DefaultRegistry() {
		t.Error("OrDefault(nil) should return the default registry")
	}
}

func TestRecordPlant(t *testing.T) {
	r := NewRegistry()

	r.RecordPlant("ctrees", 10, 5*time.Millisecond, nil)
	r.RecordPlant("ctrees", 5, 5*time.Millisecond, nil)
	r.RecordPlant("ctrees", 0, time.Millisecond, errors.New("empty"))

	planted, err := r.TreesPlanted.GetMetricWithLabelValues("ctrees")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, planted); got != 15 {
		t.Errorf("trees planted = %v, want 15", got)
	}

	failures, _ := r.PlantFailures.GetMetricWithLabelValues("ctrees")
	if got := counterValue(t, failures); got != 1 {
		t.Errorf("plant failures = %v, want 1", got)
	}
}

func TestRecordSchedulerRun(t *testing.T) {
	r := NewRegistry()

	r.RecordSchedulerRun(3, 12, time.Millisecond, nil)
	r.RecordSchedulerRun(1, 0, time.Millisecond, errors.New("parse"))

	ok, _ := r.SchedulerRuns.GetMetricWithLabelValues("success")
	if got := counterValue(t, ok); got != 1 {
		t.Errorf("successful runs = %v, want 1", got)
	}
	failed, _ := r.SchedulerRuns.GetMetricWithLabelValues("error")
	if got := counterValue(t, failed); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
	if got := counterValue(t, r.DataFileOpens); got != 4 {
		t.Errorf("data file opens = %v, want 4", got)
	}
	if got := counterValue(t, r.NodesRead); got != 12 {
		t.Errorf("nodes read = %v, want 12", got)
	}
}

func TestRecordExportGroup(t *testing.T) {
	r := NewRegistry()

	r.RecordExportGroup(4, 40, 1024)
	r.RecordExportGroup(2, 10, 512)

	if got := counterValue(t, r.ExportGroups); got != 2 {
		t.Errorf("groups = %v, want 2", got)
	}
	if got := counterValue(t, r.ExportTrees); got != 6 {
		t.Errorf("trees = %v, want 6", got)
	}
	if got := counterValue(t, r.ExportNodes); got != 50 {
		t.Errorf("nodes = %v, want 50", got)
	}
	if got := counterValue(t, r.ExportBytes); got != 1536 {
		t.Errorf("bytes = %v, want 1536", got)
	}
}
