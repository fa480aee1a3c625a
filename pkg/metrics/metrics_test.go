package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.RecordApply(true)
	r.SetLogic("BASIC", "REQUEST")
	r.RecordRPC("replica", 200, time.Millisecond)
}

func TestRecorders(t *testing.T) {
	r := NewRegistry()

	r.RecordApply(true)
	r.RecordApply(true)
	r.RecordApply(false)
	if got := value(t, r.EntriesApplied.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 applied entries, got %v", got)
	}

	r.SetLogic("BASIC", "LOAD")
	if got := value(t, r.ActiveLogic.WithLabelValues("LOAD")); got != 1 {
		t.Fatalf("expected LOAD to be active, got %v", got)
	}
	if got := value(t, r.ActiveLogic.WithLabelValues("BASIC")); got != 0 {
		t.Fatalf("expected BASIC to be inactive, got %v", got)
	}

	r.RecordReplicaServed(7)
	if got := value(t, r.EntriesServed); got != 7 {
		t.Fatalf("expected 7 served entries, got %v", got)
	}

	if _, err := r.GetPrometheusRegistry().Gather(); err != nil {
		t.Fatalf("gather failed: %v", err)
	}
}
