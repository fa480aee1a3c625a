package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of a node on its own prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	// slave side
	EntriesApplied   *prometheus.CounterVec
	LogicTransitions *prometheus.CounterVec
	StageFailures    *prometheus.CounterVec
	ActiveLogic      *prometheus.GaugeVec
	LastInsertedView prometheus.Gauge
	LastInsertedSeq  prometheus.Gauge
	LoadsTotal       *prometheus.CounterVec
	ChunkBytes       *prometheus.CounterVec
	HeartbeatsSent   *prometheus.CounterVec

	// master side
	HeartbeatsReceived *prometheus.CounterVec
	EntriesServed      prometheus.Counter
	ReplicaBatchSize   prometheus.Histogram
	ParticipantAcked   *prometheus.GaugeVec
	ParticipantStale   *prometheus.GaugeVec

	// transport
	RPCDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.initReplicationMetrics()
	r.initTransportMetrics()
	return r
}

// GetPrometheusRegistry exposes the underlying registry for tests and exporters.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
