package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.RPCDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lsmrepl_rpc_duration_seconds",
			Help:    "Replication RPC handling time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
}
