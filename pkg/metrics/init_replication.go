package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.EntriesApplied = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_entries_applied_total",
			Help: "Replicated log entries handed to the local store",
		},
		[]string{"result"}, // ok, failed
	)

	r.LogicTransitions = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_logic_transitions_total",
			Help: "Switches between replication stage logics",
		},
		[]string{"from", "to"},
	)

	r.StageFailures = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_stage_failures_total",
			Help: "Failed replication stage iterations by kind",
		},
		[]string{"kind"}, // connection_lost, order_violation, decode_retry, decode, other
	)

	r.ActiveLogic = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lsmrepl_replication_active_logic",
			Help: "Currently active replication stage logic (1=active)",
		},
		[]string{"logic"},
	)

	r.LastInsertedView = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmrepl_replication_last_inserted_view",
			Help: "View of the last replicated entry applied locally",
		},
	)

	r.LastInsertedSeq = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmrepl_replication_last_inserted_sequence",
			Help: "Sequence number of the last replicated entry applied locally",
		},
	)

	r.LoadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_loads_total",
			Help: "Full state transfers by outcome",
		},
		[]string{"result"}, // reloaded, up_to_date, failed
	)

	r.ChunkBytes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_chunk_bytes_total",
			Help: "File chunk bytes moved during state transfer",
		},
		[]string{"direction"}, // served, received
	)

	r.HeartbeatsSent = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_heartbeats_sent_total",
			Help: "Heartbeats sent to the master",
		},
		[]string{"result"}, // ok, failed
	)

	r.HeartbeatsReceived = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_heartbeats_received_total",
			Help: "Heartbeats received from slaves",
		},
		[]string{"result"}, // accepted, rejected
	)

	r.EntriesServed = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmrepl_replication_entries_served_total",
			Help: "Log entries served to other participants",
		},
	)

	r.ReplicaBatchSize = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lsmrepl_replication_replica_batch_entries",
			Help:    "Entries per served replica request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	r.ParticipantAcked = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lsmrepl_replication_participant_acked_sequence",
			Help: "Last acknowledged sequence number per participant",
		},
		[]string{"participant"},
	)

	r.ParticipantStale = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lsmrepl_replication_participant_stale",
			Help: "Whether a participant missed its heartbeats (1=stale)",
		},
		[]string{"participant"},
	)
}
