package metrics

import (
	"strconv"
	"time"
)

// The recorders below accept a nil *Registry so that components can run
// without metrics.

func (r *Registry) RecordApply(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.EntriesApplied.WithLabelValues(result).Inc()
}

// SetLogic records a stage logic switch.
func (r *Registry) SetLogic(from, to string) {
	if r == nil {
		return
	}
	r.LogicTransitions.WithLabelValues(from, to).Inc()
	r.ActiveLogic.WithLabelValues(from).Set(0)
	r.ActiveLogic.WithLabelValues(to).Set(1)
}

func (r *Registry) RecordStageFailure(kind string) {
	if r == nil {
		return
	}
	r.StageFailures.WithLabelValues(kind).Inc()
}

func (r *Registry) SetLastInserted(view uint32, seq uint64) {
	if r == nil {
		return
	}
	r.LastInsertedView.Set(float64(view))
	r.LastInsertedSeq.Set(float64(seq))
}

func (r *Registry) RecordLoad(result string) {
	if r == nil {
		return
	}
	r.LoadsTotal.WithLabelValues(result).Inc()
}

func (r *Registry) AddChunkBytes(direction string, n int) {
	if r == nil {
		return
	}
	r.ChunkBytes.WithLabelValues(direction).Add(float64(n))
}

func (r *Registry) RecordHeartbeatSent(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.HeartbeatsSent.WithLabelValues(result).Inc()
}

func (r *Registry) RecordHeartbeatReceived(accepted bool) {
	if r == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	r.HeartbeatsReceived.WithLabelValues(result).Inc()
}

func (r *Registry) RecordReplicaServed(entries int) {
	if r == nil {
		return
	}
	r.EntriesServed.Add(float64(entries))
	r.ReplicaBatchSize.Observe(float64(entries))
}

// UpdateParticipant records the acknowledged position and staleness of one participant.
func (r *Registry) UpdateParticipant(addr string, ackedSeq uint64, stale bool) {
	if r == nil {
		return
	}
	r.ParticipantAcked.WithLabelValues(addr).Set(float64(ackedSeq))
	v := 0.0
	if stale {
		v = 1
	}
	r.ParticipantStale.WithLabelValues(addr).Set(v)
}

func (r *Registry) RecordRPC(operation string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.RPCDuration.WithLabelValues(operation, strconv.Itoa(status)).Observe(duration.Seconds())
}
