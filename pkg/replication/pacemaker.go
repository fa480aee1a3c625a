package replication

import (
	"context"
	"log/slog"
	"time"

	"lsmrepl/pkg/metrics"
	"lsmrepl/pkg/types"
)

// Pacemaker periodically reports the local state to the master.
type Pacemaker struct {
	db       BabuDB
	view     *SlaveView
	port     int
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Registry

	onMaster func(types.LSN)
}

func NewPacemaker(db BabuDB, view *SlaveView, port int, interval time.Duration, m *metrics.Registry) *Pacemaker {
	return &Pacemaker{
		db:       db,
		view:     view,
		port:     port,
		interval: interval,
		timeout:  interval,
		metrics:  m,
	}
}

// OnMasterState registers fn to receive the master state of every
// successful heartbeat.
func (p *Pacemaker) OnMasterState(fn func(types.LSN)) *Pacemaker {
	p.onMaster = fn
	return p
}

// Run sends a heartbeat every interval until ctx is canceled.
func (p *Pacemaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Beat(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Beat sends a single heartbeat.
func (p *Pacemaker) Beat(ctx context.Context) error {
	master, err := p.view.Master(ctx)
	if err != nil {
		p.metrics.RecordHeartbeatSent(false)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	latest, err := master.Heartbeat(ctx, p.db.State(), p.port)
	p.metrics.RecordHeartbeatSent(err == nil)
	if err != nil {
		return err
	}
	if p.onMaster != nil {
		p.onMaster(latest)
	}
	return nil
}
