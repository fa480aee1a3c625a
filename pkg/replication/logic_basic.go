package replication

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lsmrepl/pkg/types"
)

// basicLogic idles while the slave is up to date and switches to REQUEST
// once the master reports entries the slave does not have.
type basicLogic struct {
	stage *Stage
}

func (l *basicLogic) ID() LogicID {
	return LogicBasic
}

func (l *basicLogic) Run(ctx context.Context) error {
	s := l.stage

	master, err := s.view.Master(ctx)
	if err != nil {
		return err
	}
	latest, err := master.State(ctx)
	if err != nil {
		return err
	}

	next := s.lastInserted.Next()
	end := latest.Next()
	if next.Less(end) {
		s.missing = types.NewRange(next, end)
		s.SetLogic(LogicRequest, fmt.Sprintf("master is at %s", latest))
		return nil
	}

	slog.Debug("replica is up to date", "lsn", s.lastInserted.String(), "master", latest.String())
	return l.idle(ctx)
}

func (l *basicLogic) idle(ctx context.Context) error {
	t := time.NewTimer(l.stage.cfg.PollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stage.wake:
	case <-t.C:
	}
	return nil
}
