package replication

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"lsmrepl/pkg/types"
)

// loadLogic replaces the local state with the master's newest checkpoint
// when the missing entries can no longer be replayed from a log.
type loadLogic struct {
	stage *Stage

	// emptyAt is the position at which the master last answered with an
	// empty file list; loading again from there requests a full transfer.
	emptyAt *types.LSN
}

func (l *loadLogic) ID() LogicID {
	return LogicLoad
}

func (l *loadLogic) Run(ctx context.Context) error {
	s := l.stage

	master, err := s.view.Master(ctx)
	if err != nil {
		return err
	}

	lsn := s.lastInserted
	if l.emptyAt != nil && *l.emptyAt == lsn {
		slog.Info("requesting a full transfer", "lsn", lsn.String())
		lsn = types.LSN{}
	}
	files, err := master.Load(ctx, lsn)
	if err != nil {
		s.metrics.RecordLoad("failed")
		return err
	}

	if len(files) == 0 {
		at := s.lastInserted
		l.emptyAt = &at
		s.metrics.RecordLoad("up_to_date")
		return l.resume(ctx, master, "master log covers the local state")
	}

	if err := l.transfer(ctx, master, files); err != nil {
		s.metrics.RecordLoad("failed")
		return err
	}
	l.emptyAt = nil
	s.lastInserted = s.db.State()
	s.lastOnView = s.db.LastOnView()
	s.metrics.RecordLoad("reloaded")
	slog.Info("replica loaded from master", "master", master.Address(), "files", len(files), "lsn", s.lastInserted.String())

	return l.resume(ctx, master, "checkpoint loaded")
}

func (l *loadLogic) transfer(ctx context.Context, master MasterClient, files []types.FileMetaData) error {
	s := l.stage
	if err := os.MkdirAll(s.cfg.StagingDir, 0750); err != nil {
		return err
	}
	dir, err := os.MkdirTemp(s.cfg.StagingDir, "load-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	for _, f := range files {
		if err := fetchFile(ctx, master, dir, f, s.metrics); err != nil {
			return fmt.Errorf("failed to fetch %s: %w", f.FilePath, err)
		}
	}
	if err := s.db.Reload(dir); err != nil {
		return fmt.Errorf("%w: %v", ErrApply, err)
	}
	return nil
}

// resume asks the master for its state and continues with the entries
// following the local state.
func (l *loadLogic) resume(ctx context.Context, master MasterClient, reason string) error {
	s := l.stage

	latest, err := master.State(ctx)
	if err != nil {
		return err
	}
	end := latest.Next()
	if s.missing != nil && end.Less(s.missing.End) {
		end = s.missing.End
	}
	s.missing = types.NewRange(s.lastInserted.Next(), end)
	s.SetLogic(LogicRequest, reason)
	return nil
}
