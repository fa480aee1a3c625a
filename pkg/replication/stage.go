package replication

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"lsmrepl/pkg/config"
	"lsmrepl/pkg/metrics"
	"lsmrepl/pkg/types"
)

// StageConfig tunes the replication stage.
type StageConfig struct {
	PollInterval time.Duration
	Backoff      config.BackoffConfig
	// StagingDir receives files during a load before they replace the local state.
	StagingDir string
}

func StageConfigFrom(cfg config.ReplicationConfig, baseDir string) StageConfig {
	staging := cfg.StagingDir
	if staging == "" {
		staging = filepath.Join(baseDir, ".staging")
	}
	return StageConfig{
		PollInterval: cfg.PollInterval,
		Backoff:      cfg.Backoff,
		StagingDir:   staging,
	}
}

// Stage drives a slave towards the master's state. All of its fields are
// owned by the goroutine calling Run; Status may be called from anywhere.
type Stage struct {
	cfg     StageConfig
	db      BabuDB
	view    *SlaveView
	metrics *metrics.Registry

	lastInserted types.LSN
	lastOnView   types.LSN
	missing      *types.Range

	active   LogicID
	logics   map[LogicID]Logic
	failures int
	wake     chan struct{}

	statusMu sync.Mutex
	status   StageStatus
}

// StageStatus is a copy of the stage position for observers.
type StageStatus struct {
	Logic        string       `json:"logic"`
	LastInserted types.LSN    `json:"last_inserted"`
	LastOnView   types.LSN    `json:"last_on_view"`
	Missing      *types.Range `json:"missing,omitempty"`
	Failures     int          `json:"failures"`
}

func NewStage(db BabuDB, view *SlaveView, cfg StageConfig, m *metrics.Registry) *Stage {
	s := &Stage{
		cfg:          cfg,
		db:           db,
		view:         view,
		metrics:      m,
		lastInserted: db.State(),
		lastOnView:   db.LastOnView(),
		active:       LogicBasic,
		wake:         make(chan struct{}, 1),
	}
	s.logics = map[LogicID]Logic{
		LogicBasic:   &basicLogic{stage: s},
		LogicRequest: &requestLogic{stage: s},
		LogicLoad:    &loadLogic{stage: s},
	}
	s.publish()
	return s
}

// Run executes logics until ctx is canceled. Failed steps are retried
// after an exponentially growing pause.
func (s *Stage) Run(ctx context.Context) error {
	slog.Info("replication stage started", "lsn", s.lastInserted.String(), "logic", s.active.String())
	defer slog.Info("replication stage stopped", "lsn", s.lastInserted.String())

	for ctx.Err() == nil {
		if err := s.RunOnce(ctx); err == nil {
			continue
		}
		wait := retryInterval(s.cfg.Backoff.Initial, s.cfg.Backoff.Coefficient, s.failures-1, s.cfg.Backoff.Max)
		if sleepCtx(ctx, wait) != nil {
			break
		}
	}
	return nil
}

// RunOnce executes the active logic a single time and classifies its failure.
func (s *Stage) RunOnce(ctx context.Context) error {
	logic := s.logics[s.active]
	err := logic.Run(ctx)
	defer s.publish()

	if err == nil {
		s.failures = 0
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.failures++
	switch {
	case errors.Is(err, ErrConnectionLost):
		s.metrics.RecordStageFailure("connection_lost")
		s.logFailure("replication partner unreachable", logic.ID(), err)
	case errors.Is(err, ErrOrderViolation):
		s.metrics.RecordStageFailure("order_violation")
		slog.Error("received log entries out of order", "logic", logic.ID().String(), "error", err)
		s.SetLogic(LogicLoad, "order violation")
	case errors.Is(err, errRetryRange):
		s.metrics.RecordStageFailure("decode_retry")
		s.logFailure("replication response could not be decoded", logic.ID(), err)
	case errors.Is(err, ErrDecode):
		s.metrics.RecordStageFailure("decode")
		s.logFailure("replication response could not be decoded", logic.ID(), err)
		s.SetLogic(LogicLoad, "decode failure")
	default:
		s.metrics.RecordStageFailure("other")
		s.logFailure("replication step failed", logic.ID(), err)
	}
	return err
}

// logFailure escalates the level with the number of consecutive failures.
func (s *Stage) logFailure(msg string, id LogicID, err error) {
	level := slog.LevelDebug
	switch {
	case s.failures >= 10:
		level = slog.LevelError
	case s.failures >= 3:
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, msg, "logic", id.String(), "failures", s.failures, "error", err)
}

// SetLogic makes id the logic of the next step.
func (s *Stage) SetLogic(id LogicID, reason string) {
	if id == s.active {
		slog.Debug("replication logic unchanged", "logic", id.String(), "reason", reason)
		return
	}
	slog.Info("replication logic changed", "from", s.active.String(), "to", id.String(), "reason", reason)
	s.metrics.SetLogic(s.active.String(), id.String())
	s.active = id
}

func (s *Stage) Logic() LogicID {
	return s.active
}

func (s *Stage) LastInserted() types.LSN {
	return s.lastInserted
}

func (s *Stage) LastOnView() types.LSN {
	return s.lastOnView
}

func (s *Stage) Missing() *types.Range {
	return s.missing
}

// Notify wakes an idle BASIC logic, e.g. when a heartbeat shows the master ahead.
func (s *Stage) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status is safe for concurrent use.
func (s *Stage) Status() StageStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

func (s *Stage) publish() {
	st := StageStatus{
		Logic:        s.active.String(),
		LastInserted: s.lastInserted,
		LastOnView:   s.lastOnView,
		Failures:     s.failures,
	}
	if s.missing != nil {
		r := *s.missing
		st.Missing = &r
	}
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()

	s.metrics.SetLastInserted(s.lastInserted.ViewID, s.lastInserted.SequenceNo)
}

// advance moves lastInserted forward; it never goes back.
func (s *Stage) advance(lsn types.LSN) {
	s.lastInserted = types.MaxLSN(s.lastInserted, lsn)
}
