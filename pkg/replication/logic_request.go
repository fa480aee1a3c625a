package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/valyala/bytebufferpool"

	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/types"
)

// maxDecodeRetries is how often a range whose reply could not be decoded
// is requested again before the stage falls back to LOAD.
const maxDecodeRetries = 3

// requestLogic fetches the missing range of log entries from a
// synchronization partner and appends them to the local store.
type requestLogic struct {
	stage *Stage

	decodeFailures int
}

func (l *requestLogic) ID() LogicID {
	return LogicRequest
}

func (l *requestLogic) Run(ctx context.Context) error {
	s := l.stage

	if s.missing.Empty() {
		s.missing = nil
		s.SetLogic(LogicBasic, "nothing missing")
		return nil
	}

	partner, err := s.view.SynchronizationPartner(ctx, s.missing.Last())
	if err != nil {
		return err
	}
	bufs, err := partner.Replica(ctx, *s.missing)
	if err != nil {
		switch {
		case errors.Is(err, ErrRangeUnavailable):
			s.SetLogic(LogicLoad, fmt.Sprintf("%s no longer holds %s", partner.Address(), s.missing))
			return nil
		case errors.Is(err, ErrDecode):
			return l.decodeFailed(err)
		}
		return err
	}
	defer logentry.Release(bufs)

	if len(bufs) == 0 {
		// the partner's log ends its view right before the range
		lov, err := s.db.Checkpoint()
		if err != nil {
			s.SetLogic(LogicLoad, "checkpoint failed")
			return fmt.Errorf("%w: %v", ErrApply, err)
		}
		s.lastOnView = lov
		s.advance(s.db.State())
		l.finish()
		return nil
	}

	entries, err := l.decode(bufs)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return l.decodeFailed(err)
		}
		return err
	}
	l.decodeFailures = 0
	return l.apply(ctx, entries)
}

// decodeFailed keeps the missing range so that it is requested again. Once
// the retries are used up the decode error escapes and the stage loads.
func (l *requestLogic) decodeFailed(err error) error {
	l.decodeFailures++
	if l.decodeFailures >= maxDecodeRetries {
		l.decodeFailures = 0
		return err
	}
	return fmt.Errorf("%w (attempt %d of %d): %v", errRetryRange, l.decodeFailures, maxDecodeRetries, err)
}

// decode deserializes and order-checks the whole batch before anything
// is applied.
func (l *requestLogic) decode(bufs []*bytebufferpool.ByteBuffer) ([]*logentry.LogEntry, error) {
	prev := l.stage.lastInserted
	entries := make([]*logentry.LogEntry, 0, len(bufs))
	for _, b := range bufs {
		e, err := logentry.Deserialize(b.B)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !prev.IsSuccessor(e.LSN) {
			return nil, fmt.Errorf("%w: %s after %s", ErrOrderViolation, e.LSN, prev)
		}
		entries = append(entries, e)
		prev = e.LSN
	}
	return entries, nil
}

func (l *requestLogic) apply(ctx context.Context, entries []*logentry.LogEntry) error {
	s := l.stage

	lsns := make([]types.LSN, len(entries))
	for i, e := range entries {
		lsns[i] = e.LSN
	}
	join := newApplyJoin(lsns)

	prev := s.lastInserted
	for i, e := range entries {
		if e.LSN.SequenceNo == 1 && e.LSN.ViewID > prev.ViewID {
			if join.failed() {
				break
			}
			lov, err := s.db.Checkpoint()
			if err != nil {
				join.finish(err)
				break
			}
			s.lastOnView = lov
			slog.Info("view changed", "last_on_view", lov.String(), "next", e.LSN.String())
		}
		s.db.Append(e, join.callback(i))
		prev = e.LSN
	}

	err := join.wait(ctx)
	if last, ok := join.lastApplied(); ok {
		s.advance(last)
	}
	s.metrics.RecordApply(err == nil)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next := s.lastInserted.Next()
		if s.missing.Contains(next) {
			s.missing = types.NewRange(next, s.missing.End)
		}
		s.SetLogic(LogicLoad, "log entries could not be applied")
		return fmt.Errorf("%w: %v", ErrApply, err)
	}

	l.finish()
	return nil
}

// finish narrows the missing range to what is left after lastInserted.
func (l *requestLogic) finish() {
	s := l.stage
	next := s.lastInserted.Next()
	if next.Less(s.missing.End) {
		s.missing = types.NewRange(next, s.missing.End)
		slog.Debug("missing range narrowed", "missing", s.missing.String())
		return
	}
	s.missing = nil
	s.SetLogic(LogicBasic, "replica caught up")
}
