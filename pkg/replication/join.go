package replication

import (
	"context"
	"sync"
	"sync/atomic"

	"lsmrepl/pkg/types"
)

// applyJoin collects the asynchronous outcomes of one batch of appended
// entries. It completes when every entry is acknowledged or the first
// failure is reported.
type applyJoin struct {
	lsns    []types.LSN
	applied []atomic.Bool
	pending atomic.Int64

	once sync.Once
	done chan struct{}
	err  error
}

func newApplyJoin(lsns []types.LSN) *applyJoin {
	j := &applyJoin{
		lsns:    lsns,
		applied: make([]atomic.Bool, len(lsns)),
		done:    make(chan struct{}),
	}
	j.pending.Store(int64(len(lsns)))
	if len(lsns) == 0 {
		close(j.done)
	}
	return j
}

// callback returns the completion function for the i-th entry.
func (j *applyJoin) callback(i int) func(error) {
	return func(err error) {
		if err != nil {
			j.finish(err)
			return
		}
		j.applied[i].Store(true)
		if j.pending.Add(-1) == 0 {
			j.finish(nil)
		}
	}
}

func (j *applyJoin) finish(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

// failed reports whether a failure is already known, without blocking.
func (j *applyJoin) failed() bool {
	select {
	case <-j.done:
		return j.err != nil
	default:
		return false
	}
}

// wait blocks until the join completes or ctx is done.
func (j *applyJoin) wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lastApplied returns the last LSN of the acknowledged prefix of the batch.
func (j *applyJoin) lastApplied() (types.LSN, bool) {
	var last types.LSN
	ok := false
	for i := range j.lsns {
		if !j.applied[i].Load() {
			break
		}
		last, ok = j.lsns[i], true
	}
	return last, ok
}
