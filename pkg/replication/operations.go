package replication

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/metrics"
	"lsmrepl/pkg/types"
	"lsmrepl/pkg/wal"
)

// Operations serves the replication requests other participants send to
// this one. Heartbeat and Participants need accounting and are master only.
type Operations struct {
	db        MasterDB
	states    *ParticipantsStates
	chunkSize int64
	maxBatch  int
	metrics   *metrics.Registry
}

// NewOperations builds the served operations; states is nil on a slave.
func NewOperations(db MasterDB, states *ParticipantsStates, chunkSize int64, maxBatch int, m *metrics.Registry) *Operations {
	return &Operations{
		db:        db,
		states:    states,
		chunkSize: chunkSize,
		maxBatch:  maxBatch,
		metrics:   m,
	}
}

func (o *Operations) IsMaster() bool {
	return o.states != nil
}

func (o *Operations) State() StateResponse {
	return StateResponse{LSN: o.db.State(), LastOnView: o.db.LastOnView()}
}

// Heartbeat records the state of the participant listening on
// senderHost:port and answers with the local state.
func (o *Operations) Heartbeat(senderHost string, req HeartbeatRequest) (types.LSN, error) {
	if o.states == nil {
		return types.LSN{}, ErrNotMaster
	}
	addr := JoinAddress(senderHost, fmt.Sprint(req.Port))
	if err := o.states.Update(addr, req.LSN, time.Now()); err != nil {
		o.metrics.RecordHeartbeatReceived(false)
		return types.LSN{}, err
	}
	o.metrics.RecordHeartbeatReceived(true)
	return o.db.State(), nil
}

// Replica returns the serialized log entries of r, at most maxBatch of them.
func (o *Operations) Replica(r types.Range) ([][]byte, error) {
	if r.Empty() {
		return nil, nil
	}
	out, err := o.db.LogEntries(r, o.maxBatch)
	if err != nil {
		if errors.Is(err, wal.ErrPruned) {
			return nil, fmt.Errorf("%w: %v", ErrRangeUnavailable, err)
		}
		return nil, err
	}
	o.metrics.RecordReplicaServed(len(out))
	return out, nil
}

// Load lists the checkpoint files a participant at lsn has to fetch. The
// list is empty when the log alone brings it up to date.
func (o *Operations) Load(lsn types.LSN) ([]types.FileMetaData, error) {
	lov := o.db.LastOnView()
	if !lsn.IsZero() && (lsn == lov || lsn == types.NewLSN(lov.ViewID+1, 0)) {
		slog.Debug("load not needed", "lsn", lsn.String(), "last_on_view", lov.String())
		return nil, nil
	}
	files, err := o.db.FileMetaData(o.chunkSize, lsn, true)
	if err != nil {
		return nil, err
	}
	slog.Info("serving checkpoint", "lsn", lsn.String(), "files", len(files))
	return files, nil
}

// Chunk reads exactly the bytes of c from a file below the base directory.
func (o *Operations) Chunk(c types.Chunk) ([]byte, error) {
	rel := filepath.FromSlash(c.FileName)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %q is outside the store", ErrFileUnavailable, c.FileName)
	}
	if c.Begin < 0 || c.End < c.Begin || c.Len() > logentry.MaxFrameSize {
		return nil, fmt.Errorf("%w: invalid chunk %s", ErrFileUnavailable, c)
	}

	f, err := os.Open(filepath.Join(o.db.BaseDir(), rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileUnavailable, err)
	}
	defer f.Close()

	buf := make([]byte, c.Len())
	if _, err := f.ReadAt(buf, c.Begin); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s exceeds the file", ErrFileUnavailable, c)
		}
		return nil, err
	}
	o.metrics.AddChunkBytes("served", len(buf))
	return buf, nil
}

func (o *Operations) Participants() ([]ParticipantState, error) {
	if o.states == nil {
		return nil, ErrNotMaster
	}
	return o.states.States(), nil
}
