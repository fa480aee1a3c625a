package replication

import (
	"context"

	"github.com/valyala/bytebufferpool"

	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/types"
)

// BabuDB is the part of the local store a slave replicates into.
type BabuDB interface {
	State() types.LSN
	LastOnView() types.LSN
	// Append logs and applies e asynchronously; done fires exactly once.
	Append(e *logentry.LogEntry, done func(error))
	// Checkpoint waits for queued entries, persists a snapshot and opens
	// the next view. It returns the LSN of the snapshot.
	Checkpoint() (types.LSN, error)
	// Reload replaces the local state with the checkpoint files in dir.
	Reload(dir string) error
}

// MasterDB is the part of the store that serves other participants.
type MasterDB interface {
	State() types.LSN
	LastOnView() types.LSN
	BaseDir() string
	LogEntries(r types.Range, max int) ([][]byte, error)
	FileMetaData(chunkSize int64, atLeast types.LSN, ensure bool) ([]types.FileMetaData, error)
}

// MasterClient calls the replication operations of one remote participant.
// Transport failures are reported as *ConnectionLostError.
type MasterClient interface {
	Address() string
	State(ctx context.Context) (types.LSN, error)
	Heartbeat(ctx context.Context, lsn types.LSN, port int) (types.LSN, error)
	// Replica returns the serialized entries of r in pooled buffers; the
	// caller releases them with logentry.Release.
	Replica(ctx context.Context, r types.Range) ([]*bytebufferpool.ByteBuffer, error)
	Load(ctx context.Context, lsn types.LSN) ([]types.FileMetaData, error)
	Chunk(ctx context.Context, c types.Chunk) ([]byte, error)
}

// ClientFactory hands out clients by participant address.
type ClientFactory interface {
	Client(addr string) MasterClient
}

// MasterResolver tells where the master currently is.
type MasterResolver interface {
	MasterAddr() (string, error)
}

// StaticMaster is a fixed master address.
type StaticMaster string

func (m StaticMaster) MasterAddr() (string, error) {
	return string(m), nil
}
