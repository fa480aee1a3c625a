package replication

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/valyala/bytebufferpool"

	"lsmrepl/pkg/config"
	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/store"
	"lsmrepl/pkg/types"
)

const (
	masterAddr = "127.0.0.1:7001"
	slaveAddr  = "127.0.0.1:7002"
)

// localClient calls Operations in-process instead of over HTTP.
type localClient struct {
	addr string
	ops  *Operations
}

func (c *localClient) Address() string {
	return c.addr
}

func (c *localClient) State(context.Context) (types.LSN, error) {
	return c.ops.State().LSN, nil
}

func (c *localClient) Heartbeat(_ context.Context, lsn types.LSN, port int) (types.LSN, error) {
	return c.ops.Heartbeat("127.0.0.1", HeartbeatRequest{LSN: lsn, Port: port})
}

func (c *localClient) Replica(_ context.Context, r types.Range) ([]*bytebufferpool.ByteBuffer, error) {
	raw, err := c.ops.Replica(r)
	if err != nil {
		return nil, err
	}
	return pooled(raw), nil
}

func (c *localClient) Load(_ context.Context, lsn types.LSN) ([]types.FileMetaData, error) {
	return c.ops.Load(lsn)
}

func (c *localClient) Chunk(_ context.Context, ch types.Chunk) ([]byte, error) {
	return c.ops.Chunk(ch)
}

func pooled(raw [][]byte) []*bytebufferpool.ByteBuffer {
	out := make([]*bytebufferpool.ByteBuffer, len(raw))
	for i, b := range raw {
		out[i] = bytebufferpool.Get()
		out[i].Set(b)
	}
	return out
}

// stubClient answers with fixed values; it stands in for a misbehaving master.
// Without files, Load reports a lost connection.
type stubClient struct {
	addr     string
	state    types.LSN
	stateErr error
	replica  [][]byte
	files    []types.FileMetaData

	replicaCalls int
	loadCalls    int
}

func (c *stubClient) Address() string {
	return c.addr
}

func (c *stubClient) State(context.Context) (types.LSN, error) {
	return c.state, c.stateErr
}

func (c *stubClient) Heartbeat(context.Context, types.LSN, int) (types.LSN, error) {
	return c.state, c.stateErr
}

func (c *stubClient) Replica(context.Context, types.Range) ([]*bytebufferpool.ByteBuffer, error) {
	c.replicaCalls++
	return pooled(c.replica), nil
}

func (c *stubClient) Load(context.Context, types.LSN) ([]types.FileMetaData, error) {
	c.loadCalls++
	if c.files == nil {
		return nil, ConnectionLost(CodeUnavailable, context.DeadlineExceeded)
	}
	return c.files, nil
}

func (c *stubClient) Chunk(context.Context, types.Chunk) ([]byte, error) {
	return nil, ErrFileUnavailable
}

// fakeDB applies entries synchronously and only records them. Append
// fails for the LSN in failAt and for every entry that does not follow
// the current state.
type fakeDB struct {
	state      types.LSN
	lastOnView types.LSN
	failAt     types.LSN

	appended    []types.LSN
	checkpoints int
	reloads     int
}

func newFakeDB() *fakeDB {
	return &fakeDB{state: types.NewLSN(1, 0)}
}

func (db *fakeDB) State() types.LSN {
	return db.state
}

func (db *fakeDB) LastOnView() types.LSN {
	return db.lastOnView
}

func (db *fakeDB) Append(e *logentry.LogEntry, done func(error)) {
	switch {
	case e.LSN == db.failAt:
		done(errors.New("disk full"))
	case !db.state.IsSuccessor(e.LSN):
		done(fmt.Errorf("%s does not follow %s", e.LSN, db.state))
	default:
		db.state = e.LSN
		db.appended = append(db.appended, e.LSN)
		done(nil)
	}
}

func (db *fakeDB) Checkpoint() (types.LSN, error) {
	db.checkpoints++
	db.lastOnView = db.state
	db.state = types.LSN{ViewID: db.state.ViewID + 1}
	return db.lastOnView, nil
}

func (db *fakeDB) Reload(string) error {
	db.reloads++
	return nil
}

type clientMap map[string]MasterClient

func (m clientMap) Client(addr string) MasterClient {
	if c, ok := m[addr]; ok {
		return c
	}
	return &stubClient{addr: addr, stateErr: ConnectionLost(CodeUnavailable, context.DeadlineExceeded)}
}

func storeConfig(dir string, retention uint32) config.DB {
	cfg := config.Default().DB
	cfg.BaseDir = dir
	cfg.LogDir = filepath.Join(dir, "log")
	cfg.SyncWrites = false
	cfg.ApplyQueueSize = 16
	cfg.LogRetentionViews = retention
	return cfg
}

func openStore(t *testing.T, cfg config.DB, readOnly bool) *store.Store {
	t.Helper()
	s, err := store.Open(cfg, readOnly)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func stageConfig(dir string) StageConfig {
	return StageConfig{
		PollInterval: 5 * time.Millisecond,
		Backoff: config.BackoffConfig{
			Initial:     time.Millisecond,
			Max:         5 * time.Millisecond,
			Coefficient: 2,
		},
		StagingDir: filepath.Join(dir, ".staging"),
	}
}

type cluster struct {
	master    *store.Store
	ops       *Operations
	slave     *store.Store
	slaveDir  string
	view      *SlaveView
	stage     *Stage
	clients   clientMap
	chunkSize int64
}

func newCluster(t *testing.T, retention uint32) *cluster {
	t.Helper()

	c := &cluster{chunkSize: 16}
	c.master = openStore(t, storeConfig(t.TempDir(), retention), false)
	c.slaveDir = t.TempDir()
	c.slave = openStore(t, storeConfig(c.slaveDir, retention), true)

	states, err := NewParticipantsStates([]string{slaveAddr}, time.Minute)
	if err != nil {
		t.Fatalf("NewParticipantsStates failed: %v", err)
	}
	c.ops = NewOperations(c.master, states, c.chunkSize, 3, nil)
	c.clients = clientMap{masterAddr: &localClient{addr: masterAddr, ops: c.ops}}

	c.view, err = NewSlaveView(StaticMaster(masterAddr), slaveAddr, []string{masterAddr, slaveAddr}, c.clients, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("NewSlaveView failed: %v", err)
	}
	c.stage = NewStage(c.slave, c.view, stageConfig(c.slaveDir), nil)
	return c
}

// converge runs the stage until the slave holds the master's state.
func (c *cluster) converge(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 200; i++ {
		c.stage.RunOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		if c.stage.Logic() == LogicBasic && c.slave.State() == c.master.State() {
			return
		}
	}
	t.Fatalf("Slave did not converge: status %+v, master at %s", c.stage.Status(), c.master.State())
}

func mustInsert(t *testing.T, s *store.Store, db, key, value string) {
	t.Helper()
	if err := s.Insert(db, 0, []byte(key), []byte(value)); err != nil {
		t.Fatalf("Insert(%s) failed: %v", key, err)
	}
}

func mustCheckpoint(t *testing.T, s *store.Store) types.LSN {
	t.Helper()
	lsn, err := s.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	return lsn
}

func expectValue(t *testing.T, s *store.Store, db, key, want string) {
	t.Helper()
	v, ok, err := s.Lookup(db, 0, []byte(key))
	if err != nil {
		t.Fatalf("Lookup(%s) failed: %v", key, err)
	}
	if !ok {
		t.Fatalf("Expected %s to be present", key)
	}
	if string(v) != want {
		t.Fatalf("Expected %s=%q, got %q", key, want, v)
	}
}

func serialized(entries ...*logentry.LogEntry) [][]byte {
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Serialize()
	}
	return out
}
