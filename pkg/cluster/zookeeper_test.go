package cluster

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeZK keeps nodes in memory and fires one-shot watches like ZooKeeper.
type fakeZK struct {
	mu      sync.Mutex
	nodes   map[string][]byte
	watches map[string][]chan zk.Event
}

func newFakeZK() *fakeZK {
	return &fakeZK{nodes: map[string][]byte{}, watches: map[string][]chan zk.Event{}}
}

func (f *fakeZK) Exists(p string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[p]
	return ok, &zk.Stat{}, nil
}

func (f *fakeZK) ExistsW(p string) (bool, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[p]
	return ok, &zk.Stat{}, f.watch(p), nil
}

func (f *fakeZK) Create(p string, data []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	if parent := path.Dir(p); parent != "/" {
		if _, ok := f.nodes[parent]; !ok {
			return "", zk.ErrNoNode
		}
	}
	f.nodes[p] = data
	f.fire(p, zk.EventNodeCreated)
	return p, nil
}

func (f *fakeZK) Get(p string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return data, &zk.Stat{}, nil
}

func (f *fakeZK) GetW(p string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.nodes[p]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	return data, &zk.Stat{}, f.watch(p), nil
}

func (f *fakeZK) Children(p string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for n := range f.nodes {
		if path.Dir(n) == p {
			out = append(out, strings.TrimPrefix(n, p+"/"))
		}
	}
	return out, &zk.Stat{}, nil
}

func (f *fakeZK) State() zk.State { return zk.StateHasSession }
func (f *fakeZK) Close()          {}

// expire drops an ephemeral node as a lost session would.
func (f *fakeZK) expire(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, p)
	f.fire(p, zk.EventNodeDeleted)
}

func (f *fakeZK) watch(p string) chan zk.Event {
	ch := make(chan zk.Event, 1)
	f.watches[p] = append(f.watches[p], ch)
	return ch
}

func (f *fakeZK) fire(p string, typ zk.EventType) {
	for _, ch := range f.watches[p] {
		ch <- zk.Event{Type: typ, Path: p}
	}
	delete(f.watches, p)
}

func TestZKDirectory_RegisterMaster(t *testing.T) {
	conn := newFakeZK()
	master := newZKDirectory(conn, "/lsmrepl/cluster", "10.0.0.1:8080")
	require.NoError(t, master.RegisterMaster())
	require.NoError(t, master.RegisterMaster(), "registering twice is idempotent")

	addr, err := newZKDirectory(conn, "/lsmrepl/cluster", "10.0.0.2:8080").MasterAddr()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", addr)

	err = newZKDirectory(conn, "/lsmrepl/cluster", "10.0.0.2:8080").RegisterMaster()
	assert.True(t, errors.Is(err, ErrMasterTaken), "%v", err)
}

func TestZKDirectory_Participants(t *testing.T) {
	conn := newFakeZK()
	for _, addr := range []string{"10.0.0.3:1", "10.0.0.1:1", "10.0.0.2:1"} {
		require.NoError(t, newZKDirectory(conn, "/root", addr).RegisterParticipant())
	}

	got, err := newZKDirectory(conn, "/root", "x").Participants()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"}, got)
}

func TestZKDirectory_RunWatch(t *testing.T) {
	conn := newFakeZK()
	slave := newZKDirectory(conn, "/root", "10.0.0.2:8080")

	changes := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go slave.RunWatch(ctx, func(addr string) { changes <- addr })

	next := func() string {
		select {
		case addr := <-changes:
			return addr
		case <-time.After(5 * time.Second):
			t.Fatal("no master change observed")
			return ""
		}
	}

	require.NoError(t, newZKDirectory(conn, "/root", "10.0.0.1:8080").RegisterMaster())
	assert.Equal(t, "10.0.0.1:8080", next())

	conn.expire("/root/master")
	assert.Equal(t, "", next())

	require.NoError(t, newZKDirectory(conn, "/root", "10.0.0.3:8080").RegisterMaster())
	assert.Equal(t, "10.0.0.3:8080", next())

	addr, err := slave.MasterAddr()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3:8080", addr)
}
