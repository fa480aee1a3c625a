package replication

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lsmrepl/pkg/types"
)

func TestOperations_Heartbeat(t *testing.T) {
	c := newCluster(t, 4)

	got, err := c.ops.Heartbeat("127.0.0.1", HeartbeatRequest{LSN: types.NewLSN(1, 4), Port: 7002})
	if err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if got != c.master.State() {
		t.Fatalf("Expected master state %s, got %s", c.master.State(), got)
	}

	// an older heartbeat does not move the acknowledged LSN back
	if _, err := c.ops.Heartbeat("127.0.0.1", HeartbeatRequest{LSN: types.NewLSN(1, 2), Port: 7002}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	states, err := c.ops.Participants()
	if err != nil {
		t.Fatalf("Participants failed: %v", err)
	}
	if len(states) != 1 || states[0].LastAckedLSN != types.NewLSN(1, 4) {
		t.Fatalf("Unexpected participants %+v", states)
	}

	if _, err := c.ops.Heartbeat("10.0.0.9", HeartbeatRequest{LSN: types.NewLSN(1, 1), Port: 7002}); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Expected ErrAuthFailed, got %v", err)
	}
}

func TestOperations_SlaveRejectsMasterOnlyCalls(t *testing.T) {
	c := newCluster(t, 4)
	ops := NewOperations(c.slave, nil, 16, 10, nil)

	if ops.IsMaster() {
		t.Fatal("Operations without accounting must not claim to be master")
	}
	if _, err := ops.Heartbeat("127.0.0.1", HeartbeatRequest{Port: 7001}); !errors.Is(err, ErrNotMaster) {
		t.Fatalf("Expected ErrNotMaster, got %v", err)
	}
	if _, err := ops.Participants(); !errors.Is(err, ErrNotMaster) {
		t.Fatalf("Expected ErrNotMaster, got %v", err)
	}
}

func TestOperations_LoadCheckpointsWhenBehind(t *testing.T) {
	c := newCluster(t, 4)

	if err := c.master.CreateDatabase("db"); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	mustInsert(t, c.master, "db", "k", "v")

	// a fresh participant replays the whole log
	files, err := c.ops.Load(types.NewLSN(1, 0))
	if err != nil || len(files) != 0 {
		t.Fatalf("Expected no files for a fresh participant, got %v, %v", files, err)
	}

	files, err = c.ops.Load(types.NewLSN(1, 1))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected registry and snapshot, got %+v", files)
	}
	if got := c.master.LastOnView(); got != types.NewLSN(1, 2) {
		t.Fatalf("Expected a checkpoint at 1:2, got %s", got)
	}
	for _, f := range files {
		if f.ChunkSize != c.chunkSize {
			t.Fatalf("Expected chunk size %d, got %d", c.chunkSize, f.ChunkSize)
		}
	}

	// positions at the checkpoint need nothing
	for _, lsn := range []types.LSN{types.NewLSN(1, 2), types.NewLSN(2, 0)} {
		files, err := c.ops.Load(lsn)
		if err != nil || len(files) != 0 {
			t.Fatalf("Expected no files at %s, got %v, %v", lsn, files, err)
		}
	}
}

func TestOperations_Chunk(t *testing.T) {
	c := newCluster(t, 4)

	content := []byte("0123456789abcdefghij")
	if err := os.WriteFile(filepath.Join(c.master.BaseDir(), "blob"), content, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := c.ops.Chunk(types.Chunk{FileName: "blob", Begin: 5, End: 12})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if !bytes.Equal(data, content[5:12]) {
		t.Fatalf("Expected %q, got %q", content[5:12], data)
	}

	bad := []types.Chunk{
		{FileName: "blob", Begin: 15, End: 30},
		{FileName: "blob", Begin: 8, End: 4},
		{FileName: "../blob", Begin: 0, End: 1},
		{FileName: "/etc/passwd", Begin: 0, End: 1},
		{FileName: "missing", Begin: 0, End: 1},
	}
	for _, ch := range bad {
		if _, err := c.ops.Chunk(ch); !errors.Is(err, ErrFileUnavailable) {
			t.Fatalf("Expected ErrFileUnavailable for %s, got %v", ch, err)
		}
	}
}

func TestFetchFile(t *testing.T) {
	c := newCluster(t, 4)

	content := bytes.Repeat([]byte("chunked!"), 9)
	if err := os.MkdirAll(filepath.Join(c.master.BaseDir(), "db"), 0750); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(c.master.BaseDir(), "db", "file"), content, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	dir := t.TempDir()
	f := types.FileMetaData{FilePath: "db/file", FileSize: int64(len(content)), ChunkSize: 10}
	if err := fetchFile(context.Background(), c.clients.Client(masterAddr), dir, f, nil); err != nil {
		t.Fatalf("fetchFile failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "db", "file"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Fetched content differs")
	}

	f.FileSize += 5
	if err := fetchFile(context.Background(), c.clients.Client(masterAddr), dir, f, nil); !errors.Is(err, ErrFileUnavailable) {
		t.Fatalf("Expected ErrFileUnavailable for a shrunken file, got %v", err)
	}
	f.FilePath = "../outside"
	if err := fetchFile(context.Background(), c.clients.Client(masterAddr), dir, f, nil); !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected ErrDecode for an unsafe path, got %v", err)
	}
}

func TestChunks(t *testing.T) {
	chunks, err := Chunks(types.FileMetaData{FilePath: "f", FileSize: 25, ChunkSize: 10})
	if err != nil {
		t.Fatalf("Chunks failed: %v", err)
	}
	want := []types.Chunk{
		{FileName: "f", Begin: 0, End: 10},
		{FileName: "f", Begin: 10, End: 20},
		{FileName: "f", Begin: 20, End: 25},
	}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("Chunk %d: expected %s, got %s", i, want[i], chunks[i])
		}
	}

	if chunks, _ := Chunks(types.FileMetaData{FilePath: "empty", ChunkSize: 10}); len(chunks) != 0 {
		t.Fatalf("Expected no chunks for an empty file, got %d", len(chunks))
	}
	if _, err := Chunks(types.FileMetaData{FilePath: "f", FileSize: 1}); !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected ErrDecode for a zero chunk size, got %v", err)
	}
}

func TestPacemaker_Beat(t *testing.T) {
	c := newCluster(t, 4)
	if err := c.master.CreateDatabase("db"); err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	c.converge(t)

	var seen types.LSN
	p := NewPacemaker(c.slave, c.view, 7002, time.Second, nil).OnMasterState(func(lsn types.LSN) {
		seen = lsn
	})
	if err := p.Beat(context.Background()); err != nil {
		t.Fatalf("Beat failed: %v", err)
	}
	if seen != c.master.State() {
		t.Fatalf("Expected master state %s, got %s", c.master.State(), seen)
	}

	states, _ := c.ops.Participants()
	if len(states) != 1 || states[0].LastAckedLSN != c.slave.State() {
		t.Fatalf("Expected master to record %s, got %+v", c.slave.State(), states)
	}
}
