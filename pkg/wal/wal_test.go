package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/types"
)

func appendN(t *testing.T, w *WAL, view uint32, from, to uint64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		e := logentry.New(types.NewLSN(view, seq), logentry.PayloadInsert, []byte{byte(seq)})
		require.NoError(t, w.Append(e))
	}
}

func TestWALReplayAcrossViews(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, types.NewLSN(1, 1), false)
	require.NoError(t, err)

	appendN(t, w, 1, 1, 3)
	require.NoError(t, w.Roll(types.NewLSN(2, 1)))
	appendN(t, w, 2, 1, 2)
	require.NoError(t, w.Close())

	w, err = Open(dir, types.NewLSN(9, 9), false)
	require.NoError(t, err)
	defer w.Close()
	appendN(t, w, 2, 3, 3)

	var got []types.LSN
	err = w.Replay(types.NewLSN(1, 2), func(e *logentry.LogEntry) error {
		got = append(got, e.LSN)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []types.LSN{
		types.NewLSN(1, 3), types.NewLSN(2, 1), types.NewLSN(2, 2), types.NewLSN(2, 3),
	}, got)
}

func TestWALRange(t *testing.T) {
	w, err := Open(t.TempDir(), types.NewLSN(1, 1), false)
	require.NoError(t, err)
	defer w.Close()

	appendN(t, w, 1, 1, 5)
	require.NoError(t, w.Roll(types.NewLSN(2, 1)))
	appendN(t, w, 2, 1, 5)

	raw, err := w.Range(types.Range{Start: types.NewLSN(1, 4), End: types.NewLSN(2, 3)}, 0)
	require.NoError(t, err)
	var lsns []types.LSN
	for _, b := range raw {
		e, err := logentry.Deserialize(b)
		require.NoError(t, err)
		lsns = append(lsns, e.LSN)
	}
	assert.Equal(t, []types.LSN{
		types.NewLSN(1, 4), types.NewLSN(1, 5), types.NewLSN(2, 1), types.NewLSN(2, 2),
	}, lsns)

	limited, err := w.Range(types.Range{Start: types.NewLSN(1, 1), End: types.NewLSN(3, 1)}, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	empty, err := w.Range(types.Range{Start: types.NewLSN(2, 6), End: types.NewLSN(2, 9)}, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWALPrune(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, types.NewLSN(1, 1), false)
	require.NoError(t, err)
	defer w.Close()

	appendN(t, w, 1, 1, 2)
	require.NoError(t, w.Roll(types.NewLSN(2, 1)))
	appendN(t, w, 2, 1, 2)
	require.NoError(t, w.Roll(types.NewLSN(3, 1)))

	require.NoError(t, w.Prune(3))
	assert.Equal(t, types.NewLSN(3, 1), w.Floor())
	_, err = os.Stat(filepath.Join(dir, FileName(types.NewLSN(1, 1))))
	assert.True(t, os.IsNotExist(err))

	_, err = w.Range(types.Range{Start: types.NewLSN(2, 1), End: types.NewLSN(3, 1)}, 0)
	assert.ErrorIs(t, err, ErrPruned)
}

func TestWALPruneKeepsListingConsistentOnFailure(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, types.NewLSN(1, 1), false)
	require.NoError(t, err)
	defer w.Close()

	appendN(t, w, 1, 1, 2)
	require.NoError(t, w.Roll(types.NewLSN(2, 1)))
	appendN(t, w, 2, 1, 2)
	require.NoError(t, w.Roll(types.NewLSN(3, 1)))

	// a non-empty directory in place of the view 2 file cannot be removed
	blocked := filepath.Join(dir, FileName(types.NewLSN(2, 1)))
	require.NoError(t, os.Remove(blocked))
	require.NoError(t, os.Mkdir(blocked, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "keep"), []byte("x"), 0600))

	require.Error(t, w.Prune(3))

	_, err = os.Stat(filepath.Join(dir, FileName(types.NewLSN(1, 1))))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, types.NewLSN(2, 1), w.Floor())

	_, err = w.Range(types.Range{Start: types.NewLSN(1, 1), End: types.NewLSN(2, 1)}, 0)
	assert.ErrorIs(t, err, ErrPruned)
}

func TestWALTornTail(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, types.NewLSN(1, 1), false)
	require.NoError(t, err)
	appendN(t, w, 1, 1, 2)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, FileName(types.NewLSN(1, 1)))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.Write([]byte{200, 0, 0, 0, 1, 2})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = Open(dir, types.NewLSN(1, 1), false)
	require.NoError(t, err)
	defer w.Close()

	count := 0
	require.NoError(t, w.Replay(types.LSN{}, func(*logentry.LogEntry) error {
		count++
		return nil
	}))
	assert.Equal(t, 2, count)
}

func TestWALReset(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, types.NewLSN(1, 1), false)
	require.NoError(t, err)
	defer w.Close()
	appendN(t, w, 1, 1, 3)

	require.NoError(t, w.Reset(types.NewLSN(5, 1)))
	assert.Equal(t, types.NewLSN(5, 1), w.Floor())

	count := 0
	require.NoError(t, w.Replay(types.LSN{}, func(*logentry.LogEntry) error {
		count++
		return nil
	}))
	assert.Zero(t, count)
}
