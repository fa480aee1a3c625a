package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/valyala/bytebufferpool"

	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/types"
)

const fileSuffix = ".dbl"

var (
	ErrClosed = errors.New("WAL is closed")
	// ErrPruned is returned when a requested LSN is older than any retained log file.
	ErrPruned = errors.New("log entries have been pruned")
)

type segment struct {
	first types.LSN
	path  string
}

// WAL appends log entries to one file per view. A file is named after the
// LSN of the first entry it may contain: "<view>.<seq>.dbl".
type WAL struct {
	mu       sync.Mutex
	dir      string
	sync     bool
	segments []segment
	file     *os.File
	writer   *bufio.Writer
}

// Open opens the newest log file in dir for appending, or creates one
// starting at next when the directory holds none.
func Open(dir string, next types.LSN, syncWrites bool) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{dir: dir, sync: syncWrites, segments: segments}
	if len(segments) == 0 {
		if err := w.roll(next); err != nil {
			return nil, err
		}
		return w, nil
	}

	newest := segments[len(segments)-1].path
	if err := repairTail(newest); err != nil {
		return nil, err
	}
	if err := w.openForAppend(newest); err != nil {
		return nil, err
	}
	return w, nil
}

// repairTail truncates a partially written frame at the end of path.
func repairTail(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	defer file.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	reader := bufio.NewReader(file)
	var good int64
	for {
		err := logentry.ReadFrame(reader, buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, logentry.ErrMalformed) {
			slog.Warn("truncating torn tail of log file", "file", path, "offset", good)
			if err := file.Truncate(good); err != nil {
				return fmt.Errorf("failed to truncate WAL file: %w", err)
			}
			return file.Sync()
		}
		if err != nil {
			return fmt.Errorf("failed to read WAL file: %w", err)
		}
		good += int64(4 + buf.Len())
	}
}

func listSegments(dir string) ([]segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL directory: %w", err)
	}

	var segments []segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		first, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		segments = append(segments, segment{first: first, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].first.Less(segments[j].first)
	})
	return segments, nil
}

// FileName returns the log file name for a file starting at first.
func FileName(first types.LSN) string {
	return strconv.FormatUint(uint64(first.ViewID), 10) + "." + strconv.FormatUint(first.SequenceNo, 10) + fileSuffix
}

func ParseFileName(name string) (types.LSN, bool) {
	base, ok := strings.CutSuffix(name, fileSuffix)
	if !ok {
		return types.LSN{}, false
	}
	view, seq, ok := strings.Cut(base, ".")
	if !ok {
		return types.LSN{}, false
	}
	lsn, err := types.ParseLSN(view + ":" + seq)
	if err != nil {
		return types.LSN{}, false
	}
	return lsn, true
}

func (w *WAL) openForAppend(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

// Append writes e to the current file and flushes it.
func (w *WAL) Append(e *logentry.LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return ErrClosed
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = e.AppendTo(buf.B[:0])

	if err := logentry.WriteFrame(w.writer, buf.B); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}

	return nil
}

// Roll closes the current file and starts a new one whose first entry is next.
func (w *WAL) Roll(next types.LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeFile(); err != nil {
		return err
	}
	return w.roll(next)
}

func (w *WAL) roll(next types.LSN) error {
	path := filepath.Join(w.dir, FileName(next))
	if n := len(w.segments); n == 0 || w.segments[n-1].path != path {
		w.segments = append(w.segments, segment{first: next, path: path})
	}
	return w.openForAppend(path)
}

// Replay calls callback for every entry with an LSN above after, in log
// order. A torn frame at the end of the newest file ends the replay.
func (w *WAL) Replay(after types.LSN, callback func(*logentry.LogEntry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.scan(func(e *logentry.LogEntry) (bool, error) {
		if !after.Less(e.LSN) {
			return true, nil
		}
		if err := callback(e); err != nil {
			return false, fmt.Errorf("WAL replay callback failed: %w", err)
		}
		return true, nil
	})
}

// Range returns the serialized entries inside r, at most max of them (0 means
// no limit).
func (w *WAL) Range(r types.Range, max int) ([][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.segments) > 0 && r.Start.Less(w.segments[0].first) {
		return nil, fmt.Errorf("%w: requested %s, oldest retained %s", ErrPruned, r.Start, w.segments[0].first)
	}

	var out [][]byte
	err := w.scanRaw(r.Start, func(raw []byte) (bool, error) {
		lsn, err := logentry.PeekLSN(raw)
		if err != nil {
			return false, err
		}
		if lsn.Less(r.Start) {
			return true, nil
		}
		if !lsn.Less(r.End) {
			return false, nil
		}
		out = append(out, append([]byte(nil), raw...))
		return max <= 0 || len(out) < max, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Floor is the first LSN the retained log may contain.
func (w *WAL) Floor() types.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.segments) == 0 {
		return types.LSN{}
	}
	return w.segments[0].first
}

// Prune removes every log file of a view older than minView, except the
// file currently written.
func (w *WAL) Prune(minView uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := make([]segment, 0, len(w.segments))
	for i, s := range w.segments {
		if s.first.ViewID >= minView || i == len(w.segments)-1 {
			kept = append(kept, s)
			continue
		}
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			// files removed so far are gone, the rest stays listed
			w.segments = append(kept, w.segments[i:]...)
			return fmt.Errorf("failed to prune WAL file: %w", err)
		}
		slog.Debug("pruned log file", "file", s.path)
	}
	w.segments = kept
	return nil
}

// Reset drops every log file and starts over at next.
func (w *WAL) Reset(next types.LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeFile(); err != nil {
		return err
	}
	for _, s := range w.segments {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove WAL file: %w", err)
		}
	}
	w.segments = nil
	return w.roll(next)
}

func (w *WAL) scan(fn func(*logentry.LogEntry) (bool, error)) error {
	return w.scanRaw(types.LSN{}, func(raw []byte) (bool, error) {
		e, err := logentry.Deserialize(raw)
		if err != nil {
			return false, fmt.Errorf("failed to read WAL entry: %w", err)
		}
		return fn(e)
	})
}

// scanRaw walks frames of every file that may hold LSNs at or above from.
func (w *WAL) scanRaw(from types.LSN, fn func([]byte) (bool, error)) error {
	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL before reading: %w", err)
		}
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for i, s := range w.segments {
		if i+1 < len(w.segments) && !from.Less(w.segments[i+1].first) {
			continue
		}
		more, err := w.scanFile(s.path, i == len(w.segments)-1, buf, fn)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (w *WAL) scanFile(path string, newest bool, buf *bytebufferpool.ByteBuffer, fn func([]byte) (bool, error)) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)
	for {
		err := logentry.ReadFrame(reader, buf)
		switch {
		case errors.Is(err, io.EOF):
			return true, nil
		case errors.Is(err, logentry.ErrMalformed) && newest:
			slog.Warn("ignoring torn tail of log file", "file", path, "error", err)
			return true, nil
		case err != nil:
			return false, fmt.Errorf("failed to read WAL frame from %s: %w", path, err)
		}

		more, err := fn(buf.B)
		if err != nil || !more {
			return false, err
		}
	}
}

func (w *WAL) closeFile() error {
	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}

	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closeFile()
}
