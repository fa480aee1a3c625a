package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"lsmrepl/pkg/types"
)

const (
	registryVersion   = 1
	inProgressSuffix  = ".in_progress"
	registryStartDBID = 1
)

// DatabaseInfo is the persisted description of one database.
type DatabaseInfo struct {
	Name        string   `json:"name"`
	ID          uint32   `json:"id"`
	Comparators []string `json:"comparators"`
}

// Registry lists every database and the comparators of its indices.
type Registry struct {
	NextID    uint32
	Databases []DatabaseInfo
}

func newRegistry() *Registry {
	return &Registry{NextID: registryStartDBID}
}

func (r *Registry) find(name string) (int, bool) {
	return slices.BinarySearchFunc(r.Databases, name, func(d DatabaseInfo, n string) int {
		return strings.Compare(d.Name, n)
	})
}

func (r *Registry) add(info DatabaseInfo) {
	i, _ := r.find(info.Name)
	r.Databases = slices.Insert(r.Databases, i, info)
	if info.ID >= r.NextID {
		r.NextID = info.ID + 1
	}
}

func (r *Registry) remove(name string) bool {
	i, ok := r.find(name)
	if ok {
		r.Databases = slices.Delete(r.Databases, i, i+1)
	}
	return ok
}

func (r *Registry) clone() *Registry {
	out := &Registry{NextID: r.NextID, Databases: make([]DatabaseInfo, len(r.Databases))}
	for i, d := range r.Databases {
		d.Comparators = slices.Clone(d.Comparators)
		out.Databases[i] = d
	}
	return out
}

// encode layout: version, database count, next id, then per database its
// name, id, index count and comparator names.
func (r *Registry) encode() []byte {
	b := binary.LittleEndian.AppendUint32(nil, registryVersion)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Databases)))
	b = binary.LittleEndian.AppendUint32(b, r.NextID)
	for _, d := range r.Databases {
		b = appendBytes(b, []byte(d.Name))
		b = binary.LittleEndian.AppendUint32(b, d.ID)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(d.Comparators)))
		for _, c := range d.Comparators {
			b = appendBytes(b, []byte(c))
		}
	}
	return b
}

func decodeRegistry(b []byte) (*Registry, error) {
	d := decoder{buf: b}
	if v := d.u32(); d.err == nil && v != registryVersion {
		return nil, fmt.Errorf("%w: registry version %d", ErrFormatVersion, v)
	}
	count := d.u32()
	r := &Registry{NextID: d.u32()}
	for i := uint32(0); i < count && d.err == nil; i++ {
		info := DatabaseInfo{Name: string(d.bytes()), ID: d.u32()}
		n := d.u32()
		for j := uint32(0); j < n && d.err == nil; j++ {
			info.Comparators = append(info.Comparators, string(d.bytes()))
		}
		r.Databases = append(r.Databases, info)
	}
	if err := d.finish(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	slices.SortFunc(r.Databases, func(a, b DatabaseInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return r, nil
}

func loadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newRegistry(), nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return decodeRegistry(data)
}

func saveRegistry(path string, r *Registry) error {
	return writeFileAtomic(path, r.encode())
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + inProgressSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

// checkpointName names the copy of file made at a checkpoint: "<view>.<seq>.<file>".
func checkpointName(lsn types.LSN, file string) string {
	return fmt.Sprintf("%d.%d.%s", lsn.ViewID, lsn.SequenceNo, file)
}

func parseCheckpointName(name, file string) (types.LSN, bool) {
	prefix, ok := strings.CutSuffix(name, "."+file)
	if !ok {
		return types.LSN{}, false
	}
	view, seq, ok := strings.Cut(prefix, ".")
	if !ok {
		return types.LSN{}, false
	}
	lsn, err := types.ParseLSN(view + ":" + seq)
	if err != nil {
		return types.LSN{}, false
	}
	return lsn, true
}

// latestCheckpoint finds the newest "<view>.<seq>.<file>" in dir.
func latestCheckpoint(dir, file string) (types.LSN, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.LSN{}, false, nil
		}
		return types.LSN{}, false, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var (
		latest types.LSN
		found  bool
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lsn, ok := parseCheckpointName(e.Name(), file)
		if ok && (!found || latest.Less(lsn)) {
			latest, found = lsn, true
		}
	}
	return latest, found, nil
}

// pruneCheckpoints removes every checkpoint copy of file older than keep.
func pruneCheckpoints(dir, file string, keep types.LSN) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		lsn, ok := parseCheckpointName(e.Name(), file)
		if !ok || !lsn.Less(keep) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove outdated checkpoint %s: %w", e.Name(), err)
		}
	}
	return nil
}
