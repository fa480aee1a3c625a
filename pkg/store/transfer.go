package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"lsmrepl/pkg/types"
)

// FileMetaData lists the files making up the newest checkpoint: the
// registry copy and one snapshot per database. Paths are relative to the
// base directory. With ensure set, a checkpoint is taken first when none
// exists yet or when the newest one is older than atLeast.
func (s *Store) FileMetaData(chunkSize int64, atLeast types.LSN, ensure bool) ([]types.FileMetaData, error) {
	if ensure {
		s.inflight.Wait()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	lsn := s.lastOnView.Val()
	if ensure && (lsn.IsZero() || lsn.Less(atLeast)) {
		var err error
		if lsn, err = s.checkpoint(); err != nil {
			return nil, err
		}
	}
	if lsn.IsZero() {
		return nil, ErrNoCheckpoint
	}

	regName := checkpointName(lsn, s.cfg.RegistryFile)
	reg, err := loadRegistry(filepath.Join(s.cfg.BaseDir, regName))
	if err != nil {
		return nil, err
	}

	files := []string{regName}
	for _, info := range reg.Databases {
		rel := snapshotRelPath(info.Name, lsn)
		if _, err := os.Stat(filepath.Join(s.cfg.BaseDir, rel)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// dropped after the checkpoint; the receiver starts it empty
				continue
			}
			return nil, err
		}
		files = append(files, rel)
	}

	out := make([]types.FileMetaData, 0, len(files))
	for _, rel := range files {
		st, err := os.Stat(filepath.Join(s.cfg.BaseDir, rel))
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
		}
		out = append(out, types.FileMetaData{
			FilePath:  filepath.ToSlash(rel),
			FileSize:  st.Size(),
			ChunkSize: chunkSize,
		})
	}
	return out, nil
}

// Reload replaces the whole local state with the checkpoint files found in
// dir, as listed by FileMetaData on another participant. The log is
// discarded; the state becomes the first LSN of the view following the
// checkpoint.
func (s *Store) Reload(dir string) error {
	s.inflight.Wait()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	lsn, ok, err := latestCheckpoint(dir, s.cfg.RegistryFile)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no registry copy in %s", ErrNoCheckpoint, dir)
	}
	if _, err := loadRegistry(filepath.Join(dir, checkpointName(lsn, s.cfg.RegistryFile))); err != nil {
		return fmt.Errorf("received registry is unusable: %w", err)
	}

	if err := s.dropLocalFiles(); err != nil {
		return err
	}
	if err := moveTree(dir, s.cfg.BaseDir); err != nil {
		return err
	}

	reg, err := loadRegistry(filepath.Join(s.cfg.BaseDir, checkpointName(lsn, s.cfg.RegistryFile)))
	if err != nil {
		return err
	}
	if err := s.saveLiveRegistry(reg); err != nil {
		return err
	}
	if err := s.restoreCheckpoint(); err != nil {
		return err
	}
	if err := s.jr.Reset(s.state.Val().Next()); err != nil {
		return err
	}

	slog.Info("store reloaded", "checkpoint", lsn.String(), "state", s.state.Val().String())
	return nil
}

func (s *Store) dropLocalFiles() error {
	s.mu.RLock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		if err := os.RemoveAll(filepath.Join(s.cfg.BaseDir, name)); err != nil {
			return fmt.Errorf("failed to drop database files of %q: %w", name, err)
		}
	}
	if err := pruneCheckpoints(s.cfg.BaseDir, s.cfg.RegistryFile, types.LSN{ViewID: ^uint32(0), SequenceNo: ^uint64(0)}); err != nil {
		return err
	}
	return nil
}

// moveTree moves every regular file below src to the same relative path below dst.
func moveTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
		}
		if err := os.Rename(path, target); err == nil {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
