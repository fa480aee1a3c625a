package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"lsmrepl/pkg/compression"
	"lsmrepl/pkg/types"
)

const (
	snapshotVersion = 1
	snapshotFile    = "snap"
)

func snapshotRelPath(dbName string, lsn types.LSN) string {
	return filepath.Join(dbName, checkpointName(lsn, snapshotFile))
}

// writeSnapshot dumps every index of db into path, compressed with codec.
// The uncompressed stream ends with the CRC32 of everything before it.
func writeSnapshot(path string, db *Database, codec compression.Codec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := path + inProgressSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()

	cw, err := compression.NewWriter(codec, f)
	if err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	w := bufio.NewWriter(io.MultiWriter(cw, crc))

	var scratch []byte
	scratch = binary.LittleEndian.AppendUint32(scratch[:0], snapshotVersion)
	scratch = binary.LittleEndian.AppendUint32(scratch, uint32(len(db.indices)))
	if _, err := w.Write(scratch); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	for _, idx := range db.indices {
		items := idx.Sorted()
		scratch = binary.LittleEndian.AppendUint64(scratch[:0], uint64(len(items)))
		if _, err := w.Write(scratch); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		for _, it := range items {
			scratch = appendBytes(scratch[:0], it.Key)
			scratch = appendBytes(scratch, it.Value)
			if _, err := w.Write(scratch); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if _, err := cw.Write(binary.LittleEndian.AppendUint32(nil, crc.Sum32())); err != nil {
		return fmt.Errorf("failed to write snapshot checksum: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot compression: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	slog.Debug("snapshot written", "path", path, "codec", string(codec), "bytes", cw.Written())
	return nil
}

// readSnapshot loads path into the (empty) indices of db.
func readSnapshot(path string, db *Database) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer f.Close()

	r, _, err := compression.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptSnapshot, path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptSnapshot, path, err)
	}
	if len(data) < 4 {
		return fmt.Errorf("%w: %s is truncated", ErrCorruptSnapshot, path)
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return fmt.Errorf("%w: %s", ErrCorruptSnapshot, path)
	}

	d := decoder{buf: body}
	if v := d.u32(); d.err == nil && v != snapshotVersion {
		return fmt.Errorf("%w: snapshot version %d", ErrFormatVersion, v)
	}
	if n := d.u32(); d.err == nil && int(n) != len(db.indices) {
		return fmt.Errorf("snapshot %s holds %d indices, database %q has %d", path, n, db.info.Name, len(db.indices))
	}
	for _, idx := range db.indices {
		count := d.u64()
		for i := uint64(0); i < count && d.err == nil; i++ {
			k, v := d.bytes(), d.bytes()
			if d.err != nil {
				break
			}
			if err := idx.Upsert(k, v); err != nil {
				return fmt.Errorf("failed to restore snapshot item: %w", err)
			}
		}
	}
	if err := d.finish(); err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	return nil
}
