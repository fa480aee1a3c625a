package replication

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"lsmrepl/pkg/metrics"
	"lsmrepl/pkg/types"
)

// Chunks splits a file into the chunks it is transferred in.
func Chunks(f types.FileMetaData) ([]types.Chunk, error) {
	if f.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d for %s", ErrDecode, f.ChunkSize, f.FilePath)
	}
	if f.FileSize < 0 {
		return nil, fmt.Errorf("%w: size %d for %s", ErrDecode, f.FileSize, f.FilePath)
	}
	out := make([]types.Chunk, 0, f.FileSize/f.ChunkSize+1)
	for begin := int64(0); begin < f.FileSize; begin += f.ChunkSize {
		out = append(out, types.Chunk{
			FileName: f.FilePath,
			Begin:    begin,
			End:      min(begin+f.ChunkSize, f.FileSize),
		})
	}
	return out, nil
}

// fetchFile downloads f chunk by chunk into the same relative path below dir.
func fetchFile(ctx context.Context, c MasterClient, dir string, f types.FileMetaData, m *metrics.Registry) error {
	rel := filepath.FromSlash(f.FilePath)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: unsafe file path %q", ErrDecode, f.FilePath)
	}
	chunks, err := Chunks(f)
	if err != nil {
		return err
	}

	target := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, ch := range chunks {
		data, err := c.Chunk(ctx, ch)
		if err != nil {
			return err
		}
		if int64(len(data)) != ch.Len() {
			return fmt.Errorf("%w: %s returned %d bytes", ErrFileUnavailable, ch, len(data))
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		m.AddChunkBytes("received", len(data))
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
