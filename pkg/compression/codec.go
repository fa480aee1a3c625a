package compression

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec names a compression format for files written by the store.
type Codec string

const (
	None Codec = "none"
	Gzip Codec = "gzip"
	Zstd Codec = "zstd"
)

var ErrUnknownCodec = errors.New("unknown compression codec")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Parse maps a config value to a codec. An empty name means None.
func Parse(name string) (Codec, error) {
	switch Codec(name) {
	case "", None:
		return None, nil
	case Gzip, Zstd:
		return Codec(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// Writer compresses into an underlying writer and counts the bytes that
// reach it. Close flushes the codec but leaves the underlying writer open.
type Writer struct {
	enc  io.WriteCloser
	sink *tally
}

func NewWriter(c Codec, w io.Writer) (*Writer, error) {
	sink := &tally{w: w}
	var enc io.WriteCloser
	switch c {
	case None, "":
		enc = nopCloser{sink}
	case Gzip:
		enc = gzip.NewWriter(sink)
	case Zstd:
		zw, err := zstd.NewWriter(sink)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		enc = zw
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, c)
	}
	return &Writer{enc: enc, sink: sink}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

func (w *Writer) Close() error {
	return w.enc.Close()
}

// Written is the number of compressed bytes passed to the underlying writer.
func (w *Writer) Written() int64 {
	return w.sink.n
}

// NewReader recognizes the codec by its magic bytes, so files written with
// any codec can be read back regardless of the current configuration.
func NewReader(r io.Reader) (io.ReadCloser, Codec, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zstdReadCloser{dec}, Zstd, nil
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gz, Gzip, nil
	}
	return io.NopCloser(br), None, nil
}

type tally struct {
	w io.Writer
	n int64
}

func (t *tally) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.n += int64(n)
	return n, err
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type zstdReadCloser struct {
	dec *zstd.Decoder
}

func (z zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z zstdReadCloser) Close() error {
	z.dec.Close()
	return nil
}
