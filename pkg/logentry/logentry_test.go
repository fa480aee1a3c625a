package logentry

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/bytebufferpool"

	"lsmrepl/pkg/types"
)

func TestSerializeDeserialize(t *testing.T) {
	e := New(types.NewLSN(4, 17), PayloadInsert, []byte("payload"))
	raw := e.Serialize()
	require.Len(t, raw, e.Size())

	got, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	lsn, err := PeekLSN(raw)
	require.NoError(t, err)
	assert.Equal(t, e.LSN, lsn)

	// the payload must not alias the input buffer
	raw[headerSize] = 'X'
	assert.Equal(t, []byte("payload"), got.Payload)
}

func TestDeserializeDetectsCorruption(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("any flipped bit is rejected", prop.ForAll(
		func(payload []byte, pos int) bool {
			raw := New(types.NewLSN(1, 1), PayloadInsert, payload).Serialize()
			pos %= len(raw)
			raw[pos] ^= 0x01
			_, err := Deserialize(raw)
			return errors.Is(err, ErrChecksum) || errors.Is(err, ErrMalformed)
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

func TestDeserializeShortInput(t *testing.T) {
	_, err := Deserialize([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFrames(t *testing.T) {
	var stream bytes.Buffer
	entries := []*LogEntry{
		New(types.NewLSN(1, 1), PayloadCreateDB, []byte("db")),
		New(types.NewLSN(1, 2), PayloadInsert, nil),
		New(types.NewLSN(2, 1), PayloadDeleteDB, []byte("db")),
	}
	for _, e := range entries {
		require.NoError(t, WriteFrame(&stream, e.Serialize()))
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for _, want := range entries {
		require.NoError(t, ReadFrame(&stream, buf))
		got, err := Deserialize(buf.B)
		require.NoError(t, err)
		assert.Equal(t, want.LSN, got.LSN)
		assert.Equal(t, want.Type, got.Type)
	}
	assert.ErrorIs(t, ReadFrame(&stream, buf), io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, WriteFrame(&stream, []byte("0123456789")))
	truncated := bytes.NewReader(stream.Bytes()[:stream.Len()-3])

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	assert.ErrorIs(t, ReadFrame(truncated, buf), ErrMalformed)
}
