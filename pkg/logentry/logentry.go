package logentry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/valyala/bytebufferpool"

	"lsmrepl/pkg/types"
)

// PayloadType tells the store how to interpret the payload.
type PayloadType uint8

const (
	PayloadInsert PayloadType = iota + 1
	PayloadCreateDB
	PayloadDeleteDB
)

func (p PayloadType) String() string {
	switch p {
	case PayloadInsert:
		return "insert"
	case PayloadCreateDB:
		return "create-db"
	case PayloadDeleteDB:
		return "delete-db"
	}
	return fmt.Sprintf("payload(%d)", uint8(p))
}

const (
	headerSize  = 4 + 4 + 8 + 1
	trailerSize = 4

	// MaxFrameSize bounds a single serialized entry.
	MaxFrameSize = 64 << 20
)

var (
	ErrChecksum  = errors.New("log entry checksum mismatch")
	ErrMalformed = errors.New("malformed log entry")
)

// LogEntry is one replicated mutation.
type LogEntry struct {
	LSN     types.LSN
	Type    PayloadType
	Payload []byte
}

func New(lsn types.LSN, typ PayloadType, payload []byte) *LogEntry {
	return &LogEntry{LSN: lsn, Type: typ, Payload: payload}
}

// Size returns the length of the serialized entry.
func (e *LogEntry) Size() int {
	return headerSize + len(e.Payload) + trailerSize
}

// AppendTo appends the serialized entry to dst.
//
// Layout (little endian): payload length u32, view u32, sequence u64,
// payload type u8, payload, CRC32 (IEEE) of everything before it.
func (e *LogEntry) AppendTo(dst []byte) []byte {
	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(e.Payload)))
	dst = binary.LittleEndian.AppendUint32(dst, e.LSN.ViewID)
	dst = binary.LittleEndian.AppendUint64(dst, e.LSN.SequenceNo)
	dst = append(dst, byte(e.Type))
	dst = append(dst, e.Payload...)
	return binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start:]))
}

func (e *LogEntry) Serialize() []byte {
	return e.AppendTo(make([]byte, 0, e.Size()))
}

// Deserialize decodes one entry. The payload is copied, so buf may be
// returned to its pool afterwards.
func Deserialize(buf []byte) (*LogEntry, error) {
	if len(buf) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(buf))
	}
	payloadLen := binary.LittleEndian.Uint32(buf[0:4])
	if int(payloadLen) != len(buf)-headerSize-trailerSize {
		return nil, fmt.Errorf("%w: payload length %d does not match frame of %d bytes", ErrMalformed, payloadLen, len(buf))
	}

	body := buf[:len(buf)-trailerSize]
	want := binary.LittleEndian.Uint32(buf[len(buf)-trailerSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, want)
	}

	typ := PayloadType(buf[16])
	if typ < PayloadInsert || typ > PayloadDeleteDB {
		return nil, fmt.Errorf("%w: unknown payload type %d", ErrMalformed, typ)
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[headerSize:headerSize+int(payloadLen)])

	return &LogEntry{
		LSN:     types.NewLSN(binary.LittleEndian.Uint32(buf[4:8]), binary.LittleEndian.Uint64(buf[8:16])),
		Type:    typ,
		Payload: payload,
	}, nil
}

// PeekLSN reads the LSN of a serialized entry without verifying it.
func PeekLSN(buf []byte) (types.LSN, error) {
	if len(buf) < headerSize {
		return types.LSN{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(buf))
	}
	return types.NewLSN(binary.LittleEndian.Uint32(buf[4:8]), binary.LittleEndian.Uint64(buf[8:16])), nil
}

// WriteFrame writes b prefixed by its u32 length.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize || len(b) > math.MaxUint32 {
		return fmt.Errorf("frame too large: %d", len(b))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame into buf, replacing its content.
// io.EOF is returned only when r ends exactly at a frame boundary.
func ReadFrame(r io.Reader, buf *bytebufferpool.ByteBuffer) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated frame header", ErrMalformed)
		}
		return err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes", ErrMalformed, n)
	}

	buf.Reset()
	if cap(buf.B) < int(n) {
		buf.B = make([]byte, n)
	}
	buf.B = buf.B[:n]
	if _, err := io.ReadFull(r, buf.B); err != nil {
		return fmt.Errorf("%w: truncated frame: %v", ErrMalformed, err)
	}
	return nil
}

// Release returns every buffer to the pool.
func Release(bufs []*bytebufferpool.ByteBuffer) {
	for _, b := range bufs {
		if b != nil {
			bytebufferpool.Put(b)
		}
	}
}
