package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"lsmrepl/pkg/logentry"
)

const (
	insertOp operation = iota
	deleteOp
)

type operation uint8

// MD packs the operation and the target index of an insert record.
type MD uint64

func newMD(op operation, index uint32) MD {
	return MD(uint64(index)<<8 | uint64(op))
}

func (md MD) operation() operation {
	return operation(uint64(md) & 0xff)
}

func (md MD) index() uint32 {
	return uint32(md >> 8)
}

// insertRecord is the payload of a PayloadInsert entry.
type insertRecord struct {
	DBID  uint32
	MD    MD
	Key   []byte
	Value []byte
}

func (r insertRecord) encode() []byte {
	b := make([]byte, 0, 4+8+8+len(r.Key)+len(r.Value))
	b = binary.LittleEndian.AppendUint32(b, r.DBID)
	b = binary.LittleEndian.AppendUint64(b, uint64(r.MD))
	b = appendBytes(b, r.Key)
	return appendBytes(b, r.Value)
}

func decodeInsert(p []byte) (insertRecord, error) {
	var (
		r   insertRecord
		err error
	)
	d := decoder{buf: p}
	r.DBID = d.u32()
	r.MD = MD(d.u64())
	r.Key = d.bytes()
	r.Value = d.bytes()
	if err = d.finish(); err != nil {
		return r, fmt.Errorf("insert record: %w", err)
	}
	if op := r.MD.operation(); op != insertOp && op != deleteOp {
		return r, fmt.Errorf("insert record: %w: operation %d", logentry.ErrMalformed, op)
	}
	return r, nil
}

// createRecord is the payload of a PayloadCreateDB entry.
type createRecord struct {
	Name        string
	ID          uint32
	Comparators []string
}

func (r createRecord) encode() []byte {
	b := appendBytes(nil, []byte(r.Name))
	b = binary.LittleEndian.AppendUint32(b, r.ID)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Comparators)))
	for _, c := range r.Comparators {
		b = appendBytes(b, []byte(c))
	}
	return b
}

func decodeCreate(p []byte) (createRecord, error) {
	var r createRecord
	d := decoder{buf: p}
	r.Name = string(d.bytes())
	r.ID = d.u32()
	n := d.u32()
	for i := uint32(0); i < n && d.err == nil; i++ {
		r.Comparators = append(r.Comparators, string(d.bytes()))
	}
	if err := d.finish(); err != nil {
		return r, fmt.Errorf("create record: %w", err)
	}
	return r, nil
}

func encodeDelete(name string) []byte {
	return appendBytes(nil, []byte(name))
}

func decodeDelete(p []byte) (string, error) {
	d := decoder{buf: p}
	name := string(d.bytes())
	if err := d.finish(); err != nil {
		return "", fmt.Errorf("delete record: %w", err)
	}
	return name, nil
}

func appendBytes(b, v []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

// decoder reads little endian fields and remembers the first failure.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", logentry.ErrMalformed, n, len(d.buf))
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	if n > math.MaxInt32 {
		d.err = fmt.Errorf("%w: field of %d bytes", logentry.ErrMalformed, n)
		return nil
	}
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (d *decoder) finish() error {
	if d.err == nil && len(d.buf) != 0 {
		d.err = fmt.Errorf("%w: %d trailing bytes", logentry.ErrMalformed, len(d.buf))
	}
	return d.err
}
