package comparator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Func orders two keys like bytes.Compare.
type Func func(a, b []byte) int

const (
	Bytes  = "bytes"
	String = "string"
	Int64  = "int64"
)

var ErrUnknown = errors.New("unknown comparator")

// registry is fixed at build time; databases name comparators in the
// persisted registry file, so names must stay stable.
var registry = map[string]Func{
	Bytes:  bytes.Compare,
	String: compareStrings,
	Int64:  compareInt64,
}

func Lookup(name string) (Func, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return f, nil
}

// Lexical reports whether the comparator orders keys bytewise, so that keys
// sharing a prefix are adjacent.
func Lexical(name string) bool {
	return name == Bytes || name == String
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func compareStrings(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	}
	return 0
}

// compareInt64 orders 8-byte big endian signed integers. Keys of any other
// length sort after all integers, bytewise among themselves.
func compareInt64(a, b []byte) int {
	okA, okB := len(a) == 8, len(b) == 8
	switch {
	case okA && okB:
		x, y := int64(binary.BigEndian.Uint64(a)), int64(binary.BigEndian.Uint64(b))
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case okA:
		return -1
	case okB:
		return 1
	}
	return bytes.Compare(a, b)
}

// EncodeInt64 produces a key ordered by the int64 comparator.
func EncodeInt64(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}
