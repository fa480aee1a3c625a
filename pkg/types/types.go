package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// LSN is a position in the replicated log: the view (an epoch of log
// continuity) and the sequence number inside that view.
type LSN struct {
	ViewID     uint32 `json:"view"`
	SequenceNo uint64 `json:"seq"`
}

func NewLSN(view uint32, seq uint64) LSN {
	return LSN{ViewID: view, SequenceNo: seq}
}

// Compare orders by view first, then by sequence number.
func (l LSN) Compare(o LSN) int {
	switch {
	case l.ViewID < o.ViewID:
		return -1
	case l.ViewID > o.ViewID:
		return 1
	case l.SequenceNo < o.SequenceNo:
		return -1
	case l.SequenceNo > o.SequenceNo:
		return 1
	}
	return 0
}

func (l LSN) Less(o LSN) bool {
	return l.Compare(o) < 0
}

// Next returns the successor inside the same view.
func (l LSN) Next() LSN {
	return LSN{ViewID: l.ViewID, SequenceNo: l.SequenceNo + 1}
}

// NextView returns the first LSN of the following view.
func (l LSN) NextView() LSN {
	return LSN{ViewID: l.ViewID + 1, SequenceNo: 1}
}

// IsSuccessor reports whether next directly follows l in the log.
func (l LSN) IsSuccessor(next LSN) bool {
	if next.ViewID == l.ViewID {
		return next.SequenceNo == l.SequenceNo+1
	}
	return next.ViewID == l.ViewID+1 && next.SequenceNo == 1
}

func (l LSN) IsZero() bool {
	return l.ViewID == 0 && l.SequenceNo == 0
}

func (l LSN) String() string {
	return strconv.FormatUint(uint64(l.ViewID), 10) + ":" + strconv.FormatUint(l.SequenceNo, 10)
}

// ParseLSN parses the "<view>:<seq>" form produced by String.
func ParseLSN(s string) (LSN, error) {
	view, seq, ok := strings.Cut(s, ":")
	if !ok {
		return LSN{}, fmt.Errorf("invalid LSN %q", s)
	}
	v, err := strconv.ParseUint(view, 10, 32)
	if err != nil {
		return LSN{}, fmt.Errorf("invalid LSN view %q: %w", s, err)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return LSN{}, fmt.Errorf("invalid LSN sequence %q: %w", s, err)
	}
	return NewLSN(uint32(v), n), nil
}

func MaxLSN(a, b LSN) LSN {
	if a.Less(b) {
		return b
	}
	return a
}

// Range is the half-open interval [Start, End) of log entries.
type Range struct {
	Start LSN `json:"start"`
	End   LSN `json:"end"`
}

func NewRange(start, end LSN) *Range {
	return &Range{Start: start, End: end}
}

// Empty is true for a nil range and for ranges whose start is not below the end.
func (r *Range) Empty() bool {
	return r == nil || !r.Start.Less(r.End)
}

func (r *Range) Contains(l LSN) bool {
	return r != nil && !l.Less(r.Start) && l.Less(r.End)
}

// Last returns the highest LSN a participant must hold to serve the range.
func (r *Range) Last() LSN {
	if r.End.SequenceNo == 0 {
		return r.End
	}
	return LSN{ViewID: r.End.ViewID, SequenceNo: r.End.SequenceNo - 1}
}

func (r *Range) String() string {
	if r == nil {
		return "[)"
	}
	return "[" + r.Start.String() + ", " + r.End.String() + ")"
}

// FileMetaData describes one file offered for chunked transfer. FilePath is
// relative to the serving participant's base directory.
type FileMetaData struct {
	FilePath  string `json:"path"`
	FileSize  int64  `json:"size"`
	ChunkSize int64  `json:"chunk_size"`
}

// Chunk is the byte range [Begin, End) of a file.
type Chunk struct {
	FileName string `json:"file"`
	Begin    int64  `json:"begin"`
	End      int64  `json:"end"`
}

func (c Chunk) Len() int64 {
	return c.End - c.Begin
}

func (c Chunk) String() string {
	return fmt.Sprintf("%s[%d:%d]", c.FileName, c.Begin, c.End)
}
