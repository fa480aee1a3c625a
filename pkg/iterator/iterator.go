package iterator

import "sort"

// Pair is one entry of an index.
type Pair struct {
	Key   []byte
	Value []byte
}

// Iterator iterates over a sorted sequence of key-value pairs.
type Iterator interface {
	// Seek moves the iterator to the first key >= target.
	Seek(target []byte)
	// First moves to the smallest key.
	First()
	// Last moves to the largest key.
	Last()
	// Next advances to the next key.
	Next()
	// Prev moves to the previous key.
	Prev()
	// Valid reports whether the iterator points to a valid entry.
	Valid() bool
	// Key returns the current key.
	Key() []byte
	// Value returns the current value.
	Value() []byte
	// Close releases resources.
	Close() error
}

// Slice iterates over pairs already ordered by cmp. It starts unpositioned.
type Slice struct {
	pairs []Pair
	cmp   func(a, b []byte) int
	pos   int
}

func NewSlice(pairs []Pair, cmp func(a, b []byte) int) *Slice {
	return &Slice{pairs: pairs, cmp: cmp, pos: -1}
}

func (s *Slice) Seek(target []byte) {
	s.pos = sort.Search(len(s.pairs), func(i int) bool {
		return s.cmp(s.pairs[i].Key, target) >= 0
	})
}

func (s *Slice) First() {
	s.pos = 0
}

func (s *Slice) Last() {
	s.pos = len(s.pairs) - 1
}

func (s *Slice) Next() {
	if s.Valid() {
		s.pos++
	}
}

func (s *Slice) Prev() {
	if s.Valid() {
		s.pos--
	}
}

func (s *Slice) Valid() bool {
	return s.pos >= 0 && s.pos < len(s.pairs)
}

func (s *Slice) Key() []byte {
	return s.pairs[s.pos].Key
}

func (s *Slice) Value() []byte {
	return s.pairs[s.pos].Value
}

func (s *Slice) Close() error {
	s.pairs = nil
	s.pos = -1
	return nil
}
