package db

import "errors"

// ErrStop ends a search early without failing it.
var ErrStop = errors.New("stop search")

// SearchOptions select the entries a search visits.
type SearchOptions struct {
	// Prefix keeps only keys starting with these bytes.
	Prefix []byte
	// PrefixOrdered tells that keys sharing Prefix are adjacent in index
	// order, so the search may seek to them and stop after them.
	PrefixOrdered bool
	// From and To bound keys to [From, To) in index order; nil is unbounded.
	From []byte
	To   []byte
	// Limit caps the number of results; 0 means no limit.
	Limit   int
	Reverse bool
}

// SearchCallback receives each matching entry.
type SearchCallback func(key, value []byte) error
