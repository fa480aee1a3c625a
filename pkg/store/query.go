package store

import (
	"fmt"

	"lsmrepl/pkg/comparator"
	"lsmrepl/pkg/db"
	"lsmrepl/pkg/memtable"
)

// PrefixLookup returns the entries of an index whose keys start with prefix.
func (s *Store) PrefixLookup(dbName string, index int, prefix []byte, reverse bool, limit int) ([]memtable.Item, error) {
	return s.Query(dbName, index, db.SearchOptions{Prefix: prefix, Reverse: reverse, Limit: limit})
}

// RangeLookup returns the entries of an index with from <= key < to, in
// comparator order. A nil bound is open.
func (s *Store) RangeLookup(dbName string, index int, from, to []byte, reverse bool, limit int) ([]memtable.Item, error) {
	return s.Query(dbName, index, db.SearchOptions{From: from, To: to, Reverse: reverse, Limit: limit})
}

// Query runs a search over a consistent copy of one index.
func (s *Store) Query(dbName string, index int, opts db.SearchOptions) ([]memtable.Item, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: %s/%d", ErrUnknownIndex, dbName, index)
	}
	d, err := s.database(dbName)
	if err != nil {
		return nil, err
	}
	idx, err := d.index(uint32(index))
	if err != nil {
		return nil, err
	}
	opts.PrefixOrdered = comparator.Lexical(d.info.Comparators[index])

	var items []memtable.Item
	err = db.Search(idx.NewIterator(), idx.Comparator(), opts, func(key, value []byte) error {
		items = append(items, memtable.Item{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
