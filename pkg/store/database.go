package store

import (
	"fmt"
	"regexp"

	"lsmrepl/pkg/comparator"
	"lsmrepl/pkg/memtable"
)

var dbNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Database is a named set of ordered indices.
type Database struct {
	info    DatabaseInfo
	indices []*memtable.Memtable
}

func newDatabase(info DatabaseInfo, maxEntryBytes int) (*Database, error) {
	if !dbNamePattern.MatchString(info.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, info.Name)
	}
	if len(info.Comparators) == 0 {
		return nil, fmt.Errorf("database %q needs at least one index", info.Name)
	}

	db := &Database{info: info, indices: make([]*memtable.Memtable, len(info.Comparators))}
	for i, name := range info.Comparators {
		cmp, err := comparator.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("database %q index %d: %w", info.Name, i, err)
		}
		db.indices[i] = memtable.New(cmp, maxEntryBytes)
	}
	return db, nil
}

func (db *Database) Info() DatabaseInfo {
	return db.info
}

func (db *Database) index(i uint32) (*memtable.Memtable, error) {
	if int(i) >= len(db.indices) {
		return nil, fmt.Errorf("%w: %s/%d", ErrUnknownIndex, db.info.Name, i)
	}
	return db.indices[i], nil
}
