package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"lsmrepl/pkg/clock"
	"lsmrepl/pkg/comparator"
	"lsmrepl/pkg/compression"
	"lsmrepl/pkg/config"
	"lsmrepl/pkg/listener"
	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/memtable"
	"lsmrepl/pkg/types"
	"lsmrepl/pkg/wal"
)

type iJournal interface {
	Append(e *logentry.LogEntry) error
	Roll(next types.LSN) error
	Replay(after types.LSN, callback func(*logentry.LogEntry) error) error
	Range(r types.Range, max int) ([][]byte, error)
	Prune(minView uint32) error
	Reset(next types.LSN) error
	Close() error
}

type iClock interface {
	Val() types.LSN
	Set(t types.LSN)
}

type applyJob struct {
	entry *logentry.LogEntry
	done  func(error)
}

// Store keeps databases in memory, logs every mutation and persists
// snapshots at checkpoints. A master store produces log entries; a
// read-only store only accepts entries replicated through Append.
type Store struct {
	cfg      config.DB
	readOnly bool
	codec    compression.Codec

	// writeMu serializes mutations, checkpoints and reloads.
	writeMu sync.Mutex
	// mu guards registry and the database maps for readers.
	mu       sync.RWMutex
	registry *Registry
	dbs      map[string]*Database
	byID     map[uint32]*Database

	jr         iJournal
	state      iClock
	lastOnView iClock

	// appendMu makes the closed check and queueing in Append atomic with Close.
	appendMu sync.RWMutex
	applyCh  chan applyJob
	applier  *listener.Listener[applyJob]
	inflight sync.WaitGroup
	closed   atomic.Bool
}

// Open restores the store from the latest checkpoint and the log written
// after it.
func Open(cfg config.DB, readOnly bool) (*Store, error) {
	codec, err := compression.Parse(cfg.SnapshotCompression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.BaseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	s := &Store{
		cfg:        cfg,
		readOnly:   readOnly,
		codec:      codec,
		state:      clock.NewAtomic(types.NewLSN(1, 0)),
		lastOnView: clock.NewAtomic(types.LSN{}),
		applyCh:    make(chan applyJob, cfg.ApplyQueueSize),
	}

	if err := s.restoreCheckpoint(); err != nil {
		return nil, err
	}

	journal, err := wal.Open(cfg.LogDir, s.state.Val().Next(), cfg.SyncWrites)
	if err != nil {
		return nil, err
	}
	s.jr = journal

	if err := s.restoreFromJournal(); err != nil {
		journal.Close()
		return nil, err
	}

	s.applier = listener.New("replicated-apply", s.applyCh, s.replicate)
	s.applier.Start(context.Background())

	slog.Info("store opened",
		"base_dir", cfg.BaseDir,
		"state", s.state.Val().String(),
		"last_on_view", s.lastOnView.Val().String(),
		"databases", len(s.dbs),
	)
	return s, nil
}

// restoreCheckpoint loads the registry copy and snapshots of the newest
// checkpoint, or starts empty when there is none.
func (s *Store) restoreCheckpoint() error {
	var (
		reg  = newRegistry()
		dbs  = make(map[string]*Database)
		byID = make(map[uint32]*Database)
	)

	lsn, ok, err := latestCheckpoint(s.cfg.BaseDir, s.cfg.RegistryFile)
	if err != nil {
		return err
	}
	if ok {
		reg, err = loadRegistry(filepath.Join(s.cfg.BaseDir, checkpointName(lsn, s.cfg.RegistryFile)))
		if err != nil {
			return err
		}
		for _, info := range reg.Databases {
			db, err := newDatabase(info, s.cfg.MaxEntryBytes)
			if err != nil {
				return err
			}
			path := filepath.Join(s.cfg.BaseDir, snapshotRelPath(info.Name, lsn))
			if err := readSnapshot(path, db); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			dbs[info.Name] = db
			byID[info.ID] = db
		}
	}

	s.mu.Lock()
	s.registry, s.dbs, s.byID = reg, dbs, byID
	s.mu.Unlock()

	if ok {
		s.lastOnView.Set(lsn)
		s.state.Set(types.LSN{ViewID: lsn.ViewID + 1})
	}
	return nil
}

func (s *Store) restoreFromJournal() error {
	if s.jr == nil {
		return errors.New("WAL not initialized")
	}

	err := s.jr.Replay(s.state.Val(), func(e *logentry.LogEntry) error {
		if err := s.apply(e); err != nil {
			return fmt.Errorf("entry %s: %w", e.LSN, err)
		}
		s.state.Set(e.LSN)
		return nil
	})
	if err != nil {
		return err
	}

	// a crash between snapshot and log roll leaves the new view without its file
	if st := s.state.Val(); st.SequenceNo == 0 {
		return s.jr.Roll(st.Next())
	}
	return nil
}

func (s *Store) State() types.LSN {
	return s.state.Val()
}

func (s *Store) LastOnView() types.LSN {
	return s.lastOnView.Val()
}

func (s *Store) BaseDir() string {
	return s.cfg.BaseDir
}

func (s *Store) CreateDatabase(name string, comparators ...string) error {
	if len(comparators) == 0 {
		comparators = []string{comparator.Bytes}
	}
	for _, c := range comparators {
		if _, err := comparator.Lookup(c); err != nil {
			return err
		}
	}
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return s.submit(func() (*logentry.LogEntry, error) {
		s.mu.RLock()
		_, exists := s.dbs[name]
		id := s.registry.NextID
		s.mu.RUnlock()
		if exists {
			return nil, fmt.Errorf("%w: %q", ErrDatabaseExists, name)
		}
		rec := createRecord{Name: name, ID: id, Comparators: comparators}
		return logentry.New(types.LSN{}, logentry.PayloadCreateDB, rec.encode()), nil
	})
}

func (s *Store) DeleteDatabase(name string) error {
	return s.submit(func() (*logentry.LogEntry, error) {
		if _, err := s.database(name); err != nil {
			return nil, err
		}
		return logentry.New(types.LSN{}, logentry.PayloadDeleteDB, encodeDelete(name)), nil
	})
}

func (s *Store) Insert(dbName string, index int, key, value []byte) error {
	return s.put(dbName, index, key, value, insertOp)
}

func (s *Store) Delete(dbName string, index int, key []byte) error {
	return s.put(dbName, index, key, nil, deleteOp)
}

func (s *Store) put(dbName string, index int, key, value []byte, op operation) error {
	if index < 0 {
		return fmt.Errorf("%w: %s/%d", ErrUnknownIndex, dbName, index)
	}
	if s.cfg.MaxEntryBytes > 0 && len(key)+len(value) > s.cfg.MaxEntryBytes {
		return fmt.Errorf("entry of %d bytes exceeds the limit of %d", len(key)+len(value), s.cfg.MaxEntryBytes)
	}

	return s.submit(func() (*logentry.LogEntry, error) {
		db, err := s.database(dbName)
		if err != nil {
			return nil, err
		}
		if _, err := db.index(uint32(index)); err != nil {
			return nil, err
		}
		rec := insertRecord{DBID: db.info.ID, MD: newMD(op, uint32(index)), Key: key, Value: value}
		return logentry.New(types.LSN{}, logentry.PayloadInsert, rec.encode()), nil
	})
}

// submit logs and applies the entry built by prepare under the next LSN.
// prepare validates against the current state, so an entry reaching the
// log always applies.
func (s *Store) submit(prepare func() (*logentry.LogEntry, error)) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	e, err := prepare()
	if err != nil {
		return err
	}
	e.LSN = s.state.Val().Next()

	return s.logAndApply(e)
}

// logAndApply validates e, logs it and applies it. An entry that fails
// validation never reaches the log. Callers hold writeMu.
func (s *Store) logAndApply(e *logentry.LogEntry) error {
	mutate, err := s.plan(e)
	if err != nil {
		return err
	}
	if err := s.jr.Append(e); err != nil {
		return err
	}
	// the entry is logged, so a replay would apply it: state follows the log
	err = mutate()
	s.state.Set(e.LSN)
	return err
}

// Lookup returns the value stored under key in the given index.
func (s *Store) Lookup(dbName string, index int, key []byte) ([]byte, bool, error) {
	if index < 0 {
		return nil, false, fmt.Errorf("%w: %s/%d", ErrUnknownIndex, dbName, index)
	}
	db, err := s.database(dbName)
	if err != nil {
		return nil, false, err
	}
	idx, err := db.index(uint32(index))
	if err != nil {
		return nil, false, err
	}
	it, ok := idx.Get(key)
	if !ok {
		return nil, false, nil
	}
	return it.Value, true, nil
}

func (s *Store) Databases() []DatabaseInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.registry.clone().Databases
}

func (s *Store) database(name string) (*Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, ok := s.dbs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatabase, name)
	}
	return db, nil
}

// Append queues a replicated entry; done is called once the entry has been
// logged and applied, or with the error that prevented it. Entries are
// applied in submission order. Entries at or below the current state are
// acknowledged without being applied again, any other entry must directly
// follow the current state.
func (s *Store) Append(e *logentry.LogEntry, done func(error)) {
	s.appendMu.RLock()
	defer s.appendMu.RUnlock()

	if s.closed.Load() {
		done(ErrClosed)
		return
	}
	s.inflight.Add(1)
	s.applyCh <- applyJob{entry: e, done: done}
}

// replicate runs on the applier goroutine for every job queued by Append.
func (s *Store) replicate(job applyJob) error {
	defer s.inflight.Done()

	err := s.appendReplicated(job.entry)
	job.done(err)
	if err != nil {
		return fmt.Errorf("replicated entry %s: %w", job.entry.LSN, err)
	}
	return nil
}

func (s *Store) appendReplicated(e *logentry.LogEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	state := s.state.Val()
	if !state.Less(e.LSN) {
		return nil
	}
	if !state.IsSuccessor(e.LSN) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, e.LSN, state)
	}
	return s.logAndApply(e)
}

// apply changes the in-memory state; callers hold writeMu.
func (s *Store) apply(e *logentry.LogEntry) error {
	mutate, err := s.plan(e)
	if err != nil {
		return err
	}
	return mutate()
}

// plan checks e against the current state and returns the change it makes.
// Nothing is modified until the returned function runs.
func (s *Store) plan(e *logentry.LogEntry) (func() error, error) {
	switch e.Type {
	case logentry.PayloadInsert:
		rec, err := decodeInsert(e.Payload)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		db, ok := s.byID[rec.DBID]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownDatabase, rec.DBID)
		}
		idx, err := db.index(rec.MD.index())
		if err != nil {
			return nil, err
		}
		if rec.MD.operation() == deleteOp {
			return func() error {
				idx.Delete(rec.Key)
				return nil
			}, nil
		}
		if limit := s.cfg.MaxEntryBytes; limit > 0 && len(rec.Key)+len(rec.Value) > limit {
			return nil, memtable.ErrTooLargeEntry
		}
		return func() error {
			return idx.Upsert(rec.Key, rec.Value)
		}, nil

	case logentry.PayloadCreateDB:
		rec, err := decodeCreate(e.Payload)
		if err != nil {
			return nil, err
		}
		info := DatabaseInfo{Name: rec.Name, ID: rec.ID, Comparators: rec.Comparators}
		db, err := newDatabase(info, s.cfg.MaxEntryBytes)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		_, exists := s.dbs[info.Name]
		_, taken := s.byID[info.ID]
		s.mu.RUnlock()
		if exists {
			return nil, fmt.Errorf("%w: %q", ErrDatabaseExists, info.Name)
		}
		if taken {
			return nil, fmt.Errorf("%w: id %d", ErrDatabaseExists, info.ID)
		}
		return func() error {
			s.mu.Lock()
			s.dbs[info.Name] = db
			s.byID[info.ID] = db
			s.registry.add(info)
			reg := s.registry.clone()
			s.mu.Unlock()
			return s.saveLiveRegistry(reg)
		}, nil

	case logentry.PayloadDeleteDB:
		name, err := decodeDelete(e.Payload)
		if err != nil {
			return nil, err
		}
		db, err := s.database(name)
		if err != nil {
			return nil, err
		}
		return func() error {
			s.mu.Lock()
			delete(s.dbs, name)
			delete(s.byID, db.info.ID)
			s.registry.remove(name)
			reg := s.registry.clone()
			s.mu.Unlock()
			return s.saveLiveRegistry(reg)
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnexpectedPayload, e.Type)
}

func (s *Store) saveLiveRegistry(reg *Registry) error {
	return saveRegistry(filepath.Join(s.cfg.BaseDir, s.cfg.RegistryFile), reg)
}

// Checkpoint waits for queued replicated entries, persists a snapshot of
// every database at the current LSN and opens the next view. It returns the
// LSN the snapshot was taken at.
func (s *Store) Checkpoint() (types.LSN, error) {
	s.inflight.Wait()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return types.LSN{}, ErrClosed
	}
	return s.checkpoint()
}

func (s *Store) checkpoint() (types.LSN, error) {
	lsn := s.state.Val()

	s.mu.RLock()
	reg := s.registry.clone()
	dbs := make([]*Database, 0, len(s.dbs))
	for _, db := range s.dbs {
		dbs = append(dbs, db)
	}
	s.mu.RUnlock()

	for _, db := range dbs {
		path := filepath.Join(s.cfg.BaseDir, snapshotRelPath(db.info.Name, lsn))
		if err := writeSnapshot(path, db, s.codec); err != nil {
			return types.LSN{}, fmt.Errorf("checkpoint %s: %w", lsn, err)
		}
	}
	if err := saveRegistry(filepath.Join(s.cfg.BaseDir, checkpointName(lsn, s.cfg.RegistryFile)), reg); err != nil {
		return types.LSN{}, fmt.Errorf("checkpoint %s: %w", lsn, err)
	}
	if err := s.saveLiveRegistry(reg); err != nil {
		return types.LSN{}, fmt.Errorf("checkpoint %s: %w", lsn, err)
	}

	next := types.LSN{ViewID: lsn.ViewID + 1}
	if err := s.jr.Roll(next.Next()); err != nil {
		return types.LSN{}, fmt.Errorf("checkpoint %s: %w", lsn, err)
	}
	s.lastOnView.Set(lsn)
	s.state.Set(next)

	s.pruneAfterCheckpoint(lsn, dbs)

	slog.Info("checkpoint taken", "lsn", lsn.String(), "databases", len(dbs))
	return lsn, nil
}

// pruneAfterCheckpoint drops files the new checkpoint supersedes. Failures
// only leave garbage behind, so they are logged.
func (s *Store) pruneAfterCheckpoint(lsn types.LSN, dbs []*Database) {
	if err := pruneCheckpoints(s.cfg.BaseDir, s.cfg.RegistryFile, lsn); err != nil {
		slog.Warn("failed to prune registry copies", "error", err)
	}
	for _, db := range dbs {
		dir := filepath.Join(s.cfg.BaseDir, db.info.Name)
		if err := pruneCheckpoints(dir, snapshotFile, lsn); err != nil {
			slog.Warn("failed to prune snapshots", "db", db.info.Name, "error", err)
		}
	}
	if retention := s.cfg.LogRetentionViews; lsn.ViewID+1 > retention {
		if err := s.jr.Prune(lsn.ViewID + 1 - retention); err != nil {
			slog.Warn("failed to prune log files", "error", err)
		}
	}
}

// LogEntries returns serialized log entries inside r, at most max of them.
// A view ends at its checkpoint, so a start past the last checkpoint of that
// view continues with the first entry of the next one.
func (s *Store) LogEntries(r types.Range, max int) ([][]byte, error) {
	if lov := s.lastOnView.Val(); !lov.IsZero() && r.Start.ViewID == lov.ViewID && lov.Less(r.Start) {
		r.Start = lov.NextView()
	}
	return s.jr.Range(r, max)
}

// Close drains replicated entries still queued and closes the log.
func (s *Store) Close() error {
	s.appendMu.Lock()
	first := s.closed.CompareAndSwap(false, true)
	s.appendMu.Unlock()
	if !first {
		return nil
	}
	s.inflight.Wait()
	s.applier.Stop()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.jr.Close()
}
