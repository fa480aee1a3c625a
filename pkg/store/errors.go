package store

import "errors"

var (
	ErrClosed            = errors.New("store is closed")
	ErrReadOnly          = errors.New("store accepts replicated entries only")
	ErrUnknownDatabase   = errors.New("unknown database")
	ErrDatabaseExists    = errors.New("database already exists")
	ErrUnknownIndex      = errors.New("unknown index")
	ErrInvalidName       = errors.New("invalid database name")
	ErrFormatVersion     = errors.New("unsupported file format version")
	ErrCorruptSnapshot   = errors.New("snapshot checksum mismatch")
	ErrNoCheckpoint      = errors.New("no checkpoint available")
	ErrUnexpectedPayload = errors.New("unexpected payload type")
	ErrOutOfOrder        = errors.New("log entry does not follow the current state")
)
