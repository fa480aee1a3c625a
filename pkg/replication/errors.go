package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost marks transient transport failures; the stage backs
	// off and retries the same logic.
	ErrConnectionLost = errors.New("connection lost")
	// ErrDecode marks a received entry or response that could not be decoded.
	ErrDecode = errors.New("log entry decoding failed")
	// ErrApply marks a failure of the local store to persist or apply an entry.
	ErrApply = errors.New("log entry could not be applied")
	// ErrOrderViolation marks a received entry that does not directly follow
	// the previous one.
	ErrOrderViolation = errors.New("log entry order violated")
	// ErrAuthFailed is returned for heartbeats from unknown participants.
	ErrAuthFailed = errors.New("participant authentication failed")
	// ErrFileUnavailable is returned when a chunk cannot be read in full.
	ErrFileUnavailable = errors.New("file unavailable")
	// ErrNoPartner is returned when no participant can serve a range.
	ErrNoPartner = errors.New("no synchronization partner available")
	// ErrRangeUnavailable is returned when the serving log no longer holds
	// the start of a requested range.
	ErrRangeUnavailable = errors.New("requested range is no longer available")
	// ErrNotMaster is returned by master-only operations on a slave.
	ErrNotMaster = errors.New("participant is not the master")

	errRetryRange = errors.New("range will be requested again")
)

// ErrorCode classifies a lost connection.
type ErrorCode int

const (
	CodeUnavailable ErrorCode = iota + 1
	CodeBusy
	CodeTimeout
	CodeServer
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnavailable:
		return "SERVICE_UNAVAILABLE"
	case CodeBusy:
		return "BUSY"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeServer:
		return "SERVER_ERROR"
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// ConnectionLostError wraps a transport failure together with its code.
// It matches ErrConnectionLost with errors.Is.
type ConnectionLostError struct {
	Code ErrorCode
	Err  error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost (%s): %v", e.Code, e.Err)
}

func (e *ConnectionLostError) Unwrap() []error {
	return []error{ErrConnectionLost, e.Err}
}

func ConnectionLost(code ErrorCode, err error) error {
	return &ConnectionLostError{Code: code, Err: err}
}
