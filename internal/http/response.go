package http

import (
	"lsmrepl/pkg/replication"
	"lsmrepl/pkg/types"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status `json:"status,omitempty"`
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value string) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// Entry is one key-value pair of a lookup result.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// EntriesResponse is the body of GET /api/db/{db}/{index}/entries.
type EntriesResponse struct {
	Status  Status  `json:"status"`
	Entries []Entry `json:"entries"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Role  string                   `json:"role"`
	State types.LSN                `json:"state"`
	Stage *replication.StageStatus `json:"stage,omitempty"`
}
