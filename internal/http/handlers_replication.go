package http

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/snappy"

	"lsmrepl/pkg/logentry"
	"lsmrepl/pkg/replication"
	"lsmrepl/pkg/wal"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ops.State())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req replication.HeartbeatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Unknown sender address"))
		return
	}

	lsn, err := s.ops.Heartbeat(host, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, replication.HeartbeatResponse{LSN: lsn})
}

// handleReplica streams the entries as length-prefixed frames.
func (s *Server) handleReplica(w http.ResponseWriter, r *http.Request) {
	var req replication.ReplicaRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	entries, err := s.ops.Replica(req.Range)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeStream)
	w.WriteHeader(http.StatusOK)
	for _, e := range entries {
		if err := logentry.WriteFrame(w, e); err != nil {
			slog.Warn("Failed to stream log entries", "request_id", middleware.GetReqID(r.Context()), "error", err)
			return
		}
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req replication.LoadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	files, err := s.ops.Load(req.LSN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, replication.LoadResponse{Files: files})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	var req replication.ChunkRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	data, err := s.ops.Chunk(req.Chunk)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeSnappy)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(snappy.Encode(nil, data)); err != nil {
		slog.Warn("Failed to write chunk", "chunk", req.Chunk.String(), "error", err)
	}
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	states, err := s.ops.Participants()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, replication.ParticipantsResponse{Participants: states})
}

// replicationStatusOf maps replication failures to the status codes the
// replication client understands.
func replicationStatusOf(err error) int {
	switch {
	case errors.Is(err, replication.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, replication.ErrFileUnavailable):
		return http.StatusGone
	case errors.Is(err, replication.ErrRangeUnavailable), errors.Is(err, wal.ErrPruned):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, replication.ErrNotMaster):
		return http.StatusMisdirectedRequest
	}
	return http.StatusInternalServerError
}
