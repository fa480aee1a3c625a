package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"lsmrepl/pkg/config"
	"lsmrepl/pkg/db"
	"lsmrepl/pkg/memtable"
	"lsmrepl/pkg/metrics"
	"lsmrepl/pkg/replication"
	"lsmrepl/pkg/store"
	"lsmrepl/pkg/types"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeStream = "application/octet-stream"
	contentTypeSnappy = "application/x-snappy"
)

var validate = validator.New()

type iStoreAPI interface {
	CreateDatabase(name string, comparators ...string) error
	DeleteDatabase(name string) error
	Insert(dbName string, index int, key, value []byte) error
	Delete(dbName string, index int, key []byte) error
	Lookup(dbName string, index int, key []byte) ([]byte, bool, error)
	Query(dbName string, index int, opts db.SearchOptions) ([]memtable.Item, error)
	Databases() []store.DatabaseInfo
	State() types.LSN
}

// iReplication is served to the other participants.
type iReplication interface {
	IsMaster() bool
	State() replication.StateResponse
	Heartbeat(senderHost string, req replication.HeartbeatRequest) (types.LSN, error)
	Replica(r types.Range) ([][]byte, error)
	Load(lsn types.LSN) ([]types.FileMetaData, error)
	Chunk(c types.Chunk) ([]byte, error)
	Participants() ([]replication.ParticipantState, error)
}

type iStage interface {
	Status() replication.StageStatus
}

// Server exposes the store and the replication operations over HTTP.
type Server struct {
	store      iStoreAPI
	ops        iReplication
	master     replication.MasterResolver
	stage      iStage
	metrics    *metrics.Registry
	cfg        config.ServerConfig
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance. On a slave, master tells where
// writes are redirected to.
func NewServer(st iStoreAPI, ops iReplication, cfg config.ServerConfig, m *metrics.Registry) *Server {
	port := strconv.Itoa(cfg.Port)
	return &Server{
		store:   st,
		ops:     ops,
		metrics: m,
		cfg:     cfg,
		URL:     "http://localhost:" + port,
		addr:    ":" + port,
	}
}

// SetMaster makes a slave redirect writes to the master.
func (s *Server) SetMaster(master replication.MasterResolver) {
	s.master = master
}

// SetStage exposes the replication stage in /status.
func (s *Server) SetStage(stage iStage) {
	s.stage = stage
}

// Start starts the server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the chi router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Get("/db", s.handleListDatabases)
		r.Post("/db", s.handleCreateDatabase)
		r.Delete("/db/{db}", s.handleDeleteDatabase)
		r.Put("/db/{db}/{index}", s.handlePut)
		r.Get("/db/{db}/{index}", s.handleGet)
		r.Delete("/db/{db}/{index}", s.handleDelete)
		r.Get("/db/{db}/{index}/entries", s.handleEntries)
	})

	r.Route("/replication", func(r chi.Router) {
		r.Use(s.instrument)
		r.Get("/state", s.handleState)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/replica", s.handleReplica)
		r.Post("/load", s.handleLoad)
		r.Post("/chunk", s.handleChunk)
		r.Get("/participants", s.handleParticipants)
	})

	return r
}

// instrument records the duration of every replication call.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		op := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			op = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRPC(op, status, time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

// decodeJSON reads a request body into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to decode body: "+err.Error()))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := StatusResponse{
		Role:  "slave",
		State: s.store.State(),
	}
	if s.ops.IsMaster() {
		st.Role = "master"
	}
	if s.stage != nil {
		stage := s.stage.Status()
		st.Stage = &stage
	}
	s.writeJSON(w, http.StatusOK, st)
}
