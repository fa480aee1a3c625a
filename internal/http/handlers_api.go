package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lsmrepl/pkg/comparator"
	"lsmrepl/pkg/db"
	"lsmrepl/pkg/memtable"
	"lsmrepl/pkg/store"
)

// CreateDatabaseRequest is the body of POST /api/db.
type CreateDatabaseRequest struct {
	Name        string   `json:"name" validate:"required"`
	Comparators []string `json:"comparators"`
}

func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Databases())
}

func (s *Server) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	if s.redirectMaster(w, r) {
		return
	}
	var req CreateDatabaseRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.store.CreateDatabase(req.Name, req.Comparators...); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, NewSuccessResponse())
}

func (s *Server) handleDeleteDatabase(w http.ResponseWriter, r *http.Request) {
	if s.redirectMaster(w, r) {
		return
	}
	if err := s.store.DeleteDatabase(chi.URLParam(r, "db")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if s.redirectMaster(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}
	index, ok := s.indexParam(w, r)
	if !ok {
		return
	}

	key := r.FormValue("key")
	value := r.FormValue("value")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	if err := s.store.Insert(chi.URLParam(r, "db"), index, []byte(key), []byte(value)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	index, ok := s.indexParam(w, r)
	if !ok {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	value, found, err := s.store.Lookup(chi.URLParam(r, "db"), index, []byte(key))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(string(value)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.redirectMaster(w, r) {
		return
	}
	index, ok := s.indexParam(w, r)
	if !ok {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	if err := s.store.Delete(chi.URLParam(r, "db"), index, []byte(key)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

// handleEntries serves prefix and range lookups. Query parameters: prefix,
// from, to (exclusive), limit and reverse.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	index, ok := s.indexParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	opts := db.SearchOptions{
		Prefix: optionalBytes(q, "prefix"),
		From:   optionalBytes(q, "from"),
		To:     optionalBytes(q, "to"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid limit"))
			return
		}
		opts.Limit = limit
	}
	if v := q.Get("reverse"); v != "" {
		reverse, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid reverse flag"))
			return
		}
		opts.Reverse = reverse
	}

	items, err := s.store.Query(chi.URLParam(r, "db"), index, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := EntriesResponse{Status: StatusSuccess, Entries: make([]Entry, len(items))}
	for i, it := range items {
		resp.Entries[i] = Entry{Key: string(it.Key), Value: string(it.Value)}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func optionalBytes(q url.Values, name string) []byte {
	if !q.Has(name) {
		return nil
	}
	return []byte(q.Get(name))
}

func (s *Server) indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid index"))
		return 0, false
	}
	return index, true
}

// redirectMaster sends writes arriving at a slave to the master.
func (s *Server) redirectMaster(w http.ResponseWriter, r *http.Request) bool {
	if s.ops.IsMaster() || s.master == nil {
		return false
	}

	addr, err := s.master.MasterAddr()
	if err != nil || addr == "" {
		s.writeError(w, r, store.ErrReadOnly)
		return true
	}

	target := url.URL{Scheme: "http", Host: addr, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
	return true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrUnknownDatabase), errors.Is(err, store.ErrUnknownIndex):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDatabaseExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidName), errors.Is(err, memtable.ErrTooLargeEntry), errors.Is(err, comparator.ErrUnknown):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, store.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return replicationStatusOf(err)
}
