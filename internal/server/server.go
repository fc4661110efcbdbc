// Package server exposes the run history and a manual run trigger over
// HTTP for the dashboard.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pts-reporter/internal/logger"
	"pts-reporter/internal/store"
	"pts-reporter/internal/types"
)

// Runner executes one report run. Satisfied by *pipeline.Pipeline.
type Runner interface {
	RunOnce(ctx context.Context) types.RunOutcome
}

// Server serves the dashboard API.
type Server struct {
	store  *store.SQLite
	runner Runner

	runMu sync.Mutex // one run at a time
}

// New creates a server. The store may be nil, in which case the
// history endpoints answer 503.
func New(st *store.SQLite, runner Runner) *Server {
	return &Server{store: st, runner: runner}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}/entries", s.handleRunEntries)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRun triggers a run synchronously and returns its outcome.
// Overlapping triggers are rejected; the upstream rate gate makes a
// second concurrent run pointless anyway.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.runMu.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.runMu.Unlock()

	logger.Info(r.Context(), "Run triggered via API")
	outcome := s.runner.RunOnce(r.Context())

	status := http.StatusOK
	if !outcome.Succeeded {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, outcome)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to list runs", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunEntries(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	entries, err := s.store.RunEntries(r.Context(), id)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to load run entries", err, "run_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load run entries")
		return
	}
	if entries == nil {
		entries = []store.EntryRecord{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
