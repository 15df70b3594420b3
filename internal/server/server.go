// Package server exposes the session analysis HTTP API.
//
// Endpoints:
//
//   - POST /v1/sessions                       — register an uploaded session
//   - POST /v1/sessions/{id}/analyze          — trigger the analysis pipeline
//   - GET  /v1/sessions/{id}/analysis         — fetch the analysis report
//   - GET  /healthz, /readyz                  — probes (health package)
//   - GET  /metrics                           — Prometheus exposition
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corvidlabs/attune/internal/health"
	"github.com/corvidlabs/attune/internal/pipeline"
	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/pkg/types"
)

// Supervisor is the pipeline trigger surface the server depends on.
type Supervisor interface {
	Trigger(sessionID string) error
	Running(sessionID string) bool
}

// Server is the Attune HTTP API server.
type Server struct {
	store      store.Store
	supervisor Supervisor
	log        *slog.Logger
	httpSrv    *http.Server

	// serveTLS is set when TLS is configured; nil means plain HTTP.
	serveTLS func() error
}

// Config holds the server's network settings.
type Config struct {
	ListenAddr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// New creates a Server with all routes registered. health may be nil when no
// readiness checks apply.
func New(cfg Config, st store.Store, sup Supervisor, hh *health.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:      st,
		supervisor: sup,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /v1/sessions/{id}/analysis", s.handleAnalysis)
	mux.Handle("GET /metrics", promhttp.Handler())
	if hh != nil {
		hh.Register(mux)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		s.serveTLS = func() error {
			return s.httpSrv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		}
	}
	return s
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("http server listening", "addr", s.httpSrv.Addr)
	var err error
	if s.serveTLS != nil {
		err = s.serveTLS()
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// createSessionRequest is the POST /v1/sessions body.
type createSessionRequest struct {
	ChildID  string `json:"childId"`
	Mode     string `json:"mode"`
	AudioRef string `json:"audioRef"`

	// DurationSeconds is the recording length reported by the uploader.
	DurationSeconds float64 `json:"durationSeconds"`
}

// createSessionResponse is the POST /v1/sessions reply.
type createSessionResponse struct {
	SessionID string       `json:"sessionId"`
	Status    types.Status `json:"status"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode := types.Mode(req.Mode)
	if !mode.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("mode %q is invalid; valid values: cdi, pdi", req.Mode))
		return
	}
	if req.AudioRef == "" {
		writeError(w, http.StatusBadRequest, "audioRef is required")
		return
	}

	sess := &types.Session{
		ID:       uuid.NewString(),
		ChildID:  req.ChildID,
		Mode:     mode,
		AudioRef: req.AudioRef,
		Duration: time.Duration(req.DurationSeconds * float64(time.Second)),
		Status:   types.StatusPending,
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		s.log.ErrorContext(r.Context(), "create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Session(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.ErrorContext(r.Context(), "load session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	if sess.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("session is already %s", sess.Status))
		return
	}

	if err := s.supervisor.Trigger(id); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "analysis already in progress")
			return
		}
		s.log.ErrorContext(r.Context(), "trigger failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not start analysis")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": id,
		"status":    string(types.StatusProcessing),
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Session(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.ErrorContext(r.Context(), "load session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	report := types.AnalysisReport{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Status:    sess.Status,
	}
	switch sess.Status {
	case types.StatusFailed:
		report.Error = sess.Error
	case types.StatusCompleted:
		utts, err := s.store.Utterances(r.Context(), id)
		if err != nil {
			s.log.ErrorContext(r.Context(), "load utterances failed", "session_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "could not load analysis")
			return
		}
		score := sess.Score
		report.Score = &score
		report.TagCounts = sess.TagCounts
		report.Transcript = utts
		report.Competency = sess.Competency
		report.Coaching = sess.Coaching
		report.Profile = sess.Profile
		report.Milestones = sess.Milestones
	}
	// Pending and processing sessions expose status only; no partial data.
	writeJSON(w, http.StatusOK, report)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
