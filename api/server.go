// Package api exposes the pipeline over HTTP: stage requests, spec status,
// stored artifacts and syntheses, health, and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/specflow/specflow/pipeline"
	"github.com/specflow/specflow/store"
	"github.com/specflow/specflow/types"
)

// Server serves the pipeline API.
type Server struct {
	st       store.ResultStore
	coord    *pipeline.Coordinator
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// Options configure optional server features.
type Options struct {
	// Coordinator enables the stage-request and status endpoints. Without
	// it the server is a read-only view over the result store.
	Coordinator *pipeline.Coordinator

	// Gatherer backs the /metrics endpoint. Defaults to the global
	// Prometheus gatherer.
	Gatherer prometheus.Gatherer
}

// NewServer creates an API server over the result store.
func NewServer(st store.ResultStore, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		st:       st,
		coord:    opts.Coordinator,
		gatherer: opts.Gatherer,
		logger:   logger.With(zap.String("component", "api")),
	}
}

// Handler builds the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /api/v1/specs/{spec}/stages/{stage}", s.handleRequestStage)
	mux.HandleFunc("GET /api/v1/specs/{spec}/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/specs/{spec}/stages/{stage}/synthesis", s.handleSynthesis)
	mux.HandleFunc("GET /api/v1/specs/{spec}/stages/{stage}/artifacts", s.handleArtifacts)
	mux.HandleFunc("GET /api/v1/executions/{agent}", s.handleExecution)
	mux.HandleFunc("POST /api/v1/maintenance/prune", s.handlePrune)

	return s.withLogging(s.withRecovery(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.st != nil {
		if err := s.st.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, types.NewError(types.ErrStoreClosed, "result store unavailable").WithCause(err))
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRequestStage(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		s.writeError(w, http.StatusServiceUnavailable,
			types.NewError(types.ErrInvalidInput, "no coordinator attached, server is read-only"))
		return
	}
	specID := r.PathValue("spec")
	outcome, err := s.coord.RequestStageByName(r.Context(), specID, r.PathValue("stage"))
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		s.writeError(w, http.StatusServiceUnavailable,
			types.NewError(types.ErrInvalidInput, "no coordinator attached, server is read-only"))
		return
	}
	status, err := s.coord.GetStageStatus(r.PathValue("spec"))
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	stage, ok := types.ParseStage(r.PathValue("stage"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, types.NewError(types.ErrUnknownStage, "unknown stage"))
		return
	}
	rec, err := s.st.LatestSynthesis(r.Context(), r.PathValue("spec"), stage)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, types.NewError(types.ErrStoreNotFound, "no synthesis recorded"))
			return
		}
		s.writeError(w, http.StatusInternalServerError, types.NewError(types.ErrPersistenceFailure, "synthesis lookup failed").WithCause(err))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	specID := r.PathValue("spec")
	stage, ok := types.ParseStage(r.PathValue("stage"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, types.NewError(types.ErrUnknownStage, "unknown stage"))
		return
	}

	runID := r.URL.Query().Get("run")
	if runID == "" {
		latest, err := s.st.LatestRunID(r.Context(), specID, stage)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, types.NewError(types.ErrStoreNotFound, "no runs recorded"))
				return
			}
			s.writeError(w, http.StatusInternalServerError, types.NewError(types.ErrPersistenceFailure, "run lookup failed").WithCause(err))
			return
		}
		runID = latest
	}

	artifacts, err := s.st.ListArtifacts(r.Context(), specID, stage, runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, types.NewError(types.ErrPersistenceFailure, "artifact lookup failed").WithCause(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "artifacts": artifacts})
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.st.GetExecution(r.Context(), r.PathValue("agent"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, types.NewError(types.ErrStoreNotFound, "no such execution"))
			return
		}
		s.writeError(w, http.StatusInternalServerError, types.NewError(types.ErrPersistenceFailure, "execution lookup failed").WithCause(err))
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	olderThan := 7 * 24 * time.Hour
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, types.NewError(types.ErrInvalidInput, "older_than must be a positive duration"))
			return
		}
		olderThan = d
	}

	pruned, err := s.st.PruneExecutions(r.Context(), olderThan)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, types.NewError(types.ErrPersistenceFailure, "prune failed").WithCause(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"pruned": pruned})
}

// writePipelineError maps coordinator error codes onto HTTP statuses.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.GetErrorCode(err) {
	case types.ErrUnknownStage, types.ErrInvalidInput:
		status = http.StatusBadRequest
	case types.ErrUnknownSpec:
		status = http.StatusNotFound
	case types.ErrStageInFlight:
		status = http.StatusConflict
	case types.ErrInvalidTransition:
		status = http.StatusConflict
	case types.ErrStaleRun:
		status = http.StatusGone
	}
	s.writeError(w, status, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]any{"error": map[string]string{
		"code":    string(types.GetErrorCode(err)),
		"message": err.Error(),
	}}
	s.writeJSON(w, status, body)
}
