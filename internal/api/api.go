// Package api is the control-plane HTTP surface described in the
// specification's §6 external interfaces: submit a job, query its status
// and progress, and signal pause/resume/cancel. It is a thin adapter over
// internal/engine, grounded on the retrieved subscription platform's own
// thin HTTP layer (internal/infra/api/server.go, guard.go) but rebuilt on
// go-chi/chi instead of net/http's bare ServeMux, matching the router the
// rest of that example's dependency surface (chi middleware) points at.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rowforge/rowforge/internal/config"
	"github.com/rowforge/rowforge/internal/engine"
	"github.com/rowforge/rowforge/internal/model"
)

// Server wires the job-orchestration control plane to chi routes.
type Server struct {
	engine   *engine.Engine
	apiKey   string
	defaults config.EngineConfig
}

// NewServer constructs the control-plane HTTP layer. An empty apiKey
// disables the bearer-token gate, which is appropriate for local
// development but not for a real deployment. defaults supplies the values a
// start-job request falls back to when it omits a field; the zero value
// falls back to config.Default().Engine.
func NewServer(e *engine.Engine, apiKey string, defaults config.EngineConfig) *Server {
	if defaults.ChunkSizeBytes <= 0 {
		defaults = config.Default().Engine
	}
	return &Server{engine: e, apiKey: apiKey, defaults: defaults}
}

// Router builds the chi router for the control plane.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.With(s.requireAPIKey).Post("/", s.handleStartJob)
		r.Get("/{jobID}", s.handleGetStatus)
		r.Get("/{jobID}/progress", s.handleGetProgress)
		r.With(s.requireAPIKey).Post("/{jobID}/pause", s.handlePause)
		r.With(s.requireAPIKey).Post("/{jobID}/resume", s.handleResume)
		r.With(s.requireAPIKey).Post("/{jobID}/cancel", s.handleCancel)
	})

	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type startJobRequest struct {
	Directory           string `json:"directory"`
	Filename            string `json:"filename"`
	ChunkSizeBytes      int64  `json:"chunkSizeBytes"`
	MaxParallelChunks   int    `json:"maxParallelChunks"`
	EnableDeduplication *bool  `json:"enableDeduplication"`
	ReprocessFailures   *bool  `json:"reprocessFailures"`
}

type startJobResponse struct {
	JobID      string `json:"jobId"`
	WorkflowID string `json:"workflowId"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Directory == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "directory and filename are required")
		return
	}
	if req.ChunkSizeBytes <= 0 {
		req.ChunkSizeBytes = s.defaults.ChunkSizeBytes
	}
	if req.MaxParallelChunks <= 0 {
		req.MaxParallelChunks = s.defaults.MaxParallelChunks
	}
	enableDeduplication := s.defaults.EnableDeduplication
	if req.EnableDeduplication != nil {
		enableDeduplication = *req.EnableDeduplication
	}
	reprocessFailures := s.defaults.ReprocessFailures
	if req.ReprocessFailures != nil {
		reprocessFailures = *req.ReprocessFailures
	}

	jobID, workflowID, err := s.engine.StartJob(model.FileProcessingRequest{
		Directory:           req.Directory,
		Filename:            req.Filename,
		ChunkSizeBytes:      req.ChunkSizeBytes,
		MaxParallelChunks:   req.MaxParallelChunks,
		EnableDeduplication: enableDeduplication,
		ReprocessFailures:   reprocessFailures,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, startJobResponse{JobID: jobID, WorkflowID: workflowID})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	status, ok := s.engine.GetStatus(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	status, ok := s.engine.GetProgress(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.engine.Pause(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Acknowledged: true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.engine.Resume(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Acknowledged: true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.engine.Cancel(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Acknowledged: true})
}

type ackResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
