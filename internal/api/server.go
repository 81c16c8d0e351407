// Package api exposes the jobs HTTP API and observability endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage"
	"github.com/dvtran/ytarchive/internal/orchestrator"
)

// Server serves the jobs API.
type Server struct {
	orch    *orchestrator.Orchestrator
	plan    storage.PlanRepository
	reports storage.ReportRepository
	log     *slog.Logger
	server  *http.Server
}

// NewServer creates the API server.
func NewServer(
	orch *orchestrator.Orchestrator,
	plan storage.PlanRepository,
	reports storage.ReportRepository,
	port int,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		orch:    orch,
		plan:    plan,
		reports: reports,
		log:     log,
	}

	r := chi.NewRouter()
	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/execute", s.handleExecuteJob)
	r.Post("/jobs/{id}/cancel", s.handleCancelJob)
	r.Get("/recoveries", s.handleActiveRecoveries)
	r.Get("/plan", s.handlePlan)
	r.Post("/plan/resubmit", s.handleResubmit)
	r.Get("/reports", s.handleReports)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type createJobRequest struct {
	Type    domain.JobType    `json:"type"`
	Options domain.JobOptions `json:"options"`
	Execute bool              `json:"execute"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	job, err := s.orch.CreateJob(r.Context(), req.Type, req.Options)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Execute {
		go func() {
			if err := s.orch.ExecuteJob(context.Background(), job.ID); err != nil {
				s.log.Error("Job execution failed", "job", job.ID, "error", err)
			}
		}()
	}

	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	jobs, err := s.orch.ListJobs(r.Context(), status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExecuteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.orch.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	go func() {
		if err := s.orch.ExecuteJob(context.Background(), id); err != nil {
			s.log.Error("Job execution failed", "job", id, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "executing"})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.orch.CancelJob(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
	}
}

func (s *Server) handleActiveRecoveries(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.ActiveRecoveries())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	status := domain.PlanEntryStatus(r.URL.Query().Get("status"))
	entries, err := s.plan.List(r.Context(), status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type resubmitRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	var req resubmitRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	jobs, err := s.orch.ResubmitPlan(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, jobs)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.List(r.Context(), 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"active_recoveries": len(s.orch.ActiveRecoveries()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
