// Package studio is a local stand-in for the generation service. It stores
// job rows in SQLite, serves the start/progress/cancel endpoints, and a
// Simulator advances jobs over time. Nothing is rendered.
package studio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/mark3labs/reelsmith/internal/logger"
	"github.com/mark3labs/reelsmith/internal/tracker"
)

// defaultSegments is the job size used when the brief lists no shots.
const defaultSegments = 4

type Server struct {
	Jobs    *Store
	BaseURL string // optional, for absolute result URLs
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/progress", s.handleGetProgress)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/jobs/{id}/result", s.handleGetResult)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s -> %d in %s [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start), middleware.GetReqID(r.Context()))
	})
}

type createJobRequest struct {
	TargetID string          `json:"targetId"`
	Kind     string          `json:"kind"`
	Title    string          `json:"title"`
	Brief    json.RawMessage `json:"brief"`
}

func (s Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.TargetID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("targetId is required"))
		return
	}

	brief := ""
	if len(req.Brief) > 0 {
		var tmp any
		if err := json.Unmarshal(req.Brief, &tmp); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid brief JSON: %w", err))
			return
		}
		canon, _ := json.Marshal(tmp)
		brief = string(canon)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = req.TargetID
	}

	now := time.Now().UTC()
	job := Job{
		ID:        uuid.NewString(),
		TargetID:  req.TargetID,
		Kind:      req.Kind,
		Title:     title,
		Slug:      slug.Make(title),
		Brief:     brief,
		Status:    tracker.StatusQueued,
		Total:     segmentCount(req.Brief),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Jobs.CreateJob(r.Context(), job); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	logger.Info("Queued job %s (%s, %d segments)", job.ID, job.Slug, job.Total)
	writeJSON(w, http.StatusCreated, map[string]any{"id": job.ID, "status": job.Status})
}

// segmentCount sizes a job by the number of shots in its brief.
func segmentCount(raw json.RawMessage) int {
	var brief struct {
		Shots []json.RawMessage `json:"shots"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &brief) != nil || len(brief.Shots) == 0 {
		return defaultSegments
	}
	return len(brief.Shots)
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(job, s.BaseURL))
}

func (s Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var status *tracker.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := tracker.ParseStatus(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", raw))
			return
		}
		status = &parsed
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		limit = min(value, 100)
	}

	jobs, err := s.Jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.IsTerminal() {
		writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "status": job.Status})
		return
	}

	cancelled := tracker.StatusCancelled
	err := s.Jobs.UpdateActiveJob(r.Context(), job.ID, JobPatch{Status: &cancelled})
	if errors.Is(err, ErrSettled) {
		// Settled between the read and the write; report what won.
		if job, err = s.Jobs.GetJob(r.Context(), job.ID); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "status": job.Status})
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	logger.Info("Cancelled job %s at %.0f%%", job.ID, job.Progress)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "status": cancelled})
}

func (s Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != tracker.StatusDone {
		writeErr(w, http.StatusNotFound, errors.New("result not ready"))
		return
	}

	// The manifest stands in for rendered media.
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       job.ID,
		"title":    job.Title,
		"kind":     job.Kind,
		"segments": job.Total,
		"brief":    json.RawMessage(nonEmpty(job.Brief, "null")),
	})
}

func (s Server) loadJob(w http.ResponseWriter, r *http.Request) (Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := s.Jobs.GetJob(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return Job{}, false
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return Job{}, false
	}
	return job, true
}

func progressResponse(job Job, baseURL string) map[string]any {
	resp := map[string]any{
		"jobId":     job.ID,
		"status":    job.Status,
		"progress":  job.Progress,
		"completed": job.Completed,
		"total":     job.Total,
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Status == tracker.StatusDone {
		resp["resultUrl"] = resultURL(baseURL, job.ID)
	}
	return resp
}

func resultURL(baseURL, id string) string {
	return fmt.Sprintf("%s/v1/jobs/%s/result", strings.TrimRight(baseURL, "/"), id)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
