package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/planetlabs/go-stac"

	"github.com/robert-malhotra/s1-insar/internal/jobs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Submitter schedules job requests. *jobs.Queue satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req jobs.Request) (*jobs.Job, error)
}

// Handlers contains all HTTP handlers for the job API.
type Handlers struct {
	queue   Submitter
	store   jobs.Store
	version string
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(queue Submitter, store jobs.Store, version string, logger *slog.Logger) *Handlers {
	return &Handlers{
		queue:   queue,
		store:   store,
		version: version,
		logger:  logger,
	}
}

// Link is a hypermedia link in API responses.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// JobList is the body of GET /jobs.
type JobList struct {
	Jobs  []*jobs.Job `json:"jobs"`
	Links []Link      `json:"links"`
}

// LandingPage describes the service.
// GET /
func (h *Handlers) LandingPage(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"id":                "s1-insar",
		"title":             "Sentinel-1 InSAR pair processor",
		"processor_version": h.version,
		"links": []Link{
			{Rel: "self", Href: "/", Type: "application/json"},
			{Rel: "jobs", Href: "/jobs", Type: "application/json"},
			{Rel: "service-doc", Href: "/health", Type: "application/json"},
		},
	})
}

// Health returns the health status of the service.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// CreateJob submits an interferogram job.
// POST /jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		WriteBadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	job, err := h.queue.Submit(r.Context(), req)
	switch {
	case errors.Is(err, jobs.ErrInvalidJob):
		WriteInvalidParameter(w, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull):
		w.Header().Set("Retry-After", "60")
		WriteUnavailable(w, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to submit job",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteInternalErrorWithRequestID(w, "failed to submit job", GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Location", "/jobs/"+job.ID)
	WriteJSON(w, http.StatusAccepted, job)
}

// ListJobs returns recent jobs, newest first.
// GET /jobs?limit=N&status=S
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			WriteInvalidParameter(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	var status jobs.Status
	if s := r.URL.Query().Get("status"); s != "" {
		status = jobs.Status(s)
		switch status {
		case jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed:
		default:
			WriteInvalidParameter(w, fmt.Sprintf("unknown status %q", s))
			return
		}
	}

	list, err := h.store.List(r.Context(), 0)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		WriteInternalErrorWithRequestID(w, "failed to list jobs", GetRequestID(r.Context()))
		return
	}

	out := make([]*jobs.Job, 0, min(len(list), limit))
	for _, job := range list {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
		if len(out) == limit {
			break
		}
	}

	WriteJSON(w, http.StatusOK, JobList{
		Jobs:  out,
		Links: []Link{{Rel: "self", Href: r.URL.RequestURI(), Type: "application/json"}},
	})
}

// GetJob returns a single job.
// GET /jobs/{jobId}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetJobItem returns the STAC item of a finished job's product.
// GET /jobs/{jobId}/item
func (h *Handlers) GetJobItem(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusSucceeded {
		WriteConflict(w, fmt.Sprintf("job is %s", job.Status))
		return
	}

	path := ""
	for _, p := range job.Product {
		if strings.HasSuffix(p, ".json") {
			path = p
		}
	}
	if path == "" {
		WriteNotFound(w, "job product has no item")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		h.logger.Error("failed to read item", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		WriteNotFound(w, "item not available")
		return
	}

	item := &stac.Item{}
	if err := json.Unmarshal(data, item); err != nil {
		h.logger.Error("failed to decode item", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		WriteInternalErrorWithRequestID(w, "failed to decode item", GetRequestID(r.Context()))
		return
	}

	WriteGeoJSON(w, http.StatusOK, item)
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := chi.URLParam(r, "jobId")
	job, err := h.store.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		WriteNotFound(w, "job not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get job", slog.String("job_id", id), slog.String("error", err.Error()))
		WriteInternalErrorWithRequestID(w, "failed to get job", GetRequestID(r.Context()))
		return nil, false
	}
	return job, true
}
