package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"drive-warden/internal/service"
	"drive-warden/pkg/apierror"
)

type JobsHandler struct {
	service *service.JobService
}

func NewJobsHandler(service *service.JobService) *JobsHandler {
	return &JobsHandler{service: service}
}

type createJobRequest struct {
	Type    string         `json:"type"`
	Details map[string]any `json:"details"`
}

// Create enqueues a job and returns 202 immediately; execution happens in
// the orchestrator.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	job, err := h.service.Create(r.Context(), payload.Type, payload.Details, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, job, nil)
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "job_id is required", "job_id", http.StatusBadRequest))
		return
	}

	job, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, job, nil)
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseIntOrDefault(query.Get("page"), 1)
	limit := parseIntOrDefault(query.Get("limit"), 50)

	jobs, meta, err := h.service.List(r.Context(), query.Get("status"), query.Get("type"), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, jobs, &meta)
}

func (h *JobsHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "job_id is required", "job_id", http.StatusBadRequest))
		return
	}

	page := parseIntOrDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 100)

	tasks, meta, err := h.service.Tasks(r.Context(), jobID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tasks, &meta)
}

func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "job_id is required", "job_id", http.StatusBadRequest))
		return
	}

	job, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, job, nil)
}

func (h *JobsHandler) ClearFinished(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.service.ClearFinished(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"cleared": cleared}, nil)
}
