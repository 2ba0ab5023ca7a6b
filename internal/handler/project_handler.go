package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"drive-warden/internal/service"
	"drive-warden/pkg/apierror"
)

type ProjectHandler struct {
	projects   *service.ProjectService
	compliance *service.ComplianceService
}

func NewProjectHandler(projects *service.ProjectService, compliance *service.ComplianceService) *ProjectHandler {
	return &ProjectHandler{projects: projects, compliance: compliance}
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload service.CreateProjectInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	project, err := h.projects.Create(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, project, nil)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if projectID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "project_id is required", "project_id", http.StatusBadRequest))
		return
	}

	project, err := h.projects.Get(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, project, nil)
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseIntOrDefault(query.Get("page"), 1)
	limit := parseIntOrDefault(query.Get("limit"), 50)

	projects, meta, err := h.projects.List(r.Context(), query.Get("status"), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, projects, &meta)
}

type attachFolderRequest struct {
	DriveFolderID string `json:"drive_folder_id"`
}

func (h *ProjectHandler) AttachDriveFolder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	projectID := chi.URLParam(r, "project_id")
	if projectID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "project_id is required", "project_id", http.StatusBadRequest))
		return
	}

	var payload attachFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	project, err := h.projects.AttachDriveFolder(r.Context(), projectID, payload.DriveFolderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, project, nil)
}

// ComplianceReport is the read-only counterpart of enforcement: it reports
// drift without correcting it.
func (h *ProjectHandler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if projectID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "project_id is required", "project_id", http.StatusBadRequest))
		return
	}

	report, err := h.compliance.Report(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, report, nil)
}
