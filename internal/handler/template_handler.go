package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"drive-warden/internal/model"
	"drive-warden/internal/service"
	"drive-warden/pkg/apierror"
)

type TemplateHandler struct {
	service *service.TemplateService
}

func NewTemplateHandler(service *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{service: service}
}

type saveTemplateRequest struct {
	Template []model.TemplateNode `json:"template"`
}

func (h *TemplateHandler) Save(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload saveTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	version, err := h.service.Save(r.Context(), payload.Template, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, version, nil)
}

func (h *TemplateHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	version, _, err := h.service.Active(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, version, nil)
}

// GetFlattened returns the active template in its enforcement form: one
// entry per folder path.
func (h *TemplateHandler) GetFlattened(w http.ResponseWriter, r *http.Request) {
	_, flattened, err := h.service.Active(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, flattened, nil)
}

func (h *TemplateHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	versionNumber := parseIntOrDefault(chi.URLParam(r, "version"), 0)
	if versionNumber < 1 {
		writeError(w, apierror.New("BAD_REQUEST", "version must be a positive integer", "version", http.StatusBadRequest))
		return
	}

	version, err := h.service.Version(r.Context(), versionNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, version, nil)
}

func (h *TemplateHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	page := parseIntOrDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 20)

	versions, meta, err := h.service.ListVersions(r.Context(), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, versions, &meta)
}
