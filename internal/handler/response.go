package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"drive-warden/internal/middleware"
	"drive-warden/internal/model"
	"drive-warden/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	} else if errors.Is(err, model.ErrTemplateNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "No active template"
	} else if errors.Is(err, model.ErrDuplicateTemplatePath) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Template contains duplicate folder paths"
		body.Details = err.Error()
	} else if errors.Is(err, model.ErrJobNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Job not found"
	} else if errors.Is(err, model.ErrJobNotCancelable) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "Job already finished"
	} else if errors.Is(err, model.ErrInvalidJobType) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Unknown job type"
		body.Details = err.Error()
	} else if errors.Is(err, model.ErrProjectNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Project not found"
	} else if errors.Is(err, model.ErrFolderNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Folder not found"
		body.Details = err.Error()
	} else if errors.Is(err, model.ErrPermissionDenied) {
		status = http.StatusForbidden
		body.Code = "PERMISSION_DENIED"
		body.Message = "Storage backend denied the operation"
		body.Details = err.Error()
	} else if errors.Is(err, model.ErrRateLimited) {
		status = http.StatusTooManyRequests
		body.Code = "RATE_LIMITED"
		body.Message = "Storage backend is rate limiting"
	} else if errors.Is(err, model.ErrUnauthorized) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Authentication required"
	} else if errors.Is(err, model.ErrForbidden) {
		status = http.StatusForbidden
		body.Code = "FORBIDDEN"
		body.Message = "Access denied"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
		body.Details = err.Error()
	} else {
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func parseIntOrDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func actorFromRequest(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.Subject
}
