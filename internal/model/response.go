package model

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type AuditQuery struct {
	Action     string
	EntityType string
	EntityID   string
	From       string
	To         string
	Page       int
	Limit      int
}

// AuthClaims are the validated bearer-token claims attached to a request.
// Token issuance lives in the upstream identity service; this service only
// verifies.
type AuthClaims struct {
	Subject string
	Role    string
}
