package model

import "errors"

var (
	// Template related errors
	ErrTemplateNotFound      = errors.New("active template not found")
	ErrDuplicateTemplatePath = errors.New("duplicate path in flattened template")

	// Job related errors
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotCancelable = errors.New("job is already in a terminal state")
	ErrInvalidJobType   = errors.New("invalid job type")

	// Project related errors
	ErrProjectNotFound = errors.New("project not found")

	// Storage backend errors
	ErrFolderNotFound   = errors.New("folder not found")
	ErrPermissionDenied = errors.New("permission denied by storage backend")
	ErrRateLimited      = errors.New("storage backend rate limit exceeded")

	// Auth related errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
