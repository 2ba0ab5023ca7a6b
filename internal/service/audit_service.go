package service

import (
	"context"

	"drive-warden/internal/model"
	"drive-warden/internal/repository"
)

// AuditService exposes the append-only audit trail for inspection. Writes go
// through the orchestrator; this surface is read-only.
type AuditService struct {
	audit *repository.AuditRepository
}

func NewAuditService(audit *repository.AuditRepository) *AuditService {
	return &AuditService{audit: audit}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditLogEntry, model.Meta, error) {
	return s.audit.Query(ctx, query)
}
