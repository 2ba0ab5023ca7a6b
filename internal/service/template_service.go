package service

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"drive-warden/internal/event"
	"drive-warden/internal/model"
	"drive-warden/internal/reconcile"
	"drive-warden/internal/repository"
	"drive-warden/pkg/apierror"
)

// TemplateService manages the versioned folder template. Saving never
// mutates an existing snapshot; each save creates a new version and flips
// the active flag.
type TemplateService struct {
	templates *repository.TemplateRepository
	bus       event.Bus
}

func NewTemplateService(templates *repository.TemplateRepository, bus event.Bus) *TemplateService {
	return &TemplateService{templates: templates, bus: bus}
}

// Save validates the tree by flattening it, then stores it as the new active
// version. A tree that flattens to duplicate paths is rejected outright; a
// template that cannot be flattened cannot be enforced.
func (s *TemplateService) Save(ctx context.Context, roots []model.TemplateNode, createdBy string) (model.TemplateVersion, error) {
	if len(roots) == 0 {
		return model.TemplateVersion{}, apierror.New("BAD_REQUEST", "template requires at least one root folder", "template", http.StatusBadRequest)
	}

	if _, err := reconcile.Flatten(roots); err != nil {
		return model.TemplateVersion{}, apierror.New("BAD_REQUEST", "template is not enforceable", err.Error(), http.StatusBadRequest)
	}

	version, err := s.templates.Save(ctx, roots, createdBy)
	if err != nil {
		return model.TemplateVersion{}, err
	}

	if s.bus != nil {
		s.bus.Publish(event.Event{
			ID:        uuid.NewString(),
			Type:      event.TypeTemplateSaved,
			Payload:   map[string]any{"version_number": version.VersionNumber},
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			ActorID:   createdBy,
		})
	}

	return version, nil
}

// Active returns the active snapshot together with its flattened form, which
// is what enforcement and compliance consume.
func (s *TemplateService) Active(ctx context.Context) (model.TemplateVersion, map[string]model.FolderPermissions, error) {
	version, err := s.templates.GetActive(ctx)
	if err != nil {
		return model.TemplateVersion{}, nil, err
	}

	flattened, err := reconcile.Flatten(version.Roots)
	if err != nil {
		return model.TemplateVersion{}, nil, err
	}

	return version, flattened, nil
}

func (s *TemplateService) Version(ctx context.Context, versionNumber int) (model.TemplateVersion, error) {
	return s.templates.GetVersion(ctx, versionNumber)
}

func (s *TemplateService) ListVersions(ctx context.Context, page int, limit int) ([]model.TemplateVersion, model.Meta, error) {
	return s.templates.ListVersions(ctx, page, limit)
}
