package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"drive-warden/internal/drive"
	"drive-warden/internal/model"
	"drive-warden/internal/repository"
	"drive-warden/pkg/apierror"
)

type CreateProjectInput struct {
	PRNumber      string `json:"pr_number"`
	Name          string `json:"name"`
	Phase         string `json:"phase"`
	DriveFolderID string `json:"drive_folder_id"`
}

// ProjectService manages the registry of project folder trees.
type ProjectService struct {
	projects *repository.ProjectRepository
	client   drive.Client
}

func NewProjectService(projects *repository.ProjectRepository, client drive.Client) *ProjectService {
	return &ProjectService{projects: projects, client: client}
}

func (s *ProjectService) Create(ctx context.Context, input CreateProjectInput) (model.Project, error) {
	input.PRNumber = strings.TrimSpace(input.PRNumber)
	input.Name = strings.TrimSpace(input.Name)

	if input.PRNumber == "" {
		return model.Project{}, apierror.New("BAD_REQUEST", "pr_number is required", "pr_number", http.StatusBadRequest)
	}
	if input.Name == "" {
		return model.Project{}, apierror.New("BAD_REQUEST", "name is required", "name", http.StatusBadRequest)
	}

	if input.DriveFolderID != "" {
		if _, err := s.client.GetFolder(ctx, input.DriveFolderID); err != nil {
			return model.Project{}, apierror.New("BAD_REQUEST", "drive_folder_id does not resolve to a folder", input.DriveFolderID, http.StatusBadRequest)
		}
	}

	project := model.Project{
		ID:            uuid.NewString(),
		PRNumber:      input.PRNumber,
		Name:          input.Name,
		Phase:         strings.TrimSpace(input.Phase),
		Status:        "active",
		DriveFolderID: strings.TrimSpace(input.DriveFolderID),
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.projects.Create(ctx, project); err != nil {
		return model.Project{}, err
	}
	return project, nil
}

func (s *ProjectService) Get(ctx context.Context, projectID string) (model.Project, error) {
	return s.projects.FindByID(ctx, projectID)
}

func (s *ProjectService) List(ctx context.Context, status string, page int, limit int) ([]model.Project, model.Meta, error) {
	return s.projects.List(ctx, status, page, limit)
}

// AttachDriveFolder links an existing folder as the project's tree root after
// verifying it resolves on the backend.
func (s *ProjectService) AttachDriveFolder(ctx context.Context, projectID string, driveFolderID string) (model.Project, error) {
	driveFolderID = strings.TrimSpace(driveFolderID)
	if driveFolderID == "" {
		return model.Project{}, apierror.New("BAD_REQUEST", "drive_folder_id is required", "drive_folder_id", http.StatusBadRequest)
	}

	if _, err := s.client.GetFolder(ctx, driveFolderID); err != nil {
		return model.Project{}, apierror.New("BAD_REQUEST", "drive_folder_id does not resolve to a folder", driveFolderID, http.StatusBadRequest)
	}

	if err := s.projects.SetDriveFolder(ctx, projectID, driveFolderID); err != nil {
		return model.Project{}, err
	}
	return s.projects.FindByID(ctx, projectID)
}
