package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"drive-warden/internal/event"
	"drive-warden/internal/model"
	"drive-warden/internal/repository"
	"drive-warden/pkg/apierror"
)

// JobService is the request-facing side of the job system. It only writes
// pending rows and reads state; all execution belongs to the orchestrator, so
// an HTTP request never blocks on remote work.
type JobService struct {
	jobs *repository.JobRepository
	bus  event.Bus
}

func NewJobService(jobs *repository.JobRepository, bus event.Bus) *JobService {
	return &JobService{jobs: jobs, bus: bus}
}

// Create validates and enqueues one job. The durable row is the handoff to
// the orchestrator; by the time this returns, the caller holds a job ID it
// can poll or stream.
func (s *JobService) Create(ctx context.Context, jobType string, details map[string]any, triggeredBy string) (model.Job, error) {
	kind := model.JobType(strings.TrimSpace(jobType))
	if !kind.Valid() {
		return model.Job{}, apierror.New("BAD_REQUEST", "unknown job type", jobType, http.StatusBadRequest)
	}

	if kind == model.JobTypePermissionEnforcement {
		if projectID, ok := details["project_id"].(string); ok && strings.TrimSpace(projectID) == "" {
			return model.Job{}, apierror.New("BAD_REQUEST", "project_id must not be empty when provided", "project_id", http.StatusBadRequest)
		}
	}

	job := model.Job{
		ID:          uuid.NewString(),
		Type:        kind,
		Status:      model.JobStatusPending,
		TriggeredBy: strings.TrimSpace(triggeredBy),
		Details:     details,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return model.Job{}, err
	}

	s.publish(event.TypeJobQueued, job)
	return job, nil
}

func (s *JobService) Get(ctx context.Context, jobID string) (model.Job, error) {
	return s.jobs.FindByID(ctx, jobID)
}

func (s *JobService) List(ctx context.Context, status string, jobType string, page int, limit int) ([]model.Job, model.Meta, error) {
	return s.jobs.List(ctx, status, jobType, page, limit)
}

func (s *JobService) Tasks(ctx context.Context, jobID string, page int, limit int) ([]model.Task, model.Meta, error) {
	if _, err := s.jobs.FindByID(ctx, jobID); err != nil {
		return nil, model.Meta{}, err
	}
	return s.jobs.Tasks(ctx, jobID, page, limit)
}

// Cancel cancels a pending job immediately and flags a running one; the
// orchestrator honors the flag at the next task boundary.
func (s *JobService) Cancel(ctx context.Context, jobID string) (model.Job, error) {
	job, err := s.jobs.RequestCancel(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}

	if job.Status == model.JobStatusCancelled {
		s.publish(event.TypeJobCancelled, job)
	}
	return job, nil
}

// ClearFinished deletes all terminal jobs and their tasks. Audit entries are
// untouched; they outlive the jobs that produced them.
func (s *JobService) ClearFinished(ctx context.Context) (int64, error) {
	return s.jobs.ClearTerminal(ctx)
}

func (s *JobService) publish(kind event.Type, job model.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Payload:   job,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   job.TriggeredBy,
	})
}
