package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"drive-warden/internal/drive"
	"drive-warden/internal/enforce"
	"drive-warden/internal/event"
	"drive-warden/internal/model"
	"drive-warden/internal/repository"
)

// JobStore is the slice of job persistence the orchestrator drives: claiming,
// task fan-out, progress counters and terminal transitions.
type JobStore interface {
	ClaimNextPending(ctx context.Context) (model.Job, error)
	RequeueRunning(ctx context.Context) (int64, error)
	FindByID(ctx context.Context, jobID string) (model.Job, error)
	Finish(ctx context.Context, jobID string, status model.JobStatus, errorSummary string) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	CreateTasks(ctx context.Context, jobID string, tasks []model.Task) error
	PendingTasks(ctx context.Context, jobID string) ([]model.Task, error)
	StartTask(ctx context.Context, taskID string) error
	FinishTask(ctx context.Context, jobID string, taskID string, status model.TaskStatus, taskErr string) error
}

// ProjectStore is the project registry slice job runners consume.
type ProjectStore interface {
	FindByID(ctx context.Context, projectID string) (model.Project, error)
	ListActive(ctx context.Context) ([]model.Project, error)
	MarkSynced(ctx context.Context, projectID string, version int) error
	MarkEnforced(ctx context.Context, projectID string) error
}

// TemplateStore supplies the active template snapshot.
type TemplateStore interface {
	GetActive(ctx context.Context) (model.TemplateVersion, error)
}

// FolderIndexStore is the path-to-folder index slice job runners consume.
type FolderIndexStore interface {
	ListByProject(ctx context.Context, projectID string) ([]model.IndexedFolder, error)
	Upsert(ctx context.Context, folder model.IndexedFolder) error
	Replace(ctx context.Context, projectID string, folders []model.IndexedFolder) error
	Touch(ctx context.Context, id string) error
}

// AuditLogger appends audit entries.
type AuditLogger interface {
	Log(ctx context.Context, entry model.AuditLogEntry) error
}

var (
	_ JobStore         = (*repository.JobRepository)(nil)
	_ ProjectStore     = (*repository.ProjectRepository)(nil)
	_ TemplateStore    = (*repository.TemplateRepository)(nil)
	_ FolderIndexStore = (*repository.FolderIndexRepository)(nil)
	_ AuditLogger      = (*repository.AuditRepository)(nil)
)

// Orchestrator consumes pending job rows and executes them. It is the only
// writer of job and task state transitions; handlers merely enqueue.
type Orchestrator struct {
	jobs      JobStore
	projects  ProjectStore
	templates TemplateStore
	folders   FolderIndexStore
	audit     AuditLogger
	client    drive.Client
	executor  *enforce.Executor
	bus       event.Bus

	workers      int
	pollInterval time.Duration
}

func NewOrchestrator(
	jobs JobStore,
	projects ProjectStore,
	templates TemplateStore,
	folders FolderIndexStore,
	audit AuditLogger,
	client drive.Client,
	executor *enforce.Executor,
	bus event.Bus,
	workers int,
	pollInterval time.Duration,
) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Orchestrator{
		jobs:         jobs,
		projects:     projects,
		templates:    templates,
		folders:      folders,
		audit:        audit,
		client:       client,
		executor:     executor,
		bus:          bus,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

// Run claims and executes jobs until the context is cancelled. Jobs left
// running by a previous process are requeued first so a crash never strands
// work.
func (o *Orchestrator) Run(ctx context.Context) {
	if requeued, err := o.jobs.RequeueRunning(ctx); err != nil {
		slog.Error("requeue interrupted jobs", "error", err)
	} else if requeued > 0 {
		slog.Info("requeued interrupted jobs", "count", requeued)
	}

	for {
		job, err := o.jobs.ClaimNextPending(ctx)
		if errors.Is(err, model.ErrJobNotFound) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.pollInterval):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("claim pending job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.pollInterval):
			}
			continue
		}

		o.runJob(ctx, job)

		if ctx.Err() != nil {
			return
		}
	}
}

func (o *Orchestrator) runJob(ctx context.Context, job model.Job) {
	log := slog.With("job_id", job.ID, "job_type", job.Type)
	log.Info("job started", "triggered_by", job.TriggeredBy)

	o.publishJob(event.TypeJobStarted, job)
	o.auditJob(ctx, model.AuditJobStarted, job, nil)

	if err := o.ensureTasks(ctx, &job); err != nil {
		log.Error("job planning failed", "error", err)
		o.finishJob(ctx, job, model.JobStatusFailed, err.Error())
		return
	}

	tasks, err := o.jobs.PendingTasks(ctx, job.ID)
	if err != nil {
		log.Error("load job tasks", "error", err)
		o.finishJob(ctx, job, model.JobStatusFailed, err.Error())
		return
	}

	env, err := o.buildEnv(ctx, job)
	if err != nil {
		log.Error("job setup failed", "error", err)
		o.finishJob(ctx, job, model.JobStatusFailed, err.Error())
		return
	}

	cancelled := o.runTasks(ctx, job, tasks, env)

	if ctx.Err() != nil {
		// Process shutdown; leave the job running so the requeue pass picks
		// it up on restart.
		log.Info("job interrupted by shutdown")
		return
	}

	if cancelled {
		// Remaining tasks stay pending so progress reads show exactly how far
		// the job got before the cancel took effect.
		o.finishJob(ctx, job, model.JobStatusCancelled, "cancelled by operator")
		return
	}

	final, err := o.jobs.FindByID(ctx, job.ID)
	if err != nil {
		log.Error("reload job after run", "error", err)
		final = job
	}

	// A finished traversal always completes; failed is reserved for errors
	// that stop the orchestration itself. The summary carries the tally.
	summary := ""
	if final.FailedTasks > 0 {
		summary = fmt.Sprintf("%d of %d tasks failed", final.FailedTasks, final.TotalTasks)
	}

	o.finishJob(ctx, final, model.JobStatusCompleted, summary)
}

// runTasks executes tasks under a bounded worker group, checking the cancel
// flag before dispatching each task. Returns true when cancellation was
// requested.
func (o *Orchestrator) runTasks(ctx context.Context, job model.Job, tasks []model.Task, env jobEnv) bool {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.workers)

	cancelled := false
	for _, task := range tasks {
		if groupCtx.Err() != nil {
			break
		}

		requested, err := o.jobs.CancelRequested(groupCtx, job.ID)
		if err != nil {
			slog.Error("check cancel flag", "job_id", job.ID, "error", err)
		}
		if requested {
			cancelled = true
			break
		}

		task := task
		group.Go(func() error {
			o.runTask(groupCtx, job, task, env)
			return nil
		})
	}

	_ = group.Wait()
	return cancelled
}

func (o *Orchestrator) runTask(ctx context.Context, job model.Job, task model.Task, env jobEnv) {
	if err := o.jobs.StartTask(ctx, task.ID); err != nil {
		slog.Error("start task", "task_id", task.ID, "error", err)
	}

	var err error
	switch job.Type {
	case model.JobTypePermissionEnforcement:
		if task.FolderID != "" {
			err = o.enforceFolderTask(ctx, job, task, env)
		} else {
			err = o.enforceProjectTask(ctx, job, task, env)
		}
	case model.JobTypeTemplateSyncAll:
		err = o.syncProjectTask(ctx, job, task, env)
	case model.JobTypeBuildFolderIndex:
		err = o.buildIndexTask(ctx, task)
	case model.JobTypeReconcileIndex:
		err = o.reconcileIndexTask(ctx, job, task)
	default:
		err = fmt.Errorf("%w: %s", model.ErrInvalidJobType, job.Type)
	}

	status := model.TaskStatusCompleted
	detail := ""
	if err != nil {
		status = model.TaskStatusFailed
		detail = err.Error()
		slog.Error("task failed", "job_id", job.ID, "task_id", task.ID, "error", err)
	}

	if finishErr := o.jobs.FinishTask(ctx, job.ID, task.ID, status, detail); finishErr != nil {
		slog.Error("finish task", "task_id", task.ID, "error", finishErr)
	}

	if current, findErr := o.jobs.FindByID(ctx, job.ID); findErr == nil {
		o.publishJob(event.TypeJobProgress, current)
	}
}

func (o *Orchestrator) finishJob(ctx context.Context, job model.Job, status model.JobStatus, summary string) {
	if err := o.jobs.Finish(ctx, job.ID, status, summary); err != nil {
		slog.Error("finish job", "job_id", job.ID, "error", err)
	}

	final, err := o.jobs.FindByID(ctx, job.ID)
	if err != nil {
		final = job
		final.Status = status
		final.ErrorSummary = summary
	}

	var kind event.Type
	var action string
	switch status {
	case model.JobStatusCompleted:
		kind, action = event.TypeJobCompleted, model.AuditJobCompleted
	case model.JobStatusCancelled:
		kind, action = event.TypeJobCancelled, model.AuditJobCancelled
	default:
		kind, action = event.TypeJobFailed, model.AuditJobFailed
	}

	slog.Info("job finished", "job_id", job.ID, "status", status,
		"completed", final.CompletedTasks, "failed", final.FailedTasks)
	o.publishJob(kind, final)
	o.auditJob(ctx, action, final, map[string]any{
		"completed_tasks": final.CompletedTasks,
		"failed_tasks":    final.FailedTasks,
		"error_summary":   summary,
	})
}

func (o *Orchestrator) publishJob(kind event.Type, job model.Job) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Payload:   job,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   job.TriggeredBy,
	})
}

func (o *Orchestrator) auditJob(ctx context.Context, action string, job model.Job, details map[string]any) {
	entry := model.AuditLogEntry{
		Action:      action,
		EntityType:  "job",
		EntityID:    job.ID,
		Details:     details,
		PerformedBy: job.TriggeredBy,
	}
	if entry.Details == nil {
		entry.Details = map[string]any{"job_type": string(job.Type)}
	} else {
		entry.Details["job_type"] = string(job.Type)
	}

	if err := o.audit.Log(ctx, entry); err != nil {
		slog.Error("write audit entry", "action", action, "job_id", job.ID, "error", err)
	}
}
