package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drive-warden/internal/model"
)

const jobColumns = `id, type, status, cancel_requested,
        total_tasks, completed_tasks, failed_tasks,
        triggered_by, error_summary, details,
        created_at, started_at, completed_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// Create inserts the pending job row. The row exists before any remote work
// starts so a crash mid-run leaves an inspectable record.
func (r *JobRepository) Create(ctx context.Context, job model.Job) error {
	var details []byte
	if job.Details != nil {
		encoded, err := json.Marshal(job.Details)
		if err != nil {
			return fmt.Errorf("marshal job details: %w", err)
		}
		details = encoded
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, status, total_tasks, triggered_by, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Type, job.Status, job.TotalTasks, job.TriggeredBy, details, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, jobID string) (model.Job, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, model.ErrJobNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) List(ctx context.Context, status string, jobType string, page int, limit int) ([]model.Job, model.Meta, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if status = strings.TrimSpace(status); status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}
	if jobType = strings.TrimSpace(jobType); jobType != "" {
		where = append(where, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, jobType)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM jobs %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count jobs: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	meta := model.Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}

	offset := (page - 1) * limit
	dataQuery := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, meta, rows.Err()
}

// ClaimNextPending atomically flips the oldest pending job to running and
// returns it. SKIP LOCKED keeps concurrent orchestrators from double-claiming.
// Returns ErrJobNotFound when no pending job exists.
func (r *JobRepository) ClaimNextPending(ctx context.Context) (model.Job, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'running', started_at = now()
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE status = 'pending'
		     ORDER BY created_at
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, model.ErrJobNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("claim pending job: %w", err)
	}
	return job, nil
}

// RequeueRunning returns jobs left running by a crashed process to the
// pending queue, along with their in-flight tasks. Called once at startup
// before the claim loop begins.
func (r *JobRepository) RequeueRunning(ctx context.Context) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin requeue: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE job_tasks SET status = 'pending'
		 WHERE status = 'running'
		   AND job_id IN (SELECT id FROM jobs WHERE status = 'running')`); err != nil {
		return 0, fmt.Errorf("requeue running tasks: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = 'pending', started_at = NULL WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("requeue running jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit requeue: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Finish moves a running job to a terminal status. The WHERE clause keeps
// transitions forward-only; finishing an already-terminal job is a no-op
// reported as ErrJobNotFound.
func (r *JobRepository) Finish(ctx context.Context, jobID string, status model.JobStatus, errorSummary string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job %s: %q is not a terminal status", jobID, status)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_summary = $3, completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		jobID, status, errorSummary)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

// RequestCancel cancels a pending job outright and flags a running one for
// cooperative cancellation at the next task boundary. Terminal jobs cannot be
// cancelled.
func (r *JobRepository) RequestCancel(ctx context.Context, jobID string) (model.Job, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE jobs SET
		     cancel_requested = true,
		     status = CASE WHEN status = 'pending' THEN 'cancelled' ELSE status END,
		     completed_at = CASE WHEN status = 'pending' THEN now() ELSE completed_at END
		 WHERE id = $1 AND status IN ('pending', 'running')
		 RETURNING `+jobColumns)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing job from a terminal one.
		if _, findErr := r.FindByID(ctx, jobID); findErr != nil {
			return model.Job{}, findErr
		}
		return model.Job{}, model.ErrJobNotCancelable
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("request cancel: %w", err)
	}
	return job, nil
}

// CancelRequested is polled by the orchestrator between tasks.
func (r *JobRepository) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := r.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, model.ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	return requested, nil
}

// ClearTerminal deletes completed, failed and cancelled jobs; task rows go
// with them via the foreign key. Running and pending jobs are untouched.
func (r *JobRepository) ClearTerminal(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ('completed', 'failed', 'cancelled')`)
	if err != nil {
		return 0, fmt.Errorf("clear terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateTasks inserts the job's task fan-out and records the total on the job
// row in one round trip per task via a batch.
func (r *JobRepository) CreateTasks(ctx context.Context, jobID string, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, task := range tasks {
		batch.Queue(
			`INSERT INTO job_tasks (id, job_id, project_id, template_path, folder_id, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			task.ID, jobID, task.ProjectID, task.TemplatePath, task.FolderID, task.Status, task.CreatedAt)
	}
	batch.Queue(`UPDATE jobs SET total_tasks = $2 WHERE id = $1`, jobID, len(tasks))

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save job task: %w", err)
		}
	}

	return nil
}

// Tasks returns the job's tasks in creation order.
func (r *JobRepository) Tasks(ctx context.Context, jobID string, page int, limit int) ([]model.Task, model.Meta, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM job_tasks WHERE job_id = $1`, jobID).Scan(&total)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("count job tasks: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}

	offset := (page - 1) * limit
	rows, err := r.pool.Query(ctx,
		`SELECT id, job_id, project_id, template_path, folder_id, status, error, created_at, completed_at
		 FROM job_tasks WHERE job_id = $1
		 ORDER BY created_at, id
		 LIMIT $2 OFFSET $3`, jobID, limit, offset)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query job tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		var task model.Task
		if err := rows.Scan(&task.ID, &task.JobID, &task.ProjectID, &task.TemplatePath,
			&task.FolderID, &task.Status, &task.Error, &task.CreatedAt, &task.CompletedAt); err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan job task: %w", err)
		}
		tasks = append(tasks, task)
	}

	meta := model.Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
	return tasks, meta, rows.Err()
}

// PendingTasks returns the tasks a resumed job still has to run.
func (r *JobRepository) PendingTasks(ctx context.Context, jobID string) ([]model.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, job_id, project_id, template_path, folder_id, status, error, created_at, completed_at
		 FROM job_tasks
		 WHERE job_id = $1 AND status IN ('pending', 'running')
		 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		var task model.Task
		if err := rows.Scan(&task.ID, &task.JobID, &task.ProjectID, &task.TemplatePath,
			&task.FolderID, &task.Status, &task.Error, &task.CreatedAt, &task.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// StartTask marks one task running.
func (r *JobRepository) StartTask(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE job_tasks SET status = 'running' WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	return nil
}

// FinishTask records a task outcome and bumps the job's progress counters in
// one transaction so the two never drift apart.
func (r *JobRepository) FinishTask(ctx context.Context, jobID string, taskID string, status model.TaskStatus, taskErr string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finish task: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE job_tasks SET status = $2, error = $3, completed_at = now() WHERE id = $1`,
		taskID, status, taskErr); err != nil {
		return fmt.Errorf("finish task: %w", err)
	}

	column := "completed_tasks"
	if status == model.TaskStatusFailed {
		column = "failed_tasks"
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE jobs SET %s = %s + 1 WHERE id = $1`, column, column),
		jobID); err != nil {
		return fmt.Errorf("bump job progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finish task: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var job model.Job
	var details []byte

	err := row.Scan(&job.ID, &job.Type, &job.Status, &job.CancelRequested,
		&job.TotalTasks, &job.CompletedTasks, &job.FailedTasks,
		&job.TriggeredBy, &job.ErrorSummary, &details,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return model.Job{}, err
	}

	if len(details) > 0 {
		var decoded map[string]any
		if jsonErr := json.Unmarshal(details, &decoded); jsonErr == nil {
			job.Details = decoded
		}
	}

	return job, nil
}
