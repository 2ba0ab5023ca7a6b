package model

import "time"

type JobType string

const (
	JobTypeTemplateSyncAll       JobType = "template_sync_all"
	JobTypePermissionEnforcement JobType = "permission_enforcement"
	JobTypeBuildFolderIndex      JobType = "build_folder_index"
	JobTypeReconcileIndex        JobType = "reconcile_index"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeTemplateSyncAll, JobTypePermissionEnforcement,
		JobTypeBuildFolderIndex, JobTypeReconcileIndex:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status is immutable (except for the
// explicit bulk-clear operation).
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo enforces forward-only status transitions.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next.Terminal()
	}
	return false
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Job is one durable bulk-work record. Created before any remote work starts
// so a crash mid-run leaves a resumable, inspectable row. Mutated only by the
// orchestrator.
type Job struct {
	ID              string         `json:"id"`
	Type            JobType        `json:"type"`
	Status          JobStatus      `json:"status"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	TotalTasks      int            `json:"total_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	TriggeredBy     string         `json:"triggered_by"`
	ErrorSummary    string         `json:"error_summary,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// Task is one unit of work inside a job: one folder, or one project,
// depending on the job type.
type Task struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	ProjectID    string     `json:"project_id,omitempty"`
	TemplatePath string     `json:"template_path,omitempty"`
	FolderID     string     `json:"folder_id,omitempty"`
	Status       TaskStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AuditLogEntry is an append-only record of one enforcement decision or job
// lifecycle event. Never mutated; deleted only by the bulk-clear operation on
// terminal jobs.
type AuditLogEntry struct {
	ID          int64          `json:"id"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Details     map[string]any `json:"details,omitempty"`
	PerformedBy string         `json:"performed_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Audit actions written by the core.
const (
	AuditJobStarted        = "job_started"
	AuditJobCompleted      = "job_completed"
	AuditJobFailed         = "job_failed"
	AuditJobCancelled      = "job_cancelled"
	AuditGrantAdded        = "grant_added"
	AuditGrantRemoved      = "grant_removed"
	AuditViolationDetected = "violation_detected"
	AuditFolderDrift       = "folder_drift_detected"
)
