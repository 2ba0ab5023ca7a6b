package event

type Type string

const (
	TypeJobQueued         Type = "job.queued"
	TypeJobStarted        Type = "job.started"
	TypeJobProgress       Type = "job.progress"
	TypeJobCompleted      Type = "job.completed"
	TypeJobFailed         Type = "job.failed"
	TypeJobCancelled      Type = "job.cancelled"
	TypeViolationDetected Type = "violation.detected"
	TypeFolderDrift       Type = "folder.drift"
	TypeTemplateSaved     Type = "template.saved"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func())
}
