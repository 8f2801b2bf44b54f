package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

const (
	TaskTypeVision     = "vision"
	TaskTypeEmbeddings = "embeddings"
)

// Default priorities for the initial task set. Vision runs first because the
// embedding step consumes the visual description it produces.
const (
	VisionTaskPriority     = 5
	EmbeddingsTaskPriority = 3
)

// ProcessingTask is one unit of pipeline work queued against a screenshot.
// Workers claim a task by moving it to processing with a lease; a task whose
// lease expires is reclaimed by the sweeper.
type ProcessingTask struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	ScreenshotID   uuid.UUID  `db:"screenshot_id"    json:"screenshot_id"`
	TaskType       string     `db:"task_type"        json:"task_type"`
	Priority       int        `db:"priority"         json:"priority"`
	Status         string     `db:"status"           json:"status"`
	Attempts       int        `db:"attempts"         json:"attempts"`
	MaxAttempts    int        `db:"max_attempts"     json:"max_attempts"`
	ErrorMessage   *string    `db:"error_message"    json:"error_message,omitempty"`
	ScheduledAt    time.Time  `db:"scheduled_at"     json:"scheduled_at"`
	StartedAt      *time.Time `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at" json:"-"`
	CreatedAt      time.Time  `db:"created_at"       json:"created_at"`
}

// IsOutstanding reports whether the task still has work ahead of it.
func (t ProcessingTask) IsOutstanding() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusProcessing
}

// ValidTaskType reports whether s names a queueable task type.
func ValidTaskType(s string) bool {
	return s == TaskTypeVision || s == TaskTypeEmbeddings
}
