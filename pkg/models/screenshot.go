package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ScreenshotStatusPending    = "pending"
	ScreenshotStatusProcessing = "processing"
	ScreenshotStatusCompleted  = "completed"
	ScreenshotStatusFailed     = "failed"
)

// Screenshot is an uploaded image owned by a single user. Its processing
// status is driven by the pipeline and by explicit retries.
type Screenshot struct {
	ID               uuid.UUID  `db:"id"                json:"id"`
	UserID           uuid.UUID  `db:"user_id"           json:"user_id"`
	Filename         string     `db:"filename"          json:"filename"`
	FilePath         string     `db:"file_path"         json:"file_path"`
	FileSize         int64      `db:"file_size"         json:"file_size"`
	MimeType         string     `db:"mime_type"         json:"mime_type"`
	Width            *int       `db:"width"             json:"width,omitempty"`
	Height           *int       `db:"height"            json:"height,omitempty"`
	ProcessingStatus string     `db:"processing_status" json:"processing_status"`
	ErrorMessage     *string    `db:"error_message"     json:"error_message,omitempty"`
	UploadedAt       time.Time  `db:"uploaded_at"       json:"uploaded_at"`
	ProcessedAt      *time.Time `db:"processed_at"      json:"processed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// ScreenshotWithContent pairs a screenshot with its content row, which may be
// missing for screenshots that were never processed.
type ScreenshotWithContent struct {
	Screenshot Screenshot `json:"screenshot"`
	Content    *Content   `json:"content,omitempty"`
}
