package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a task status change is not allowed
// from the task's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrTaskInFlight is returned by EnqueueTask when a task of the same type is
// currently leased by a worker.
var ErrTaskInFlight = errors.New("task is being processed")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateScreenshot(ctx context.Context, s *models.Screenshot) error
	GetScreenshot(ctx context.Context, id uuid.UUID) (*models.Screenshot, error)
	ListRecentScreenshots(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Screenshot, error)
	CountScreenshotsByStatus(ctx context.Context, userID uuid.UUID) (map[string]int, error)
	ListScreenshotsMissingOCR(ctx context.Context, limit int) ([]*models.Screenshot, error)
	UpdateScreenshotStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error

	GetContent(ctx context.Context, screenshotID uuid.UUID) (*models.Content, error)
	SaveOCRText(ctx context.Context, screenshotID uuid.UUID, text string) error
	SaveVisionResult(ctx context.Context, screenshotID uuid.UUID, result models.VisionResult, cost float64) error
	UpsertEmbedding(ctx context.Context, e *models.Embedding) error
	GetEmbedding(ctx context.Context, screenshotID uuid.UUID) (*models.Embedding, error)

	EnqueueTask(ctx context.Context, task *models.ProcessingTask) error
	ClaimNextTask(ctx context.Context, screenshotID uuid.UUID, lease time.Duration) (*models.ProcessingTask, error)
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error
	SettleTaskByType(ctx context.Context, screenshotID uuid.UUID, taskType, status string, opts ...UpdateOption) error
	ListTasks(ctx context.Context, screenshotID uuid.UUID) ([]*models.ProcessingTask, error)
	ResetTasks(ctx context.Context, screenshotID uuid.UUID) (int, error)
	ReclaimExpiredLeases(ctx context.Context) ([]ReclaimedTask, error)
	ListStalledScreenshots(ctx context.Context, olderThan time.Duration, limit int) ([]ScreenshotRef, error)

	CreateSearchRecord(ctx context.Context, rec *models.SearchRecord) error
	UpdateSearchRecordResults(ctx context.Context, id uuid.UUID, results []models.SearchResultSummary) error
	RecentQueries(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)
	SampleExtractedText(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)

	FullTextSearch(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.ScreenshotWithContent, error)
	PatternSearch(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.ScreenshotWithContent, error)
	ListContentWithElements(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScreenshotWithContent, error)
	VectorNeighborSearch(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64, count int) ([]models.ScoredScreenshot, error)
}

// ScreenshotRef identifies a screenshot together with its owner.
type ScreenshotRef struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

// ReclaimedTask describes a task whose lease expired. Status is pending when
// the task will run again and failed when it ran out of attempts.
type ReclaimedTask struct {
	ScreenshotRef
	TaskID       uuid.UUID
	TaskType     string
	Status       string
	ErrorMessage string
}

// UpdateParams is the resolved form of a set of UpdateOptions.
type UpdateParams struct {
	ErrorMessage *string
	ClearError   bool
}

// UpdateOption customizes a status update.
type UpdateOption func(*UpdateParams)

// WithErrorMessage records msg on the row.
func WithErrorMessage(msg string) UpdateOption {
	return func(p *UpdateParams) {
		p.ErrorMessage = &msg
	}
}

// WithClearedError removes any previously recorded error message.
func WithClearedError() UpdateOption {
	return func(p *UpdateParams) {
		p.ClearError = true
	}
}

// ApplyOptions resolves opts into UpdateParams.
func ApplyOptions(opts ...UpdateOption) *UpdateParams {
	params := &UpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}
