// Package pipeline turns uploaded screenshots into searchable content.
//
// Each screenshot owns a small durable task list (vision, then embeddings).
// Workers claim one task at a time under a lease, run it, and hand the
// screenshot back to the dispatcher until nothing is outstanding.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/ai"
	"github.com/kiranshivaraju/shotsearch/internal/cache"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/internal/events"
	"github.com/kiranshivaraju/shotsearch/internal/store"
	"github.com/kiranshivaraju/shotsearch/internal/textproc"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

var (
	// ErrForbidden is returned when a screenshot belongs to another user.
	ErrForbidden = errors.New("screenshot belongs to another user")
	// ErrNothingToEmbed is returned when content has no text fields at all.
	ErrNothingToEmbed = errors.New("no content to embed")
)

// EmbeddingsSkippedNote is recorded on an embeddings task that completed
// without a configured embedding provider.
const EmbeddingsSkippedNote = "Embeddings API not configured"

const maxErrorMessageBytes = 2000

// Store is the persistence surface the pipeline needs. *store.PostgresStore
// satisfies it.
type Store interface {
	GetScreenshot(ctx context.Context, id uuid.UUID) (*models.Screenshot, error)
	UpdateScreenshotStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.UpdateOption) error
	ListScreenshotsMissingOCR(ctx context.Context, limit int) ([]*models.Screenshot, error)

	GetContent(ctx context.Context, screenshotID uuid.UUID) (*models.Content, error)
	SaveOCRText(ctx context.Context, screenshotID uuid.UUID, text string) error
	SaveVisionResult(ctx context.Context, screenshotID uuid.UUID, result models.VisionResult, cost float64) error
	UpsertEmbedding(ctx context.Context, e *models.Embedding) error

	EnqueueTask(ctx context.Context, task *models.ProcessingTask) error
	ClaimNextTask(ctx context.Context, screenshotID uuid.UUID, lease time.Duration) (*models.ProcessingTask, error)
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.UpdateOption) error
	SettleTaskByType(ctx context.Context, screenshotID uuid.UUID, taskType, status string, opts ...store.UpdateOption) error
	ListTasks(ctx context.Context, screenshotID uuid.UUID) ([]*models.ProcessingTask, error)
	ResetTasks(ctx context.Context, screenshotID uuid.UUID) (int, error)
	ReclaimExpiredLeases(ctx context.Context) ([]store.ReclaimedTask, error)
	ListStalledScreenshots(ctx context.Context, olderThan time.Duration, limit int) ([]store.ScreenshotRef, error)
}

// Locker guards a screenshot against being driven by two workers at once.
type Locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Scheduler arranges for a screenshot to be driven after delay.
type Scheduler interface {
	Schedule(ref store.ScreenshotRef, delay time.Duration)
}

// Orchestrator owns task lifecycle and screenshot status transitions.
type Orchestrator struct {
	store      Store
	locks      Locker
	vision     *VisionStep
	embeddings *EmbeddingStep
	scheduler  Scheduler
	events     events.Publisher
	cfg        config.PipelineConfig
}

func NewOrchestrator(s Store, locks Locker, vision *VisionStep, embeddings *EmbeddingStep,
	scheduler Scheduler, pub events.Publisher, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		store:      s,
		locks:      locks,
		vision:     vision,
		embeddings: embeddings,
		scheduler:  scheduler,
		events:     pub,
		cfg:        cfg,
	}
}

// Authorize loads the screenshot and checks that userID owns it.
func (o *Orchestrator) Authorize(ctx context.Context, userID, screenshotID uuid.UUID) (*models.Screenshot, error) {
	sc, err := o.store.GetScreenshot(ctx, screenshotID)
	if err != nil {
		return nil, err
	}
	if sc.UserID != userID {
		return nil, ErrForbidden
	}
	return sc, nil
}

// StartProcessing records client-side OCR text if present, queues the vision
// and embeddings tasks and hands the screenshot to the workers. It returns
// as soon as the work is queued.
func (o *Orchestrator) StartProcessing(ctx context.Context, userID, screenshotID uuid.UUID, ocrText *string) error {
	if _, err := o.Authorize(ctx, userID, screenshotID); err != nil {
		return err
	}

	if ocrText != nil && strings.TrimSpace(*ocrText) != "" {
		if err := o.store.SaveOCRText(ctx, screenshotID, *ocrText); err != nil {
			return fmt.Errorf("saving ocr text: %w", err)
		}
	}

	if err := o.queueTaskSet(ctx, screenshotID); err != nil {
		o.failScreenshot(ctx, store.ScreenshotRef{ID: screenshotID, UserID: userID}, err)
		return err
	}

	o.scheduler.Schedule(store.ScreenshotRef{ID: screenshotID, UserID: userID}, 0)
	return nil
}

// queueTaskSet enqueues vision and embeddings and moves the screenshot to
// processing.
func (o *Orchestrator) queueTaskSet(ctx context.Context, screenshotID uuid.UUID) error {
	if err := o.Enqueue(ctx, screenshotID, models.TaskTypeVision, models.VisionTaskPriority); err != nil {
		return err
	}
	if err := o.Enqueue(ctx, screenshotID, models.TaskTypeEmbeddings, models.EmbeddingsTaskPriority); err != nil {
		return err
	}
	if err := o.store.UpdateScreenshotStatus(ctx, screenshotID, models.ScreenshotStatusProcessing, store.WithClearedError()); err != nil {
		return fmt.Errorf("marking screenshot processing: %w", err)
	}
	return nil
}

// Enqueue inserts a pending task, or resets the existing task of that type.
// A task currently leased by a worker is left running.
func (o *Orchestrator) Enqueue(ctx context.Context, screenshotID uuid.UUID, taskType string, priority int) error {
	task := &models.ProcessingTask{
		ID:           uuid.New(),
		ScreenshotID: screenshotID,
		TaskType:     taskType,
		Priority:     priority,
		MaxAttempts:  o.cfg.MaxAttempts,
	}
	err := o.store.EnqueueTask(ctx, task)
	if errors.Is(err, store.ErrTaskInFlight) {
		slog.Info("task already in flight, not re-queued",
			"screenshot_id", screenshotID, "task_type", taskType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	return nil
}

// Retry puts a failed or stuck screenshot back into processing. Failed and
// processing tasks return to pending with a fresh attempt budget; completed
// tasks are kept. A screenshot missing part of its task set gets the missing
// tasks queued again.
func (o *Orchestrator) Retry(ctx context.Context, userID, screenshotID uuid.UUID) error {
	if _, err := o.Authorize(ctx, userID, screenshotID); err != nil {
		return err
	}
	ref := store.ScreenshotRef{ID: screenshotID, UserID: userID}

	n, err := o.store.ResetTasks(ctx, screenshotID)
	if err != nil {
		return fmt.Errorf("resetting tasks: %w", err)
	}
	tasks, err := o.store.ListTasks(ctx, screenshotID)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	queued, err := o.queueMissing(ctx, screenshotID, tasks)
	if err != nil {
		o.failScreenshot(ctx, ref, err)
		return err
	}
	if err := o.store.UpdateScreenshotStatus(ctx, screenshotID, models.ScreenshotStatusProcessing, store.WithClearedError()); err != nil {
		return fmt.Errorf("marking screenshot processing: %w", err)
	}
	slog.Info("screenshot retry requested", "screenshot_id", screenshotID, "tasks_reset", n, "tasks_queued", queued)

	o.scheduler.Schedule(ref, 0)
	return nil
}

// queueMissing enqueues every task type absent from tasks.
func (o *Orchestrator) queueMissing(ctx context.Context, screenshotID uuid.UUID, tasks []*models.ProcessingTask) (int, error) {
	have := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		have[t.TaskType] = true
	}
	queued := 0
	for _, want := range []struct {
		taskType string
		priority int
	}{
		{models.TaskTypeVision, models.VisionTaskPriority},
		{models.TaskTypeEmbeddings, models.EmbeddingsTaskPriority},
	} {
		if have[want.taskType] {
			continue
		}
		if err := o.Enqueue(ctx, screenshotID, want.taskType, want.priority); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// DriveNext claims and runs exactly one task of the screenshot. On success it
// either schedules the next task after the configured delay or completes the
// screenshot. Failures are recorded on the task and the screenshot.
func (o *Orchestrator) DriveNext(ctx context.Context, ref store.ScreenshotRef) {
	token := uuid.NewString()
	lockKey := cache.DriveLockKey(ref.ID)
	locked, err := o.locks.AcquireLock(ctx, lockKey, token, o.cfg.LeaseDuration)
	switch {
	case err != nil:
		// The lease in the queue still prevents double claims.
		slog.Warn("drive lock unavailable", "screenshot_id", ref.ID, "error", err)
	case !locked:
		slog.Debug("screenshot already being driven", "screenshot_id", ref.ID)
		return
	}

	more := o.driveOnce(ctx, ref)

	// The next driver must find the lock free, even with a zero task delay.
	if locked {
		if err := o.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			slog.Warn("releasing drive lock", "screenshot_id", ref.ID, "error", err)
		}
	}
	if more {
		o.scheduler.Schedule(ref, o.cfg.TaskDelay)
	}
}

// driveOnce runs one claimed task and reports whether pending work remains.
func (o *Orchestrator) driveOnce(ctx context.Context, ref store.ScreenshotRef) bool {
	task, err := o.store.ClaimNextTask(ctx, ref.ID, o.cfg.LeaseDuration)
	if errors.Is(err, store.ErrNotFound) {
		o.reconcile(ctx, ref)
		return false
	}
	if err != nil {
		o.failScreenshot(ctx, ref, fmt.Errorf("claiming task: %w", err))
		return false
	}

	log := slog.With("screenshot_id", ref.ID, "task_id", task.ID, "task_type", task.TaskType, "attempt", task.Attempts)
	log.Info("task started")

	note, runErr := o.runTask(ctx, ref, task)
	if runErr != nil {
		if ctx.Err() != nil {
			log.Warn("task interrupted, lease will be reclaimed", "error", runErr)
			return false
		}
		o.failTask(ctx, ref, task, runErr)
		return false
	}

	opt := store.WithClearedError()
	if note != "" {
		opt = store.WithErrorMessage(note)
	}
	if err := o.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted, opt); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// A retry reset the task while it ran; the retry's dispatch owns it now.
			log.Warn("task superseded before completion", "error", err)
			return false
		}
		o.failTask(ctx, ref, task, fmt.Errorf("completing task: %w", err))
		return false
	}
	log.Info("task completed", "note", note)
	o.publish(ctx, events.Event{Type: events.TaskCompleted, ScreenshotID: ref.ID, UserID: ref.UserID, TaskID: &task.ID, TaskType: task.TaskType})

	return o.reconcile(ctx, ref)
}

func (o *Orchestrator) runTask(ctx context.Context, ref store.ScreenshotRef, task *models.ProcessingTask) (note string, err error) {
	switch task.TaskType {
	case models.TaskTypeVision:
		_, err = o.vision.Run(ctx, ref.ID)
		return "", err
	case models.TaskTypeEmbeddings:
		_, err = o.embeddings.Run(ctx, ref.ID)
		if errors.Is(err, ai.ErrEmbeddingsUnconfigured) {
			return EmbeddingsSkippedNote, nil
		}
		return "", err
	default:
		return "", fmt.Errorf("unknown task type %q", task.TaskType)
	}
}

// RunVision runs the vision step synchronously and settles the vision task.
func (o *Orchestrator) RunVision(ctx context.Context, userID, screenshotID uuid.UUID) (models.VisionResult, error) {
	if _, err := o.Authorize(ctx, userID, screenshotID); err != nil {
		return models.VisionResult{}, err
	}
	ref := store.ScreenshotRef{ID: screenshotID, UserID: userID}

	result, err := o.vision.Run(ctx, screenshotID)
	if err != nil {
		o.settleFailed(ctx, ref, models.TaskTypeVision, err)
		return models.VisionResult{}, err
	}
	o.settleCompleted(ctx, ref, models.TaskTypeVision, "")
	return result, nil
}

// RunEmbeddings runs the embedding step synchronously and settles the
// embeddings task. It reports whether a combined embedding was stored.
func (o *Orchestrator) RunEmbeddings(ctx context.Context, userID, screenshotID uuid.UUID) (bool, error) {
	if _, err := o.Authorize(ctx, userID, screenshotID); err != nil {
		return false, err
	}
	ref := store.ScreenshotRef{ID: screenshotID, UserID: userID}

	emb, err := o.embeddings.Run(ctx, screenshotID)
	switch {
	case errors.Is(err, ai.ErrEmbeddingsUnconfigured):
		o.settleCompleted(ctx, ref, models.TaskTypeEmbeddings, EmbeddingsSkippedNote)
		return false, nil
	case errors.Is(err, ErrNothingToEmbed):
		return false, err
	case err != nil:
		o.settleFailed(ctx, ref, models.TaskTypeEmbeddings, err)
		return false, err
	}
	o.settleCompleted(ctx, ref, models.TaskTypeEmbeddings, "")
	return emb.HasCombined(), nil
}

func (o *Orchestrator) settleCompleted(ctx context.Context, ref store.ScreenshotRef, taskType, note string) {
	opt := store.WithClearedError()
	if note != "" {
		opt = store.WithErrorMessage(note)
	}
	if err := o.store.SettleTaskByType(ctx, ref.ID, taskType, models.TaskStatusCompleted, opt); err != nil {
		slog.Error("settling task", "screenshot_id", ref.ID, "task_type", taskType, "error", err)
		return
	}
	o.reconcile(ctx, ref)
}

func (o *Orchestrator) settleFailed(ctx context.Context, ref store.ScreenshotRef, taskType string, cause error) {
	msg := errorMessage(cause)
	slog.Error("synchronous step failed", "screenshot_id", ref.ID, "task_type", taskType, "error", cause)
	if err := o.store.SettleTaskByType(ctx, ref.ID, taskType, models.TaskStatusFailed, store.WithErrorMessage(msg)); err != nil {
		slog.Error("recording task failure", "screenshot_id", ref.ID, "task_type", taskType, "error", err)
	}
}

// reconcile derives the screenshot status from its task set and reports
// whether pending work is left for a driver to pick up.
func (o *Orchestrator) reconcile(ctx context.Context, ref store.ScreenshotRef) bool {
	tasks, err := o.store.ListTasks(ctx, ref.ID)
	if err != nil {
		o.failScreenshot(ctx, ref, fmt.Errorf("listing tasks: %w", err))
		return false
	}
	if len(tasks) == 0 {
		return false
	}

	var pending, running, failed bool
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusPending:
			pending = true
		case models.TaskStatusProcessing:
			running = true
		case models.TaskStatusFailed:
			failed = true
		}
	}

	switch {
	case running:
		// The lease holder reconciles when it finishes.
	case pending:
		return !failed
	case failed:
		// The screenshot was marked failed together with the task.
	default:
		o.completeScreenshot(ctx, ref)
	}
	return false
}

func (o *Orchestrator) completeScreenshot(ctx context.Context, ref store.ScreenshotRef) {
	if err := o.store.UpdateScreenshotStatus(ctx, ref.ID, models.ScreenshotStatusCompleted, store.WithClearedError()); err != nil {
		slog.Error("marking screenshot completed", "screenshot_id", ref.ID, "error", err)
		return
	}
	slog.Info("screenshot processing completed", "screenshot_id", ref.ID)
	o.publish(ctx, events.Event{Type: events.ScreenshotCompleted, ScreenshotID: ref.ID, UserID: ref.UserID})
}

func (o *Orchestrator) failTask(ctx context.Context, ref store.ScreenshotRef, task *models.ProcessingTask, cause error) {
	msg := errorMessage(cause)
	slog.Error("task failed",
		"screenshot_id", ref.ID, "task_id", task.ID, "task_type", task.TaskType, "error", cause)

	if err := o.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, store.WithErrorMessage(msg)); err != nil {
		slog.Error("recording task failure", "task_id", task.ID, "error", err)
	}
	o.publish(ctx, events.Event{Type: events.TaskFailed, ScreenshotID: ref.ID, UserID: ref.UserID,
		TaskID: &task.ID, TaskType: task.TaskType, Error: msg})
	o.failScreenshot(ctx, ref, cause)
}

func (o *Orchestrator) failScreenshot(ctx context.Context, ref store.ScreenshotRef, cause error) {
	msg := errorMessage(cause)
	if err := o.store.UpdateScreenshotStatus(ctx, ref.ID, models.ScreenshotStatusFailed, store.WithErrorMessage(msg)); err != nil {
		slog.Error("marking screenshot failed", "screenshot_id", ref.ID, "error", err)
		return
	}
	o.publish(ctx, events.Event{Type: events.ScreenshotFailed, ScreenshotID: ref.ID, UserID: ref.UserID, Error: msg})
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if err := o.events.Publish(ctx, e); err != nil {
		slog.Warn("publishing event", "type", e.Type, "screenshot_id", e.ScreenshotID, "error", err)
	}
}

func errorMessage(err error) string {
	return textproc.TruncateBytes(err.Error(), maxErrorMessageBytes)
}
