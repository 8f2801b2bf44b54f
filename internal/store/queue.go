package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

const taskColumns = `id, screenshot_id, task_type, priority, status, attempts, max_attempts, error_message,
	scheduled_at, started_at, completed_at, lease_expires_at, created_at`

func scanTask(row pgx.Row) (*models.ProcessingTask, error) {
	var t models.ProcessingTask
	err := row.Scan(&t.ID, &t.ScreenshotID, &t.TaskType, &t.Priority, &t.Status, &t.Attempts,
		&t.MaxAttempts, &t.ErrorMessage, &t.ScheduledAt, &t.StartedAt, &t.CompletedAt,
		&t.LeaseExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EnqueueTask inserts a pending task. An existing task of the same type for
// the screenshot is reset to pending unless a worker currently holds its lease,
// in which case ErrTaskInFlight is returned. The task becomes claimable at the
// database's NOW(), whatever task.ScheduledAt holds.
func (s *PostgresStore) EnqueueTask(ctx context.Context, task *models.ProcessingTask) error {
	got, err := scanTask(s.pool.QueryRow(ctx,
		`INSERT INTO processing_queue (id, screenshot_id, task_type, priority, status, attempts, max_attempts,
		   scheduled_at, created_at)
		 VALUES ($1, $2, $3, $4, 'pending', 0, $5, NOW(), NOW())
		 ON CONFLICT (screenshot_id, task_type) DO UPDATE SET
		   priority = EXCLUDED.priority,
		   status = 'pending',
		   attempts = 0,
		   max_attempts = EXCLUDED.max_attempts,
		   error_message = NULL,
		   started_at = NULL,
		   completed_at = NULL,
		   lease_expires_at = NULL,
		   scheduled_at = EXCLUDED.scheduled_at
		 WHERE NOT (processing_queue.status = 'processing' AND processing_queue.lease_expires_at > NOW())
		 RETURNING `+taskColumns,
		task.ID, task.ScreenshotID, task.TaskType, task.Priority, task.MaxAttempts))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTaskInFlight
	}
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	*task = *got
	return nil
}

// ClaimNextTask leases the highest-priority pending task of the screenshot.
// Ties go to the earliest scheduled, then earliest created task. Nothing is
// claimed while another task of the same screenshot holds a live lease.
// Returns ErrNotFound when there is nothing to claim.
func (s *PostgresStore) ClaimNextTask(ctx context.Context, screenshotID uuid.UUID, lease time.Duration) (*models.ProcessingTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim task: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serializes claimers of the same screenshot.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM screenshots WHERE id = $1 FOR UPDATE`, screenshotID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock screenshot: %w", err)
	}

	task, err := scanTask(tx.QueryRow(ctx,
		`UPDATE processing_queue SET
		   status = 'processing',
		   attempts = attempts + 1,
		   started_at = NOW(),
		   completed_at = NULL,
		   error_message = NULL,
		   lease_expires_at = NOW() + make_interval(secs => $2)
		 WHERE id = (
		   SELECT q.id FROM processing_queue q
		   WHERE q.screenshot_id = $1
		     AND q.status = 'pending'
		     AND q.attempts < q.max_attempts
		     AND q.scheduled_at <= NOW()
		     AND NOT EXISTS (
		       SELECT 1 FROM processing_queue p
		       WHERE p.screenshot_id = q.screenshot_id
		         AND p.status = 'processing'
		         AND p.lease_expires_at > NOW())
		   ORDER BY q.priority DESC, q.scheduled_at ASC, q.created_at ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED)
		 RETURNING `+taskColumns,
		screenshotID, lease.Seconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim task: %w", err)
	}
	return task, nil
}

var validTransitions = map[string][]string{
	models.TaskStatusPending:    {models.TaskStatusProcessing, models.TaskStatusFailed},
	models.TaskStatusProcessing: {models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusPending},
	models.TaskStatusFailed:     {models.TaskStatusPending},
}

// UpdateTaskStatus moves a task along its state machine. Terminal statuses
// stamp completed_at and release the lease.
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error {
	params := ApplyOptions(opts...)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM processing_queue WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task status: %w", err)
	}

	if !slices.Contains(validTransitions[currentStatus], status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	query, args := buildTaskUpdate(status, params, []any{id})
	// Guard against a concurrent transition between the read and the write.
	query += fmt.Sprintf(" WHERE id = $1 AND status = $%d", len(args)+1)
	args = append(args, currentStatus)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// SettleTaskByType records the outcome of a synchronous step run on the task
// of the given type. Tasks leased by a worker are left alone.
func (s *PostgresStore) SettleTaskByType(ctx context.Context, screenshotID uuid.UUID, taskType, status string, opts ...UpdateOption) error {
	params := ApplyOptions(opts...)

	query, args := buildTaskUpdate(status, params, []any{screenshotID, taskType})
	query += ` WHERE screenshot_id = $1 AND task_type = $2
		AND NOT (status = 'processing' AND lease_expires_at > NOW())`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("settle task by type: %w", err)
	}
	return nil
}

// buildTaskUpdate returns the SET part of a task update. Positional args
// already in args keep their placeholders.
func buildTaskUpdate(status string, params *UpdateParams, args []any) (string, []any) {
	argIdx := len(args) + 1
	query := fmt.Sprintf(`UPDATE processing_queue SET status = $%d`, argIdx)
	args = append(args, status)
	argIdx++

	switch status {
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query += ", completed_at = NOW(), lease_expires_at = NULL"
	case models.TaskStatusPending:
		query += ", started_at = NULL, completed_at = NULL, lease_expires_at = NULL"
	}

	switch {
	case params.ErrorMessage != nil:
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
	case params.ClearError:
		query += ", error_message = NULL"
	}
	return query, args
}

func (s *PostgresStore) ListTasks(ctx context.Context, screenshotID uuid.UUID) ([]*models.ProcessingTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM processing_queue WHERE screenshot_id = $1
		 ORDER BY priority DESC, created_at ASC`, screenshotID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ProcessingTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ResetTasks returns every failed or processing task of the screenshot to
// pending with a fresh attempt budget. Completed and pending tasks are untouched.
func (s *PostgresStore) ResetTasks(ctx context.Context, screenshotID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_queue SET
		   status = 'pending',
		   attempts = 0,
		   error_message = NULL,
		   started_at = NULL,
		   completed_at = NULL,
		   lease_expires_at = NULL,
		   scheduled_at = NOW()
		 WHERE screenshot_id = $1 AND status IN ('failed', 'processing')`, screenshotID)
	if err != nil {
		return 0, fmt.Errorf("reset tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ReclaimExpiredLeases releases tasks whose worker stopped renewing them.
// Tasks with attempts left go back to pending; the rest fail.
func (s *PostgresStore) ReclaimExpiredLeases(ctx context.Context) ([]ReclaimedTask, error) {
	rows, err := s.pool.Query(ctx,
		`WITH reclaimed AS (
		   UPDATE processing_queue SET
		     status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
		     error_message = CASE WHEN attempts < max_attempts THEN NULL
		       ELSE 'lease expired after ' || attempts || ' attempts' END,
		     started_at = CASE WHEN attempts < max_attempts THEN NULL ELSE started_at END,
		     completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
		     lease_expires_at = NULL
		   WHERE status = 'processing' AND lease_expires_at < NOW()
		   RETURNING id, screenshot_id, task_type, status, COALESCE(error_message, '') AS error_message)
		 SELECT r.id, r.screenshot_id, s.user_id, r.task_type, r.status, r.error_message
		 FROM reclaimed r JOIN screenshots s ON s.id = r.screenshot_id`)
	if err != nil {
		return nil, fmt.Errorf("reclaim expired leases: %w", err)
	}
	defer rows.Close()

	var out []ReclaimedTask
	for rows.Next() {
		var r ReclaimedTask
		if err := rows.Scan(&r.TaskID, &r.ID, &r.UserID, &r.TaskType, &r.Status, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan reclaimed task: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStalledScreenshots finds processing screenshots with pending work that
// nobody is driving, for example after a restart.
func (s *PostgresStore) ListStalledScreenshots(ctx context.Context, olderThan time.Duration, limit int) ([]ScreenshotRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT s.id, s.user_id
		 FROM processing_queue q
		 JOIN screenshots s ON s.id = q.screenshot_id
		 WHERE q.status = 'pending'
		   AND q.attempts < q.max_attempts
		   AND q.scheduled_at < NOW() - make_interval(secs => $1)
		   AND s.processing_status = 'processing'
		   AND NOT EXISTS (
		     SELECT 1 FROM processing_queue p
		     WHERE p.screenshot_id = q.screenshot_id AND p.status = 'processing')
		 LIMIT $2`, olderThan.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled screenshots: %w", err)
	}
	defer rows.Close()

	var out []ScreenshotRef
	for rows.Next() {
		var ref ScreenshotRef
		if err := rows.Scan(&ref.ID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("scan screenshot ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
