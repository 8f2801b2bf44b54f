package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Screenshots ---

const screenshotColumns = `id, user_id, filename, file_path, file_size, mime_type, width, height,
	processing_status, error_message, uploaded_at, processed_at, created_at, updated_at`

func scanScreenshot(row pgx.Row) (*models.Screenshot, error) {
	var sc models.Screenshot
	err := row.Scan(&sc.ID, &sc.UserID, &sc.Filename, &sc.FilePath, &sc.FileSize, &sc.MimeType,
		&sc.Width, &sc.Height, &sc.ProcessingStatus, &sc.ErrorMessage, &sc.UploadedAt,
		&sc.ProcessedAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// CreateScreenshot inserts the screenshot together with its empty content row.
func (s *PostgresStore) CreateScreenshot(ctx context.Context, sc *models.Screenshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create screenshot: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO screenshots (id, user_id, filename, file_path, file_size, mime_type, width, height,
		   processing_status, uploaded_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sc.ID, sc.UserID, sc.Filename, sc.FilePath, sc.FileSize, sc.MimeType, sc.Width, sc.Height,
		sc.ProcessingStatus, sc.UploadedAt, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create screenshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO screenshot_content (id, screenshot_id, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		uuid.New(), sc.ID, sc.CreatedAt)
	if err != nil {
		return fmt.Errorf("create screenshot content: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create screenshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScreenshot(ctx context.Context, id uuid.UUID) (*models.Screenshot, error) {
	sc, err := scanScreenshot(s.pool.QueryRow(ctx,
		`SELECT `+screenshotColumns+` FROM screenshots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get screenshot: %w", err)
	}
	return sc, nil
}

func (s *PostgresStore) ListRecentScreenshots(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Screenshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+screenshotColumns+` FROM screenshots WHERE user_id = $1 ORDER BY uploaded_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent screenshots: %w", err)
	}
	return collectScreenshots(rows)
}

// ListScreenshotsMissingOCR returns screenshots whose content has no extracted text yet, oldest first.
func (s *PostgresStore) ListScreenshotsMissingOCR(ctx context.Context, limit int) ([]*models.Screenshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.user_id, s.filename, s.file_path, s.file_size, s.mime_type, s.width, s.height,
		   s.processing_status, s.error_message, s.uploaded_at, s.processed_at, s.created_at, s.updated_at
		 FROM screenshots s
		 LEFT JOIN screenshot_content c ON c.screenshot_id = s.id
		 WHERE c.ocr_completed_at IS NULL
		 ORDER BY s.uploaded_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list screenshots missing ocr: %w", err)
	}
	return collectScreenshots(rows)
}

func collectScreenshots(rows pgx.Rows) ([]*models.Screenshot, error) {
	defer rows.Close()

	var out []*models.Screenshot
	for rows.Next() {
		sc, err := scanScreenshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountScreenshotsByStatus(ctx context.Context, userID uuid.UUID) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT processing_status, COUNT(*) FROM screenshots WHERE user_id = $1 GROUP BY processing_status`, userID)
	if err != nil {
		return nil, fmt.Errorf("count screenshots by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		models.ScreenshotStatusPending:    0,
		models.ScreenshotStatusProcessing: 0,
		models.ScreenshotStatusCompleted:  0,
		models.ScreenshotStatusFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// UpdateScreenshotStatus sets the processing status. Moving to completed
// stamps processed_at.
func (s *PostgresStore) UpdateScreenshotStatus(ctx context.Context, id uuid.UUID, status string, opts ...UpdateOption) error {
	params := ApplyOptions(opts...)

	now := time.Now().UTC()
	query := `UPDATE screenshots SET processing_status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.ScreenshotStatusCompleted {
		query += fmt.Sprintf(", processed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	switch {
	case params.ErrorMessage != nil:
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
	case params.ClearError:
		query += ", error_message = NULL"
	}

	query += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update screenshot status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Content ---

func (s *PostgresStore) GetContent(ctx context.Context, screenshotID uuid.UUID) (*models.Content, error) {
	var c models.Content
	err := s.pool.QueryRow(ctx,
		`SELECT id, screenshot_id, ocr_text, visual_description, COALESCE(dominant_colors, '[]'::jsonb),
		   detected_elements, processing_cost, ocr_completed_at, vision_completed_at, embeddings_completed_at,
		   created_at, updated_at
		 FROM screenshot_content WHERE screenshot_id = $1`, screenshotID,
	).Scan(&c.ID, &c.ScreenshotID, &c.OCRText, &c.VisualDescription, &c.DominantColors,
		&c.DetectedElements, &c.ProcessingCost, &c.OCRCompletedAt, &c.VisionCompletedAt,
		&c.EmbeddingsCompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveOCRText(ctx context.Context, screenshotID uuid.UUID, text string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO screenshot_content (id, screenshot_id, ocr_text, ocr_completed_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (screenshot_id) DO UPDATE SET
		   ocr_text = EXCLUDED.ocr_text,
		   ocr_completed_at = NOW(),
		   updated_at = NOW()`,
		uuid.New(), screenshotID, text)
	if err != nil {
		return fmt.Errorf("save ocr text: %w", err)
	}
	return nil
}

// SaveVisionResult writes the vision fields and adds cost to the running total.
func (s *PostgresStore) SaveVisionResult(ctx context.Context, screenshotID uuid.UUID, result models.VisionResult, cost float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO screenshot_content (id, screenshot_id, visual_description, dominant_colors,
		   detected_elements, processing_cost, vision_completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (screenshot_id) DO UPDATE SET
		   visual_description = EXCLUDED.visual_description,
		   dominant_colors = EXCLUDED.dominant_colors,
		   detected_elements = EXCLUDED.detected_elements,
		   processing_cost = screenshot_content.processing_cost + EXCLUDED.processing_cost,
		   vision_completed_at = NOW(),
		   updated_at = NOW()`,
		uuid.New(), screenshotID, result.Description, result.Colors, result.DetectedElements(), cost)
	if err != nil {
		return fmt.Errorf("save vision result: %w", err)
	}
	return nil
}

// UpsertEmbedding stores the vectors and stamps the content row.
func (s *PostgresStore) UpsertEmbedding(ctx context.Context, e *models.Embedding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert embedding: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO screenshot_embeddings (screenshot_id, text_embedding, visual_embedding, combined_embedding, model)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (screenshot_id) DO UPDATE SET
		   text_embedding = EXCLUDED.text_embedding,
		   visual_embedding = EXCLUDED.visual_embedding,
		   combined_embedding = EXCLUDED.combined_embedding,
		   model = EXCLUDED.model,
		   updated_at = NOW()`,
		e.ScreenshotID, e.TextEmbedding, e.VisualEmbedding, e.CombinedEmbedding, e.Model)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE screenshot_content SET embeddings_completed_at = NOW(), updated_at = NOW() WHERE screenshot_id = $1`,
		e.ScreenshotID)
	if err != nil {
		return fmt.Errorf("stamp embeddings completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmbedding(ctx context.Context, screenshotID uuid.UUID) (*models.Embedding, error) {
	var e models.Embedding
	err := s.pool.QueryRow(ctx,
		`SELECT screenshot_id, text_embedding, visual_embedding, combined_embedding, model, created_at, updated_at
		 FROM screenshot_embeddings WHERE screenshot_id = $1`, screenshotID,
	).Scan(&e.ScreenshotID, &e.TextEmbedding, &e.VisualEmbedding, &e.CombinedEmbedding,
		&e.Model, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return &e, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
