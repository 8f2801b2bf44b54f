package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"github.com/kiranshivaraju/shotsearch/pkg/sqlsearch"
)

// --- Search history ---

func (s *PostgresStore) CreateSearchRecord(ctx context.Context, rec *models.SearchRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_history (id, user_id, query, search_type, results, result_count, searched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.Query, rec.SearchType, rec.Results, rec.ResultCount, rec.SearchedAt)
	if err != nil {
		return fmt.Errorf("create search record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSearchRecordResults(ctx context.Context, id uuid.UUID, results []models.SearchResultSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_history SET results = $2, result_count = $3 WHERE id = $1`,
		id, results, len(results))
	if err != nil {
		return fmt.Errorf("update search record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecentQueries(ctx context.Context, userID uuid.UUID, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT query FROM search_history WHERE user_id = $1 ORDER BY searched_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent queries: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SampleExtractedText returns up to limit non-empty OCR texts of the user's
// most recently updated content.
func (s *PostgresStore) SampleExtractedText(ctx context.Context, userID uuid.UUID, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.ocr_text
		 FROM screenshot_content c
		 JOIN screenshots s ON s.id = c.screenshot_id
		 WHERE s.user_id = $1 AND c.ocr_text IS NOT NULL AND c.ocr_text <> ''
		 ORDER BY c.updated_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sample extracted text: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// --- Search strategies ---

var builder sqlsearch.QueryBuilder

func (s *PostgresStore) FullTextSearch(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.ScreenshotWithContent, error) {
	sql, args := builder.BuildFullTextQuery(sqlsearch.FullTextParams{UserID: userID, Query: query, Limit: limit})
	out, err := s.queryResults(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("full text search: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PatternSearch(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.ScreenshotWithContent, error) {
	sql, args := builder.BuildPatternQuery(sqlsearch.PatternParams{UserID: userID, Query: query, Limit: limit})
	out, err := s.queryResults(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("pattern search: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListContentWithElements(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScreenshotWithContent, error) {
	sql, args := builder.BuildElementScanQuery(sqlsearch.ElementScanParams{UserID: userID, Limit: limit})
	out, err := s.queryResults(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("list content with elements: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) VectorNeighborSearch(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64, count int) ([]models.ScoredScreenshot, error) {
	sql, args := builder.BuildVectorQuery(sqlsearch.VectorParams{
		UserID:    userID,
		Embedding: embedding,
		Threshold: threshold,
		Limit:     count,
	})

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector neighbor search: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredScreenshot
	for rows.Next() {
		var scored models.ScoredScreenshot
		swc, err := scanResultRow(rows, &scored.Similarity)
		if err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		scored.ScreenshotWithContent = swc
		out = append(out, scored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector neighbor search: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) queryResults(ctx context.Context, sql string, args []any) ([]models.ScreenshotWithContent, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScreenshotWithContent
	for rows.Next() {
		swc, err := scanResultRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, swc)
	}
	return out, rows.Err()
}

// scanResultRow scans sqlsearch.ResultColumns followed by any extra columns.
func scanResultRow(row pgx.Row, extra ...any) (models.ScreenshotWithContent, error) {
	var (
		sc                         models.Screenshot
		contentID                  *uuid.UUID
		c                          models.Content
		contentCreated, contentUpd *time.Time
	)
	dest := []any{
		&sc.ID, &sc.UserID, &sc.Filename, &sc.FilePath, &sc.FileSize, &sc.MimeType, &sc.Width, &sc.Height,
		&sc.ProcessingStatus, &sc.ErrorMessage, &sc.UploadedAt, &sc.ProcessedAt, &sc.CreatedAt, &sc.UpdatedAt,
		&contentID, &c.OCRText, &c.VisualDescription, &c.DominantColors, &c.DetectedElements,
		&c.ProcessingCost, &c.OCRCompletedAt, &c.VisionCompletedAt, &c.EmbeddingsCompletedAt,
		&contentCreated, &contentUpd,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return models.ScreenshotWithContent{}, err
	}

	out := models.ScreenshotWithContent{Screenshot: sc}
	if contentID != nil {
		c.ID = *contentID
		c.ScreenshotID = sc.ID
		if contentCreated != nil {
			c.CreatedAt = *contentCreated
		}
		if contentUpd != nil {
			c.UpdatedAt = *contentUpd
		}
		out.Content = &c
	}
	return out, nil
}
