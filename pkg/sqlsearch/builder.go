// Package sqlsearch builds the SQL statements behind each search strategy.
package sqlsearch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ResultColumns is the column list every strategy selects, in the order the
// store scans them. Content columns come from a join and may be NULL.
const ResultColumns = `s.id, s.user_id, s.filename, s.file_path, s.file_size, s.mime_type, s.width, s.height,
	s.processing_status, s.error_message, s.uploaded_at, s.processed_at, s.created_at, s.updated_at,
	c.id, c.ocr_text, c.visual_description, COALESCE(c.dominant_colors, '[]'::jsonb), c.detected_elements,
	COALESCE(c.processing_cost, 0), c.ocr_completed_at, c.vision_completed_at, c.embeddings_completed_at,
	c.created_at, c.updated_at`

// TextSearchConfig is the Postgres text search configuration used for both
// the indexed tsvector column and the query.
const TextSearchConfig = "english"

// QueryBuilder constructs parameterized search statements.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type QueryBuilder struct{}

// FullTextParams defines inputs for the full-text strategy.
type FullTextParams struct {
	UserID uuid.UUID
	Query  string
	Limit  int
}

// PatternParams defines inputs for the visual description pattern strategy.
type PatternParams struct {
	UserID uuid.UUID
	Query  string
	Limit  int
}

// ElementScanParams defines inputs for loading candidates of the element scan.
type ElementScanParams struct {
	UserID uuid.UUID
	Limit  int
}

// VectorParams defines inputs for nearest-neighbor search over combined embeddings.
type VectorParams struct {
	UserID    uuid.UUID
	Embedding []float32
	Threshold float64
	Limit     int
}

// BuildFullTextQuery matches extracted text with websearch syntax, best rank first.
func (b QueryBuilder) BuildFullTextQuery(p FullTextParams) (string, []any) {
	sql := fmt.Sprintf(`SELECT %s
		FROM screenshots s
		JOIN screenshot_content c ON c.screenshot_id = s.id
		WHERE s.user_id = $1
		  AND c.ocr_tsv @@ websearch_to_tsquery('%s', $2)
		ORDER BY ts_rank(c.ocr_tsv, websearch_to_tsquery('%s', $2)) DESC, s.uploaded_at DESC
		LIMIT $3`, ResultColumns, TextSearchConfig, TextSearchConfig)
	return sql, []any{p.UserID, p.Query, p.Limit}
}

// BuildPatternQuery matches the visual description case-insensitively. The
// query is escaped so LIKE wildcards in user input match literally.
func (b QueryBuilder) BuildPatternQuery(p PatternParams) (string, []any) {
	sql := fmt.Sprintf(`SELECT %s
		FROM screenshots s
		JOIN screenshot_content c ON c.screenshot_id = s.id
		WHERE s.user_id = $1
		  AND c.visual_description ILIKE $2 ESCAPE '\'
		ORDER BY s.uploaded_at DESC
		LIMIT $3`, ResultColumns)
	return sql, []any{p.UserID, ContainsPattern(p.Query), p.Limit}
}

// BuildElementScanQuery loads the user's content rows that carry detected elements.
func (b QueryBuilder) BuildElementScanQuery(p ElementScanParams) (string, []any) {
	sql := fmt.Sprintf(`SELECT %s
		FROM screenshots s
		JOIN screenshot_content c ON c.screenshot_id = s.id
		WHERE s.user_id = $1
		  AND c.detected_elements IS NOT NULL
		ORDER BY s.uploaded_at DESC
		LIMIT $2`, ResultColumns)
	return sql, []any{p.UserID, p.Limit}
}

// BuildVectorQuery ranks combined embeddings by cosine similarity and keeps
// only those above the threshold. Rows whose dimension differs from the query
// vector are filtered out before any distance is computed. The similarity is
// the last selected column.
func (b QueryBuilder) BuildVectorQuery(p VectorParams) (string, []any) {
	sql := fmt.Sprintf(`WITH candidates AS MATERIALIZED (
		  SELECT e.screenshot_id, e.combined_embedding
		  FROM screenshot_embeddings e
		  JOIN screenshots s ON s.id = e.screenshot_id
		  WHERE s.user_id = $1
		    AND e.combined_embedding IS NOT NULL
		    AND vector_dims(e.combined_embedding) = vector_dims($2::vector)
		)
		SELECT %s, 1 - (e.combined_embedding <=> $2) AS similarity
		FROM candidates e
		JOIN screenshots s ON s.id = e.screenshot_id
		LEFT JOIN screenshot_content c ON c.screenshot_id = s.id
		WHERE 1 - (e.combined_embedding <=> $2) > $3
		ORDER BY e.combined_embedding <=> $2
		LIMIT $4`, ResultColumns)
	return sql, []any{p.UserID, pgvector.NewVector(p.Embedding), p.Threshold, p.Limit}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE metacharacters using backslash as the escape character.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ContainsPattern returns a LIKE pattern matching s anywhere in the value.
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}
