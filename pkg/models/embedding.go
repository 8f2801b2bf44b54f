package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Embedding holds the vectors computed for one screenshot. A nil vector was
// not computed; it is never an empty placeholder.
type Embedding struct {
	ScreenshotID      uuid.UUID        `db:"screenshot_id"      json:"screenshot_id"`
	TextEmbedding     *pgvector.Vector `db:"text_embedding"     json:"-"`
	VisualEmbedding   *pgvector.Vector `db:"visual_embedding"   json:"-"`
	CombinedEmbedding *pgvector.Vector `db:"combined_embedding" json:"-"`
	Model             string           `db:"model"              json:"model"`
	CreatedAt         time.Time        `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at"         json:"updated_at"`
}

// HasCombined reports whether the record is usable for similarity search.
func (e *Embedding) HasCombined() bool {
	return e != nil && e.CombinedEmbedding != nil
}
