package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DetectedElements is the structured bag the vision model reports alongside
// its free-text description.
type DetectedElements struct {
	UIElements   []string `json:"ui_elements"`
	TextSnippets []string `json:"text_snippets"`
	Context      string   `json:"context"`
}

// Flatten renders the bag as lower-cased text, one value per line, for
// substring matching.
func (d *DetectedElements) Flatten() string {
	if d == nil {
		return ""
	}
	parts := make([]string, 0, len(d.UIElements)+len(d.TextSnippets)+1)
	parts = append(parts, d.UIElements...)
	parts = append(parts, d.TextSnippets...)
	if d.Context != "" {
		parts = append(parts, d.Context)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

// Content holds everything extracted from a screenshot. Each pipeline step
// writes only its own fields.
type Content struct {
	ID                    uuid.UUID         `db:"id"                      json:"id"`
	ScreenshotID          uuid.UUID         `db:"screenshot_id"           json:"screenshot_id"`
	OCRText               *string           `db:"ocr_text"                json:"ocr_text,omitempty"`
	VisualDescription     *string           `db:"visual_description"      json:"visual_description,omitempty"`
	DominantColors        []string          `db:"dominant_colors"         json:"dominant_colors"`
	DetectedElements      *DetectedElements `db:"detected_elements"       json:"detected_elements,omitempty"`
	ProcessingCost        float64           `db:"processing_cost"         json:"processing_cost"`
	OCRCompletedAt        *time.Time        `db:"ocr_completed_at"        json:"ocr_completed_at,omitempty"`
	VisionCompletedAt     *time.Time        `db:"vision_completed_at"     json:"vision_completed_at,omitempty"`
	EmbeddingsCompletedAt *time.Time        `db:"embeddings_completed_at" json:"embeddings_completed_at,omitempty"`
	CreatedAt             time.Time         `db:"created_at"              json:"created_at"`
	UpdatedAt             time.Time         `db:"updated_at"              json:"updated_at"`
}

// Text returns the OCR text or the empty string.
func (c *Content) Text() string {
	if c == nil || c.OCRText == nil {
		return ""
	}
	return *c.OCRText
}

// Description returns the visual description or the empty string.
func (c *Content) Description() string {
	if c == nil || c.VisualDescription == nil {
		return ""
	}
	return *c.VisualDescription
}
