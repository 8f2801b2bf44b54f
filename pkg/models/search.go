package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SearchModeText   = "text"
	SearchModeVisual = "visual"
	SearchModeHybrid = "hybrid"
)

const (
	MatchTypeText   = "text"
	MatchTypeVisual = "visual"
	MatchTypeHybrid = "hybrid"
)

// ValidSearchMode reports whether s is a supported search mode.
func ValidSearchMode(s string) bool {
	switch s {
	case SearchModeText, SearchModeVisual, SearchModeHybrid:
		return true
	}
	return false
}

// SearchResult is a ranked hit. It is not persisted beyond the summary kept
// on the search record.
type SearchResult struct {
	Screenshot      Screenshot `json:"screenshot"`
	Content         *Content   `json:"content,omitempty"`
	Confidence      float64    `json:"confidence"`
	MatchType       string     `json:"match_type"`
	HighlightedText string     `json:"highlighted_text,omitempty"`
}

// ScoredScreenshot is a nearest-neighbor match returned by the store.
type ScoredScreenshot struct {
	ScreenshotWithContent
	Similarity float64
}

// SearchResultSummary is the compact form of a result stored on SearchRecord.
type SearchResultSummary struct {
	ScreenshotID uuid.UUID `json:"screenshot_id"`
	Confidence   float64   `json:"confidence"`
	MatchType    string    `json:"match_type"`
}

// SearchRecord is one entry of a user's search history.
type SearchRecord struct {
	ID          uuid.UUID             `db:"id"           json:"id"`
	UserID      uuid.UUID             `db:"user_id"      json:"user_id"`
	Query       string                `db:"query"        json:"query"`
	SearchType  string                `db:"search_type"  json:"search_type"`
	Results     []SearchResultSummary `db:"results"      json:"results"`
	ResultCount int                   `db:"result_count" json:"result_count"`
	SearchedAt  time.Time             `db:"searched_at"  json:"searched_at"`
}
