package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
	"github.com/kiranshivaraju/shotsearch/internal/search"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// Searcher runs searches and suggestions. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]models.SearchResult, error)
	Suggestions(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// NewSearchHandler returns an http.HandlerFunc for POST /api/v1/search.
func NewSearchHandler(s Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		var req struct {
			Query      string `json:"query"`
			SearchType string `json:"searchType"`
			Limit      int    `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}

		results, err := s.Search(r.Context(), search.Request{
			UserID: uid,
			Query:  req.Query,
			Mode:   req.SearchType,
			Limit:  req.Limit,
		})
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			response.Error(w, http.StatusBadRequest, "Query is required")
			return
		case errors.Is(err, search.ErrInvalidMode):
			response.Error(w, http.StatusBadRequest, "searchType must be one of text, visual, hybrid")
			return
		case err != nil:
			writeError(w, r, err, "Search failed")
			return
		}

		mode := req.SearchType
		if mode == "" {
			mode = models.SearchModeHybrid
		}
		if results == nil {
			results = []models.SearchResult{}
		}
		response.JSON(w, map[string]any{
			"success":    true,
			"query":      req.Query,
			"searchType": mode,
			"results":    results,
			"count":      len(results),
		})
	}
}

// NewSuggestionsHandler returns an http.HandlerFunc for GET /api/v1/search.
// Failures degrade to an empty list.
func NewSuggestionsHandler(s Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		suggestions, err := s.Suggestions(r.Context(), uid)
		if err != nil {
			slog.Warn("search suggestions", "user_id", uid, "error", err)
			suggestions = nil
		}
		if suggestions == nil {
			suggestions = []string{}
		}
		response.JSON(w, map[string]any{"suggestions": suggestions})
	}
}
