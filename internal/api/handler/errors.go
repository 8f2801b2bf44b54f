package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/shotsearch/internal/api/middleware"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
	"github.com/kiranshivaraju/shotsearch/internal/pipeline"
	"github.com/kiranshivaraju/shotsearch/internal/store"
)

// screenshotRequest is the body shared by the pipeline endpoints.
type screenshotRequest struct {
	ScreenshotID string  `json:"screenshotId"`
	OCRText      *string `json:"ocrText,omitempty"`
}

// decodeScreenshotRequest parses the body and the screenshot id. It writes
// the 400 response itself and reports false when the request is unusable.
func decodeScreenshotRequest(w http.ResponseWriter, r *http.Request) (screenshotRequest, uuid.UUID, bool) {
	var req screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return req, uuid.Nil, false
	}
	if req.ScreenshotID == "" {
		response.Error(w, http.StatusBadRequest, "Screenshot ID required")
		return req, uuid.Nil, false
	}
	id, err := uuid.Parse(req.ScreenshotID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid screenshot ID")
		return req, uuid.Nil, false
	}
	return req, id, true
}

// userID returns the authenticated user or writes a 401.
func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and answered with a generic 500 carrying fallback.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, pipeline.ErrForbidden):
		response.Error(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "Screenshot not found")
	case errors.Is(err, pipeline.ErrNothingToEmbed):
		response.Error(w, http.StatusBadRequest, "No content available for embedding generation")
	default:
		slog.Error(fallback, "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, fallback)
	}
}
