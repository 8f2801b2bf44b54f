package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// Pipeline is the orchestrator surface the processing endpoints drive.
// *pipeline.Orchestrator satisfies it.
type Pipeline interface {
	StartProcessing(ctx context.Context, userID, screenshotID uuid.UUID, ocrText *string) error
	RunVision(ctx context.Context, userID, screenshotID uuid.UUID) (models.VisionResult, error)
	RunEmbeddings(ctx context.Context, userID, screenshotID uuid.UUID) (bool, error)
	Retry(ctx context.Context, userID, screenshotID uuid.UUID) error
}

// NewProcessHandler returns an http.HandlerFunc for POST /api/v1/process.
// It queues the vision and embeddings tasks and returns immediately.
func NewProcessHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		req, id, ok := decodeScreenshotRequest(w, r)
		if !ok {
			return
		}

		if err := p.StartProcessing(r.Context(), uid, id, req.OCRText); err != nil {
			writeError(w, r, err, "Failed to process screenshot")
			return
		}

		response.JSON(w, map[string]any{
			"success":      true,
			"message":      "Processing started",
			"screenshotId": id,
		})
	}
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/analyze.
func NewAnalyzeHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		_, id, ok := decodeScreenshotRequest(w, r)
		if !ok {
			return
		}

		result, err := p.RunVision(r.Context(), uid, id)
		if err != nil {
			writeError(w, r, err, "Failed to analyze screenshot")
			return
		}

		response.JSON(w, map[string]any{
			"success": true,
			"message": "Visual analysis completed",
			"data":    result,
		})
	}
}

// NewEmbeddingsHandler returns an http.HandlerFunc for POST /api/v1/embeddings.
func NewEmbeddingsHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		_, id, ok := decodeScreenshotRequest(w, r)
		if !ok {
			return
		}

		hasEmbeddings, err := p.RunEmbeddings(r.Context(), uid, id)
		if err != nil {
			writeError(w, r, err, "Failed to generate embeddings")
			return
		}

		response.JSON(w, map[string]any{
			"success":       true,
			"hasEmbeddings": hasEmbeddings,
		})
	}
}

// NewRetryHandler returns an http.HandlerFunc for POST /api/v1/retry.
func NewRetryHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		_, id, ok := decodeScreenshotRequest(w, r)
		if !ok {
			return
		}

		if err := p.Retry(r.Context(), uid, id); err != nil {
			writeError(w, r, err, "Failed to retry processing")
			return
		}

		response.JSON(w, map[string]any{
			"success":      true,
			"message":      "Processing restarted",
			"screenshotId": id,
		})
	}
}
