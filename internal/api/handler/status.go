package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
	"github.com/kiranshivaraju/shotsearch/internal/pipeline"
	"github.com/kiranshivaraju/shotsearch/internal/store"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

const recentScreenshotLimit = 10

// StatusStore reads processing state. *store.PostgresStore satisfies it.
type StatusStore interface {
	GetScreenshot(ctx context.Context, id uuid.UUID) (*models.Screenshot, error)
	GetContent(ctx context.Context, screenshotID uuid.UUID) (*models.Content, error)
	ListTasks(ctx context.Context, screenshotID uuid.UUID) ([]*models.ProcessingTask, error)
	ListRecentScreenshots(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Screenshot, error)
	CountScreenshotsByStatus(ctx context.Context, userID uuid.UUID) (map[string]int, error)
}

type screenshotStatus struct {
	*models.Screenshot
	Content *models.Content          `json:"content"`
	Tasks   []*models.ProcessingTask `json:"tasks"`
}

type statusSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/status.
// With ?id= (or ?screenshotId=) it reports one screenshot, its content and
// tasks; otherwise the user's most recent screenshots and a status summary.
func NewStatusHandler(s StatusStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		raw := r.URL.Query().Get("id")
		if raw == "" {
			raw = r.URL.Query().Get("screenshotId")
		}
		if raw == "" {
			listStatus(w, r, s, uid)
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid screenshot ID")
			return
		}
		status, err := loadStatus(r.Context(), s, uid, id)
		if err != nil {
			writeError(w, r, err, "Failed to check status")
			return
		}
		response.JSON(w, map[string]any{"screenshot": status})
	}
}

func loadStatus(ctx context.Context, s StatusStore, uid, id uuid.UUID) (*screenshotStatus, error) {
	sc, err := s.GetScreenshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.UserID != uid {
		return nil, pipeline.ErrForbidden
	}
	content, err := s.GetContent(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*models.ProcessingTask{}
	}
	return &screenshotStatus{Screenshot: sc, Content: content, Tasks: tasks}, nil
}

func listStatus(w http.ResponseWriter, r *http.Request, s StatusStore, uid uuid.UUID) {
	screenshots, err := s.ListRecentScreenshots(r.Context(), uid, recentScreenshotLimit)
	if err != nil {
		writeError(w, r, err, "Failed to check status")
		return
	}
	counts, err := s.CountScreenshotsByStatus(r.Context(), uid)
	if err != nil {
		writeError(w, r, err, "Failed to check status")
		return
	}

	summary := statusSummary{
		Completed:  counts[models.ScreenshotStatusCompleted],
		Processing: counts[models.ScreenshotStatusProcessing],
		Pending:    counts[models.ScreenshotStatusPending],
		Failed:     counts[models.ScreenshotStatusFailed],
	}
	for _, n := range counts {
		summary.Total += n
	}
	if screenshots == nil {
		screenshots = []*models.Screenshot{}
	}
	response.JSON(w, map[string]any{
		"screenshots": screenshots,
		"summary":     summary,
	})
}
