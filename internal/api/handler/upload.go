package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
	"github.com/kiranshivaraju/shotsearch/internal/objectstore"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
}

// ScreenshotCreator persists a new screenshot. *store.PostgresStore satisfies it.
type ScreenshotCreator interface {
	CreateScreenshot(ctx context.Context, s *models.Screenshot) error
}

// ObjectWriter stores uploaded bytes. objectstore.Client satisfies it.
type ObjectWriter interface {
	Put(ctx context.Context, path, contentType string, body []byte) error
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/v1/screenshots.
// It accepts a multipart "file" field, stores the image and registers a
// pending screenshot with an empty content row.
func NewUploadHandler(s ScreenshotCreator, objects ObjectWriter, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "File is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Failed to read file")
			return
		}
		if int64(len(data)) > maxBytes {
			response.Error(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}

		mimeType := http.DetectContentType(data)
		ext, ok := allowedImageTypes[mimeType]
		if !ok {
			response.Error(w, http.StatusBadRequest, "Unsupported image type")
			return
		}

		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "File is not a valid image")
			return
		}
		width, height := img.Bounds().Dx(), img.Bounds().Dy()

		now := time.Now().UTC()
		id := uuid.New()
		sc := &models.Screenshot{
			ID:               id,
			UserID:           uid,
			Filename:         cleanFilename(header.Filename, ext),
			FilePath:         fmt.Sprintf("%s/%s%s", uid, id, ext),
			FileSize:         int64(len(data)),
			MimeType:         mimeType,
			Width:            &width,
			Height:           &height,
			ProcessingStatus: models.ScreenshotStatusPending,
			UploadedAt:       now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := objects.Put(r.Context(), sc.FilePath, mimeType, data); err != nil {
			if errors.Is(err, objectstore.ErrObjectTooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "File too large")
				return
			}
			writeError(w, r, err, "Failed to upload screenshot")
			return
		}
		if err := s.CreateScreenshot(r.Context(), sc); err != nil {
			writeError(w, r, err, "Failed to upload screenshot")
			return
		}

		slog.Info("screenshot uploaded", "screenshot_id", id, "user_id", uid, "bytes", len(data))
		response.Created(w, map[string]any{
			"success":    true,
			"screenshot": sc,
		})
	}
}

func cleanFilename(name, ext string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "screenshot" + ext
	}
	return name
}
