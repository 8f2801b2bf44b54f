package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/ai"
	"github.com/kiranshivaraju/shotsearch/internal/objectstore"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"golang.org/x/time/rate"
)

// VisionOptions tunes the vision step.
type VisionOptions struct {
	SignedURLTTL      time.Duration
	MaxImageDimension int
	CostPerAnalysis   float64
}

// VisionStep describes a screenshot with the vision model and stores the
// structured result on its content row.
type VisionStep struct {
	store    Store
	objects  objectstore.Client
	provider models.VisionProvider
	limiter  *rate.Limiter
	opts     VisionOptions
}

func NewVisionStep(s Store, objects objectstore.Client, provider models.VisionProvider, limiter *rate.Limiter, opts VisionOptions) *VisionStep {
	return &VisionStep{store: s, objects: objects, provider: provider, limiter: limiter, opts: opts}
}

func (v *VisionStep) Run(ctx context.Context, screenshotID uuid.UUID) (models.VisionResult, error) {
	sc, err := v.store.GetScreenshot(ctx, screenshotID)
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("loading screenshot: %w", err)
	}

	signed, err := v.objects.SignedReadURL(ctx, sc.FilePath, v.opts.SignedURLTTL)
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("signing image url: %w", err)
	}
	data, contentType, err := v.objects.Fetch(ctx, signed)
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("fetching image: %w", err)
	}

	mimeType := sc.MimeType
	if mimeType == "" {
		mimeType = contentType
	}
	data, mimeType = downscale(data, mimeType, v.opts.MaxImageDimension)

	if err := v.limiter.Wait(ctx); err != nil {
		return models.VisionResult{}, fmt.Errorf("waiting for vision rate limit: %w", err)
	}
	out, err := v.provider.Describe(ctx, models.VisionRequest{
		ImageDataURI: ai.DataURI(mimeType, data),
		MimeType:     mimeType,
		Prompt:       ai.VisionPrompt,
	})
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("vision analysis via %s: %w", v.provider.Name(), err)
	}

	result, ok := ai.ParseVisionOutput(out)
	if !ok {
		slog.Warn("vision output had no structured block, storing it as description",
			"screenshot_id", screenshotID, "provider", v.provider.Name())
	}

	if err := v.store.SaveVisionResult(ctx, screenshotID, result, v.opts.CostPerAnalysis); err != nil {
		return models.VisionResult{}, fmt.Errorf("saving vision result: %w", err)
	}
	return result, nil
}

// downscale shrinks images whose longest side exceeds maxDim. Images it cannot
// decode are passed through unchanged for the model to judge.
func downscale(data []byte, mimeType string, maxDim int) ([]byte, string) {
	if maxDim <= 0 {
		return data, mimeType
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || (cfg.Width <= maxDim && cfg.Height <= maxDim) {
		return data, mimeType
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, mimeType
	}

	width, height := maxDim, 0
	if cfg.Height > cfg.Width {
		width, height = 0, maxDim
	}
	resized := imaging.Resize(img, width, height, imaging.Lanczos)

	outFormat, outMime := imaging.PNG, "image/png"
	if format == "jpeg" {
		outFormat, outMime = imaging.JPEG, "image/jpeg"
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, outFormat); err != nil {
		return data, mimeType
	}
	return buf.Bytes(), outMime
}
