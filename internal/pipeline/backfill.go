package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/objectstore"
	"github.com/kiranshivaraju/shotsearch/internal/ocr"
)

// OCRBackfill extracts text for screenshots uploaded without client-side OCR.
type OCRBackfill struct {
	store        Store
	objects      objectstore.Client
	pool         *ocr.Pool
	signedURLTTL time.Duration
}

func NewOCRBackfill(s Store, objects objectstore.Client, pool *ocr.Pool, signedURLTTL time.Duration) *OCRBackfill {
	return &OCRBackfill{store: s, objects: objects, pool: pool, signedURLTTL: signedURLTTL}
}

// BackfillReport counts the outcome of one batch.
type BackfillReport struct {
	Scanned   int
	Extracted int
	Failed    int
}

// RunBatch processes up to limit screenshots with a single OCR session that
// is released when the batch ends. Per-screenshot failures are counted and
// skipped.
func (b *OCRBackfill) RunBatch(ctx context.Context, limit int) (BackfillReport, error) {
	var report BackfillReport

	shots, err := b.store.ListScreenshotsMissingOCR(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("listing screenshots without ocr: %w", err)
	}
	if len(shots) == 0 {
		return report, nil
	}

	session, err := b.pool.Acquire(ctx)
	if err != nil {
		return report, err
	}
	defer session.Close()

	for _, sc := range shots {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		text, err := b.extract(ctx, session, sc.FilePath, sc.MimeType)
		if err == nil {
			err = b.store.SaveOCRText(ctx, sc.ID, text)
		}
		if err != nil {
			report.Failed++
			slog.Warn("ocr backfill failed", "screenshot_id", sc.ID, "error", err)
			continue
		}
		report.Extracted++
	}
	return report, nil
}

func (b *OCRBackfill) extract(ctx context.Context, session *ocr.Session, path, mimeType string) (string, error) {
	signed, err := b.objects.SignedReadURL(ctx, path, b.signedURLTTL)
	if err != nil {
		return "", err
	}
	data, contentType, err := b.objects.Fetch(ctx, signed)
	if err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = contentType
	}
	return session.Recognize(ctx, data, mimeType)
}
