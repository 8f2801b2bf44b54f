package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/ai"
	"github.com/kiranshivaraju/shotsearch/internal/textproc"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EmbeddingInputs are the texts sent for embedding. Empty fields are skipped.
type EmbeddingInputs struct {
	Text     string
	Visual   string
	Combined string
}

// BuildEmbeddingInputs truncates each field to maxChars runes. Combined joins
// every available field, each prefixed by its name.
func BuildEmbeddingInputs(c *models.Content, maxChars int) EmbeddingInputs {
	text := strings.TrimSpace(c.Text())
	visual := strings.TrimSpace(c.Description())

	var parts []string
	if text != "" {
		parts = append(parts, "OCR Text: "+text)
	}
	if visual != "" {
		parts = append(parts, "Visual Description: "+visual)
	}
	if d := c.DetectedElements; d != nil {
		if len(d.UIElements) > 0 {
			parts = append(parts, "UI Elements: "+strings.Join(d.UIElements, ", "))
		}
		if len(d.TextSnippets) > 0 {
			parts = append(parts, "Text Snippets: "+strings.Join(d.TextSnippets, ", "))
		}
		if ctx := strings.TrimSpace(d.Context); ctx != "" {
			parts = append(parts, "Context: "+ctx)
		}
	}

	return EmbeddingInputs{
		Text:     textproc.TruncateRunes(text, maxChars),
		Visual:   textproc.TruncateRunes(visual, maxChars),
		Combined: textproc.TruncateRunes(strings.Join(parts, "\n\n"), maxChars),
	}
}

// EmbeddingStep computes the text, visual and combined vectors of a
// screenshot's content.
type EmbeddingStep struct {
	store    Store
	provider models.EmbeddingProvider
	limiter  *rate.Limiter
	maxChars int
}

// NewEmbeddingStep accepts a nil provider; Run then reports
// ai.ErrEmbeddingsUnconfigured.
func NewEmbeddingStep(s Store, provider models.EmbeddingProvider, limiter *rate.Limiter, maxChars int) *EmbeddingStep {
	return &EmbeddingStep{store: s, provider: provider, limiter: limiter, maxChars: maxChars}
}

func (e *EmbeddingStep) Run(ctx context.Context, screenshotID uuid.UUID) (*models.Embedding, error) {
	content, err := e.store.GetContent(ctx, screenshotID)
	if err != nil {
		return nil, fmt.Errorf("loading content: %w", err)
	}

	inputs := BuildEmbeddingInputs(content, e.maxChars)
	if inputs.Combined == "" {
		return nil, ErrNothingToEmbed
	}
	if e.provider == nil {
		return nil, ai.ErrEmbeddingsUnconfigured
	}

	emb := &models.Embedding{ScreenshotID: screenshotID, Model: e.provider.Model()}

	g, gctx := errgroup.WithContext(ctx)
	embed := func(text string, dst **pgvector.Vector) {
		if text == "" {
			return
		}
		g.Go(func() error {
			if err := e.limiter.Wait(gctx); err != nil {
				return err
			}
			v, err := e.provider.Embed(gctx, text)
			if err != nil {
				return err
			}
			vec := pgvector.NewVector(v)
			*dst = &vec
			return nil
		})
	}
	embed(inputs.Text, &emb.TextEmbedding)
	embed(inputs.Visual, &emb.VisualEmbedding)
	embed(inputs.Combined, &emb.CombinedEmbedding)

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("generating embeddings via %s: %w", e.provider.Name(), err)
	}

	if err := e.store.UpsertEmbedding(ctx, emb); err != nil {
		return nil, fmt.Errorf("saving embeddings: %w", err)
	}
	return emb, nil
}
