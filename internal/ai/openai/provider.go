// Package openai talks to OpenAI and any OpenAI-compatible endpoint through
// the eino component adapters.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaiembedding "github.com/cloudwego/eino-ext/components/embedding/openai"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kiranshivaraju/shotsearch/internal/ai/adapter"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// ChatConfig configures an OpenAI-compatible chat completion endpoint.
type ChatConfig struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Provider implements models.VisionProvider on a chat completion model.
type Provider struct {
	name string
	chat generator
}

// NewProvider builds the eino chat model. No request is made until Describe.
func NewProvider(ctx context.Context, cfg ChatConfig) (*Provider, error) {
	temperature := cfg.Temperature
	cm, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s chat model: %w", cfg.Name, err)
	}
	return &Provider{name: cfg.Name, chat: cm}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Describe(ctx context.Context, req models.VisionRequest) (string, error) {
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:    req.ImageDataURI,
					Detail: schema.ImageURLDetailAuto,
				},
			},
		},
	}

	out, err := p.chat.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", adapter.Classify(err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", adapter.ErrInvalidResponse)
	}
	return out.Content, nil
}

// EmbedConfig configures the OpenAI embeddings endpoint.
type EmbedConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Embedder implements models.EmbeddingProvider.
type Embedder struct {
	model    string
	embedder embedding.Embedder
}

func NewEmbedder(ctx context.Context, cfg EmbedConfig) (*Embedder, error) {
	emb, err := openaiembedding.NewEmbedder(ctx, &openaiembedding.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating openai embedder: %w", err)
	}
	return &Embedder{model: cfg.Model, embedder: emb}, nil
}

func (e *Embedder) Name() string  { return "openai" }
func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, adapter.Classify(err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", adapter.ErrInvalidResponse, len(vectors))
	}
	return adapter.Float32s(vectors[0]), nil
}

var (
	_ models.VisionProvider    = (*Provider)(nil)
	_ models.EmbeddingProvider = (*Embedder)(nil)
)
