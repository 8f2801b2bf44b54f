package ai

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/shotsearch/internal/ai/anthropic"
	"github.com/kiranshivaraju/shotsearch/internal/ai/ollama"
	"github.com/kiranshivaraju/shotsearch/internal/ai/openai"
	"github.com/kiranshivaraju/shotsearch/internal/ai/vllm"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// NewVisionProvider constructs the vision provider selected in config.
// Called once at server startup.
func NewVisionProvider(ctx context.Context, cfg config.AIConfig) (models.VisionProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.Temperature, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(ctx, cfg.VLLM, cfg.Temperature, cfg.InferenceTimeout)
	case "openai":
		return openai.NewProvider(ctx, openai.ChatConfig{
			Name:        "openai",
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.InferenceTimeout,
		})
	case "anthropic":
		return anthropic.NewProvider(ctx, cfg.Anthropic, cfg.Temperature, cfg.InferenceTimeout)
	default:
		return nil, fmt.Errorf("unknown vision provider %q: must be one of ollama, vllm, openai, anthropic", cfg.Provider)
	}
}

// NewEmbeddingProvider constructs the embedding provider selected in config.
// It returns ErrEmbeddingsUnconfigured when no provider is selected.
func NewEmbeddingProvider(ctx context.Context, ai config.AIConfig, emb config.EmbeddingConfig) (models.EmbeddingProvider, error) {
	switch emb.Provider {
	case "":
		return nil, ErrEmbeddingsUnconfigured
	case "openai":
		return openai.NewEmbedder(ctx, openai.EmbedConfig{
			APIKey:  ai.OpenAI.APIKey,
			BaseURL: ai.OpenAI.BaseURL,
			Model:   emb.Model,
			Timeout: ai.InferenceTimeout,
		})
	case "ollama":
		return ollama.NewEmbedder(ai.Ollama.BaseURL, emb.Model, ai.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: must be one of openai, ollama", emb.Provider)
	}
}
