// Package vllm serves vision requests from a self-hosted vLLM server through
// its OpenAI-compatible API.
package vllm

import (
	"context"
	"strings"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/ai/openai"
	"github.com/kiranshivaraju/shotsearch/internal/config"
)

// vLLM ignores the key unless started with --api-key.
const placeholderKey = "EMPTY"

func NewProvider(ctx context.Context, cfg config.VLLMConfig, temperature float32, timeout time.Duration) (*openai.Provider, error) {
	return openai.NewProvider(ctx, openai.ChatConfig{
		Name:        "vllm",
		APIKey:      placeholderKey,
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/") + "/v1",
		Model:       cfg.Model,
		Temperature: temperature,
		Timeout:     timeout,
	})
}
