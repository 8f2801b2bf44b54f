// Package ollama talks to a local Ollama server over its HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/ai/adapter"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

type message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message message `json:"message"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Provider implements models.VisionProvider using Ollama's /api/chat.
type Provider struct {
	baseURL     string
	model       string
	temperature float32
	httpClient  *http.Client
}

func NewProvider(cfg config.OllamaConfig, temperature float32, timeout time.Duration) *Provider {
	return &Provider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Describe(ctx context.Context, req models.VisionRequest) (string, error) {
	_, payload, err := adapter.SplitDataURI(req.ImageDataURI)
	if err != nil {
		return "", fmt.Errorf("encoding image: %w", err)
	}

	var out chatResponse
	err = postJSON(ctx, p.httpClient, p.baseURL+"/api/chat", chatRequest{
		Model: p.model,
		Messages: []message{
			{Role: "user", Content: req.Prompt, Images: []string{payload}},
		},
		Options: map[string]any{"temperature": p.temperature},
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", fmt.Errorf("%w: empty message", adapter.ErrInvalidResponse)
	}
	return out.Message.Content, nil
}

// Embedder implements models.EmbeddingProvider using Ollama's /api/embed.
type Embedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewEmbedder(baseURL, model string, timeout time.Duration) *Embedder {
	return &Embedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *Embedder) Name() string  { return "ollama" }
func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	if err := postJSON(ctx, e.httpClient, e.baseURL+"/api/embed", embedRequest{Model: e.model, Input: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != 1 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", adapter.ErrInvalidResponse, len(out.Embeddings))
	}
	return out.Embeddings[0], nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return adapter.Classify(err)
	}
	defer resp.Body.Close()

	if err := adapter.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", adapter.ErrInvalidResponse, err)
	}
	return nil
}

var (
	_ models.VisionProvider    = (*Provider)(nil)
	_ models.EmbeddingProvider = (*Embedder)(nil)
)
