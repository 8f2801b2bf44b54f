// Package anthropic describes screenshots with Claude through the eino
// claude chat model.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kiranshivaraju/shotsearch/internal/ai/adapter"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

const maxTokens = 1024

type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Provider implements models.VisionProvider using Claude.
type Provider struct {
	chat    generator
	timeout time.Duration
}

// NewProvider builds the claude chat model. No request is made until Describe.
func NewProvider(ctx context.Context, cfg config.AnthropicConfig, temperature float32, timeout time.Duration) (*Provider, error) {
	cc := &claude.Config{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		cc.BaseURL = &base
	}
	cm, err := claude.NewChatModel(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating anthropic chat model: %w", err)
	}
	return &Provider{chat: cm, timeout: timeout}, nil
}

func (p *Provider) Name() string { return "anthropic" }

// Describe sends the image before the prompt, the order Claude's vision
// guide recommends.
func (p *Provider) Describe(ctx context.Context, req models.VisionRequest) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: req.ImageDataURI},
			},
			{Type: schema.ChatMessagePartTypeText, Text: req.Prompt},
		},
	}

	out, err := p.chat.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", adapter.Classify(err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", fmt.Errorf("%w: no text content", adapter.ErrInvalidResponse)
	}
	return out.Content, nil
}

var _ models.VisionProvider = (*Provider)(nil)
