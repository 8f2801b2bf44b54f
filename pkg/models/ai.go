// Package models contains shared data models used across the shotsearch codebase.
package models

import "context"

// VisionProvider describes images with a multimodal language model.
// Never call specific AI providers directly; always inject this interface.
type VisionProvider interface {
	// Describe sends the image and prompt to the model and returns its raw text output.
	Describe(ctx context.Context, req VisionRequest) (string, error)
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string
}

// EmbeddingProvider turns text into a fixed-length vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model returns the embedding model name recorded with stored vectors.
	Model() string
	Name() string
}

// VisionRequest is the input to a vision call.
type VisionRequest struct {
	ImageDataURI string // data:<mime>;base64,<payload>
	MimeType     string
	Prompt       string
}

// VisionResult is the structured output of a vision analysis.
type VisionResult struct {
	Description  string   `json:"description"`
	Elements     []string `json:"elements"`
	Colors       []string `json:"colors"`
	TextSnippets []string `json:"text_snippets"`
	Context      string   `json:"context"`
}

// DetectedElements bundles the structured parts of the result for storage.
func (v VisionResult) DetectedElements() DetectedElements {
	return DetectedElements{
		UIElements:   v.Elements,
		TextSnippets: v.TextSnippets,
		Context:      v.Context,
	}
}
