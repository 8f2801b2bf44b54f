package ai

import (
	"errors"

	"github.com/kiranshivaraju/shotsearch/internal/ai/adapter"
)

var (
	ErrProviderUnavailable = adapter.ErrProviderUnavailable
	ErrInferenceTimeout    = adapter.ErrInferenceTimeout
	ErrInvalidResponse     = adapter.ErrInvalidResponse

	// ErrEmbeddingsUnconfigured means no embedding provider was selected.
	// Callers treat it as a soft skip rather than a failure.
	ErrEmbeddingsUnconfigured = errors.New("embeddings API not configured")
)
