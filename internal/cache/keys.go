package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func DriveLockKey(screenshotID uuid.UUID) string {
	return fmt.Sprintf("screenshot:drive:%s", screenshotID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// QueryEmbeddingKey addresses a cached query vector. Vectors from different
// models are never interchangeable, so the model is part of the key.
func QueryEmbeddingKey(model, queryHash string) string {
	return fmt.Sprintf("embedding:query:%s:%s", model, queryHash)
}
