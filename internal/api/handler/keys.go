package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
	"github.com/kiranshivaraju/shotsearch/internal/apikey"
	"github.com/kiranshivaraju/shotsearch/internal/store"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// KeyStore manages API keys. *store.PostgresStore satisfies it.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}

var defaultScopes = []string{"read", "write"}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The key belongs to user_id when given, otherwise to the caller.
func NewCreateKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		var req struct {
			Name   string   `json:"name"`
			UserID string   `json:"user_id"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "name is required")
			return
		}
		owner := uid
		if req.UserID != "" {
			parsed, err := uuid.Parse(req.UserID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "Invalid user_id")
				return
			}
			owner = parsed
		}
		if len(req.Scopes) == 0 {
			req.Scopes = defaultScopes
		}

		generated, err := apikey.Generate()
		if err != nil {
			writeError(w, r, err, "Failed to create key")
			return
		}
		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			UserID:    owner,
			Name:      req.Name,
			KeyHash:   generated.Hash,
			KeyPrefix: generated.Prefix,
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "API key with this name already exists")
				return
			}
			writeError(w, r, err, "Failed to create key")
			return
		}

		response.Created(w, map[string]any{
			"id":         key.ID,
			"name":       key.Name,
			"user_id":    key.UserID,
			"key":        generated.Raw, // only shown once
			"scopes":     key.Scopes,
			"created_at": key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		keys, err := s.ListAPIKeys(r.Context(), uid)
		if err != nil {
			writeError(w, r, err, "Failed to list keys")
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, map[string]any{"keys": keys})
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid key ID")
			return
		}
		if err := s.RevokeAPIKey(r.Context(), keyID, uid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "API key not found")
				return
			}
			writeError(w, r, err, "Failed to revoke key")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
