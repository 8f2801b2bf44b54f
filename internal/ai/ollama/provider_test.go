package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/ai/adapter"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llava", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, []string{"aGk="}, req.Messages[0].Images)
		assert.Equal(t, "describe", req.Messages[0].Content)

		_ = json.NewEncoder(w).Encode(chatResponse{Message: message{Role: "assistant", Content: `{"description":"ok"}`}})
	}))
	defer srv.Close()

	p := NewProvider(config.OllamaConfig{BaseURL: srv.URL + "/", Model: "llava"}, 0.3, 5*time.Second)
	out, err := p.Describe(context.Background(), models.VisionRequest{
		ImageDataURI: "data:image/png;base64,aGk=",
		Prompt:       "describe",
	})

	require.NoError(t, err)
	assert.Equal(t, `{"description":"ok"}`, out)
}

func TestDescribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProvider(config.OllamaConfig{BaseURL: srv.URL, Model: "llava"}, 0.3, 5*time.Second)
	_, err := p.Describe(context.Background(), models.VisionRequest{ImageDataURI: "data:image/png;base64,aGk="})

	assert.ErrorIs(t, err, adapter.ErrProviderUnavailable)
}

func TestDescribe_BadDataURI(t *testing.T) {
	p := NewProvider(config.OllamaConfig{BaseURL: "http://unused"}, 0.3, time.Second)
	_, err := p.Describe(context.Background(), models.VisionRequest{ImageDataURI: "not-a-uri"})
	assert.Error(t, err)
}

func TestDescribe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewProvider(config.OllamaConfig{BaseURL: srv.URL}, 0.3, 20*time.Millisecond)
	_, err := p.Describe(context.Background(), models.VisionRequest{ImageDataURI: "data:image/png;base64,aGk="})

	assert.ErrorIs(t, err, adapter.ErrInferenceTimeout)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Input)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "nomic-embed-text", 5*time.Second)
	v, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	assert.Equal(t, "nomic-embed-text", e.Model())
}

func TestEmbed_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	_, err := NewEmbedder(srv.URL, "m", time.Second).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, adapter.ErrInvalidResponse)
}
