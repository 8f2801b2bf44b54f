package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recognize", r.URL.Path)
		assert.Equal(t, "eng", r.URL.Query().Get("lang"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "IMG", string(body))
		_, _ = w.Write([]byte(`{"text":"  Error 500: Internal Server Error \n"}`))
	}))
	defer srv.Close()

	pool := NewPool(srv.URL, "eng", 2, 5*time.Second)
	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Close()

	text, err := s.Recognize(context.Background(), []byte("IMG"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Error 500: Internal Server Error", text)
}

func TestRecognize_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s, err := NewPool(srv.URL, "", 1, time.Second).Acquire(context.Background())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Recognize(context.Background(), []byte("x"), "image/png")
	assert.ErrorIs(t, err, ErrOCRFailed)
}

func TestSession_ClosedRejectsWork(t *testing.T) {
	s, err := NewPool("http://unused", "", 1, time.Second).Acquire(context.Background())
	require.NoError(t, err)

	s.Close()
	s.Close()

	_, err = s.Recognize(context.Background(), nil, "image/png")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestAcquire_BoundedAndReleased(t *testing.T) {
	pool := NewPool("http://unused", "", 1, time.Second)

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	first.Close()

	second, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	second.Close()
}
