// Package ocr recognizes text in images through an external OCR service.
//
// Sessions are scoped: Acquire reserves one of a bounded number of slots and
// the caller must Close the session to release it.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	ErrSessionClosed = errors.New("ocr session closed")
	ErrOCRFailed     = errors.New("ocr recognition failed")
)

type recognizeResponse struct {
	Text string `json:"text"`
}

// Pool bounds concurrent recognition work against the OCR service.
type Pool struct {
	baseURL    string
	language   string
	sem        *semaphore.Weighted
	httpClient *http.Client
}

func NewPool(baseURL, language string, maxSessions int, timeout time.Duration) *Pool {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Pool{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		sem:        semaphore.NewWeighted(int64(maxSessions)),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Acquire blocks until a session slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring ocr session: %w", err)
	}
	return &Session{pool: p}, nil
}

// Session is one reserved slot. It is not safe for concurrent use.
type Session struct {
	pool *Pool
	once sync.Once
	done bool
}

// Recognize returns the text found in image.
func (s *Session) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	if s.done {
		return "", ErrSessionClosed
	}

	url := s.pool.baseURL + "/recognize"
	if s.pool.language != "" {
		url += "?lang=" + s.pool.language
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := s.pool.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOCRFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrOCRFailed, resp.StatusCode)
	}

	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrOCRFailed, err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Close releases the slot. Calling it more than once is safe.
func (s *Session) Close() {
	s.once.Do(func() {
		s.done = true
		s.pool.sem.Release(1)
	})
}
