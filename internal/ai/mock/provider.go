package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/shotsearch/internal/ai"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// DefaultVisionOutput is the JSON NewMockVision answers with.
const DefaultVisionOutput = `{"description":"A login form with a blue submit button","elements":["button","input field","logo"],"colors":["blue","white"],"text_snippets":["Sign in","Forgot password?"],"context":"authentication page"}`

// MockVision satisfies models.VisionProvider for testing.
type MockVision struct {
	Name_        string
	DescribeFunc func(ctx context.Context, req models.VisionRequest) (string, error)
	calls        atomic.Int32
}

func (m *MockVision) Name() string { return m.Name_ }

func (m *MockVision) Describe(ctx context.Context, req models.VisionRequest) (string, error) {
	m.calls.Add(1)
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, req)
	}
	return "", nil
}

// Calls reports how many times Describe ran.
func (m *MockVision) Calls() int { return int(m.calls.Load()) }

// NewMockVision returns a MockVision that answers with DefaultVisionOutput.
func NewMockVision() *MockVision {
	return &MockVision{
		Name_: "mock",
		DescribeFunc: func(_ context.Context, _ models.VisionRequest) (string, error) {
			return DefaultVisionOutput, nil
		},
	}
}

// NewFailingVision returns a MockVision that always returns the given error.
func NewFailingVision(err error) *MockVision {
	return &MockVision{
		Name_: "mock-failing",
		DescribeFunc: func(_ context.Context, _ models.VisionRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutVision returns a MockVision that blocks until context is cancelled.
func NewTimeoutVision() *MockVision {
	return &MockVision{
		Name_: "mock-timeout",
		DescribeFunc: func(ctx context.Context, _ models.VisionRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// MockEmbedder satisfies models.EmbeddingProvider for testing.
type MockEmbedder struct {
	Name_     string
	Model_    string
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     atomic.Int32
}

func (m *MockEmbedder) Name() string  { return m.Name_ }
func (m *MockEmbedder) Model() string { return m.Model_ }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return nil, nil
}

// Calls reports how many times Embed ran.
func (m *MockEmbedder) Calls() int { return int(m.calls.Load()) }

// NewMockEmbedder returns a MockEmbedder producing deterministic vectors of
// the given dimension derived from the input bytes.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		Name_:  "mock",
		Model_: "mock-embed-v1",
		EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			v := make([]float32, dim)
			for i := 0; i < len(text); i++ {
				v[i%dim] += float32(text[i]) / 255
			}
			if len(text) == 0 {
				v[0] = 1
			}
			return v, nil
		},
	}
}

// NewFailingEmbedder returns a MockEmbedder that always returns the given error.
func NewFailingEmbedder(err error) *MockEmbedder {
	return &MockEmbedder{
		Name_:  "mock-failing",
		Model_: "mock-embed-v1",
		EmbedFunc: func(_ context.Context, _ string) ([]float32, error) {
			return nil, err
		},
	}
}

var (
	_ models.VisionProvider    = (*MockVision)(nil)
	_ models.EmbeddingProvider = (*MockEmbedder)(nil)
)
