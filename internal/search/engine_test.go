package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/ai/mock"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeStore struct {
	mu sync.Mutex

	fullText []models.ScreenshotWithContent
	pattern  []models.ScreenshotWithContent
	elements []models.ScreenshotWithContent
	vector   []models.ScoredScreenshot

	fullTextErr error
	createErr   error
	vectorDelay time.Duration

	recent  []string
	samples []string

	records     []*models.SearchRecord
	updates     map[uuid.UUID][]models.SearchResultSummary
	limits      map[string]int
	vectorCalls int
	threshold   float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		updates: map[uuid.UUID][]models.SearchResultSummary{},
		limits:  map[string]int{},
	}
}

func (f *fakeStore) CreateSearchRecord(_ context.Context, rec *models.SearchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) UpdateSearchRecordResults(_ context.Context, id uuid.UUID, results []models.SearchResultSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = results
	return nil
}

func (f *fakeStore) RecentQueries(_ context.Context, _ uuid.UUID, limit int) ([]string, error) {
	f.record("recent", limit)
	return f.recent, nil
}

func (f *fakeStore) SampleExtractedText(_ context.Context, _ uuid.UUID, limit int) ([]string, error) {
	f.record("samples", limit)
	return f.samples, nil
}

func (f *fakeStore) FullTextSearch(_ context.Context, _ uuid.UUID, _ string, limit int) ([]models.ScreenshotWithContent, error) {
	f.record("full_text", limit)
	return f.fullText, f.fullTextErr
}

func (f *fakeStore) PatternSearch(_ context.Context, _ uuid.UUID, _ string, limit int) ([]models.ScreenshotWithContent, error) {
	f.record("pattern", limit)
	return f.pattern, nil
}

func (f *fakeStore) ListContentWithElements(_ context.Context, _ uuid.UUID, limit int) ([]models.ScreenshotWithContent, error) {
	f.record("elements", limit)
	return f.elements, nil
}

func (f *fakeStore) VectorNeighborSearch(ctx context.Context, _ uuid.UUID, _ []float32, threshold float64, count int) ([]models.ScoredScreenshot, error) {
	f.mu.Lock()
	f.vectorCalls++
	f.threshold = threshold
	f.limits["vector"] = count
	delay := f.vectorDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.vector, nil
}

func (f *fakeStore) record(name string, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[name] = limit
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache { return &memCache{entries: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func row(ocr string) models.ScreenshotWithContent {
	id := uuid.New()
	r := models.ScreenshotWithContent{
		Screenshot: models.Screenshot{ID: id, Filename: id.String() + ".png"},
		Content:    &models.Content{ScreenshotID: id},
	}
	if ocr != "" {
		r.Content.OCRText = &ocr
	}
	return r
}

func withElements(r models.ScreenshotWithContent, elements ...string) models.ScreenshotWithContent {
	r.Content.DetectedElements = &models.DetectedElements{UIElements: elements}
	return r
}

func scored(r models.ScreenshotWithContent, similarity float64) models.ScoredScreenshot {
	return models.ScoredScreenshot{ScreenshotWithContent: r, Similarity: similarity}
}

func testOptions() Options {
	return Options{
		VectorThreshold: 0.7,
		ElementScanCap:  100,
		StrategyTimeout: time.Second,
		DefaultLimit:    5,
		MaxLimit:        50,
	}
}

// --- Normalize ---

func TestNormalize_Defaults(t *testing.T) {
	e := NewEngine(newFakeStore(), nil, nil, testOptions())

	req, err := e.Normalize(Request{Query: "  invoice  "})
	require.NoError(t, err)
	assert.Equal(t, "invoice", req.Query)
	assert.Equal(t, models.SearchModeHybrid, req.Mode)
	assert.Equal(t, 5, req.Limit)
}

func TestNormalize_ClampsLimit(t *testing.T) {
	e := NewEngine(newFakeStore(), nil, nil, testOptions())

	req, err := e.Normalize(Request{Query: "q", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 50, req.Limit)
}

func TestNormalize_Rejects(t *testing.T) {
	e := NewEngine(newFakeStore(), nil, nil, testOptions())

	_, err := e.Normalize(Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = e.Normalize(Request{Query: "q", Mode: "semantic"})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

// --- Merge / Rank ---

func TestMerge_KeepsMaxConfidenceAndWidensToHybrid(t *testing.T) {
	a, b := row("a"), row("b")
	text := tag([]models.ScreenshotWithContent{a}, FullTextConfidence, models.MatchTypeText)
	visual := tag([]models.ScreenshotWithContent{b, a}, PatternConfidence, models.MatchTypeVisual)

	merged := Merge(text, visual)

	require.Len(t, merged, 2)
	assert.Equal(t, a.Screenshot.ID, merged[0].Screenshot.ID)
	assert.Equal(t, FullTextConfidence, merged[0].Confidence)
	assert.Equal(t, models.MatchTypeHybrid, merged[0].MatchType)
	assert.Equal(t, models.MatchTypeVisual, merged[1].MatchType)
}

func TestMerge_SameTypeTwiceStaysSingleType(t *testing.T) {
	a := row("a")
	pattern := tag([]models.ScreenshotWithContent{a}, PatternConfidence, models.MatchTypeVisual)
	elements := tag([]models.ScreenshotWithContent{a}, ElementConfidence, models.MatchTypeVisual)

	merged := Merge(pattern, elements)

	require.Len(t, merged, 1)
	assert.Equal(t, models.MatchTypeVisual, merged[0].MatchType)
	assert.Equal(t, PatternConfidence, merged[0].Confidence)
}

func TestMerge_HigherLaterConfidenceWins(t *testing.T) {
	a := row("a")
	elements := tag([]models.ScreenshotWithContent{a}, ElementConfidence, models.MatchTypeVisual)
	vector := []models.SearchResult{{Screenshot: a.Screenshot, Confidence: 0.93, MatchType: models.MatchTypeHybrid}}

	merged := Merge(elements, vector)

	require.Len(t, merged, 1)
	assert.Equal(t, 0.93, merged[0].Confidence)
	assert.Equal(t, models.MatchTypeHybrid, merged[0].MatchType)
}

func TestRank_StableAndTruncated(t *testing.T) {
	rows := []models.ScreenshotWithContent{row("1"), row("2"), row("3"), row("4")}
	results := tag(rows, 0.7, models.MatchTypeVisual)
	results[2].Confidence = 0.9

	ranked := Rank(results, 3)

	require.Len(t, ranked, 3)
	assert.Equal(t, rows[2].Screenshot.ID, ranked[0].Screenshot.ID)
	assert.Equal(t, rows[0].Screenshot.ID, ranked[1].Screenshot.ID)
	assert.Equal(t, rows[1].Screenshot.ID, ranked[2].Screenshot.ID)
}

// --- Search ---

func TestSearch_TextModeRunsOnlyFullText(t *testing.T) {
	s := newFakeStore()
	s.fullText = []models.ScreenshotWithContent{row("Quarterly invoice total")}
	s.pattern = []models.ScreenshotWithContent{row("other")}
	e := NewEngine(s, nil, mock.NewMockEmbedder(8), testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "invoice", Mode: models.SearchModeText, Limit: 3})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, models.MatchTypeText, results[0].MatchType)
	assert.Equal(t, FullTextConfidence, results[0].Confidence)
	assert.Equal(t, 6, s.limits["full_text"])
	assert.NotContains(t, s.limits, "pattern")
	assert.Zero(t, s.vectorCalls)
}

func TestSearch_VisualModeRunsOnlyPattern(t *testing.T) {
	s := newFakeStore()
	s.pattern = []models.ScreenshotWithContent{row("Sign in with invoice")}
	e := NewEngine(s, nil, nil, testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "invoice", Mode: models.SearchModeVisual})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, models.MatchTypeVisual, results[0].MatchType)
	assert.Empty(t, results[0].HighlightedText)
	assert.NotContains(t, s.limits, "full_text")
	assert.NotContains(t, s.limits, "elements")
}

func TestSearch_HybridFusesAllStrategies(t *testing.T) {
	shared := row("Login page with a blue submit button")
	visualOnly := row("")
	elementOnly := withElements(row(""), "Submit Button", "logo")
	vectorOnly := row("nothing relevant here")
	noElementMatch := withElements(row(""), "slider")

	s := newFakeStore()
	s.fullText = []models.ScreenshotWithContent{shared}
	s.pattern = []models.ScreenshotWithContent{visualOnly, shared}
	s.elements = []models.ScreenshotWithContent{noElementMatch, elementOnly}
	s.vector = []models.ScoredScreenshot{scored(vectorOnly, 0.75)}

	c := newMemCache()
	e := NewEngine(s, c, mock.NewMockEmbedder(8), testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "Submit Button", Limit: 10})
	require.NoError(t, err)

	require.Len(t, results, 4)
	assert.Equal(t, shared.Screenshot.ID, results[0].Screenshot.ID)
	assert.Equal(t, models.MatchTypeHybrid, results[0].MatchType)
	assert.Equal(t, FullTextConfidence, results[0].Confidence)
	assert.Contains(t, results[0].HighlightedText, "submit button")

	assert.Equal(t, vectorOnly.Screenshot.ID, results[1].Screenshot.ID)
	assert.Equal(t, 0.75, results[1].Confidence)
	assert.Equal(t, models.MatchTypeHybrid, results[1].MatchType)
	assert.Empty(t, results[1].HighlightedText)

	assert.Equal(t, visualOnly.Screenshot.ID, results[2].Screenshot.ID)
	assert.Equal(t, elementOnly.Screenshot.ID, results[3].Screenshot.ID)
	assert.Equal(t, ElementConfidence, results[3].Confidence)

	assert.Equal(t, 100, s.limits["elements"])
	assert.Equal(t, 20, s.limits["vector"])
	assert.Equal(t, 0.7, s.threshold)
	assert.Len(t, c.entries, 1)
}

func TestSearch_VectorOnlyHitIsTaggedHybrid(t *testing.T) {
	hit := row("quarterly invoice summary")
	s := newFakeStore()
	s.vector = []models.ScoredScreenshot{scored(hit, 0.82)}
	e := NewEngine(s, nil, mock.NewMockEmbedder(8), testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "invoice"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, hit.Screenshot.ID, results[0].Screenshot.ID)
	assert.Equal(t, models.MatchTypeHybrid, results[0].MatchType)
	assert.Equal(t, 0.82, results[0].Confidence)
	assert.Contains(t, results[0].HighlightedText, "invoice")

	require.Len(t, s.records, 1)
	summary := s.updates[s.records[0].ID]
	require.Len(t, summary, 1)
	assert.Equal(t, models.MatchTypeHybrid, summary[0].MatchType)
}

func TestSearch_HybridWithoutEmbedderSkipsVector(t *testing.T) {
	s := newFakeStore()
	s.vector = []models.ScoredScreenshot{scored(row("x"), 0.9)}
	e := NewEngine(s, nil, nil, testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "x"})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, s.vectorCalls)
}

func TestSearch_ElementScanStopsAtLimit(t *testing.T) {
	s := newFakeStore()
	for range 5 {
		s.elements = append(s.elements, withElements(row(""), "checkout button"))
	}
	e := NewEngine(s, nil, nil, testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "checkout", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearch_FailingStrategyDegradesToEmpty(t *testing.T) {
	s := newFakeStore()
	s.fullTextErr = errors.New("syntax error in tsquery")
	s.pattern = []models.ScreenshotWithContent{row("invoice")}
	e := NewEngine(s, nil, nil, testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "invoice"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.MatchTypeVisual, results[0].MatchType)
}

func TestSearch_SlowStrategyTimesOut(t *testing.T) {
	s := newFakeStore()
	s.pattern = []models.ScreenshotWithContent{row("invoice")}
	s.vector = []models.ScoredScreenshot{scored(row("invoice"), 0.99)}
	s.vectorDelay = time.Second

	opts := testOptions()
	opts.StrategyTimeout = 20 * time.Millisecond
	e := NewEngine(s, nil, mock.NewMockEmbedder(8), opts)

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "invoice"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, PatternConfidence, results[0].Confidence)
}

func TestSearch_EmbeddingFailureSkipsVector(t *testing.T) {
	s := newFakeStore()
	s.pattern = []models.ScreenshotWithContent{row("invoice")}
	e := NewEngine(s, nil, mock.NewFailingEmbedder(errors.New("quota exceeded")), testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "invoice"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Zero(t, s.vectorCalls)
}

func TestSearch_ReusesCachedQueryEmbedding(t *testing.T) {
	s := newFakeStore()
	embedder := mock.NewMockEmbedder(8)
	e := NewEngine(s, newMemCache(), embedder, testOptions())

	_, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "Invoice"})
	require.NoError(t, err)
	_, err = e.Search(context.Background(), Request{UserID: uuid.New(), Query: "  invoice "})
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.Calls())
	assert.Equal(t, 2, s.vectorCalls)
}

func TestSearch_RecordsHistory(t *testing.T) {
	s := newFakeStore()
	s.fullText = []models.ScreenshotWithContent{row("invoice one"), row("invoice two")}
	e := NewEngine(s, nil, nil, testOptions())
	userID := uuid.New()

	results, err := e.Search(context.Background(), Request{UserID: userID, Query: "invoice", Mode: models.SearchModeText})
	require.NoError(t, err)

	require.Len(t, s.records, 1)
	rec := s.records[0]
	assert.Equal(t, userID, rec.UserID)
	assert.Equal(t, "invoice", rec.Query)
	assert.Equal(t, models.SearchModeText, rec.SearchType)

	summary := s.updates[rec.ID]
	require.Len(t, summary, len(results))
	assert.Equal(t, results[0].Screenshot.ID, summary[0].ScreenshotID)
	assert.Equal(t, models.MatchTypeText, summary[0].MatchType)
}

func TestSearch_HistoryFailureStillReturnsResults(t *testing.T) {
	s := newFakeStore()
	s.createErr = errors.New("connection reset")
	s.fullText = []models.ScreenshotWithContent{row("invoice")}
	e := NewEngine(s, nil, nil, testOptions())

	results, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: "invoice", Mode: models.SearchModeText})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Empty(t, s.updates)
}

func TestSearch_EmptyQuery(t *testing.T) {
	s := newFakeStore()
	e := NewEngine(s, nil, nil, testOptions())

	_, err := e.Search(context.Background(), Request{UserID: uuid.New(), Query: ""})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, s.records)
}

// --- Suggestions ---

func TestSuggestions_QueriesThenWords(t *testing.T) {
	s := newFakeStore()
	s.recent = []string{"invoice", "login page", "invoice"}
	s.samples = []string{
		"Welcome to the Dashboard overview page for Admins",
		"Quarterly Invoice summary shows Revenue growth",
	}
	e := NewEngine(s, nil, nil, testOptions())

	got, err := e.Suggestions(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"invoice", "login page",
		"welcome", "dashboard", "overview", "admins",
		"quarterly", "summary", "shows", "revenue",
	}, got)
	assert.Equal(t, 10, s.limits["recent"])
	assert.Equal(t, 50, s.limits["samples"])
}

func TestSuggestions_Empty(t *testing.T) {
	e := NewEngine(newFakeStore(), nil, nil, testOptions())

	got, err := e.Suggestions(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, got)
}
