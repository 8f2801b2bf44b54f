// Package search answers natural-language queries over processed screenshots
// by running several matching strategies concurrently and fusing their
// results into one ranked list.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/cache"
	"github.com/kiranshivaraju/shotsearch/internal/textproc"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Base confidences per strategy. Vector matches use the reported similarity.
const (
	FullTextConfidence = 0.8
	PatternConfidence  = 0.7
	ElementConfidence  = 0.6
)

const (
	highlightBefore     = 50
	highlightAfter      = 100
	queryEmbeddingTTL   = 24 * time.Hour
	suggestionLimit     = 10
	recentQueryLimit    = 10
	textSampleLimit     = 50
	wordsPerSample      = 5
	suggestionMinLength = 4
)

var (
	ErrEmptyQuery  = errors.New("query is required")
	ErrInvalidMode = errors.New("searchType must be one of text, visual, hybrid")
)

// Store is the read side of the content store plus the search history.
// *store.PostgresStore satisfies it.
type Store interface {
	CreateSearchRecord(ctx context.Context, rec *models.SearchRecord) error
	UpdateSearchRecordResults(ctx context.Context, id uuid.UUID, results []models.SearchResultSummary) error
	RecentQueries(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)
	SampleExtractedText(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)

	FullTextSearch(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.ScreenshotWithContent, error)
	PatternSearch(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.ScreenshotWithContent, error)
	ListContentWithElements(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScreenshotWithContent, error)
	VectorNeighborSearch(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64, count int) ([]models.ScoredScreenshot, error)
}

// Cache holds query embeddings between searches.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options tunes the engine.
type Options struct {
	VectorThreshold float64
	ElementScanCap  int
	StrategyTimeout time.Duration
	DefaultLimit    int
	MaxLimit        int
}

// Request is one search call.
type Request struct {
	UserID uuid.UUID
	Query  string
	Mode   string
	Limit  int
}

// Engine runs hybrid searches. It is safe for concurrent use.
type Engine struct {
	store    Store
	cache    Cache
	embedder models.EmbeddingProvider
	opts     Options
}

// NewEngine accepts a nil embedder; the vector strategy is then skipped.
func NewEngine(s Store, c Cache, embedder models.EmbeddingProvider, opts Options) *Engine {
	return &Engine{store: s, cache: c, embedder: embedder, opts: opts}
}

type strategy struct {
	name string
	run  func(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.SearchResult, error)
}

// Normalize validates req and fills in defaults.
func (e *Engine) Normalize(req Request) (Request, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, ErrEmptyQuery
	}
	if req.Mode == "" {
		req.Mode = models.SearchModeHybrid
	}
	if !models.ValidSearchMode(req.Mode) {
		return req, ErrInvalidMode
	}
	if req.Limit <= 0 {
		req.Limit = e.opts.DefaultLimit
	}
	if e.opts.MaxLimit > 0 && req.Limit > e.opts.MaxLimit {
		req.Limit = e.opts.MaxLimit
	}
	return req, nil
}

// Search runs the strategies selected by the mode, fuses and ranks their
// results and records the search in the user's history.
func (e *Engine) Search(ctx context.Context, req Request) ([]models.SearchResult, error) {
	req, err := e.Normalize(req)
	if err != nil {
		return nil, err
	}

	rec := &models.SearchRecord{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Query:      req.Query,
		SearchType: req.Mode,
		Results:    []models.SearchResultSummary{},
		SearchedAt: time.Now().UTC(),
	}
	recorded := true
	if err := e.store.CreateSearchRecord(ctx, rec); err != nil {
		recorded = false
		slog.Warn("recording search", "user_id", req.UserID, "error", err)
	}

	strategies := e.strategiesFor(req.Mode)
	groups := make([][]models.SearchResult, len(strategies))

	var g errgroup.Group
	for i, s := range strategies {
		g.Go(func() error {
			groups[i] = e.runStrategy(ctx, s, req)
			return nil
		})
	}
	_ = g.Wait()

	results := Rank(Merge(groups...), req.Limit)
	for i := range results {
		applyHighlight(&results[i], req.Query)
	}

	if recorded {
		if err := e.store.UpdateSearchRecordResults(ctx, rec.ID, Summarize(results)); err != nil {
			slog.Warn("updating search record", "search_id", rec.ID, "error", err)
		}
	}
	return results, nil
}

// runStrategy bounds a strategy by the per-strategy timeout. A failing
// strategy contributes no results instead of failing the search.
func (e *Engine) runStrategy(ctx context.Context, s strategy, req Request) []models.SearchResult {
	if e.opts.StrategyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StrategyTimeout)
		defer cancel()
	}
	start := time.Now()
	out, err := s.run(ctx, req.UserID, req.Query, req.Limit)
	if err != nil {
		slog.Warn("search strategy failed", "strategy", s.name, "user_id", req.UserID, "error", err)
		return nil
	}
	slog.Debug("search strategy finished", "strategy", s.name, "results", len(out), "duration_ms", time.Since(start).Milliseconds())
	return out
}

func (e *Engine) strategiesFor(mode string) []strategy {
	fullText := strategy{"full_text", e.fullText}
	pattern := strategy{"visual_pattern", e.pattern}

	switch mode {
	case models.SearchModeText:
		return []strategy{fullText}
	case models.SearchModeVisual:
		return []strategy{pattern}
	}
	out := []strategy{fullText, pattern, {"detected_elements", e.elements}}
	if e.embedder != nil {
		out = append(out, strategy{"vector", e.vector})
	}
	return out
}

func (e *Engine) fullText(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.SearchResult, error) {
	rows, err := e.store.FullTextSearch(ctx, userID, query, 2*limit)
	if err != nil {
		return nil, err
	}
	return tag(rows, FullTextConfidence, models.MatchTypeText), nil
}

func (e *Engine) pattern(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.SearchResult, error) {
	rows, err := e.store.PatternSearch(ctx, userID, query, 2*limit)
	if err != nil {
		return nil, err
	}
	return tag(rows, PatternConfidence, models.MatchTypeVisual), nil
}

// elements scans the user's detected-element bags in memory.
func (e *Engine) elements(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.SearchResult, error) {
	rows, err := e.store.ListContentWithElements(ctx, userID, e.opts.ElementScanCap)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var matched []models.ScreenshotWithContent
	for _, row := range rows {
		if len(matched) == limit {
			break
		}
		if row.Content == nil || row.Content.DetectedElements == nil {
			continue
		}
		if strings.Contains(row.Content.DetectedElements.Flatten(), needle) {
			matched = append(matched, row)
		}
	}
	return tag(matched, ElementConfidence, models.MatchTypeVisual), nil
}

func (e *Engine) vector(ctx context.Context, userID uuid.UUID, query string, limit int) ([]models.SearchResult, error) {
	embedding, err := e.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.VectorNeighborSearch(ctx, userID, embedding, e.opts.VectorThreshold, 2*limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.SearchResult, len(rows))
	for i, row := range rows {
		out[i] = models.SearchResult{
			Screenshot: row.Screenshot,
			Content:    row.Content,
			Confidence: row.Similarity,
			MatchType:  models.MatchTypeHybrid,
		}
	}
	return out, nil
}

// queryEmbedding embeds query, reusing a cached vector for the same
// normalized query and model.
func (e *Engine) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	key := cache.QueryEmbeddingKey(e.embedder.Model(), textproc.Fingerprint(query))

	if e.cache != nil {
		raw, found, err := e.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("reading query embedding cache", "error", err)
		}
		if found {
			var v []float32
			if err := json.Unmarshal(raw, &v); err == nil && len(v) > 0 {
				return v, nil
			}
		}
	}

	v, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if e.cache != nil {
		raw, _ := json.Marshal(v)
		if err := e.cache.Set(ctx, key, raw, queryEmbeddingTTL); err != nil {
			slog.Warn("writing query embedding cache", "error", err)
		}
	}
	return v, nil
}

func tag(rows []models.ScreenshotWithContent, confidence float64, matchType string) []models.SearchResult {
	out := make([]models.SearchResult, len(rows))
	for i, row := range rows {
		out[i] = models.SearchResult{
			Screenshot: row.Screenshot,
			Content:    row.Content,
			Confidence: confidence,
			MatchType:  matchType,
		}
	}
	return out
}

// Merge deduplicates results by screenshot id in first-seen order. A merged
// result keeps the highest confidence reported for it and becomes hybrid as
// soon as a second distinct match type is seen.
func Merge(groups ...[]models.SearchResult) []models.SearchResult {
	index := make(map[uuid.UUID]int)
	var out []models.SearchResult
	for _, group := range groups {
		for _, r := range group {
			i, seen := index[r.Screenshot.ID]
			if !seen {
				index[r.Screenshot.ID] = len(out)
				out = append(out, r)
				continue
			}
			existing := &out[i]
			existing.Confidence = max(existing.Confidence, r.Confidence)
			if existing.MatchType != r.MatchType {
				existing.MatchType = models.MatchTypeHybrid
			}
		}
	}
	return out
}

// Rank orders results by confidence, highest first, and keeps at most limit.
// Equal confidences keep their merge order.
func Rank(results []models.SearchResult, limit int) []models.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func applyHighlight(r *models.SearchResult, query string) {
	if r.MatchType == models.MatchTypeVisual || r.Content == nil {
		return
	}
	if excerpt, ok := textproc.Highlight(r.Content.Text(), query, highlightBefore, highlightAfter); ok {
		r.HighlightedText = excerpt
	}
}

// Summarize reduces results to what the search history keeps.
func Summarize(results []models.SearchResult) []models.SearchResultSummary {
	out := make([]models.SearchResultSummary, len(results))
	for i, r := range results {
		out[i] = models.SearchResultSummary{
			ScreenshotID: r.Screenshot.ID,
			Confidence:   r.Confidence,
			MatchType:    r.MatchType,
		}
	}
	return out
}

// Suggestions returns the user's recent queries, most recent first, followed
// by longer words sampled from their extracted text. At most 10 are returned.
func (e *Engine) Suggestions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	queries, err := e.store.RecentQueries(ctx, userID, recentQueryLimit)
	if err != nil {
		return nil, fmt.Errorf("loading recent queries: %w", err)
	}
	texts, err := e.store.SampleExtractedText(ctx, userID, textSampleLimit)
	if err != nil {
		return nil, fmt.Errorf("sampling extracted text: %w", err)
	}

	seen := make(map[string]bool)
	out := make([]string, 0, suggestionLimit)
	add := func(s string) {
		if len(out) < suggestionLimit && s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, q := range queries {
		add(q)
	}
	for _, text := range texts {
		for _, w := range textproc.SuggestionWords(text, suggestionMinLength, wordsPerSample) {
			add(w)
		}
	}
	return out, nil
}
