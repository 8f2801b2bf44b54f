package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/internal/events"
	"github.com/kiranshivaraju/shotsearch/internal/objectstore"
	"github.com/kiranshivaraju/shotsearch/internal/store"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// --- memStore ---

type memStore struct {
	mu          sync.Mutex
	screenshots map[uuid.UUID]*models.Screenshot
	content     map[uuid.UUID]*models.Content
	embeddings  map[uuid.UUID]*models.Embedding
	tasks       []*models.ProcessingTask
	stalled     []store.ScreenshotRef

	claimErr     error
	listTasksErr error
	enqueueErr   map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		screenshots: map[uuid.UUID]*models.Screenshot{},
		content:     map[uuid.UUID]*models.Content{},
		embeddings:  map[uuid.UUID]*models.Embedding{},
	}
}

func (m *memStore) addScreenshot(userID uuid.UUID) *models.Screenshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	sc := &models.Screenshot{
		ID:               id,
		UserID:           userID,
		Filename:         "shot.png",
		FilePath:         userID.String() + "/" + id.String() + ".png",
		MimeType:         "image/png",
		ProcessingStatus: models.ScreenshotStatusPending,
	}
	m.screenshots[id] = sc
	m.content[id] = &models.Content{ScreenshotID: id}
	return sc
}

func (m *memStore) screenshot(id uuid.UUID) models.Screenshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.screenshots[id]
}

// contentOf returns a copy of the stored content row, or an empty row.
func (m *memStore) contentOf(id uuid.UUID) *models.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[id]
	if !ok {
		return &models.Content{ScreenshotID: id}
	}
	cp := *c
	return &cp
}

func (m *memStore) task(screenshotID uuid.UUID, taskType string) models.ProcessingTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ScreenshotID == screenshotID && t.TaskType == taskType {
			return *t
		}
	}
	return models.ProcessingTask{}
}

func (m *memStore) GetScreenshot(_ context.Context, id uuid.UUID) (*models.Screenshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.screenshots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (m *memStore) UpdateScreenshotStatus(_ context.Context, id uuid.UUID, status string, opts ...store.UpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.screenshots[id]
	if !ok {
		return store.ErrNotFound
	}
	p := store.ApplyOptions(opts...)
	sc.ProcessingStatus = status
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		sc.ErrorMessage = &msg
	}
	if p.ClearError {
		sc.ErrorMessage = nil
	}
	if status == models.ScreenshotStatusCompleted {
		now := time.Now()
		sc.ProcessedAt = &now
	}
	return nil
}

func (m *memStore) ListScreenshotsMissingOCR(_ context.Context, limit int) ([]*models.Screenshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Screenshot
	for id, c := range m.content {
		if c.OCRCompletedAt == nil && len(out) < limit {
			cp := *m.screenshots[id]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) GetContent(_ context.Context, id uuid.UUID) (*models.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) SaveOCRText(_ context.Context, id uuid.UUID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.content[id].OCRText = &text
	m.content[id].OCRCompletedAt = &now
	return nil
}

func (m *memStore) SaveVisionResult(_ context.Context, id uuid.UUID, r models.VisionResult, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.content[id]
	now := time.Now()
	desc := r.Description
	d := r.DetectedElements()
	c.VisualDescription = &desc
	c.DominantColors = r.Colors
	c.DetectedElements = &d
	c.ProcessingCost += cost
	c.VisionCompletedAt = &now
	return nil
}

func (m *memStore) UpsertEmbedding(_ context.Context, e *models.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.embeddings[e.ScreenshotID] = &cp
	return nil
}

func leased(t *models.ProcessingTask) bool {
	return t.Status == models.TaskStatusProcessing && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.After(time.Now())
}

func (m *memStore) EnqueueTask(_ context.Context, task *models.ProcessingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enqueueErr[task.TaskType]; err != nil {
		return err
	}
	for _, t := range m.tasks {
		if t.ScreenshotID == task.ScreenshotID && t.TaskType == task.TaskType {
			if leased(t) {
				return store.ErrTaskInFlight
			}
			t.Priority, t.Status, t.Attempts, t.MaxAttempts = task.Priority, models.TaskStatusPending, 0, task.MaxAttempts
			t.ErrorMessage, t.StartedAt, t.CompletedAt, t.LeaseExpiresAt = nil, nil, nil, nil
			*task = *t
			return nil
		}
	}
	cp := *task
	cp.Status = models.TaskStatusPending
	cp.CreatedAt = time.Now()
	m.tasks = append(m.tasks, &cp)
	*task = cp
	return nil
}

func (m *memStore) ClaimNextTask(_ context.Context, id uuid.UUID, lease time.Duration) (*models.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	var candidates []*models.ProcessingTask
	for _, t := range m.tasks {
		if t.ScreenshotID != id {
			continue
		}
		if leased(t) {
			return nil, store.ErrNotFound
		}
		if t.Status == models.TaskStatusPending && t.Attempts < t.MaxAttempts {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, store.ErrNotFound
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })
	t := candidates[0]
	now := time.Now()
	exp := now.Add(lease)
	t.Status, t.StartedAt, t.LeaseExpiresAt = models.TaskStatusProcessing, &now, &exp
	t.Attempts++
	cp := *t
	return &cp, nil
}

var memTransitions = map[string][]string{
	models.TaskStatusPending:    {models.TaskStatusProcessing, models.TaskStatusFailed},
	models.TaskStatusProcessing: {models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusPending},
	models.TaskStatusFailed:     {models.TaskStatusPending},
}

func applyTask(t *models.ProcessingTask, status string, p *store.UpdateParams) {
	t.Status = status
	if status == models.TaskStatusCompleted || status == models.TaskStatusFailed {
		now := time.Now()
		t.CompletedAt, t.LeaseExpiresAt = &now, nil
	}
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		t.ErrorMessage = &msg
	}
	if p.ClearError {
		t.ErrorMessage = nil
	}
}

func (m *memStore) UpdateTaskStatus(_ context.Context, id uuid.UUID, status string, opts ...store.UpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			if !slices.Contains(memTransitions[t.Status], status) {
				return store.ErrInvalidTransition
			}
			applyTask(t, status, store.ApplyOptions(opts...))
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) SettleTaskByType(_ context.Context, id uuid.UUID, taskType, status string, opts ...store.UpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ScreenshotID == id && t.TaskType == taskType && !leased(t) {
			applyTask(t, status, store.ApplyOptions(opts...))
		}
	}
	return nil
}

func (m *memStore) ListTasks(_ context.Context, id uuid.UUID) ([]*models.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listTasksErr != nil {
		return nil, m.listTasksErr
	}
	var out []*models.ProcessingTask
	for _, t := range m.tasks {
		if t.ScreenshotID == id {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ResetTasks(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.ScreenshotID == id && (t.Status == models.TaskStatusFailed || t.Status == models.TaskStatusProcessing) {
			t.Status, t.Attempts = models.TaskStatusPending, 0
			t.ErrorMessage, t.StartedAt, t.CompletedAt, t.LeaseExpiresAt = nil, nil, nil, nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) ReclaimExpiredLeases(_ context.Context) ([]store.ReclaimedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ReclaimedTask
	for _, t := range m.tasks {
		if t.Status != models.TaskStatusProcessing || t.LeaseExpiresAt == nil || t.LeaseExpiresAt.After(time.Now()) {
			continue
		}
		t.LeaseExpiresAt = nil
		r := store.ReclaimedTask{
			ScreenshotRef: store.ScreenshotRef{ID: t.ScreenshotID, UserID: m.screenshots[t.ScreenshotID].UserID},
			TaskID:        t.ID,
			TaskType:      t.TaskType,
		}
		if t.Attempts < t.MaxAttempts {
			t.Status = models.TaskStatusPending
		} else {
			t.Status = models.TaskStatusFailed
			r.ErrorMessage = "lease expired"
			t.ErrorMessage = &r.ErrorMessage
		}
		r.Status = t.Status
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) ListStalledScreenshots(_ context.Context, _ time.Duration, _ int) ([]store.ScreenshotRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalled, nil
}

var _ Store = (*memStore)(nil)

// --- fakeLocker ---

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	taken int
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]string{}} }

func (f *fakeLocker) AcquireLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.held[key]; ok {
		return false, nil
	}
	f.held[key] = token
	f.taken++
	return true, nil
}

func (f *fakeLocker) isHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.held[key]
	return ok
}

func (f *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

// --- recordingScheduler ---

type scheduled struct {
	ref   store.ScreenshotRef
	delay time.Duration
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	// onSchedule, when set, runs before the call is recorded.
	onSchedule func(ref store.ScreenshotRef)
}

func (r *recordingScheduler) Schedule(ref store.ScreenshotRef, delay time.Duration) {
	if r.onSchedule != nil {
		r.onSchedule(ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, scheduled{ref: ref, delay: delay})
}

func (r *recordingScheduler) pop() (scheduled, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return scheduled{}, false
	}
	next := r.calls[0]
	r.calls = r.calls[1:]
	return next, true
}

func (r *recordingScheduler) pending() []scheduled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// --- recordingPublisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// --- fakeObjects ---

type fakeObjects struct {
	objects  map[string][]byte
	fetchErr error
}

func (f *fakeObjects) SignedReadURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "signed://" + path, nil
}

func (f *fakeObjects) Fetch(_ context.Context, signedURL string) ([]byte, string, error) {
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	data, ok := f.objects[signedURL[len("signed://"):]]
	if !ok {
		return nil, "", objectstore.ErrObjectNotFound
	}
	return data, "image/png", nil
}

func (f *fakeObjects) Put(_ context.Context, path, _ string, body []byte) error {
	f.objects[path] = body
	return nil
}

var _ objectstore.Client = (*fakeObjects)(nil)

// --- helpers ---

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:       2,
		TaskDelay:     time.Second,
		LeaseDuration: time.Minute,
		SweepInterval: 30 * time.Second,
		MaxAttempts:   3,
	}
}

type harness struct {
	store     *memStore
	locks     *fakeLocker
	objects   *fakeObjects
	scheduler *recordingScheduler
	events    *recordingPublisher
	orch      *Orchestrator
	userID    uuid.UUID
}

func newHarness(t *testing.T, vision models.VisionProvider, embedder models.EmbeddingProvider) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		locks:     newFakeLocker(),
		objects:   &fakeObjects{objects: map[string][]byte{}},
		scheduler: &recordingScheduler{},
		events:    &recordingPublisher{},
		userID:    uuid.New(),
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	visionStep := NewVisionStep(h.store, h.objects, vision, limiter, VisionOptions{
		SignedURLTTL:      time.Minute,
		MaxImageDimension: 2048,
		CostPerAnalysis:   0.003,
	})
	embedStep := NewEmbeddingStep(h.store, embedder, limiter, 8000)
	h.orch = NewOrchestrator(h.store, h.locks, visionStep, embedStep, h.scheduler, h.events, testPipelineConfig())
	return h
}

// upload registers a screenshot together with its image bytes.
func (h *harness) upload(t *testing.T) *models.Screenshot {
	t.Helper()
	sc := h.store.addScreenshot(h.userID)
	h.objects.objects[sc.FilePath] = testPNG(t, 64, 32)
	return sc
}

// drain drives scheduled screenshots until nothing is left, like the
// dispatcher would without the delays.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		next, ok := h.scheduler.pop()
		if !ok {
			return
		}
		h.orch.DriveNext(context.Background(), next.ref)
	}
	t.Fatal("pipeline did not settle")
}

var errBoom = errors.New("boom")
