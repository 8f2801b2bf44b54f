// Package main is the entrypoint for the ShotSearch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/ai"
	"github.com/kiranshivaraju/shotsearch/internal/api"
	"github.com/kiranshivaraju/shotsearch/internal/api/handler"
	mw "github.com/kiranshivaraju/shotsearch/internal/api/middleware"
	"github.com/kiranshivaraju/shotsearch/internal/cache"
	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/kiranshivaraju/shotsearch/internal/events"
	"github.com/kiranshivaraju/shotsearch/internal/objectstore"
	"github.com/kiranshivaraju/shotsearch/internal/pipeline"
	"github.com/kiranshivaraju/shotsearch/internal/search"
	"github.com/kiranshivaraju/shotsearch/internal/store"
	"github.com/kiranshivaraju/shotsearch/pkg/models"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout     = 30 * time.Second
	dispatchBufferSize  = 256
	objectFetchTimeout  = 60 * time.Second
	limiterBurst        = 1
	migrationsDirectory = "migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"vision_provider", cfg.AI.Provider,
		"embedding_provider", cfg.Embedding.Provider,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, migrationsDirectory); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI providers
	vision, err := ai.NewVisionProvider(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create vision provider: %w", err)
	}
	slog.Info("vision provider initialized", "provider", vision.Name())

	embedder, err := newEmbeddingProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
	}

	// 6. Create store, object storage and event publisher
	pgStore := store.NewPostgresStore(pool)
	objects, err := objectstore.NewFromConfig(cfg.Storage, objectFetchTimeout)
	if err != nil {
		return fmt.Errorf("create object store client: %w", err)
	}

	publisher := newEventPublisher(cfg.Kafka)
	defer publisher.Close()

	// 7. Build the pipeline
	limiter := newLimiter(cfg.AI.RateLimitPerSec)
	visionStep := pipeline.NewVisionStep(pgStore, objects, vision, limiter, pipeline.VisionOptions{
		SignedURLTTL:      cfg.Storage.SignedURLTTL,
		MaxImageDimension: cfg.AI.MaxImageDimension,
		CostPerAnalysis:   cfg.AI.CostPerAnalysis,
	})
	embeddingStep := pipeline.NewEmbeddingStep(pgStore, embedder, limiter, cfg.Embedding.MaxChars)

	dispatcher := pipeline.NewDispatcher(cfg.Pipeline.Workers, dispatchBufferSize)
	orch := pipeline.NewOrchestrator(pgStore, redisCache, visionStep, embeddingStep,
		dispatcher, publisher, cfg.Pipeline)
	sweeper := pipeline.NewSweeper(orch, cfg.Pipeline.SweepInterval)

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := dispatcher.Run(ctx, orch.DriveNext); err != nil {
			slog.Error("dispatcher stopped", "error", err)
		}
	}()
	go func() {
		defer workers.Done()
		sweeper.Run(ctx)
	}()
	slog.Info("pipeline started", "workers", cfg.Pipeline.Workers)

	// 8. Build the search engine
	engine := search.NewEngine(pgStore, redisCache, embedder, search.Options{
		VectorThreshold: cfg.Search.VectorThreshold,
		ElementScanCap:  cfg.Search.ElementScanCap,
		StrategyTimeout: cfg.Search.StrategyTimeout,
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
	})

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),

		HealthHandler:      handler.NewHealthHandler(pgStore, redisCache),
		UploadHandler:      handler.NewUploadHandler(pgStore, objects, cfg.Storage.MaxObjectBytes),
		ProcessHandler:     handler.NewProcessHandler(orch),
		AnalyzeHandler:     handler.NewAnalyzeHandler(orch),
		EmbeddingsHandler:  handler.NewEmbeddingsHandler(orch),
		RetryHandler:       handler.NewRetryHandler(orch),
		StatusHandler:      handler.NewStatusHandler(pgStore),
		SearchHandler:      handler.NewSearchHandler(engine),
		SuggestionsHandler: handler.NewSuggestionsHandler(engine),
		CreateKeyHandler:   handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:    handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.AI.InferenceTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		workers.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Interrupted tasks keep their lease and are reclaimed by the next sweep.
	workers.Wait()
	slog.Info("server stopped gracefully")
	return nil
}

// newEmbeddingProvider returns nil when embeddings are not configured; the
// pipeline then skips the step and search runs without the vector strategy.
func newEmbeddingProvider(ctx context.Context, cfg *config.Config) (models.EmbeddingProvider, error) {
	embedder, err := ai.NewEmbeddingProvider(ctx, cfg.AI, cfg.Embedding)
	if errors.Is(err, ai.ErrEmbeddingsUnconfigured) {
		slog.Warn("embedding provider not configured, vector search disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slog.Info("embedding provider initialized", "provider", embedder.Name(), "model", embedder.Model())
	return embedder, nil
}

func newEventPublisher(cfg config.KafkaConfig) events.Publisher {
	if !cfg.Enabled() {
		return events.NopPublisher{}
	}
	slog.Info("publishing lifecycle events", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, limiterBurst)
	}
	return rate.NewLimiter(rate.Limit(perSec), limiterBurst)
}
