package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the shotsearch server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Search    SearchConfig
	Kafka     KafkaConfig
	OCR       OCRConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	RequestsPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AIConfig selects and configures the vision provider.
type AIConfig struct {
	Provider          string
	InferenceTimeout  time.Duration
	RateLimitPerSec   float64
	MaxImageDimension int
	CostPerAnalysis   float64
	Temperature       float32
	Ollama            OllamaConfig
	VLLM              VLLMConfig
	OpenAI            OpenAIConfig
	Anthropic         AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// EmbeddingConfig selects the embedding provider. An empty Provider leaves
// embeddings unconfigured; the pipeline then skips that step.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	Dimensions int
	MaxChars   int
	// OpenAI and Ollama credentials and endpoints are shared with AIConfig.
}

// StorageConfig points at an S3-compatible bucket. BaseURL is the service
// endpoint including scheme.
type StorageConfig struct {
	BaseURL        string
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	SignedURLTTL   time.Duration
	MaxObjectBytes int64
}

type PipelineConfig struct {
	Workers       int
	TaskDelay     time.Duration
	LeaseDuration time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
}

type SearchConfig struct {
	VectorThreshold float64
	ElementScanCap  int
	StrategyTimeout time.Duration
	DefaultLimit    int
	MaxLimit        int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether lifecycle events should be published.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type OCRConfig struct {
	BaseURL     string
	MaxSessions int
	Language    string
	Timeout     time.Duration
}

// Enabled reports whether an OCR service is configured.
func (o OCRConfig) Enabled() bool {
	return o.BaseURL != ""
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

var validEmbeddingProviders = map[string]bool{
	"":       true,
	"openai": true,
	"ollama": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SHOTSEARCH_PORT", 8080),
			Env:  envString("SHOTSEARCH_ENV", "development"),

			RequestsPerMinute: envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:          os.Getenv("VISION_PROVIDER"),
			InferenceTimeout:  envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			RateLimitPerSec:   envFloat("AI_RATE_LIMIT_PER_SEC", 5),
			MaxImageDimension: envInt("VISION_MAX_IMAGE_DIMENSION", 2048),
			CostPerAnalysis:   envFloat("VISION_COST_PER_ANALYSIS", 0.003),
			Temperature:       float32(envFloat("VISION_TEMPERATURE", 0.3)),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llava"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   os.Getenv("EMBEDDING_PROVIDER"),
			Model:      envString("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions: envInt("EMBEDDING_DIMENSIONS", 1536),
			MaxChars:   envInt("EMBEDDING_MAX_CHARS", 8000),
		},
		Storage: StorageConfig{
			BaseURL:        os.Getenv("STORAGE_BASE_URL"),
			Bucket:         envString("STORAGE_BUCKET", "screenshots"),
			Region:         envString("STORAGE_REGION", "us-east-1"),
			AccessKey:      os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:      os.Getenv("STORAGE_SECRET_KEY"),
			SignedURLTTL:   envDurationSecs("STORAGE_SIGNED_URL_TTL", time.Hour),
			MaxObjectBytes: int64(envInt("STORAGE_MAX_OBJECT_BYTES", 20<<20)),
		},
		Pipeline: PipelineConfig{
			Workers:       envInt("PIPELINE_WORKERS", 4),
			TaskDelay:     envDuration("PIPELINE_TASK_DELAY", time.Second),
			LeaseDuration: envDuration("PIPELINE_LEASE_DURATION", 5*time.Minute),
			SweepInterval: envDuration("PIPELINE_SWEEP_INTERVAL", 30*time.Second),
			MaxAttempts:   envInt("PIPELINE_MAX_ATTEMPTS", 3),
		},
		Search: SearchConfig{
			VectorThreshold: envFloat("SEARCH_VECTOR_THRESHOLD", 0.7),
			ElementScanCap:  envInt("SEARCH_ELEMENT_SCAN_CAP", 100),
			StrategyTimeout: envDuration("SEARCH_STRATEGY_TIMEOUT", 10*time.Second),
			DefaultLimit:    envInt("SEARCH_DEFAULT_LIMIT", 5),
			MaxLimit:        envInt("SEARCH_MAX_LIMIT", 50),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", "screenshot-events"),
		},
		OCR: OCRConfig{
			BaseURL:     os.Getenv("OCR_BASE_URL"),
			MaxSessions: envInt("OCR_MAX_SESSIONS", 2),
			Language:    envString("OCR_LANGUAGE", "eng"),
			Timeout:     envDurationSecs("OCR_TIMEOUT_SECS", 120*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.BaseURL == "" {
		return fmt.Errorf("STORAGE_BASE_URL is required")
	}
	if !isHTTPURL(c.Storage.BaseURL) {
		return fmt.Errorf("STORAGE_BASE_URL must start with http:// or https://, got %q", c.Storage.BaseURL)
	}
	if c.Storage.AccessKey == "" {
		return fmt.Errorf("STORAGE_ACCESS_KEY is required")
	}
	if c.Storage.SecretKey == "" {
		return fmt.Errorf("STORAGE_SECRET_KEY is required")
	}
	// S3 caps presigned URLs at seven days.
	if c.Storage.SignedURLTTL < time.Second || c.Storage.SignedURLTTL > 7*24*time.Hour {
		return fmt.Errorf("STORAGE_SIGNED_URL_TTL must be between 1 second and 7 days, got %s", c.Storage.SignedURLTTL)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("VISION_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("VISION_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when VISION_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when VISION_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when VISION_PROVIDER is vllm")
	}
	if c.AI.RateLimitPerSec <= 0 {
		return fmt.Errorf("AI_RATE_LIMIT_PER_SEC must be positive, got %v", c.AI.RateLimitPerSec)
	}

	if !validEmbeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("EMBEDDING_PROVIDER must be empty, openai or ollama; got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER is openai")
	}
	if c.Embedding.MaxChars <= 0 {
		return fmt.Errorf("EMBEDDING_MAX_CHARS must be positive, got %d", c.Embedding.MaxChars)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.LeaseDuration <= 0 {
		return fmt.Errorf("PIPELINE_LEASE_DURATION must be positive")
	}
	if c.Pipeline.SweepInterval <= 0 {
		return fmt.Errorf("PIPELINE_SWEEP_INTERVAL must be positive")
	}
	// A task must finish inside its lease or the sweeper hands it to a second worker.
	if c.AI.InferenceTimeout >= c.Pipeline.LeaseDuration {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT_SECS (%s) must be shorter than PIPELINE_LEASE_DURATION (%s)",
			c.AI.InferenceTimeout, c.Pipeline.LeaseDuration)
	}

	if c.Search.VectorThreshold < 0 || c.Search.VectorThreshold > 1 {
		return fmt.Errorf("SEARCH_VECTOR_THRESHOLD must be between 0 and 1, got %v", c.Search.VectorThreshold)
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("SEARCH_DEFAULT_LIMIT must be between 1 and SEARCH_MAX_LIMIT (%d), got %d",
			c.Search.MaxLimit, c.Search.DefaultLimit)
	}

	if c.OCR.Enabled() && !isHTTPURL(c.OCR.BaseURL) {
		return fmt.Errorf("OCR_BASE_URL must start with http:// or https://, got %q", c.OCR.BaseURL)
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
