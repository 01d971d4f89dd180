// Package config loads application configuration from environment
// variables and manages the hot-reloadable classification rules file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration read from the environment.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Store settings.
	RedisURL         string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Rules and data files.
	RulesPath    string // JSON rules file with config variants.
	KeywordsDir  string // Directory of keyword dictionary JSON files.
	IntentsDir   string // Directory of intent definition JSON files.
	DataDir      string // Usage log, ambiguity log, config backups.

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	OllamaURL           string
	OllamaModel         string

	// LLM settings.
	LLMBaseURL        string
	LLMAPIKey         string
	LLMTimeout        time.Duration
	MaxCostPerRequest float64

	// Queue and worker settings.
	WorkerCount      int
	MaxRetries       int
	RetryDelay       time.Duration
	MessageTTL       time.Duration
	DequeueTimeout   time.Duration
	VisibilityWindow time.Duration

	// Cache settings.
	CacheTTL                 time.Duration
	CacheMaxSize             int
	CacheSimilarityThreshold float64
	CacheFallbackThreshold   float64
	CacheMinConfidence       float64
	CacheMinQueryTokens      int

	// Cost guard settings.
	RateLimitMaxCalls    int
	RateLimitWindow      time.Duration
	SpikeFactor          float64
	SpikeCheckInterval   time.Duration
	EscalationWebhookURL string

	// Status store settings.
	StatusTTL time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("CHATNS_PORT", 8080),
		ReadTimeout:         envDuration("CHATNS_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("CHATNS_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes: int64(envInt("CHATNS_MAX_REQUEST_BODY_BYTES", 64*1024)),

		RedisURL:         envStr("REDIS_URL", "redis://localhost:6379/0"),
		QdrantURL:        envStr("QDRANT_URL", ""),
		QdrantAPIKey:     envStr("QDRANT_API_KEY", ""),
		QdrantCollection: envStr("QDRANT_COLLECTION", "chatns_response_cache"),

		RulesPath:   envStr("CHATNS_RULES_PATH", "config/rules.json"),
		KeywordsDir: envStr("CHATNS_KEYWORDS_DIR", "config/keywords"),
		IntentsDir:  envStr("CHATNS_INTENTS_DIR", "config/intents"),
		DataDir:     envStr("CHATNS_DATA_DIR", "data"),

		EmbeddingProvider:   envStr("CHATNS_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("CHATNS_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("CHATNS_EMBEDDING_DIMENSIONS", 384),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "all-minilm"),

		LLMBaseURL:        envStr("CHATNS_LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:         envStr("CHATNS_LLM_API_KEY", ""),
		LLMTimeout:        envDuration("CHATNS_LLM_TIMEOUT", 30*time.Second),
		MaxCostPerRequest: envFloat("CHATNS_MAX_COST_PER_REQUEST", 0.01),

		WorkerCount:      envInt("CHATNS_WORKER_COUNT", 4),
		MaxRetries:       envInt("CHATNS_MAX_RETRIES", 3),
		RetryDelay:       envDuration("CHATNS_RETRY_DELAY", 5*time.Second),
		MessageTTL:       envDuration("CHATNS_MESSAGE_TTL", 24*time.Hour),
		DequeueTimeout:   envDuration("CHATNS_DEQUEUE_TIMEOUT", 5*time.Second),
		VisibilityWindow: envDuration("CHATNS_VISIBILITY_WINDOW", 2*time.Minute),

		CacheTTL:                 envDuration("CHATNS_LLM_CACHE_TTL", 24*time.Hour),
		CacheMaxSize:             envInt("CHATNS_CACHE_MAX_SIZE", 10000),
		CacheSimilarityThreshold: envFloat("CHATNS_LLM_CACHE_SIMILARITY_THRESHOLD", 0.95),
		CacheFallbackThreshold:   envFloat("CHATNS_LLM_CACHE_FALLBACK_THRESHOLD", 0.90),
		CacheMinConfidence:       envFloat("CHATNS_CACHE_MIN_CONFIDENCE", 0.70),
		CacheMinQueryTokens:      envInt("CHATNS_CACHE_MIN_QUERY_TOKENS", 3),

		RateLimitMaxCalls:    envInt("CHATNS_RATE_LIMIT_MAX_CALLS", 60),
		RateLimitWindow:      envDuration("CHATNS_RATE_LIMIT_WINDOW", time.Minute),
		SpikeFactor:          envFloat("CHATNS_SPIKE_FACTOR", 2.0),
		SpikeCheckInterval:   envDuration("CHATNS_SPIKE_CHECK_INTERVAL", 6*time.Hour),
		EscalationWebhookURL: envStr("CHATNS_ESCALATION_WEBHOOK_URL", ""),

		StatusTTL: envDuration("CHATNS_STATUS_TTL", time.Hour),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "chatnshop"),

		LogLevel: envStr("CHATNS_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and plausible.
func (c Config) Validate() error {
	if c.RulesPath == "" {
		return fmt.Errorf("config: CHATNS_RULES_PATH is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: CHATNS_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("config: CHATNS_WORKER_COUNT must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: CHATNS_MAX_RETRIES must not be negative")
	}
	if c.CacheSimilarityThreshold < 0 || c.CacheSimilarityThreshold > 1 {
		return fmt.Errorf("config: CHATNS_LLM_CACHE_SIMILARITY_THRESHOLD must be in [0,1]")
	}
	if c.CacheFallbackThreshold < 0 || c.CacheFallbackThreshold > 1 {
		return fmt.Errorf("config: CHATNS_LLM_CACHE_FALLBACK_THRESHOLD must be in [0,1]")
	}
	if c.MaxCostPerRequest < 0 {
		return fmt.Errorf("config: CHATNS_MAX_COST_PER_REQUEST must not be negative")
	}
	if c.RateLimitMaxCalls <= 0 {
		return fmt.Errorf("config: CHATNS_RATE_LIMIT_MAX_CALLS must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			warnMalformed(key, v, defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			warnMalformed(key, v, defaultVal)
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			warnMalformed(key, v, defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			warnMalformed(key, v, defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func warnMalformed(key, value string, defaultVal any) {
	slog.Warn("config: malformed env value, using default",
		"key", key, "value", value, "default", defaultVal)
}
