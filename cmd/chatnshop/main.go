package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/indpro-interns-oct-25/chatNShop/internal/alerts"
	"github.com/indpro-interns-oct-25/chatNShop/internal/cache"
	"github.com/indpro-interns-oct-25/chatNShop/internal/classify"
	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/costs"
	"github.com/indpro-interns-oct-25/chatNShop/internal/embedding"
	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/llm"
	"github.com/indpro-interns-oct-25/chatNShop/internal/match"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/internal/queue"
	"github.com/indpro-interns-oct-25/chatNShop/internal/semindex"
	"github.com/indpro-interns-oct-25/chatNShop/internal/server"
	"github.com/indpro-interns-oct-25/chatNShop/internal/status"
	"github.com/indpro-interns-oct-25/chatNShop/internal/taxonomy"
	"github.com/indpro-interns-oct-25/chatNShop/internal/telemetry"
	"github.com/indpro-interns-oct-25/chatNShop/internal/worker"
)

// version is set at build time via -ldflags.
var version = "dev"

// errDependencyUnavailable marks startup failures caused by a configured
// external dependency that cannot be reached, as opposed to bad
// configuration. The process exits 2 for these and 1 for everything else.
var errDependencyUnavailable = errors.New("dependency unavailable")

func depUnavailable(err error) error {
	return fmt.Errorf("%w: %w", errDependencyUnavailable, err)
}

// exitCode maps a run() error to the process exit code: 0 on success,
// 2 when a required dependency was unreachable, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errDependencyUnavailable):
		return 2
	default:
		return 1
	}
}

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("CHATNS_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return exitCode(err)
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("chatnshop starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Redis, or the in-process store when Redis is down. Degraded mode
	// keeps the service answering from keywords alone.
	store, degraded := kv.Connect(ctx, cfg.RedisURL, logger)
	defer func() { _ = store.Close() }()

	// Load the intent taxonomy and keyword dictionaries.
	intents, err := taxonomy.LoadIntents(cfg.IntentsDir, logger)
	if err != nil {
		return fmt.Errorf("load intents: %w", err)
	}
	keywords, err := taxonomy.LoadKeywords(cfg.KeywordsDir, logger)
	if err != nil {
		return fmt.Errorf("load keywords: %w", err)
	}
	slog.Info("taxonomy loaded", "intents", len(intents), "keywords", len(keywords))

	// Hot-reloadable rules config.
	manager, err := config.NewManager(cfg.RulesPath, cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("rules config: %w", err)
	}
	if err := manager.Watch(ctx); err != nil {
		slog.Warn("rules hot-reload disabled", "error", err)
	}

	norm := normalize.New(1024)
	provider := newEmbeddingProvider(cfg, logger)
	embMatcher := match.NewEmbeddingMatcher(provider, intents, norm, logger)
	kwMatcher := match.NewKeywordMatcher(keywords, norm, logger)

	// Optional Qdrant-backed semantic cache tier.
	var index semindex.Searcher
	var qdrantIndex *semindex.QdrantIndex
	if cfg.QdrantURL != "" {
		qdrantIndex, err = semindex.NewQdrantIndex(semindex.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, logger)
		if err != nil {
			return depUnavailable(fmt.Errorf("qdrant: %w", err))
		}
		defer func() { _ = qdrantIndex.Close() }()
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return depUnavailable(fmt.Errorf("qdrant collection: %w", err))
		}
		index = qdrantIndex
	} else {
		slog.Info("qdrant disabled, cache runs exact-tier only")
	}

	responseCache := cache.New(store, index, embMatcher, norm, cache.Config{
		TTL:                 cfg.CacheTTL,
		MaxSize:             cfg.CacheMaxSize,
		SimilarityThreshold: cfg.CacheSimilarityThreshold,
		FallbackThreshold:   cfg.CacheFallbackThreshold,
		MinConfidence:       cfg.CacheMinConfidence,
		MinQueryTokens:      cfg.CacheMinQueryTokens,
	}, degraded, logger)

	escalationQueue := queue.New(store, queue.Config{
		MaxRetries:       cfg.MaxRetries,
		RetryDelay:       cfg.RetryDelay,
		MessageTTL:       cfg.MessageTTL,
		DequeueTimeout:   cfg.DequeueTimeout,
		VisibilityWindow: cfg.VisibilityWindow,
	}, logger)
	statusStore := status.New(store, cfg.StatusTTL, logger)

	// Cost guards: per-call rate limit, usage ledger, spike detection.
	tracker, err := costs.NewTracker(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("cost tracker: %w", err)
	}
	defer func() { _ = tracker.Close() }()
	limiter := costs.NewRateLimiter(cfg.RateLimitMaxCalls, cfg.RateLimitWindow)

	var sink alerts.Sink
	if cfg.EscalationWebhookURL != "" {
		sink = alerts.NewWebhookSink(cfg.EscalationWebhookURL)
	} else {
		sink = &alerts.LogSink{Logger: logger}
	}
	alertManager := alerts.NewManager(sink, logger)

	detector := costs.NewSpikeDetector(tracker, cfg.SpikeFactor)
	go costs.NewScheduler(detector, alertManager, cfg.SpikeCheckInterval, logger).Run(ctx)

	// LLM client with retries, gated by the rate limiter, recording
	// usage into the ledger.
	llmClient := llm.NewResilient(
		llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, cfg.MaxCostPerRequest, actionCodes(intents, keywords), logger),
		limiter,
		tracker,
		llm.ResilientConfig{},
		logger,
	)

	ambiguityLog, err := classify.OpenAmbiguityLog(cfg.DataDir)
	if err != nil {
		slog.Warn("ambiguity log disabled", "error", err)
	}
	defer func() {
		if ambiguityLog != nil {
			_ = ambiguityLog.Close()
		}
	}()

	fallback := classify.NewFallbackManager(responseCache, logger)
	engine := classify.NewEngine(classify.EngineDeps{
		Keyword:   kwMatcher,
		Embedding: embMatcher,
		Manager:   manager,
		Cache:     responseCache,
		Queue:     escalationQueue,
		Status:    statusStore,
		Fallback:  fallback,
		Ambiguity: ambiguityLog,
		Logger:    logger,
	})

	pool := worker.New(worker.Deps{
		Queue:    escalationQueue,
		Status:   statusStore,
		Cache:    responseCache,
		Client:   llmClient,
		Manager:  manager,
		Fallback: fallback,
		Alerts:   alertManager,
		Count:    cfg.WorkerCount,
		Logger:   logger,
	})
	pool.Start(ctx)

	srv := server.New(server.ServerConfig{
		Engine:              engine,
		Manager:             manager,
		Store:               store,
		Status:              statusStore,
		Cache:               responseCache,
		Queue:               escalationQueue,
		Tracker:             tracker,
		Detector:            detector,
		Index:               index,
		Embedding:           embMatcher,
		Degraded:            degraded,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Order: (1) stop accepting new HTTP requests and
	// drain in-flight ones (they may still enqueue escalations), (2) let
	// the workers finish their leased messages; unleased ones stay in
	// Redis for the next start.
	slog.Info("chatnshop shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	pool.Drain()

	slog.Info("chatnshop stopped")
	return nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else noop.
// Ollama is preferred: embeddings stay on-premises with no external API costs.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CHATNS_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (embedding stage disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (embedding stage disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable probes the Ollama API with a short timeout.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// actionCodes returns the sorted union of codes known to the taxonomy.
func actionCodes(intents map[model.ActionCode]taxonomy.IntentDefinition, keywords map[model.ActionCode]taxonomy.KeywordEntry) []model.ActionCode {
	seen := map[model.ActionCode]bool{}
	for code := range intents {
		seen[code] = true
	}
	for code := range keywords {
		seen[code] = true
	}
	codes := make([]model.ActionCode, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
