package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/internal/cache"
	"github.com/indpro-interns-oct-25/chatNShop/internal/classify"
	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/costs"
	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/match"
	"github.com/indpro-interns-oct-25/chatNShop/internal/queue"
	"github.com/indpro-interns-oct-25/chatNShop/internal/semindex"
	"github.com/indpro-interns-oct-25/chatNShop/internal/status"
)

// Server is the classification HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Status, Cache, Queue, Tracker, Detector, Index, Embedding.
type ServerConfig struct {
	// Required dependencies.
	Engine  *classify.Engine
	Manager *config.Manager
	Store   kv.Store
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	Status    *status.Store
	Cache     *cache.Cache
	Queue     *queue.Queue
	Tracker   *costs.Tracker
	Detector  *costs.SpikeDetector
	Index     semindex.Searcher
	Embedding *match.EmbeddingMatcher

	// Degraded marks that the Redis-backed layers run on the in-memory
	// fallback store.
	Degraded bool

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		Status:              cfg.Status,
		Cache:               cfg.Cache,
		Queue:               cfg.Queue,
		Tracker:             cfg.Tracker,
		Detector:            cfg.Detector,
		Manager:             cfg.Manager,
		Store:               cfg.Store,
		Index:               cfg.Index,
		Embedding:           cfg.Embedding,
		Degraded:            cfg.Degraded,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Classification.
	mux.HandleFunc("POST /v1/classify", h.HandleClassify)
	mux.HandleFunc("GET /v1/status/{request_id}", h.HandleStatus)

	// Cache administration.
	mux.HandleFunc("GET /v1/cache/stats", h.HandleCacheStats)
	mux.HandleFunc("POST /v1/cache/invalidate", h.HandleCacheInvalidate)
	mux.HandleFunc("POST /v1/cache/clear", h.HandleCacheClear)

	// Cost and queue introspection.
	mux.HandleFunc("GET /v1/costs/summary", h.HandleCostsSummary)
	mux.HandleFunc("GET /v1/queue/stats", h.HandleQueueStats)
	mux.HandleFunc("GET /v1/queue/dead", h.HandleQueueDead)

	// Config variants.
	mux.HandleFunc("POST /v1/config/variant", h.HandleSwitchVariant)
	mux.HandleFunc("GET /v1/config/variants", h.HandleListVariants)

	// Health (no middleware requirements beyond the shared chain).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
