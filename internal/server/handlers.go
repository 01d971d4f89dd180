package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/internal/cache"
	"github.com/indpro-interns-oct-25/chatNShop/internal/classify"
	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/costs"
	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/match"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/queue"
	"github.com/indpro-interns-oct-25/chatNShop/internal/semindex"
	"github.com/indpro-interns-oct-25/chatNShop/internal/status"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              *classify.Engine
	statusStore         *status.Store
	cache               *cache.Cache
	queue               *queue.Queue
	tracker             *costs.Tracker
	detector            *costs.SpikeDetector
	manager             *config.Manager
	store               kv.Store
	index               semindex.Searcher
	embedding           *match.EmbeddingMatcher
	degraded            bool
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Status, Cache, Queue, Tracker, Detector, Index, Embedding.
type HandlersDeps struct {
	Engine              *classify.Engine
	Status              *status.Store
	Cache               *cache.Cache
	Queue               *queue.Queue
	Tracker             *costs.Tracker
	Detector            *costs.SpikeDetector
	Manager             *config.Manager
	Store               kv.Store
	Index               semindex.Searcher
	Embedding           *match.EmbeddingMatcher
	Degraded            bool
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		engine:              d.Engine,
		statusStore:         d.Status,
		cache:               d.Cache,
		queue:               d.Queue,
		tracker:             d.Tracker,
		detector:            d.Detector,
		manager:             d.Manager,
		store:               d.Store,
		index:               d.Index,
		embedding:           d.Embedding,
		degraded:            d.Degraded,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, target any) error {
	if h.maxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	}
	return decodeJSON(r, target)
}

type classifyRequest struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

type queuedResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// HandleClassify handles POST /v1/classify. Confident and fallback
// results come back synchronously with 200; queries escalated to the
// LLM return 202 with a request ID for polling.
func (h *Handlers) HandleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	res, err := h.engine.Classify(r.Context(), req.Text, req.Context)
	if err != nil {
		if model.KindOf(err) == model.ErrKindInvalidInput {
			writeError(w, r, http.StatusUnprocessableEntity, "invalid_input", err.Error())
			return
		}
		h.logger.Error("classify failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "classification failed")
		return
	}

	if res.Status == model.StatusQueuedForLLM {
		writeJSON(w, http.StatusAccepted, queuedResponse{
			RequestID: res.RequestID,
			Status:    string(model.StateQueued),
			Message:   "query escalated for deeper classification; poll /v1/status/{request_id}",
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleStatus handles GET /v1/status/{request_id}.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.statusStore == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "status tracking disabled")
		return
	}
	requestID := r.PathValue("request_id")
	rec, err := h.statusStore.Get(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "unknown or expired request id")
			return
		}
		h.logger.Error("status lookup failed", "error", err, "request_id", requestID)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    map[string]string `json:"components"`
}

// HandleHealth handles GET /health. Always 200: a degraded service
// still classifies via keywords, so readiness is never binary here.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]string{}
	overall := "ok"

	if h.degraded {
		components["redis"] = "degraded"
		overall = "degraded"
	} else if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			components["redis"] = "down"
			overall = "degraded"
		} else {
			components["redis"] = "ok"
		}
	}

	if h.index != nil {
		if err := h.index.Healthy(ctx); err != nil {
			components["qdrant"] = "down"
			overall = "degraded"
		} else {
			components["qdrant"] = "ok"
		}
	} else {
		components["qdrant"] = "disabled"
	}

	if h.embedding != nil {
		if h.embedding.Healthy() {
			components["embedding"] = "ok"
		} else {
			components["embedding"] = "degraded"
			overall = "degraded"
		}
	} else {
		components["embedding"] = "disabled"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        overall,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Components:    components,
	})
}

// HandleCacheStats handles GET /v1/cache/stats.
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

type invalidateRequest struct {
	Query string `json:"query"`
}

// HandleCacheInvalidate handles POST /v1/cache/invalidate.
func (h *Handlers) HandleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "cache disabled")
		return
	}
	var req invalidateRequest
	if err := h.decode(w, r, &req); err != nil || req.Query == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "body must be {\"query\": \"...\"}")
		return
	}
	if err := h.cache.Invalidate(r.Context(), req.Query); err != nil {
		h.logger.Error("cache invalidate failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "cache invalidate failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// HandleCacheClear handles POST /v1/cache/clear.
func (h *Handlers) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "cache disabled")
		return
	}
	if err := h.cache.Clear(r.Context()); err != nil {
		h.logger.Error("cache clear failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "cache clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type costsSummaryResponse struct {
	costs.Summary
	Spike         bool    `json:"spike"`
	SpikeBaseline float64 `json:"spike_baseline,omitempty"`
}

// HandleCostsSummary handles GET /v1/costs/summary.
func (h *Handlers) HandleCostsSummary(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "cost tracking disabled")
		return
	}
	res := costsSummaryResponse{Summary: h.tracker.Summary()}
	if h.detector != nil {
		spike, _, baseline := h.detector.Check()
		res.Spike = spike
		res.SpikeBaseline = baseline
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleQueueStats handles GET /v1/queue/stats.
func (h *Handlers) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "queue disabled")
		return
	}
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "queue stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleQueueDead handles GET /v1/queue/dead.
func (h *Handlers) HandleQueueDead(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "queue disabled")
		return
	}
	msgs, err := h.queue.DeadLetters(r.Context(), 100)
	if err != nil {
		h.logger.Error("dead letter read failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "dead letter read failed")
		return
	}
	if msgs == nil {
		msgs = []model.QueueMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

type variantRequest struct {
	Variant string `json:"variant"`
}

type variantResponse struct {
	ActiveVariant string   `json:"active_variant"`
	Variants      []string `json:"variants"`
}

// HandleSwitchVariant handles POST /v1/config/variant.
func (h *Handlers) HandleSwitchVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if err := h.decode(w, r, &req); err != nil || req.Variant == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "body must be {\"variant\": \"...\"}")
		return
	}
	if err := h.manager.SwitchVariant(req.Variant); err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown_variant", err.Error())
		return
	}
	h.logger.Info("config variant switched", "variant", req.Variant,
		"request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, variantResponse{
		ActiveVariant: h.manager.Active().Name,
		Variants:      h.manager.Variants(),
	})
}

// HandleListVariants handles GET /v1/config/variants.
func (h *Handlers) HandleListVariants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, variantResponse{
		ActiveVariant: h.manager.Active().Name,
		Variants:      h.manager.Variants(),
	})
}
