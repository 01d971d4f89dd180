// Package model defines the core domain types shared across the
// classification pipeline: candidates, results, queue messages, request
// statuses, and extracted entities.
package model

import "time"

// ActionCode identifies one e-commerce intent from the closed taxonomy
// (e.g. "ADD_TO_CART"). The set of valid codes is loaded at startup and
// immutable for the lifetime of a config variant.
type ActionCode string

// Well-known codes referenced by the engine's fallback paths.
const (
	CodeSearchProduct ActionCode = "SEARCH_PRODUCT"
	CodeUnclear       ActionCode = "UNCLEAR"
)

// Source records which stage of the pipeline produced a candidate or result.
type Source string

const (
	SourceKeyword   Source = "keyword"
	SourceEmbedding Source = "embedding"
	SourceBlended   Source = "blended"
	SourceFallback  Source = "fallback"
	SourceLLM       Source = "llm"
	SourceCache     Source = "cache"
)

// MatchType describes how a keyword pattern matched.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchRegex   MatchType = "regex"
	MatchPartial MatchType = "partial"
)

// matchTypeRank orders match types for tie-breaking: exact > regex > partial.
var matchTypeRank = map[MatchType]int{
	MatchExact:   3,
	MatchRegex:   2,
	MatchPartial: 1,
}

// Rank returns the tie-breaking rank of a match type (higher wins).
func (m MatchType) Rank() int {
	return matchTypeRank[m]
}

// ComponentScores carries the per-matcher scores that went into a blend.
type ComponentScores struct {
	Keyword   float64 `json:"keyword"`
	Embedding float64 `json:"embedding"`
}

// Candidate is an intermediate scoring record produced by the matchers
// and the blender. Score is always in [0, 1].
type Candidate struct {
	ActionCode  ActionCode       `json:"action_code"`
	Score       float64          `json:"score"`
	Source      Source           `json:"source"`
	MatchType   MatchType        `json:"match_type,omitempty"`
	MatchedText string           `json:"matched_text,omitempty"`
	Components  *ComponentScores `json:"component_scores,omitempty"`
}

// ResultStatus is the terminal status attached to a ClassificationResult.
type ResultStatus string

const (
	StatusConfidentKeyword  ResultStatus = "CONFIDENT_KEYWORD"
	StatusConfidentBlended  ResultStatus = "CONFIDENT_BLENDED"
	StatusQueuedForLLM      ResultStatus = "QUEUED_FOR_LLM"
	StatusLLMClassification ResultStatus = "LLM_CLASSIFICATION"
	StatusFallbackEmbedding ResultStatus = "FALLBACK_EMBEDDING"
	StatusFallbackKeyword   ResultStatus = "FALLBACK_KEYWORD"
	StatusFallbackGeneric   ResultStatus = "FALLBACK_GENERIC"
	StatusUnclear           ResultStatus = "UNCLEAR"
)

// IntentScore is the compact intent summary embedded in API responses.
type IntentScore struct {
	ID     ActionCode `json:"id"`
	Score  float64    `json:"score"`
	Source Source     `json:"source"`
}

// ClassificationResult is the final output for a single request.
type ClassificationResult struct {
	ActionCode      ActionCode   `json:"action_code"`
	Confidence      float64      `json:"confidence_score"`
	MatchedKeywords []string     `json:"matched_keywords"`
	OriginalText    string       `json:"original_text"`
	Status          ResultStatus `json:"status"`
	Entities        *Entities    `json:"entities"`
	Intent          *IntentScore `json:"intent,omitempty"`
	RequestID       string       `json:"request_id,omitempty"`

	// Fallback metadata, populated only on degraded paths.
	FallbackSource        string   `json:"fallback_source,omitempty"`
	RequiresClarification bool     `json:"requires_clarification,omitempty"`
	ClarifyingQuestions   []string `json:"clarifying_questions,omitempty"`
	RetryRecommended      bool     `json:"retry_recommended,omitempty"`
	Suggestions           []string `json:"suggestions,omitempty"`
}

// PriceRange is an extracted price constraint. When both Min and Max are
// present, Min <= Max; neither is negative.
type PriceRange struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// Entities holds structured fields extracted from an utterance.
type Entities struct {
	ProductType string      `json:"product_type,omitempty"`
	Category    string      `json:"category,omitempty"`
	Brand       string      `json:"brand,omitempty"`
	Color       string      `json:"color,omitempty"`
	Size        string      `json:"size,omitempty"`
	PriceRange  *PriceRange `json:"price_range,omitempty"`
}

// Empty reports whether no entity field carries a value.
func (e *Entities) Empty() bool {
	if e == nil {
		return true
	}
	return e.ProductType == "" && e.Category == "" && e.Brand == "" &&
		e.Color == "" && e.Size == "" && e.PriceRange == nil
}

// Priority orders queue messages. Lower numbers drain first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 5
	PriorityLow    Priority = 10
)

// QueuePayload is the work description carried by a queue message.
type QueuePayload struct {
	Query           string         `json:"query"`
	RuleBasedHint   *Candidate     `json:"rule_based_hint,omitempty"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`
}

// QueueMessage is one escalation request flowing through the priority queue.
type QueueMessage struct {
	RequestID    string       `json:"request_id"`
	CreatedAt    time.Time    `json:"created_at"`
	Priority     Priority     `json:"priority"`
	Payload      QueuePayload `json:"payload"`
	AttemptCount int          `json:"attempt_count"`
	LastError    string       `json:"last_error,omitempty"`
}

// RequestState is the lifecycle state of an escalated request.
type RequestState string

const (
	StateQueued     RequestState = "QUEUED"
	StateProcessing RequestState = "PROCESSING"
	StateCompleted  RequestState = "COMPLETED"
	StateFailed     RequestState = "FAILED"
)

// stateRank encodes the allowed progression QUEUED -> PROCESSING -> terminal.
var stateRank = map[RequestState]int{
	StateQueued:     1,
	StateProcessing: 2,
	StateCompleted:  3,
	StateFailed:     3,
}

// Rank returns the monotonic ordering rank of a state.
func (s RequestState) Rank() int {
	return stateRank[s]
}

// Usage records the token and cost accounting for one LLM call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// RequestStatus is the polled lifecycle record for an escalated request.
type RequestStatus struct {
	RequestID string                `json:"request_id"`
	State     RequestState          `json:"state"`
	Message   string                `json:"message,omitempty"`
	Result    *ClassificationResult `json:"result,omitempty"`
	Usage     *Usage                `json:"usage,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}
