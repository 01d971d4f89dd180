// Package llm classifies ambiguous queries with a chat-completion
// model. It builds versioned few-shot prompts, parses the model's
// strict-JSON verdict, enforces a per-request cost ceiling, and retries
// transient failures with jittered exponential backoff.
package llm

import (
	"context"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// Request describes one classification job for the model.
type Request struct {
	Query string
	Model string // chat model name, e.g. "gpt-4o-mini"

	// RuleHint is the best rule-based candidate, included in the prompt
	// so the model can confirm or overrule it.
	RuleHint *model.Candidate

	// Context carries conversational hints (previous intent, page, ...).
	Context map[string]any
}

// Classification is the model's parsed verdict.
type Classification struct {
	ActionCode model.ActionCode `json:"action_code"`
	Confidence float64          `json:"confidence"`
	Entities   *model.Entities  `json:"entities,omitempty"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

// Client classifies queries. Implementations must return errors wrapped
// with a model.ErrorKind so callers can decide whether to retry.
type Client interface {
	Classify(ctx context.Context, req Request) (*Classification, *model.Usage, error)
}
