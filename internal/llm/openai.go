package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"

	// maxCompletionTokens caps the reply. The verdict JSON is small;
	// anything longer is the model rambling on our dime.
	maxCompletionTokens = 300
)

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	maxCost    float64 // per-request dollar ceiling, 0 disables
	valid      map[model.ActionCode]bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client. codes is the closed set of action
// codes the taxonomy accepts; replies outside it collapse to UNCLEAR.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration, maxCost float64, codes []model.ActionCode, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	valid := make(map[model.ActionCode]bool, len(codes))
	for _, c := range codes {
		valid[c] = true
	}
	return &OpenAIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		maxCost:    maxCost,
		valid:      valid,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Classify sends one classification request and parses the verdict.
func (c *OpenAIClient) Classify(ctx context.Context, req Request) (*Classification, *model.Usage, error) {
	codes := make([]model.ActionCode, 0, len(c.valid))
	for code := range c.valid {
		codes = append(codes, code)
	}
	messages := buildMessages(req, codes)

	var promptText strings.Builder
	for _, m := range messages {
		promptText.WriteString(m.Content)
	}
	if err := CheckBudget(req.Model, promptText.String(), maxCompletionTokens, c.maxCost); err != nil {
		return nil, nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model:          req.Model,
		Messages:       messages,
		Temperature:    0,
		MaxTokens:      maxCompletionTokens,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, nil, model.Ef(model.ErrKindUnknown, "llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, nil, model.Ef(model.ErrKindUnknown, "llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, nil, model.Ef(model.ErrKindTimeout, "llm: request timed out: %w", err)
		}
		return nil, nil, model.Ef(model.ErrKindUnknown, "llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, model.Ef(model.ErrKindUnknown, "llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, classifyHTTPError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, nil, model.Ef(model.ErrKindServerError, "llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, nil, model.Ef(model.ErrKindServerError, "llm: response has no choices")
	}

	verdict, err := parseClassification(parsed.Choices[0].Message.Content, c.valid)
	if err != nil {
		return nil, nil, model.E(model.ErrKindServerError, err)
	}

	usage := &model.Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Cost:             Cost(req.Model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
	}
	c.logger.Debug("llm: classified",
		"model", req.Model,
		"prompt_version", PromptVersion,
		"action_code", verdict.ActionCode,
		"confidence", verdict.Confidence,
		"cost", usage.Cost,
		"duration", time.Since(start))
	return verdict, usage, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyHTTPError maps an API error response to an ErrorKind.
func classifyHTTPError(status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return model.Ef(model.ErrKindRateLimit, "llm: rate limited (429): %s", snippet)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.Ef(model.ErrKindAuthError, "llm: auth failed (%d): %s", status, snippet)
	case status >= 500:
		return model.Ef(model.ErrKindServerError, "llm: server error (%d): %s", status, snippet)
	case status == http.StatusBadRequest && strings.Contains(snippet, "context_length"):
		return model.Ef(model.ErrKindContextLength, "llm: prompt too long: %s", snippet)
	default:
		return model.Ef(model.ErrKindUnknown, "llm: unexpected status %d: %s", status, snippet)
	}
}
