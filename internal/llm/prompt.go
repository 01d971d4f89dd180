package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// PromptVersion tags the prompt template in logs and cost records so
// regressions can be traced to a template change.
const PromptVersion = "v2"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const systemTemplate = `You are an intent classifier for an e-commerce shopping assistant.
Classify the user's query into exactly one action code from this list:

%s

Respond with a single JSON object and nothing else:
{"action_code": "<code>", "confidence": <0.0-1.0>, "entities": {"product_type": "", "category": "", "brand": "", "color": "", "size": "", "price_range": {"min": null, "max": null, "currency": ""}}, "reasoning": "<one sentence>"}

Omit entity fields you cannot extract. Use "UNCLEAR" with low confidence
when the query does not fit any code.`

// fewShot anchors the output format. Kept short: every token here is
// paid on every request.
var fewShot = []chatMessage{
	{Role: "user", Content: "add the blue nike runners size 10 to my cart"},
	{Role: "assistant", Content: `{"action_code": "ADD_TO_CART", "confidence": 0.95, "entities": {"product_type": "runners", "brand": "Nike", "color": "blue", "size": "10"}, "reasoning": "Explicit add-to-cart request with product details."}`},
	{Role: "user", Content: "hmm what about that thing from before"},
	{Role: "assistant", Content: `{"action_code": "UNCLEAR", "confidence": 0.2, "reasoning": "No identifiable shopping intent without more context."}`},
}

// buildMessages assembles the chat payload for one request.
func buildMessages(req Request, codes []model.ActionCode) []chatMessage {
	sorted := make([]string, len(codes))
	for i, c := range codes {
		sorted[i] = string(c)
	}
	sort.Strings(sorted)

	msgs := make([]chatMessage, 0, len(fewShot)+2)
	msgs = append(msgs, chatMessage{
		Role:    "system",
		Content: fmt.Sprintf(systemTemplate, "- "+strings.Join(sorted, "\n- ")),
	})
	msgs = append(msgs, fewShot...)

	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(req.Query)
	if req.RuleHint != nil {
		fmt.Fprintf(&b, "\nRule-based suggestion: %s (score %.2f)", req.RuleHint.ActionCode, req.RuleHint.Score)
	}
	if len(req.Context) > 0 {
		if ctx, err := json.Marshal(req.Context); err == nil {
			fmt.Fprintf(&b, "\nSession context: %s", ctx)
		}
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: b.String()})
	return msgs
}

// parseClassification decodes the model's reply, tolerating a fenced
// code block around the JSON. Unknown action codes collapse to UNCLEAR
// and confidence is clamped to [0, 1].
func parseClassification(content string, valid map[model.ActionCode]bool) (*Classification, error) {
	trimmed := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = after
	} else if after, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = after
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	trimmed = strings.TrimSpace(trimmed)

	var c Classification
	if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
		return nil, fmt.Errorf("llm: unparseable response %q: %w", content, err)
	}
	if c.ActionCode == "" {
		return nil, fmt.Errorf("llm: response missing action_code: %q", content)
	}

	if c.ActionCode != model.CodeUnclear && !valid[c.ActionCode] {
		c.Reasoning = fmt.Sprintf("model returned unknown code %q", c.ActionCode)
		c.ActionCode = model.CodeUnclear
		c.Confidence = 0
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	if c.Entities != nil && c.Entities.Empty() {
		c.Entities = nil
	}
	return &c, nil
}
