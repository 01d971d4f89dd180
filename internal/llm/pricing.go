package llm

import "github.com/indpro-interns-oct-25/chatNShop/internal/model"

// modelPrice is USD per million tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

// priceTable covers the chat models the rules file may select. Unknown
// models are costed at the most expensive known rate so the budget
// guard fails safe.
var priceTable = map[string]modelPrice{
	"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
	"gpt-4o":        {Input: 2.50, Output: 10.00},
	"gpt-4.1-mini":  {Input: 0.40, Output: 1.60},
	"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},
}

var maxKnownPrice = modelPrice{Input: 2.50, Output: 10.00}

func priceFor(mdl string) modelPrice {
	if p, ok := priceTable[mdl]; ok {
		return p
	}
	return maxKnownPrice
}

// EstimateTokens approximates the token count of English text. The
// rough 4-characters-per-token rule is good enough for a budget guard.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 && len(text) > 0 {
		n = 1
	}
	return n
}

// Cost converts actual token usage into dollars.
func Cost(mdl string, promptTokens, completionTokens int) float64 {
	p := priceFor(mdl)
	return float64(promptTokens)/1e6*p.Input + float64(completionTokens)/1e6*p.Output
}

// EstimateCost predicts the worst-case dollar cost of a request before
// sending it: estimated prompt tokens plus the full completion budget.
func EstimateCost(mdl string, promptText string, maxCompletionTokens int) float64 {
	return Cost(mdl, EstimateTokens(promptText), maxCompletionTokens)
}

// CheckBudget returns a budget_exceeded error when the estimated cost
// crosses the per-request ceiling. A ceiling of zero disables the guard.
func CheckBudget(mdl string, promptText string, maxCompletionTokens int, ceiling float64) error {
	if ceiling <= 0 {
		return nil
	}
	if est := EstimateCost(mdl, promptText, maxCompletionTokens); est > ceiling {
		return model.Ef(model.ErrKindBudgetExceeded,
			"llm: estimated cost $%.6f exceeds per-request ceiling $%.6f", est, ceiling)
	}
	return nil
}
