package classify

import (
	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// Verdict is the confidence gate's decision for one candidate list.
type Verdict string

const (
	// VerdictConfident means the top candidate is trusted as-is.
	VerdictConfident Verdict = "confident"
	// VerdictAmbiguous means the top candidate clears the confidence bar
	// but the runner-up is too close to call.
	VerdictAmbiguous Verdict = "ambiguous"
	// VerdictUnclear means no candidate clears the confidence bar.
	VerdictUnclear Verdict = "unclear"
)

// Decide gates a blended candidate list (sorted best first) against
// the variant's thresholds.
func Decide(candidates []model.Candidate, v config.Variant) Verdict {
	if len(candidates) == 0 || candidates[0].Score < v.ConfidenceThreshold {
		return VerdictUnclear
	}
	if len(candidates) == 1 {
		return VerdictConfident
	}
	if candidates[0].Score-candidates[1].Score >= v.GapThreshold {
		return VerdictConfident
	}
	return VerdictAmbiguous
}
