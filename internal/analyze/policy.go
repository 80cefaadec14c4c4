package analyze

import (
	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// EvaluatePolicy converts a model response into a pass/fail decision using
// the policy's threshold pair. Both comparisons are inclusive. A response
// with zero validators counts as 0% passed. Confidence is interpreted as a
// 0-1 fraction; out-of-range values propagate as out-of-range percentages.
// Pure; always returns a decision.
func EvaluatePolicy(response models.ModelResponse, policy models.PolicyThreshold) models.Decision {
	total := len(response.Validators)
	passed := 0
	for _, v := range response.Validators {
		if v.Result {
			passed++
		}
	}

	percentPassed := 0.0
	if total > 0 {
		percentPassed = float64(passed) / float64(total) * 100
	}
	confidencePct := response.Confidence * 100

	result := percentPassed >= float64(policy.MinValidatorsPassed) &&
		confidencePct >= float64(policy.MinConfidence)

	return models.Decision{
		Result:     result,
		Confidence: response.Confidence,
		Validators: response.Validators,
	}
}
