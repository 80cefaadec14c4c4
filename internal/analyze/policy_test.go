package analyze

import (
	"testing"

	"github.com/linkcaring/milestone-analyzer/internal/models"
)

func checks(results ...bool) []models.ValidatorCheck {
	out := make([]models.ValidatorCheck, len(results))
	for i, r := range results {
		out[i] = models.ValidatorCheck{Description: "check", Result: r}
	}
	return out
}

func TestEvaluatePolicy(t *testing.T) {
	tests := []struct {
		name       string
		validators []models.ValidatorCheck
		confidence float64
		policy     models.PolicyThreshold
		want       bool
	}{
		{"all pass high confidence", checks(true, true, true, true), 0.9, models.PolicyThreshold{MinValidatorsPassed: 80, MinConfidence: 70}, true},
		{"three of four misses 80 percent", checks(true, true, true, false), 0.95, models.PolicyThreshold{MinValidatorsPassed: 80, MinConfidence: 70}, false},
		{"confidence below threshold", checks(true, true), 0.5, models.PolicyThreshold{MinValidatorsPassed: 50, MinConfidence: 70}, false},
		{"both exactly at threshold", checks(true, true, true, false), 0.70, models.PolicyThreshold{MinValidatorsPassed: 75, MinConfidence: 70}, true},
		{"zero validators fails any positive threshold", nil, 0.99, models.PolicyThreshold{MinValidatorsPassed: 1, MinConfidence: 0}, false},
		{"zero validators passes zero thresholds", nil, 0.0, models.PolicyThreshold{MinValidatorsPassed: 0, MinConfidence: 0}, true},
		{"all fail", checks(false, false, false), 0.99, models.PolicyThreshold{MinValidatorsPassed: 1, MinConfidence: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := EvaluatePolicy(models.ModelResponse{
				Validators: tt.validators,
				Confidence: tt.confidence,
			}, tt.policy)
			if decision.Result != tt.want {
				t.Errorf("Result = %v, want %v", decision.Result, tt.want)
			}
			if decision.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want it passed through unchanged", decision.Confidence)
			}
			if len(decision.Validators) != len(tt.validators) {
				t.Errorf("Validators length = %d, want %d", len(decision.Validators), len(tt.validators))
			}
		})
	}
}

func TestEvaluatePolicyMonotonic(t *testing.T) {
	// Raising either threshold can only flip a passing decision to failing,
	// never the other way around.
	response := models.ModelResponse{Validators: checks(true, true, true, false), Confidence: 0.8}

	prev := true
	for min := 0; min <= 100; min++ {
		d := EvaluatePolicy(response, models.PolicyThreshold{MinValidatorsPassed: min, MinConfidence: 0})
		if d.Result && !prev {
			t.Fatalf("decision became passing again at MinValidatorsPassed=%d", min)
		}
		prev = d.Result
	}

	prev = true
	for min := 0; min <= 100; min++ {
		d := EvaluatePolicy(response, models.PolicyThreshold{MinValidatorsPassed: 0, MinConfidence: min})
		if d.Result && !prev {
			t.Fatalf("decision became passing again at MinConfidence=%d", min)
		}
		prev = d.Result
	}
}
