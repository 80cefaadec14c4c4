package provider

import (
	"encoding/json"
	"log"

	"github.com/linkcaring/milestone-analyzer/internal/apperr"
	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// rawModelResponse mirrors what the model actually returns. Some model
// revisions attach a free-text failure reason per validator and occasionally
// report results as non-boolean values despite the declared schema.
type rawModelResponse struct {
	Validators []struct {
		Description string      `json:"description"`
		Result      interface{} `json:"result"`
	} `json:"validators"`
	Confidence *float64 `json:"confidence"`
}

// SanitizeResponse parses the model's JSON body and normalizes it to the
// internal shape: exactly {description, result}[] plus confidence. Extra
// fields such as free-text failure reasons are dropped. Confidence is
// clamped to [0,1]; out-of-range values are logged.
func SanitizeResponse(body []byte) (models.ModelResponse, error) {
	var raw rawModelResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.ModelResponse{}, apperr.ErrModelResponseParse.WithCause(err)
	}
	if raw.Confidence == nil || raw.Validators == nil {
		return models.ModelResponse{}, apperr.ErrModelResponseParse
	}

	validators := make([]models.ValidatorCheck, 0, len(raw.Validators))
	for _, v := range raw.Validators {
		result, _ := v.Result.(bool)
		validators = append(validators, models.ValidatorCheck{
			Description: v.Description,
			Result:      result,
		})
	}

	confidence := *raw.Confidence
	if confidence < 0 || confidence > 1 {
		log.Printf("[Provider] WARNING: model confidence %v out of range, clamping", confidence)
		if confidence < 0 {
			confidence = 0
		} else {
			confidence = 1
		}
	}

	return models.ModelResponse{Validators: validators, Confidence: confidence}, nil
}
