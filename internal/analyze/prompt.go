// Package analyze runs one video analysis end to end: prompt composition,
// model invocation, policy evaluation, and audit recording.
package analyze

import (
	"fmt"
	"strings"

	"github.com/linkcaring/milestone-analyzer/internal/models"
)

// BuildPrompt composes the model input from the stored system prompt, the
// milestone name, and the milestone's validator descriptions, in that order.
// Sections are separated by a blank line; empty sections are omitted.
// Deterministic, no side effects.
func BuildPrompt(basePrompt, milestoneName string, validators []models.Validator) string {
	var bullets []string
	for _, v := range validators {
		bullets = append(bullets, "- "+v.Description)
	}

	sections := []string{
		basePrompt,
		fmt.Sprintf("Milestone: %s", milestoneName),
		fmt.Sprintf("Validators:\n%s", strings.Join(bullets, "\n")),
	}

	var kept []string
	for _, s := range sections {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
