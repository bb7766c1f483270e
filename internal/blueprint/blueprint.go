// Package blueprint holds the generated workflow blueprint and the
// fingerprint-keyed cache that avoids regenerating it.
package blueprint

import "strings"

// Step is one recommended automation step.
type Step struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tool        string `json:"tool,omitempty"`
}

// Blueprint is the personalized workflow-automation recommendation.
type Blueprint struct {
	Title            string   `json:"title"`
	Summary          string   `json:"summary"`
	Steps            []Step   `json:"steps,omitempty"`
	RecommendedTools []string `json:"recommended_tools,omitempty"`
	HoursSavedWeekly float64  `json:"hours_saved_weekly,omitempty"`
	// Questions are clarifying questions generated alongside the blueprint,
	// so a cached blueprint can open a conversation without another call.
	Questions []string `json:"clarifying_questions,omitempty"`
	// Markdown carries the provider's free-form answer when it did not
	// return structured JSON.
	Markdown string `json:"markdown,omitempty"`
}

// Empty reports whether the blueprint carries no usable content.
func (b *Blueprint) Empty() bool {
	return b == nil || (strings.TrimSpace(b.Summary) == "" && len(b.Steps) == 0 && strings.TrimSpace(b.Markdown) == "")
}
