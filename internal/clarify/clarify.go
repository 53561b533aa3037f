// Package clarify decides whether a user message is too ambiguous to plan
// against and, if so, what to ask.
package clarify

import (
	"context"
	"strings"
)

// Turn is one prior exchange in a session.
type Turn struct {
	UserMessage string `json:"user_message"`
	Summary     string `json:"summary,omitempty"`
}

// Decision is the outcome of a clarification check.
type Decision struct {
	ShouldClarify bool   `json:"should_clarify"`
	Question      string `json:"question,omitempty"`
}

// Clarifier decides whether to ask before planning.
// Implementations must not mutate shared state.
type Clarifier interface {
	Clarify(ctx context.Context, message string, history []Turn) (Decision, error)
}

// DefaultMinWords is the shortest message planned without asking.
const DefaultMinWords = 3

// vagueReferences are messages that only point at something unstated.
var vagueReferences = map[string]bool{
	"it":        true,
	"this":      true,
	"that":      true,
	"do it":     true,
	"fix it":    true,
	"do that":   true,
	"do this":   true,
	"fix this":  true,
	"fix that":  true,
	"same":      true,
	"again":     true,
	"continue":  true,
	"go ahead":  true,
	"the thing": true,
}

// HeuristicClarifier asks for clarification on empty, very short, or
// purely referential messages.
type HeuristicClarifier struct {
	// MinWords is the minimum word count; <= 0 uses DefaultMinWords.
	MinWords int
}

// NewHeuristicClarifier creates a HeuristicClarifier.
func NewHeuristicClarifier(minWords int) *HeuristicClarifier {
	return &HeuristicClarifier{MinWords: minWords}
}

// Clarify implements Clarifier.
func (h *HeuristicClarifier) Clarify(_ context.Context, message string, history []Turn) (Decision, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Decision{ShouldClarify: true, Question: "What would you like the agents to work on?"}, nil
	}

	normalized := strings.ToLower(strings.Trim(trimmed, ".!?"))
	if vagueReferences[normalized] {
		if len(history) == 0 {
			return Decision{
				ShouldClarify: true,
				Question:      "There is nothing earlier in this session to refer to. What exactly should be done?",
			}, nil
		}
		// Refers back to a previous turn, which is enough context.
		return Decision{}, nil
	}

	minWords := h.MinWords
	if minWords <= 0 {
		minWords = DefaultMinWords
	}
	if words := len(strings.Fields(trimmed)); words < minWords && len(history) == 0 {
		return Decision{
			ShouldClarify: true,
			Question:      "Could you describe the request in a bit more detail, including the outcome you expect?",
		}, nil
	}

	return Decision{}, nil
}

// Compile-time verification that HeuristicClarifier implements Clarifier.
var _ Clarifier = (*HeuristicClarifier)(nil)
