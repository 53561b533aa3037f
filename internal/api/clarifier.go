package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/ShayCichocki/ensemble/internal/clarify"
)

const clarifierSystemPrompt = `You decide whether a request is clear enough to plan work for a team of agents.
Reply with only a JSON object: {"should_clarify": bool, "question": string}.
Ask only when the request cannot be acted on without more information.
Keep the question to one sentence.`

// Clarifier asks Claude whether a message needs clarification.
type Clarifier struct {
	client *Client
}

// NewClarifier creates a Clarifier.
func NewClarifier(client *Client) *Clarifier {
	return &Clarifier{client: client}
}

// Clarify implements clarify.Clarifier.
func (c *Clarifier) Clarify(ctx context.Context, message string, history []clarify.Turn) (clarify.Decision, error) {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Earlier in this conversation:\n")
		for _, h := range history {
			fmt.Fprintf(&sb, "- user: %s\n", h.UserMessage)
			if h.Summary != "" {
				fmt.Fprintf(&sb, "  outcome: %s\n", firstLine(h.Summary))
			}
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Request: %s", message)

	comp, err := c.client.Complete(ctx, clarifierSystemPrompt, sb.String(), 256)
	if err != nil {
		return clarify.Decision{}, err
	}
	return parseDecision(comp.Text)
}

// parseDecision decodes the first JSON object in text, repairing it if needed.
func parseDecision(text string) (clarify.Decision, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return clarify.Decision{}, fmt.Errorf("clarifier reply has no JSON object: %q", text)
	}
	raw := text[start:]
	if end := strings.LastIndexByte(raw, '}'); end >= 0 {
		raw = raw[:end+1]
	}

	var d clarify.Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return clarify.Decision{}, fmt.Errorf("decode clarifier reply: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &d); err != nil {
			return clarify.Decision{}, fmt.Errorf("decode clarifier reply: %w", err)
		}
	}
	if d.ShouldClarify && strings.TrimSpace(d.Question) == "" {
		d.Question = "Could you say more about what you need?"
	}
	if !d.ShouldClarify {
		d.Question = ""
	}
	return d, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Compile-time verification that Clarifier implements clarify.Clarifier.
var _ clarify.Clarifier = (*Clarifier)(nil)
