package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/internal/planner"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

const drafterSystemPrompt = `You plan work for a team of agents.
Break the request into a small set of tasks. Reply with only a JSON object:
{"rationale": string, "tasks": [{"key": string, "type": string, "title": string,
"description": string, "assigned_to": string, "priority": "high"|"medium"|"low",
"depends_on": [keys of earlier tasks]}]}
Use only the task types and agents listed. Leave assigned_to empty to let the
system choose among capable agents. Dependencies must not form a cycle.`

// Drafter asks Claude for a plan draft.
type Drafter struct {
	client    *Client
	maxTokens int64
}

// NewDrafter creates a Drafter.
func NewDrafter(client *Client) *Drafter {
	return &Drafter{client: client, maxTokens: 2048}
}

// Draft implements planner.Drafter.
func (d *Drafter) Draft(ctx context.Context, intent string, pc planner.PlanContext) (*planner.Draft, error) {
	comp, err := d.client.Complete(ctx, drafterSystemPrompt, draftPrompt(intent, pc), d.maxTokens)
	if err != nil {
		return nil, err
	}
	return planner.ParseDraft(comp.Text)
}

func draftPrompt(intent string, pc planner.PlanContext) string {
	var sb strings.Builder
	sb.WriteString("## Agents\n")
	for _, c := range pc.Capabilities {
		types := make([]string, len(c.TaskTypes))
		for i, t := range c.TaskTypes {
			types[i] = string(t)
		}
		fmt.Fprintf(&sb, "- %s (%s): %s", c.ID, c.Name, strings.Join(types, ", "))
		if len(c.Skills) > 0 {
			fmt.Fprintf(&sb, "; skills: %s", strings.Join(c.Skills, ", "))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n## Task types\n%s, %s, %s, %s, %s\n",
		models.TaskTypeResearch, models.TaskTypeAnalyze, models.TaskTypeDevelop,
		models.TaskTypeSummarize, models.TaskTypeReview)

	if len(pc.History) > 0 {
		sb.WriteString("\n## Conversation so far\n")
		for _, h := range pc.History {
			fmt.Fprintf(&sb, "- user: %s\n", h.UserMessage)
			if h.Summary != "" {
				fmt.Fprintf(&sb, "  outcome: %s\n", firstLine(h.Summary))
			}
		}
	}

	fmt.Fprintf(&sb, "\n## Request\n%s\n", intent)
	return sb.String()
}

// Compile-time verification that Drafter implements planner.Drafter.
var _ planner.Drafter = (*Drafter)(nil)
