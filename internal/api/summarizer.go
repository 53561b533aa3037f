package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

const summarizerSystemPrompt = `You write the final answer to a user's request from the results
of several agents. Merge overlapping points, keep concrete details, and do not
mention the agents or the process.`

// Summarizer merges task results into one answer with Claude.
type Summarizer struct {
	client *Client
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize implements orchestrator.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, intent string, results []models.Result) (string, error) {
	if len(results) == 0 {
		return "", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Request\n%s\n\n## Results\n", intent)
	for _, r := range results {
		fmt.Fprintf(&sb, "### %s\n%s\n\n", r.AgentID, strings.TrimSpace(r.Content))
	}

	comp, err := s.client.Complete(ctx, summarizerSystemPrompt, sb.String(), 0)
	if err != nil {
		return "", err
	}
	return comp.Text, nil
}

// Compile-time verification that Summarizer implements orchestrator.Summarizer.
var _ orchestrator.Summarizer = (*Summarizer)(nil)
