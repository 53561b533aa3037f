package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// DigestSummarizer builds a summary from the first line of each result
// without calling a model.
type DigestSummarizer struct {
	// MaxLineLen truncates each result line; <= 0 means 160.
	MaxLineLen int
}

// Summarize implements Summarizer.
func (d DigestSummarizer) Summarize(_ context.Context, intent string, results []models.Result) (string, error) {
	if len(results) == 0 {
		return "", nil
	}
	maxLen := d.MaxLineLen
	if maxLen <= 0 {
		maxLen = 160
	}

	var sb strings.Builder
	if intent != "" {
		fmt.Fprintf(&sb, "Results for %q:\n", intent)
	}
	for _, r := range results {
		line := strings.TrimSpace(r.Content)
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if len(line) > maxLen {
			line = line[:maxLen] + "..."
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", r.AgentID, line)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Compile-time verification that DigestSummarizer implements Summarizer.
var _ Summarizer = DigestSummarizer{}
