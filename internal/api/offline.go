package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// OfflineInvoker answers tasks without calling a model. Replies and usage are
// deterministic, so turns can be replayed and demoed without credentials.
type OfflineInvoker struct {
	// Latency is how long each invocation takes. It honours cancellation.
	Latency time.Duration
	// Pricing prices the estimated token usage.
	Pricing Pricing
	// Model is reported on every result.
	Model anthropic.Model
}

// NewOfflineInvoker creates an OfflineInvoker priced like model.
func NewOfflineInvoker(model anthropic.Model, latency time.Duration) *OfflineInvoker {
	return &OfflineInvoker{Latency: latency, Pricing: PricingFor(model), Model: model}
}

// Invoke implements scheduler.Invoker.
func (o *OfflineInvoker) Invoke(ctx context.Context, agentID string, task *models.Task, taskContext string) (scheduler.InvocationResult, error) {
	if o.Latency > 0 {
		timer := time.NewTimer(o.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return scheduler.InvocationResult{}, ctx.Err()
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s finished %s task %q.", agentID, task.Type, task.Title)
	if taskContext != "" {
		fmt.Fprintf(&sb, " Built on %d earlier result(s).", strings.Count(taskContext, "\n## ")+1)
	}
	content := sb.String()

	// Roughly four characters per token.
	in := int64(len(task.Title)+len(task.Description)+len(taskContext))/4 + 1
	out := int64(len(content))/4 + 1
	return scheduler.InvocationResult{
		Content:    content,
		TokenCount: in + out,
		CostUSD:    o.Pricing.Cost(in, out),
		Success:    true,
		Model:      string(o.Model),
	}, nil
}

// Compile-time verification that OfflineInvoker implements scheduler.Invoker.
var _ scheduler.Invoker = (*OfflineInvoker)(nil)
