package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// ErrorTypeEmptyResponse marks an invocation whose reply had no text.
const ErrorTypeEmptyResponse = "empty_response"

// CapabilityLookup resolves an agent id to its capability.
type CapabilityLookup interface {
	Get(agentID string) (models.AgentCapability, bool)
}

// AgentInvoker runs each task as a single Claude call, role-played as the
// assigned agent.
type AgentInvoker struct {
	client    *Client
	agents    CapabilityLookup
	maxTokens int64
}

// NewAgentInvoker creates an AgentInvoker. maxTokens <= 0 uses DefaultMaxTokens.
func NewAgentInvoker(client *Client, agents CapabilityLookup, maxTokens int64) *AgentInvoker {
	return &AgentInvoker{client: client, agents: agents, maxTokens: maxTokens}
}

// Invoke implements scheduler.Invoker.
func (a *AgentInvoker) Invoke(ctx context.Context, agentID string, task *models.Task, taskContext string) (scheduler.InvocationResult, error) {
	capability, ok := a.agents.Get(agentID)
	if !ok {
		capability = models.AgentCapability{ID: agentID, Name: agentID}
	}

	comp, err := a.client.Complete(ctx, agentSystemPrompt(capability), taskPrompt(task, taskContext), a.maxTokens)
	if errors.Is(err, ErrEmptyCompletion) {
		return scheduler.InvocationResult{
			TokenCount: comp.Tokens(),
			CostUSD:    comp.CostUSD,
			ErrorType:  ErrorTypeEmptyResponse,
			Model:      string(a.client.Model()),
		}, nil
	}
	if err != nil {
		return scheduler.InvocationResult{}, err
	}

	return scheduler.InvocationResult{
		Content:    comp.Text,
		TokenCount: comp.Tokens(),
		CostUSD:    comp.CostUSD,
		Success:    true,
		Model:      string(a.client.Model()),
	}, nil
}

func agentSystemPrompt(c models.AgentCapability) string {
	var sb strings.Builder
	name := c.Name
	if name == "" {
		name = c.ID
	}
	fmt.Fprintf(&sb, "You are %s, one agent in a team working on a user's request.\n", name)
	if len(c.TaskTypes) > 0 {
		types := make([]string, len(c.TaskTypes))
		for i, t := range c.TaskTypes {
			types[i] = string(t)
		}
		fmt.Fprintf(&sb, "You handle %s tasks.\n", strings.Join(types, ", "))
	}
	if len(c.Skills) > 0 {
		fmt.Fprintf(&sb, "Your skills: %s.\n", strings.Join(c.Skills, ", "))
	}
	sb.WriteString("Complete only the task you are given. Be concrete and concise. ")
	sb.WriteString("Other agents will read your answer, so put the key findings first.")
	return sb.String()
}

func taskPrompt(t *models.Task, taskContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Task (%s)\n%s\n", t.Type, t.Title)
	if t.Description != "" && t.Description != t.Title {
		fmt.Fprintf(&sb, "\n%s\n", t.Description)
	}
	if taskContext != "" {
		fmt.Fprintf(&sb, "\n## Results from earlier tasks\n%s\n", taskContext)
	}
	return sb.String()
}

// Compile-time verification that AgentInvoker implements scheduler.Invoker.
var _ scheduler.Invoker = (*AgentInvoker)(nil)
