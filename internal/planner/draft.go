package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// ErrMalformedDraft indicates drafter output that could not be decoded.
var ErrMalformedDraft = errors.New("malformed plan draft")

// DraftTask is one proposed task before ids and assignment are fixed.
// DependsOn entries refer to other draft tasks by Key or Title.
type DraftTask struct {
	Key         string          `json:"key,omitempty"`
	Type        models.TaskType `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	Priority    models.Priority `json:"priority,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty"`
}

func (d DraftTask) ref() string {
	if d.Key != "" {
		return d.Key
	}
	return d.Title
}

// Draft is a drafter's proposal.
type Draft struct {
	Tasks     []DraftTask `json:"tasks"`
	Rationale string      `json:"rationale,omitempty"`
}

// Drafter proposes the tasks for an intent.
type Drafter interface {
	Draft(ctx context.Context, intent string, pc PlanContext) (*Draft, error)
}

// DrafterFunc adapts a function to the Drafter interface.
type DrafterFunc func(ctx context.Context, intent string, pc PlanContext) (*Draft, error)

// Draft implements Drafter.
func (f DrafterFunc) Draft(ctx context.Context, intent string, pc PlanContext) (*Draft, error) {
	return f(ctx, intent, pc)
}

// ParseDraft extracts a draft from free text. It accepts either a bare JSON
// array of tasks or an object with "tasks" and "rationale", optionally
// surrounded by prose or code fences. Malformed JSON is repaired before
// giving up.
func ParseDraft(text string) (*Draft, error) {
	candidate, isObject, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	draft, err := decodeDraft(candidate, isObject)
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDraft, err)
		}
		draft, err = decodeDraft(repaired, isObject)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDraft, err)
		}
	}

	if len(draft.Tasks) == 0 {
		return nil, ErrEmptyPlan
	}
	return draft, nil
}

// extractJSON finds the outermost JSON value. A missing closing bracket
// takes the rest of the text so truncated output can still be repaired.
func extractJSON(text string) (string, bool, error) {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	closing := "]"
	start := arrStart
	isObject := false
	if objStart != -1 && (arrStart == -1 || objStart < arrStart) {
		closing = "}"
		start = objStart
		isObject = true
	}
	if start == -1 {
		return "", false, fmt.Errorf("%w: no JSON found in response", ErrMalformedDraft)
	}

	end := strings.LastIndex(text, closing)
	if end <= start {
		rest := strings.TrimSpace(text[start:])
		rest = strings.TrimSuffix(rest, "```")
		return rest, isObject, nil
	}
	return text[start : end+1], isObject, nil
}

func decodeDraft(s string, isObject bool) (*Draft, error) {
	if isObject {
		var d Draft
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, err
		}
		return &d, nil
	}
	var tasks []DraftTask
	if err := json.Unmarshal([]byte(s), &tasks); err != nil {
		return nil, err
	}
	return &Draft{Tasks: tasks}, nil
}
