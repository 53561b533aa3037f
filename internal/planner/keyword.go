package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// stageKeywords maps each task type to request words that call for it.
var stageKeywords = map[models.TaskType][]string{
	models.TaskTypeResearch:  {"research", "find", "look up", "investigate", "search", "gather", "discover"},
	models.TaskTypeAnalyze:   {"analy", "compare", "evaluate", "assess", "benchmark", "measure"},
	models.TaskTypeDevelop:   {"build", "implement", "develop", "create", "code", "write", "fix", "refactor"},
	models.TaskTypeSummarize: {"summar", "report", "brief", "overview", "explain", "outline"},
	models.TaskTypeReview:    {"review", "check", "audit", "critique", "verify", "proofread"},
}

// stageOrder is the fixed pipeline order of stages.
var stageOrder = []models.TaskType{
	models.TaskTypeResearch,
	models.TaskTypeAnalyze,
	models.TaskTypeDevelop,
	models.TaskTypeSummarize,
	models.TaskTypeReview,
}

var stageVerb = map[models.TaskType]string{
	models.TaskTypeResearch:  "Research",
	models.TaskTypeAnalyze:   "Analyze",
	models.TaskTypeDevelop:   "Develop",
	models.TaskTypeSummarize: "Summarize",
	models.TaskTypeReview:    "Review",
}

// KeywordDrafter builds a plan from verbs in the request without calling a
// model. Matched stages are chained research, analyze, develop, summarize,
// review. Research and develop may run side by side when analysis is absent.
// A request matching nothing becomes research followed by summarize.
type KeywordDrafter struct {
	// MaxTitleLen truncates the intent in task titles.
	MaxTitleLen int
}

// NewKeywordDrafter creates a KeywordDrafter.
func NewKeywordDrafter() *KeywordDrafter {
	return &KeywordDrafter{MaxTitleLen: 60}
}

// Draft implements Drafter.
func (k *KeywordDrafter) Draft(_ context.Context, intent string, _ PlanContext) (*Draft, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return nil, ErrEmptyPlan
	}
	lower := strings.ToLower(intent)

	matched := make(map[models.TaskType]bool)
	for t, words := range stageKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched[t] = true
				break
			}
		}
	}
	if len(matched) == 0 {
		matched[models.TaskTypeResearch] = true
		matched[models.TaskTypeSummarize] = true
	}

	subject := intent
	if k.MaxTitleLen > 0 && len(subject) > k.MaxTitleLen {
		subject = strings.TrimSpace(subject[:k.MaxTitleLen]) + "..."
	}

	var tasks []DraftTask
	for _, t := range stageOrder {
		if !matched[t] {
			continue
		}
		key := string(t)
		task := DraftTask{
			Key:         key,
			Type:        t,
			Title:       fmt.Sprintf("%s: %s", stageVerb[t], subject),
			Description: stageDescription(t, intent),
			Priority:    models.PriorityMedium,
			DependsOn:   dependenciesFor(t, matched),
		}
		if len(task.DependsOn) == 0 {
			task.Priority = models.PriorityHigh
		}
		tasks = append(tasks, task)
	}

	return &Draft{
		Tasks:     tasks,
		Rationale: fmt.Sprintf("Matched %d stage(s) from the request wording.", len(tasks)),
	}, nil
}

// dependenciesFor wires a stage to the closest earlier stages present.
func dependenciesFor(t models.TaskType, matched map[models.TaskType]bool) []string {
	switch t {
	case models.TaskTypeResearch:
		return nil
	case models.TaskTypeAnalyze:
		return present(matched, models.TaskTypeResearch)
	case models.TaskTypeDevelop:
		return present(matched, models.TaskTypeAnalyze)
	case models.TaskTypeSummarize:
		return present(matched, models.TaskTypeResearch, models.TaskTypeAnalyze, models.TaskTypeDevelop)
	case models.TaskTypeReview:
		if matched[models.TaskTypeDevelop] {
			return present(matched, models.TaskTypeDevelop)
		}
		return present(matched, models.TaskTypeResearch, models.TaskTypeAnalyze, models.TaskTypeSummarize)
	}
	return nil
}

func present(matched map[models.TaskType]bool, types ...models.TaskType) []string {
	var out []string
	for _, t := range types {
		if matched[t] {
			out = append(out, string(t))
		}
	}
	return out
}

func stageDescription(t models.TaskType, intent string) string {
	switch t {
	case models.TaskTypeResearch:
		return "Gather the facts and sources needed for: " + intent
	case models.TaskTypeAnalyze:
		return "Analyze the gathered material and draw conclusions for: " + intent
	case models.TaskTypeDevelop:
		return "Produce the requested artifact for: " + intent
	case models.TaskTypeSummarize:
		return "Summarize the findings of the earlier tasks for: " + intent
	case models.TaskTypeReview:
		return "Review the output of the earlier tasks for correctness and completeness: " + intent
	}
	return intent
}

// Compile-time verification that KeywordDrafter implements Drafter.
var _ Drafter = (*KeywordDrafter)(nil)
