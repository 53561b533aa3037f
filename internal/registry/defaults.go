package registry

import "github.com/ShayCichocki/ensemble/pkg/models"

// DefaultCapabilities returns the built-in agent roster used when no
// registry file is configured.
func DefaultCapabilities() []models.AgentCapability {
	return []models.AgentCapability{
		{
			ID:                 "researcher",
			Name:               "Researcher",
			Skills:             []string{"search", "sources", "fact-finding"},
			TaskTypes:          []models.TaskType{models.TaskTypeResearch},
			MaxConcurrentTasks: 2,
		},
		{
			ID:                 "analyst",
			Name:               "Analyst",
			Skills:             []string{"comparison", "data", "reasoning"},
			TaskTypes:          []models.TaskType{models.TaskTypeAnalyze, models.TaskTypeResearch},
			MaxConcurrentTasks: 2,
		},
		{
			ID:                 "writer",
			Name:               "Writer",
			Skills:             []string{"drafting", "editing", "summaries"},
			TaskTypes:          []models.TaskType{models.TaskTypeSummarize},
			MaxConcurrentTasks: 1,
		},
		{
			ID:                 "developer",
			Name:               "Developer",
			Skills:             []string{"go", "apis", "testing"},
			TaskTypes:          []models.TaskType{models.TaskTypeDevelop},
			MaxConcurrentTasks: 1,
		},
		{
			ID:                 "reviewer",
			Name:               "Reviewer",
			Skills:             []string{"critique", "verification"},
			TaskTypes:          []models.TaskType{models.TaskTypeReview, models.TaskTypeAnalyze},
			MaxConcurrentTasks: 1,
		},
	}
}
