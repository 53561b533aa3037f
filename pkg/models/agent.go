package models

// AgentCapability is the static description of what an agent can do.
// It is immutable once registered.
type AgentCapability struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id" yaml:"id"`
	// Name is the display name.
	Name string `json:"name" yaml:"name"`
	// Skills are free-form skill tags.
	Skills []string `json:"skills,omitempty" yaml:"skills"`
	// TaskTypes lists the task types the agent accepts.
	TaskTypes []TaskType `json:"task_types" yaml:"task_types"`
	// MaxConcurrentTasks bounds how many tasks the agent runs at once.
	MaxConcurrentTasks int `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
}

// Supports reports whether the agent accepts tasks of the given type.
func (a AgentCapability) Supports(t TaskType) bool {
	for _, tt := range a.TaskTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// ConcurrencyLimit returns MaxConcurrentTasks, treating non-positive values as 1.
func (a AgentCapability) ConcurrencyLimit() int {
	if a.MaxConcurrentTasks <= 0 {
		return 1
	}
	return a.MaxConcurrentTasks
}
