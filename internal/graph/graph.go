// Package graph provides the task dependency graph for one turn.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrDanglingDependency indicates a task depends on an ID outside the graph.
	ErrDanglingDependency = errors.New("dependency references unknown task")
	// ErrDuplicateTask indicates two tasks share an ID.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrEmptyTaskID indicates a task has no ID.
	ErrEmptyTaskID = errors.New("task id is empty")
)

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
// Iteration order always follows the order tasks were given to Build.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// order is the insertion order of task IDs.
	order []string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*models.Task),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of tasks.
// It rejects empty or duplicate IDs, dependencies on unknown tasks, and cycles.
// The graph keeps the task pointers; callers mutate status through them.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		if task.ID == "" {
			return ErrEmptyTaskID
		}
		if _, exists := g.nodes[task.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
		g.order = append(g.order, task.ID)
	}

	// Second pass: build edges from DependsOn fields.
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("%w: task %s depends on %s", ErrDanglingDependency, task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if cycle := g.findCycleLocked(); cycle != nil {
		return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

// findCycleLocked runs a colouring DFS and returns the first cycle found as a
// path of IDs, or nil. Caller must hold g.mu.
func (g *DependencyGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var cycle []string
	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		colors[id] = 1
		path = append(path, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				start := 0
				for i, p := range path {
					if p == depID {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), path[start:]...), depID)
				return true
			case 0:
				if visit(depID, path) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id, nil) {
			return cycle
		}
	}
	return nil
}

// Ready returns pending tasks whose dependencies have all completed,
// in insertion order.
func (g *DependencyGraph) Ready() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Task
	for _, id := range g.order {
		task := g.nodes[id]
		if task.Status != models.TaskStatusPending {
			continue
		}
		if g.depsCompletedLocked(id) {
			ready = append(ready, task)
		}
	}

	g.debugLog("[graph.Ready] %d ready tasks", len(ready))
	return ready
}

func (g *DependencyGraph) depsCompletedLocked(taskID string) bool {
	for _, depID := range g.edges[taskID] {
		dep, ok := g.nodes[depID]
		if !ok || dep.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// Roots returns the IDs of tasks without dependencies, in insertion order.
func (g *DependencyGraph) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var roots []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

func (g *DependencyGraph) dependentsLocked(taskID string) []string {
	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// TransitiveDependents returns every task that directly or indirectly depends on
// the given task, in insertion order.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	queue := []string{taskID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependentsLocked(cur) {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	var out []string
	for _, id := range g.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}
