// Package registry holds the static capability descriptions of every agent
// the planner may assign work to.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/ensemble/internal/logging"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	// ErrAgentExists indicates a second registration for the same agent id.
	ErrAgentExists = errors.New("agent already registered")
	// ErrInvalidCapability indicates a capability that cannot be registered.
	ErrInvalidCapability = errors.New("invalid agent capability")
)

// Registry manages agent capabilities.
// It provides thread-safe storage and preserves registration order, which
// the planner uses as its final tie-break.
type Registry struct {
	// agents maps agent IDs to capabilities.
	agents map[string]models.AgentCapability
	// order holds agent IDs in registration order.
	order []string
	// mu protects all fields.
	mu sync.RWMutex

	debugLog *logging.DebugLogger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]models.AgentCapability),
	}
}

// NewWithDefaults creates a Registry pre-populated with DefaultCapabilities.
func NewWithDefaults() *Registry {
	r := New()
	for _, c := range DefaultCapabilities() {
		// Defaults are known-valid and unique.
		_ = r.Register(c)
	}
	return r
}

// SetDebugLog attaches a debug logger.
func (r *Registry) SetDebugLog(l *logging.DebugLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debugLog = l
}

// Register adds an agent. Capabilities are immutable once registered,
// so a duplicate id is rejected.
func (r *Registry) Register(c models.AgentCapability) error {
	if err := validate(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAgentExists, c.ID)
	}
	r.agents[c.ID] = cloneCapability(c)
	r.order = append(r.order, c.ID)
	r.debugLog.Log("registered agent %s (%v, max %d)", c.ID, c.TaskTypes, c.ConcurrencyLimit())
	return nil
}

// Replace swaps the whole capability set atomically. Nothing changes if any
// capability is invalid or ids collide.
func (r *Registry) Replace(caps []models.AgentCapability) error {
	agents := make(map[string]models.AgentCapability, len(caps))
	order := make([]string, 0, len(caps))
	for _, c := range caps {
		if err := validate(c); err != nil {
			return err
		}
		if _, ok := agents[c.ID]; ok {
			return fmt.Errorf("%w: %s", ErrAgentExists, c.ID)
		}
		agents[c.ID] = cloneCapability(c)
		order = append(order, c.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = agents
	r.order = order
	r.debugLog.Log("replaced registry with %d agents", len(order))
	return nil
}

// Get retrieves an agent's capability by ID.
func (r *Registry) Get(agentID string) (models.AgentCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.agents[agentID]
	if !ok {
		return models.AgentCapability{}, false
	}
	return cloneCapability(c), true
}

// ListCapabilities returns a copy of all capabilities in registration order.
func (r *Registry) ListCapabilities() []models.AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]models.AgentCapability, 0, len(r.order))
	for _, id := range r.order {
		caps = append(caps, cloneCapability(r.agents[id]))
	}
	return caps
}

// CapableOf returns the agents supporting a task type, in registration order.
func (r *Registry) CapableOf(t models.TaskType) []models.AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var caps []models.AgentCapability
	for _, id := range r.order {
		if c := r.agents[id]; c.Supports(t) {
			caps = append(caps, cloneCapability(c))
		}
	}
	return caps
}

// Limits returns the concurrency limit of every registered agent.
func (r *Registry) Limits() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limits := make(map[string]int, len(r.agents))
	for id, c := range r.agents {
		limits[id] = c.ConcurrencyLimit()
	}
	return limits
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func validate(c models.AgentCapability) error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidCapability)
	}
	if len(c.TaskTypes) == 0 {
		return fmt.Errorf("%w: %s supports no task types", ErrInvalidCapability, c.ID)
	}
	for _, t := range c.TaskTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: %s has unknown task type %q", ErrInvalidCapability, c.ID, t)
		}
	}
	return nil
}

func cloneCapability(c models.AgentCapability) models.AgentCapability {
	c.Skills = append([]string(nil), c.Skills...)
	c.TaskTypes = append([]models.TaskType(nil), c.TaskTypes...)
	return c
}
