package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// File is the on-disk registry format.
//
//	agents:
//	  - id: researcher
//	    name: Researcher
//	    task_types: [research]
//	    max_concurrent_tasks: 2
type File struct {
	Agents []models.AgentCapability `yaml:"agents"`
}

// LoadFile reads and validates a registry file.
func LoadFile(path string) ([]models.AgentCapability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	return Parse(data)
}

// Parse decodes registry YAML. An empty agent list is an error.
func Parse(data []byte) ([]models.AgentCapability, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry yaml: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("%w: registry file defines no agents", ErrInvalidCapability)
	}

	seen := make(map[string]bool, len(f.Agents))
	for _, c := range f.Agents {
		if err := validate(c); err != nil {
			return nil, err
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: %s", ErrAgentExists, c.ID)
		}
		seen[c.ID] = true
	}
	return f.Agents, nil
}

// Load replaces the registry contents with the agents defined in path.
func (r *Registry) Load(path string) error {
	caps, err := LoadFile(path)
	if err != nil {
		return err
	}
	return r.Replace(caps)
}
