package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest defines the structure of a worker's manifest.yaml file.
type Manifest struct {
	Name        string    `yaml:"name"`
	Version     string    `yaml:"version"`
	Protocol    int       `yaml:"protocol"`
	Entrypoint  string    `yaml:"entrypoint"`
	Args        []string  `yaml:"args,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Emits       EventList `yaml:"emits,omitempty"`
	Handles     EventList `yaml:"handles,omitempty"`
}

// EventList is a list of event types.
//
// Accepted formats:
//   - inline list: emits: [job.done, job.failed]
//   - single scalar: emits: job.done
type EventList []string

func (l *EventList) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*l = nil
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		v := strings.TrimSpace(n.Value)
		if v == "" {
			*l = nil
			return nil
		}
		*l = EventList{v}
		return nil
	case yaml.SequenceNode:
		out := make(EventList, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("event list entries must be strings")
			}
			if v := strings.TrimSpace(item.Value); v != "" {
				out = append(out, v)
			}
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("event list must be a string or a sequence")
	}
}

// Plugin is a discovered and validated worker definition.
type Plugin struct {
	Name        string   // Worker name from manifest
	Path        string   // Absolute path to worker directory
	Entrypoint  string   // Absolute path to entrypoint executable
	Args        []string // Extra entrypoint arguments
	Protocol    int      // Protocol version
	Version     string
	Description string
	Emits       []string // Event types the worker may hand back for routing
	Handles     []string // Event types the worker is started for
}

// EmitsType reports whether the worker declared eventType in emits.
func (p *Plugin) EmitsType(eventType string) bool {
	for _, e := range p.Emits {
		if e == eventType {
			return true
		}
	}
	return false
}

// HandlesType reports whether the worker declared eventType in handles.
func (p *Plugin) HandlesType(eventType string) bool {
	for _, h := range p.Handles {
		if h == eventType {
			return true
		}
	}
	return false
}
