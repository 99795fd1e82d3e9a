package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath looks up a value by dot path ("manager.poll_interval",
// "priorities.types.alert"). Entity addresses of the form type:name select
// a route ("route:alert") or webhook ("webhook:/hooks/github").
func (c *Config) GetPath(path string) (any, error) {
	if kind, name, ok := strings.Cut(path, ":"); ok {
		return c.getEntity(kind, name)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
		current, ok = node[part]
		if !ok {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
	}
	return current, nil
}

func (c *Config) getEntity(kind, name string) (any, error) {
	switch kind {
	case "route":
		if name == "*" {
			return c.Routes, nil
		}
		w, ok := c.Routes[name]
		if !ok {
			return nil, fmt.Errorf("route %q not found", name)
		}
		return w, nil
	case "webhook":
		if c.Webhooks == nil {
			return nil, fmt.Errorf("no webhooks configured")
		}
		if name == "*" {
			return c.Webhooks.Endpoints, nil
		}
		for _, ep := range c.Webhooks.Endpoints {
			if ep.Path == name || ep.EventType == name {
				return ep, nil
			}
		}
		return nil, fmt.Errorf("webhook %q not found", name)
	default:
		return nil, fmt.Errorf("unsupported entity type %q", kind)
	}
}
