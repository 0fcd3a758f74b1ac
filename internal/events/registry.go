// Package events holds the closed vocabulary of badging event types. The
// vocabulary is configured externally (YAML) and consulted only at
// configuration time: rules are validated against an event's declared
// keypaths when they are created, never during evaluation.
package events

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition declares one event type and the payload keypaths rules may
// reference.
type Definition struct {
	Type     string   `yaml:"type"`
	Keypaths []string `yaml:"keypaths"`
}

// Registry is the immutable set of configured event types.
type Registry struct {
	definitions map[string]Definition
}

// Load reads the registry from a YAML file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event registry: %w", err)
	}
	return Parse(raw)
}

// Parse builds the registry from YAML bytes.
func Parse(raw []byte) (*Registry, error) {
	var file struct {
		Events []Definition `yaml:"events"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse event registry: %w", err)
	}
	if len(file.Events) == 0 {
		return nil, fmt.Errorf("event registry declares no events")
	}

	definitions := make(map[string]Definition, len(file.Events))
	for _, def := range file.Events {
		if def.Type == "" {
			return nil, fmt.Errorf("event registry entry missing type")
		}
		if _, dup := definitions[def.Type]; dup {
			return nil, fmt.Errorf("duplicate event type %q", def.Type)
		}
		definitions[def.Type] = def
	}
	return &Registry{definitions: definitions}, nil
}

// Known reports whether eventType is part of the vocabulary.
func (r *Registry) Known(eventType string) bool {
	_, ok := r.definitions[eventType]
	return ok
}

// ValidKeypath reports whether path is declared for eventType. Event types
// with no declared keypaths accept any path (shape unknown at config time).
func (r *Registry) ValidKeypath(eventType, path string) bool {
	def, ok := r.definitions[eventType]
	if !ok {
		return false
	}
	if len(def.Keypaths) == 0 {
		return true
	}
	for _, known := range def.Keypaths {
		if known == path {
			return true
		}
	}
	return false
}

// Types returns all configured event types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	return types
}
