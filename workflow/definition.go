package workflow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepDefinition is the serializable shape of a step (everything except its work function).
type StepDefinition struct {
	ID         string   `json:"id" yaml:"id"`
	Inputs     []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Output     string   `json:"output" yaml:"output"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Dependency string   `json:"dependency,omitempty" yaml:"dependency,omitempty"`
	Timeout    string   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries *int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Terminal   bool     `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// Definition describes a graph for plan inspection.
type Definition struct {
	Name   string           `json:"name" yaml:"name"`
	Steps  []StepDefinition `json:"steps" yaml:"steps"`
	Layers [][]string       `json:"layers" yaml:"layers"`
}

// Describe returns the definition of g. DependsOn includes dependencies implied by inputs.
func Describe(g *Graph) *Definition {
	def := &Definition{
		Name:   g.Name(),
		Steps:  make([]StepDefinition, 0, g.Len()),
		Layers: g.Layers(),
	}
	for _, s := range g.Steps() {
		sd := StepDefinition{
			ID:         s.ID,
			Inputs:     s.Inputs,
			Output:     s.Output,
			DependsOn:  g.Dependencies(s.ID),
			Dependency: s.Dependency,
			Terminal:   g.Terminal(s.ID),
		}
		if s.Timeout > 0 {
			sd.Timeout = s.Timeout.String()
		}
		if s.Retry != nil {
			n := s.Retry.MaxRetries
			sd.MaxRetries = &n
		}
		def.Steps = append(def.Steps, sd)
	}
	return def
}

// ToJSON converts a Definition to an indented JSON string
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a Definition to a YAML string
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}
