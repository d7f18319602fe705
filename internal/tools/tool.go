package tools

import (
	"sort"

	"github.com/tmc/langchaingo/llms"
)

// Definition describes a remote tool the model may call.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Toolkit     string         `json:"toolkit,omitempty"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema for the tool's inputs
}

// Set maps tool identifiers to their definitions. Keys are unique.
type Set map[string]Definition

func NewSet() Set {
	return make(Set)
}

func (s Set) Add(d Definition) {
	s[d.Name] = d
}

func (s Set) Get(name string) (Definition, bool) {
	d, ok := s[name]
	return d, ok
}

// Merge copies definitions from other that are not yet present and reports
// how many were added.
func (s Set) Merge(other Set) int {
	added := 0
	for name, d := range other {
		if _, ok := s[name]; ok {
			continue
		}
		s[name] = d
		added++
	}
	return added
}

// Names returns the tool identifiers in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LLMTools converts the set into function tools for the model, in name order.
func (s Set) LLMTools() []llms.Tool {
	var out []llms.Tool
	for _, name := range s.Names() {
		d := s[name]
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
