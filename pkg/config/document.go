// Copyright 2026 MissionBay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeSpec declares one node of a flow document.
type NodeSpec struct {
	ID     string              `yaml:"id" json:"id"`
	Type   string              `yaml:"type" json:"type"`
	Config map[string]any      `yaml:"config,omitempty" json:"config,omitempty"`
	Inputs map[string]any      `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Docks  map[string][]string `yaml:"docks,omitempty" json:"docks,omitempty"`
}

// ResourceSpec declares one resource of a flow document.
type ResourceSpec struct {
	ID     string              `yaml:"id" json:"id"`
	Type   string              `yaml:"type" json:"type"`
	Config map[string]any      `yaml:"config,omitempty" json:"config,omitempty"`
	Docks  map[string][]string `yaml:"docks,omitempty" json:"docks,omitempty"`
}

// ConnectionSpec wires (from, output) to (to, input). The reserved node id
// "__input__" routes runtime inputs.
type ConnectionSpec struct {
	From   string `yaml:"from" json:"from"`
	Output string `yaml:"output" json:"output"`
	To     string `yaml:"to" json:"to"`
	Input  string `yaml:"input" json:"input"`
}

// FlowDocument is the declarative description of a flow.
type FlowDocument struct {
	Name        string           `yaml:"name,omitempty" json:"name,omitempty"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Nodes       []NodeSpec       `yaml:"nodes" json:"nodes"`
	Resources   []ResourceSpec   `yaml:"resources,omitempty" json:"resources,omitempty"`
	Connections []ConnectionSpec `yaml:"connections" json:"connections"`
}

// Validate checks structural consistency: unique ids, wired endpoints and
// dock references pointing at declared resources.
func (d *FlowDocument) Validate() error {
	nodeIDs := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("config: node without id")
		}
		if n.Type == "" {
			return fmt.Errorf("config: node '%s' without type", n.ID)
		}
		if nodeIDs[n.ID] {
			return fmt.Errorf("config: duplicate node id '%s'", n.ID)
		}
		nodeIDs[n.ID] = true
	}

	resourceIDs := make(map[string]bool, len(d.Resources))
	for _, r := range d.Resources {
		if r.ID == "" {
			return fmt.Errorf("config: resource without id")
		}
		if r.Type == "" {
			return fmt.Errorf("config: resource '%s' without type", r.ID)
		}
		if resourceIDs[r.ID] {
			return fmt.Errorf("config: duplicate resource id '%s'", r.ID)
		}
		resourceIDs[r.ID] = true
	}

	for _, n := range d.Nodes {
		for dock, refs := range n.Docks {
			for _, ref := range refs {
				if !resourceIDs[ref] {
					return fmt.Errorf("config: node '%s' dock '%s' references unknown resource '%s'", n.ID, dock, ref)
				}
			}
		}
	}
	for _, r := range d.Resources {
		for dock, refs := range r.Docks {
			for _, ref := range refs {
				if !resourceIDs[ref] {
					return fmt.Errorf("config: resource '%s' dock '%s' references unknown resource '%s'", r.ID, dock, ref)
				}
			}
		}
	}

	for i, c := range d.Connections {
		if c.From != "__input__" && !nodeIDs[c.From] {
			return fmt.Errorf("config: connection %d references unknown source node '%s'", i, c.From)
		}
		if !nodeIDs[c.To] {
			return fmt.Errorf("config: connection %d references unknown target node '%s'", i, c.To)
		}
		if c.Output == "" || c.Input == "" {
			return fmt.Errorf("config: connection %d missing output or input port", i)
		}
	}
	return nil
}

// ParseDocument decodes YAML or JSON bytes into a FlowDocument after
// expanding environment references.
func ParseDocument(data []byte) (*FlowDocument, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse flow document: %w", err)
	}
	raw = ExpandEnvInData(normalizeYAML(raw))

	// Round-trip through JSON so the typed decode sees clean map[string]any.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: normalize flow document: %w", err)
	}
	var doc FlowDocument
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("config: decode flow document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads a flow document from disk. Files ending in .yaml/.yml
// or .json are both accepted; yaml.v3 handles either.
func LoadDocument(path string) (*FlowDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read flow document: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Name == "" {
		name := path
		if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
			name = name[i+1:]
		}
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		doc.Name = name
	}
	return doc, nil
}

// normalizeYAML converts yaml.v3's map[any]any trees into map[string]any.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
