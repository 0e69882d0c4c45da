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

package tool

import (
	"context"
	"fmt"

	"github.com/missionbay/agentflow/pkg/eventstream"
	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/llms"
)

// Meta-tool names the proxy exposes.
const (
	MetaListCategories = "list_categories"
	MetaSearch         = "search"
	MetaDescribe       = "describe"
	MetaCall           = "call"
)

// Proxy re-exposes a large registry through four fixed meta-tools so the
// model sees a constant, small definition surface regardless of how many
// tools are installed.
type Proxy struct {
	flow.BaseResource
	registry *Registry
}

func NewProxy(id string, registry *Registry) *Proxy {
	return &Proxy{
		BaseResource: flow.NewBaseResource(id),
		registry:     registry,
	}
}

// Definitions returns the fixed meta-tool definitions.
func (p *Proxy) Definitions() []llms.ToolDefinition {
	return []llms.ToolDefinition{
		{
			Name:        MetaListCategories,
			Description: "List the available tool categories with the number of tools in each.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        MetaSearch,
			Description: "Search the installed tools by free-text query and tags. Returns ranked tool names with descriptions.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Free-text match against tool names and descriptions."},
					"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Tags to match; more matches rank higher."},
				},
			},
		},
		{
			Name:        MetaDescribe,
			Description: "Return the full definition of one tool, including its parameter schema.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string", "description": "Tool name."},
				},
				"required": []any{"name"},
			},
		},
		{
			Name:        MetaCall,
			Description: "Invoke a tool by name with a JSON arguments object.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":      map[string]any{"type": "string", "description": "Tool name."},
					"arguments": map[string]any{"type": "object", "description": "Arguments for the tool."},
				},
				"required": []any{"name"},
			},
		},
	}
}

// Invoke dispatches one meta-tool call.
func (p *Proxy) Invoke(ctx context.Context, name string, args map[string]any, fc *flow.Context) (map[string]any, error) {
	switch name {
	case MetaListCategories:
		return map[string]any{"categories": p.registry.Categories()}, nil
	case MetaSearch:
		return p.search(args), nil
	case MetaDescribe:
		return p.describe(args)
	case MetaCall:
		return p.call(ctx, args, fc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
}

func (p *Proxy) search(args map[string]any) map[string]any {
	query, _ := args["query"].(string)
	var tags []string
	if raw, ok := args["tags"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	var results []map[string]any
	for _, t := range p.registry.Search(query, tags) {
		def := t.Definition()
		results = append(results, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"category":    t.Category(),
			"tags":        t.Tags(),
		})
	}
	return map[string]any{"tools": results}
}

func (p *Proxy) describe(args map[string]any) (map[string]any, error) {
	name, _ := args["name"].(string)
	t, err := p.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	def := t.Definition()
	return map[string]any{
		"name":        def.Name,
		"description": def.Description,
		"category":    t.Category(),
		"tags":        t.Tags(),
		"parameters":  def.Parameters,
	}, nil
}

func (p *Proxy) call(ctx context.Context, args map[string]any, fc *flow.Context) (map[string]any, error) {
	name, _ := args["name"].(string)
	toolArgs, _ := args["arguments"].(map[string]any)

	t, err := p.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	var stream eventstream.Stream
	if fc != nil {
		stream = fc.Stream()
	}
	if stream != nil && !stream.Disconnected() {
		stream.Push(eventstream.EventToolStarted, map[string]any{"name": name, "arguments": toolArgs})
	}

	result, err := t.Call(ctx, toolArgs, fc)
	if err != nil {
		if stream != nil && !stream.Disconnected() {
			stream.Push(eventstream.EventToolError, map[string]any{"name": name, "error": err.Error()})
		}
		return nil, err
	}
	if stream != nil && !stream.Disconnected() {
		stream.Push(eventstream.EventToolFinished, map[string]any{"name": name})
	}
	return result, nil
}
