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

// Package tool defines the callable tool contract, a registry the assistant
// docks, and a proxy that re-exposes a large tool set through a fixed set of
// meta-tools.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/llms"
)

var (
	ErrToolNotFound  = errors.New("tool: not found")
	ErrAmbiguousTool = errors.New("tool: ambiguous name")
)

// Tool is a dockable capability the model can invoke.
type Tool interface {
	flow.Resource

	// Definition describes the tool to the model: name, description and a
	// JSON schema for its arguments.
	Definition() llms.ToolDefinition

	// Call executes the tool. The flow context may be nil for out-of-flow
	// invocations.
	Call(ctx context.Context, args map[string]any, fc *flow.Context) (map[string]any, error)

	// Category groups related tools for discovery.
	Category() string

	// Tags are free-form discovery keywords.
	Tags() []string

	// Priority breaks ranking ties; higher wins.
	Priority() int
}

// Source is anything that exposes tool definitions and dispatches calls by
// name. Both Registry and Proxy implement it; the assistant only sees this.
type Source interface {
	Definitions() []llms.ToolDefinition
	Invoke(ctx context.Context, name string, args map[string]any, fc *flow.Context) (map[string]any, error)
}

// SourceResource makes any Source dockable to flow nodes.
type SourceResource struct {
	flow.BaseResource
	Source
}

func NewSourceResource(id string, src Source) *SourceResource {
	return &SourceResource{
		BaseResource: flow.NewBaseResource(id),
		Source:       src,
	}
}

// Registry holds tools in registration order. Duplicate names are accepted
// at registration time; resolving a duplicated name fails with
// ErrAmbiguousTool so misconfiguration surfaces at call time with a clear
// error instead of silently picking one.
type Registry struct {
	tools []Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools = append(r.tools, t)
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Resolve finds the single tool with the given name.
func (r *Registry) Resolve(name string) (Tool, error) {
	var found Tool
	for _, t := range r.tools {
		if t.Definition().Name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %q", ErrAmbiguousTool, name)
		}
		found = t
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return found, nil
}

// Definitions lists every tool's definition in registration order.
func (r *Registry) Definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Invoke resolves by name and calls the tool.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, fc *flow.Context) (map[string]any, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, args, fc)
}

// Categories returns the distinct categories with tool counts, sorted by
// category name.
func (r *Registry) Categories() []map[string]any {
	counts := make(map[string]int)
	for _, t := range r.tools {
		counts[t.Category()]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{"category": name, "count": counts[name]})
	}
	return out
}

// Search ranks matching tools by tag matches (desc), priority (desc), then
// name (asc). An empty query with no tags matches everything.
func (r *Registry) Search(query string, tags []string) []Tool {
	query = strings.ToLower(strings.TrimSpace(query))
	wanted := make(map[string]bool, len(tags))
	for _, tag := range tags {
		wanted[strings.ToLower(tag)] = true
	}

	type ranked struct {
		tool       Tool
		tagMatches int
	}
	var hits []ranked
	for _, t := range r.tools {
		def := t.Definition()
		matches := 0
		for _, tag := range t.Tags() {
			if wanted[strings.ToLower(tag)] {
				matches++
			}
		}
		if len(wanted) > 0 && matches == 0 {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(def.Name), query) &&
			!strings.Contains(strings.ToLower(def.Description), query) {
			continue
		}
		hits = append(hits, ranked{tool: t, tagMatches: matches})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].tagMatches != hits[j].tagMatches {
			return hits[i].tagMatches > hits[j].tagMatches
		}
		if hits[i].tool.Priority() != hits[j].tool.Priority() {
			return hits[i].tool.Priority() > hits[j].tool.Priority()
		}
		return hits[i].tool.Definition().Name < hits[j].tool.Definition().Name
	})

	out := make([]Tool, len(hits))
	for i, h := range hits {
		out[i] = h.tool
	}
	return out
}
