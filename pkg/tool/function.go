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
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/llms"
)

// FunctionConfig names a typed function tool.
type FunctionConfig struct {
	Name        string
	Description string
	Category    string
	Tags        []string
	Priority    int
}

// NewFunction builds a Tool from a typed handler. The argument schema is
// derived from Args struct tags:
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"required,description=Search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=10"`
//	}
func NewFunction[Args any](cfg FunctionConfig, fn func(ctx context.Context, args Args, fc *flow.Context) (map[string]any, error)) (Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool: function tool requires a name")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool: function tool %q requires a description", cfg.Name)
	}
	if cfg.Category == "" {
		cfg.Category = "general"
	}

	schema, err := schemaFor[Args]()
	if err != nil {
		return nil, fmt.Errorf("tool: schema for %q: %w", cfg.Name, err)
	}

	return &functionTool[Args]{
		BaseResource: flow.NewBaseResource(cfg.Name),
		cfg:          cfg,
		schema:       schema,
		fn:           fn,
	}, nil
}

type functionTool[Args any] struct {
	flow.BaseResource
	cfg    FunctionConfig
	schema map[string]any
	fn     func(ctx context.Context, args Args, fc *flow.Context) (map[string]any, error)
}

func (t *functionTool[Args]) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.cfg.Name,
		Description: t.cfg.Description,
		Parameters:  t.schema,
	}
}

func (t *functionTool[Args]) Category() string { return t.cfg.Category }
func (t *functionTool[Args]) Tags() []string   { return t.cfg.Tags }
func (t *functionTool[Args]) Priority() int    { return t.cfg.Priority }

func (t *functionTool[Args]) Call(ctx context.Context, args map[string]any, fc *flow.Context) (map[string]any, error) {
	// Round-trip through JSON so the loosely typed argument map decodes into
	// the typed struct with the same coercion rules the schema describes.
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("tool %q: encode arguments: %w", t.cfg.Name, err)
	}
	var typed Args
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, fmt.Errorf("tool %q: invalid arguments: %w", t.cfg.Name, err)
	}
	return t.fn(ctx, typed, fc)
}

// schemaFor reflects a parameter schema from the Args struct tags, inlined
// without $ref or $schema noise so models consume it directly.
func schemaFor[Args any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(Args))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}
