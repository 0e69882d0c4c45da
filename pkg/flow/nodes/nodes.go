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

// Package nodes ships the builtin utility nodes available to flow documents:
// if, template, sleep and setvars.
package nodes

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/missionbay/agentflow/pkg/flow"
)

// IfNode routes its value to exactly one of the true/false output ports
// depending on the truthiness of the condition input. The untaken port is
// never produced, leaving that branch unready.
type IfNode struct {
	flow.BaseNode
}

func NewIfNode(id string, config map[string]any) (*IfNode, error) {
	return &IfNode{
		BaseNode: flow.BaseNode{
			NodeID: id,
			Inputs: []flow.Port{
				{Name: "condition", Type: "mixed", Default: false, Description: "Branch selector, evaluated for truthiness"},
				{Name: "value", Type: "mixed", Default: 1, Description: "Value forwarded on the taken branch"},
			},
			Outputs: []flow.Port{
				{Name: "true", Type: "mixed"},
				{Name: "false", Type: "mixed"},
			},
		},
	}, nil
}

func (n *IfNode) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	if flow.Truthy(inputs["condition"]) {
		return map[string]any{"true": inputs["value"]}, nil
	}
	return map[string]any{"false": inputs["value"]}, nil
}

// TemplateNode renders a text/template from its config against the node
// inputs and emits the result on the text port.
type TemplateNode struct {
	flow.BaseNode
	tmpl *template.Template
}

type templateNodeConfig struct {
	Template string `mapstructure:"template"`
}

func NewTemplateNode(id string, config map[string]any) (*TemplateNode, error) {
	var cfg templateNodeConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("template node '%s': decode config: %w", id, err)
	}
	if cfg.Template == "" {
		return nil, fmt.Errorf("template node '%s': 'template' is required", id)
	}
	tmpl, err := template.New(id).Option("missingkey=zero").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("template node '%s': parse template: %w", id, err)
	}
	return &TemplateNode{
		BaseNode: flow.BaseNode{
			NodeID:  id,
			Outputs: []flow.Port{{Name: "text", Type: "string"}},
		},
		tmpl: tmpl,
	}, nil
}

func (n *TemplateNode) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	var buf bytes.Buffer
	if err := n.tmpl.Execute(&buf, inputs); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return map[string]any{"text": buf.String()}, nil
}

// SleepNode pauses the flow for duration_ms milliseconds, then forwards its
// value input unchanged. Cancellation interrupts the sleep.
type SleepNode struct {
	flow.BaseNode
}

func NewSleepNode(id string, config map[string]any) (*SleepNode, error) {
	return &SleepNode{
		BaseNode: flow.BaseNode{
			NodeID: id,
			Inputs: []flow.Port{
				{Name: "duration_ms", Type: "int", Default: 0},
				{Name: "value", Type: "mixed", Default: nil},
			},
			Outputs: []flow.Port{{Name: "value", Type: "mixed"}},
		},
	}, nil
}

func (n *SleepNode) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	ms := toInt(inputs["duration_ms"])
	if ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return map[string]any{"value": inputs["value"]}, nil
}

// SetVarsNode copies its inputs into the run context variables and forwards a
// done signal. The reserved cancel variable cannot be set through it.
type SetVarsNode struct {
	flow.BaseNode
}

func NewSetVarsNode(id string, config map[string]any) (*SetVarsNode, error) {
	return &SetVarsNode{
		BaseNode: flow.BaseNode{
			NodeID:  id,
			Outputs: []flow.Port{{Name: "done", Type: "bool", Default: true}},
		},
	}, nil
}

func (n *SetVarsNode) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	for key, value := range inputs {
		if key == flow.CancelVar {
			continue
		}
		fc.SetVar(key, value)
	}
	return map[string]any{"done": true}, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return 0
}
