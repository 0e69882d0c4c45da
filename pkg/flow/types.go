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

// Package flow implements the agent flow runtime: typed nodes wired into a
// directed graph, docked resources, a per-run context and the StrictFlow
// scheduler that drives the graph to quiescence.
package flow

import "context"

// InputNodeID is the reserved pseudo-node whose outputs are the runtime
// inputs passed to Run.
const InputNodeID = "__input__"

// CancelVar is the reserved context variable that may carry a cancellation
// signal (a bool or a context.Done-style channel). The scheduler will not
// start a new node once it fires.
const CancelVar = "__cancel__"

// ActivePort is the optional input port that gates node execution. When a
// node declares it and the current value is falsy, the node is marked
// executed without producing outputs.
const ActivePort = "active"

// Port declares a single node input or output.
type Port struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Dock declares a resource dependency of a node or of another resource.
// MaxConnections <= 0 means unlimited.
type Dock struct {
	Name           string `json:"name" yaml:"name"`
	Interface      string `json:"interface,omitempty" yaml:"interface,omitempty"`
	MaxConnections int    `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	Required       bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Connection routes one output port to one input port. From may be
// InputNodeID to feed runtime inputs into the graph.
type Connection struct {
	From   string `json:"from" yaml:"from"`
	Output string `json:"output" yaml:"output"`
	To     string `json:"to" yaml:"to"`
	Input  string `json:"input" yaml:"input"`
}

// Resources delivers docked resources to a node or resource, grouped by dock
// name. Each list preserves the insertion order of the flow document.
type Resources map[string][]Resource

// Node is a single unit of computation.
//
// Execute receives the accumulated inputs (defaults already applied), the
// resources bound to its docks, and the per-run context. Returned outputs are
// routed by name through outgoing connections; extra keys are allowed but not
// routed. An error (or panic) becomes that node's {error: ...} output and
// never aborts the flow.
type Node interface {
	ID() string
	InputPorts() []Port
	OutputPorts() []Port
	Docks() []Dock
	Execute(ctx context.Context, inputs map[string]any, resources Resources, fc *Context) (map[string]any, error)
}

// Resource is a pluggable side-effect provider addressable by id within a
// flow. Resources may declare docks of their own, bound to other resources by
// id; cycles are legal in declaration because resolution is by lookup, not
// eager construction.
type Resource interface {
	ID() string
	Docks() []Dock

	// Init is invoked once before the first node executes, with the
	// resource's docked resources resolved. Resources without docks are not
	// initialized. An init failure aborts the whole run.
	Init(ctx context.Context, resources Resources, fc *Context) error
}

// DockedAs collects the resources on one dock that implement T, in dock
// order. Resources of other types on the same dock are skipped.
func DockedAs[T any](resources Resources, dock string) []T {
	var out []T
	for _, r := range resources[dock] {
		if typed, ok := any(r).(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// FirstDockedAs returns the first resource on a dock implementing T.
func FirstDockedAs[T any](resources Resources, dock string) (T, bool) {
	for _, r := range resources[dock] {
		if typed, ok := any(r).(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}
