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

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/missionbay/agentflow/pkg/observability"
)

// DefaultRoundCap bounds dispatch rounds per run. It must stay >= 1000 so
// long dependency chains still drain.
const DefaultRoundCap = 1000

// ErrIterationLimit is the message recorded when a run exceeds the round cap.
const ErrIterationLimit = "Flow execution exceeded safe iteration limit"

// Flow executes a graph to completion.
type Flow interface {
	ID() string
	Run(ctx context.Context, fc *Context, inputs map[string]any) (map[string]map[string]any, error)
}

// StrictFlow is the data-driven scheduler. It owns nodes, connections, docked
// resources and initial inputs, and executes the graph round by round until
// quiescence.
//
// A StrictFlow value holds only static definitions; all run state lives on
// the stack of Run, so one instance may serve many sequential runs. Each run
// is single-threaded; run concurrent flows in separate goroutines with
// separate contexts.
type StrictFlow struct {
	id          string
	nodes       []Node
	nodeIndex   map[string]int
	connections []Connection

	resources     []Resource
	resourceIndex map[string]int

	// nodeDocks and resourceDocks map owner id -> dock name -> resource ids,
	// preserving insertion order within each dock.
	nodeDocks     map[string]map[string][]string
	resourceDocks map[string]map[string][]string
	dockOrder     map[string][]string

	initialInputs map[string]map[string]any

	roundCap  int
	reentrant bool
	logger    *slog.Logger
}

// NewStrictFlow creates an empty flow with the default round cap.
func NewStrictFlow(id string, logger *slog.Logger) *StrictFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &StrictFlow{
		id:            id,
		nodeIndex:     make(map[string]int),
		resourceIndex: make(map[string]int),
		nodeDocks:     make(map[string]map[string][]string),
		resourceDocks: make(map[string]map[string][]string),
		dockOrder:     make(map[string][]string),
		initialInputs: make(map[string]map[string]any),
		roundCap:      DefaultRoundCap,
		logger:        logger,
	}
}

func (f *StrictFlow) ID() string { return f.id }

// SetRoundCap overrides the dispatch round cap. Values below 1000 are
// clamped.
func (f *StrictFlow) SetRoundCap(cap int) {
	if cap < DefaultRoundCap {
		cap = DefaultRoundCap
	}
	f.roundCap = cap
}

// SetReentrant enables node re-execution when fresh inputs arrive after a
// node has already run.
func (f *StrictFlow) SetReentrant(reentrant bool) {
	f.reentrant = reentrant
}

// AddNode registers a node. Ids must be unique within the flow.
func (f *StrictFlow) AddNode(n Node) error {
	id := n.ID()
	if id == "" || id == InputNodeID {
		return fmt.Errorf("flow '%s': invalid node id '%s'", f.id, id)
	}
	if _, exists := f.nodeIndex[id]; exists {
		return fmt.Errorf("flow '%s': duplicate node id '%s'", f.id, id)
	}
	f.nodeIndex[id] = len(f.nodes)
	f.nodes = append(f.nodes, n)
	return nil
}

// AddResource registers a resource. Ids must be unique within the flow.
func (f *StrictFlow) AddResource(r Resource) error {
	id := r.ID()
	if id == "" {
		return fmt.Errorf("flow '%s': resource id cannot be empty", f.id)
	}
	if _, exists := f.resourceIndex[id]; exists {
		return fmt.Errorf("flow '%s': duplicate resource id '%s'", f.id, id)
	}
	f.resourceIndex[id] = len(f.resources)
	f.resources = append(f.resources, r)
	return nil
}

// Connect adds a connection. Endpoints are validated at Run time so graphs
// can be wired in any order.
func (f *StrictFlow) Connect(from, output, to, input string) {
	f.connections = append(f.connections, Connection{From: from, Output: output, To: to, Input: input})
}

// DockResource appends a resource reference to a node's dock.
func (f *StrictFlow) DockResource(nodeID, dock, resourceID string) {
	f.appendDock(f.nodeDocks, nodeID, dock, resourceID)
}

// DockResourceToResource appends a resource reference to another resource's
// dock. Declaration cycles are allowed.
func (f *StrictFlow) DockResourceToResource(ownerID, dock, resourceID string) {
	f.appendDock(f.resourceDocks, ownerID, dock, resourceID)
}

func (f *StrictFlow) appendDock(m map[string]map[string][]string, owner, dock, resourceID string) {
	docks, ok := m[owner]
	if !ok {
		docks = make(map[string][]string)
		m[owner] = docks
	}
	if _, seen := docks[dock]; !seen {
		f.dockOrder[owner] = append(f.dockOrder[owner], dock)
	}
	docks[dock] = append(docks[dock], resourceID)
}

// SetInitialInputs seeds a node's inputs before runtime inputs are projected.
func (f *StrictFlow) SetInitialInputs(nodeID string, inputs map[string]any) {
	if len(inputs) == 0 {
		return
	}
	seed := f.initialInputs[nodeID]
	if seed == nil {
		seed = make(map[string]any)
		f.initialInputs[nodeID] = seed
	}
	for k, v := range inputs {
		seed[k] = v
	}
}

// validate checks graph wiring. Wiring errors are flow-fatal.
func (f *StrictFlow) validate() error {
	for _, conn := range f.connections {
		if conn.From != InputNodeID {
			if _, ok := f.nodeIndex[conn.From]; !ok {
				return fmt.Errorf("flow '%s': connection references unknown node '%s'", f.id, conn.From)
			}
		}
		if _, ok := f.nodeIndex[conn.To]; !ok {
			return fmt.Errorf("flow '%s': connection references unknown node '%s'", f.id, conn.To)
		}
	}
	for owner, docks := range f.nodeDocks {
		if _, ok := f.nodeIndex[owner]; !ok {
			return fmt.Errorf("flow '%s': dock binding references unknown node '%s'", f.id, owner)
		}
		for dock, ids := range docks {
			for _, rid := range ids {
				if _, ok := f.resourceIndex[rid]; !ok {
					return fmt.Errorf("flow '%s': node '%s' dock '%s' references unknown resource '%s'", f.id, owner, dock, rid)
				}
			}
		}
	}
	for owner, docks := range f.resourceDocks {
		if _, ok := f.resourceIndex[owner]; !ok {
			return fmt.Errorf("flow '%s': dock binding references unknown resource '%s'", f.id, owner)
		}
		for dock, ids := range docks {
			for _, rid := range ids {
				if _, ok := f.resourceIndex[rid]; !ok {
					return fmt.Errorf("flow '%s': resource '%s' dock '%s' references unknown resource '%s'", f.id, owner, dock, rid)
				}
			}
		}
	}
	return nil
}

// resolveDocks materializes the Resources map for an owner from its dock
// declarations. Resolution is lookup-by-id, so resource cycles are fine.
func (f *StrictFlow) resolveDocks(declared map[string]map[string][]string, ownerID string) Resources {
	docks := declared[ownerID]
	if len(docks) == 0 {
		return Resources{}
	}
	resolved := make(Resources, len(docks))
	for _, dock := range f.dockOrder[ownerID] {
		ids, ok := docks[dock]
		if !ok {
			continue
		}
		list := make([]Resource, 0, len(ids))
		for _, rid := range ids {
			list = append(list, f.resources[f.resourceIndex[rid]])
		}
		resolved[dock] = list
	}
	return resolved
}

// initResources runs the one-time init hook of every resource that declares
// docks, in declaration order. A failure here aborts the run.
func (f *StrictFlow) initResources(ctx context.Context, fc *Context) error {
	for _, r := range f.resources {
		if len(r.Docks()) == 0 && len(f.resourceDocks[r.ID()]) == 0 {
			continue
		}
		resolved := f.resolveDocks(f.resourceDocks, r.ID())
		if err := r.Init(ctx, resolved, fc); err != nil {
			return fmt.Errorf("flow '%s': init resource '%s': %w", f.id, r.ID(), err)
		}
	}
	return nil
}

// Run executes the graph to quiescence and returns the outputs of terminal
// nodes (nodes with no outgoing connection and a recorded output).
//
// Node failures never abort the run; they surface as {error: ...} outputs.
// Wiring errors, a nil context and resource init failures do abort it.
func (f *StrictFlow) Run(ctx context.Context, fc *Context, inputs map[string]any) (map[string]map[string]any, error) {
	if fc == nil {
		return nil, fmt.Errorf("flow '%s': execution context is required", f.id)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	tracer := observability.Tracer("agentflow.flow")
	ctx, span := tracer.Start(ctx, observability.SpanFlowRun,
		trace.WithAttributes(attribute.String(observability.AttrFlowID, f.id)))
	defer span.End()

	if err := f.initResources(ctx, fc); err != nil {
		observability.FlowRuns.WithLabelValues(f.id, "init_error").Inc()
		return nil, err
	}

	run := newRunState(f, inputs)

	rounds := 0
	for rounds < f.roundCap {
		rounds++
		progress := false

		for _, node := range f.nodes {
			id := node.ID()
			if fc.Cancelled() {
				break
			}
			if !run.runnable(id) || !run.ready(id) {
				continue
			}
			f.executeNode(ctx, fc, run, node)
			progress = true
		}

		if run.allExecuted() || !progress || fc.Cancelled() {
			observability.FlowRounds.WithLabelValues(f.id).Observe(float64(rounds))
			observability.FlowRuns.WithLabelValues(f.id, "completed").Inc()
			return run.terminalOutputs(), nil
		}
	}

	f.logger.Warn("flow exceeded iteration limit", "flow", f.id, "rounds", rounds)
	observability.FlowRuns.WithLabelValues(f.id, "iteration_limit").Inc()
	return map[string]map[string]any{
		f.id: {"error": ErrIterationLimit},
	}, nil
}

// executeNode runs one node: active gate, defaults, required check, dock
// resolution, the Execute call itself, output defaults, and propagation.
func (f *StrictFlow) executeNode(ctx context.Context, fc *Context, run *runState, node Node) {
	id := node.ID()
	nodeInputs := run.inputs(id)

	// Active gate: a falsy 'active' input suppresses execution entirely.
	if port, declared := findPort(node.InputPorts(), ActivePort); declared {
		active, present := nodeInputs[ActivePort]
		if !present {
			if port.Default != nil {
				active = port.Default
			} else {
				active = true
			}
		}
		if !Truthy(active) {
			run.markExecuted(id, nil)
			return
		}
	}

	// Input defaults, then required check.
	for _, port := range node.InputPorts() {
		if _, present := nodeInputs[port.Name]; present {
			continue
		}
		if port.Default != nil {
			nodeInputs[port.Name] = port.Default
		} else if port.Required {
			f.recordNodeError(run, id, fmt.Sprintf("Missing required input '%s' for node '%s'", port.Name, id))
			return
		}
	}

	resources := f.resolveDocks(f.nodeDocks, id)

	tracer := observability.Tracer("agentflow.flow")
	nodeCtx, span := tracer.Start(ctx, observability.SpanNodeExecute,
		trace.WithAttributes(
			attribute.String(observability.AttrFlowID, f.id),
			attribute.String(observability.AttrNodeID, id),
		))
	start := time.Now()

	outputs, err := f.invoke(nodeCtx, fc, node, nodeInputs, resources)

	observability.NodeDuration.WithLabelValues(f.id, id).Observe(time.Since(start).Seconds())
	span.End()

	if err != nil {
		f.logger.Debug("node failed", "flow", f.id, "node", id, "error", err)
		f.recordNodeError(run, id, err.Error())
		return
	}
	if outputs == nil {
		outputs = make(map[string]any)
	}

	// Output defaults apply only when the port name is absent.
	for _, port := range node.OutputPorts() {
		if _, present := outputs[port.Name]; !present && port.Default != nil {
			outputs[port.Name] = port.Default
		}
	}

	run.markExecuted(id, outputs)
	run.propagate(id, outputs)
}

// invoke shields the scheduler from node panics.
func (f *StrictFlow) invoke(ctx context.Context, fc *Context, node Node, inputs map[string]any, resources Resources) (outputs map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node '%s' panicked: %v", node.ID(), r)
		}
	}()
	return node.Execute(ctx, inputs, resources, fc)
}

func (f *StrictFlow) recordNodeError(run *runState, nodeID, message string) {
	observability.NodeErrors.WithLabelValues(f.id, nodeID).Inc()
	outputs := map[string]any{"error": message}
	run.markExecuted(nodeID, outputs)
	run.propagate(nodeID, outputs)
}

func findPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}
