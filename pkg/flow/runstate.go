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

// runState holds the mutable state of one Run call: accumulating per-node
// inputs, recorded outputs and execution bookkeeping. It never outlives the
// run, which is what keeps flow instances reusable.
type runState struct {
	flow     *StrictFlow
	acc      map[string]map[string]any
	outputs  map[string]map[string]any
	executed map[string]bool

	// version counts input deliveries per node; versionAtRun remembers the
	// version a node last executed at. Re-entrant mode re-runs a node only
	// when fresh inputs arrived since, which keeps cycles from spinning.
	version      map[string]int
	versionAtRun map[string]int

	hasOutgoing map[string]bool
}

func newRunState(f *StrictFlow, inputs map[string]any) *runState {
	run := &runState{
		flow:         f,
		acc:          make(map[string]map[string]any, len(f.nodes)),
		outputs:      make(map[string]map[string]any),
		executed:     make(map[string]bool, len(f.nodes)),
		version:      make(map[string]int),
		versionAtRun: make(map[string]int),
		hasOutgoing:  make(map[string]bool),
	}

	for _, n := range f.nodes {
		run.acc[n.ID()] = make(map[string]any)
	}

	// Seed order matters: initial inputs first, runtime inputs projected via
	// __input__ connections second so they win on collision.
	for nodeID, seed := range f.initialInputs {
		target, ok := run.acc[nodeID]
		if !ok {
			continue
		}
		for k, v := range seed {
			target[k] = v
		}
		run.version[nodeID]++
	}

	for _, conn := range f.connections {
		if conn.From != InputNodeID {
			run.hasOutgoing[conn.From] = true
			continue
		}
		if value, present := inputs[conn.Output]; present {
			if target, ok := run.acc[conn.To]; ok {
				target[conn.Input] = value
				run.version[conn.To]++
			}
		}
	}

	return run
}

// runnable reports whether a node should be considered this round.
func (r *runState) runnable(nodeID string) bool {
	if !r.executed[nodeID] {
		return true
	}
	return r.flow.reentrant && r.version[nodeID] > r.versionAtRun[nodeID]
}

// ready applies the readiness predicate: every connection targeting the node
// must have delivered its input key. Declared-but-unconnected ports do not
// count; defaults and required handling cover them at execution time.
func (r *runState) ready(nodeID string) bool {
	inputs := r.acc[nodeID]
	for _, conn := range r.flow.connections {
		if conn.To != nodeID {
			continue
		}
		if _, present := inputs[conn.Input]; !present {
			return false
		}
	}
	return true
}

// inputs returns a working copy of a node's accumulated inputs so defaults
// applied during execution do not leak back into the accumulator.
func (r *runState) inputs(nodeID string) map[string]any {
	src := r.acc[nodeID]
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// markExecuted records a node as done. outputs == nil means the node was
// suppressed (active gate) and leaves no recorded output.
func (r *runState) markExecuted(nodeID string, outputs map[string]any) {
	r.executed[nodeID] = true
	r.versionAtRun[nodeID] = r.version[nodeID]
	if outputs != nil {
		r.outputs[nodeID] = outputs
	}
}

// propagate delivers produced values through outgoing connections. A key
// must be present in the produced map to propagate; explicit nil counts,
// missing does not.
func (r *runState) propagate(nodeID string, outputs map[string]any) {
	for _, conn := range r.flow.connections {
		if conn.From != nodeID {
			continue
		}
		value, present := outputs[conn.Output]
		if !present {
			continue
		}
		if target, ok := r.acc[conn.To]; ok {
			target[conn.Input] = value
			r.version[conn.To]++
		}
	}
}

func (r *runState) allExecuted() bool {
	for _, n := range r.flow.nodes {
		if !r.executed[n.ID()] {
			return false
		}
	}
	return true
}

// terminalOutputs collects outputs of nodes with no outgoing connection and
// a recorded output.
func (r *runState) terminalOutputs() map[string]map[string]any {
	result := make(map[string]map[string]any)
	for _, n := range r.flow.nodes {
		id := n.ID()
		if r.hasOutgoing[id] {
			continue
		}
		if outputs, ok := r.outputs[id]; ok {
			result[id] = outputs
		}
	}
	return result
}
