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

// Package memory stores node-scoped conversation history.
//
// A memory may outlive a single flow run: the buffer implementation lives for
// the process, the SQL implementation for as long as its database. Multiple
// memories can be docked to one node; writers iterate them in Priority order
// (lower first).
package memory

import (
	"context"

	"github.com/missionbay/agentflow/pkg/protocol"
)

// Memory is a per-node conversational history store.
type Memory interface {
	// LoadNodeHistory returns the history for a node, oldest first.
	LoadNodeHistory(ctx context.Context, nodeID string) ([]protocol.Message, error)

	// AppendNodeHistory appends one message to a node's history.
	AppendNodeHistory(ctx context.Context, nodeID string, msg protocol.Message) error

	// SetFeedback attaches feedback to a stored message. Returns false when
	// the message is unknown.
	SetFeedback(ctx context.Context, nodeID, messageID, feedback string) (bool, error)

	// ResetNodeHistory drops a node's history.
	ResetNodeHistory(ctx context.Context, nodeID string) error

	// Priority orders this memory among its siblings on a dock. Lower runs
	// first.
	Priority() int
}

// ByPriority sorts memories for write fan-out, preserving dock order among
// equal priorities.
func ByPriority(memories []Memory) []Memory {
	sorted := make([]Memory, len(memories))
	copy(sorted, memories)
	// Insertion sort keeps the sort stable without pulling in sort.SliceStable
	// closures over interface slices all over the call sites.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority() < sorted[j-1].Priority(); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}
