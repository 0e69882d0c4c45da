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

package memory

import (
	"context"
	"sync"

	"github.com/missionbay/agentflow/pkg/protocol"
)

// BufferMemory keeps history in process memory. The zero value is not usable;
// use NewBufferMemory.
type BufferMemory struct {
	mu       sync.RWMutex
	history  map[string][]protocol.Message
	priority int

	// MaxMessages bounds per-node history; 0 means unbounded. When the bound
	// is exceeded the oldest messages are dropped.
	MaxMessages int
}

func NewBufferMemory(priority int) *BufferMemory {
	return &BufferMemory{
		history:  make(map[string][]protocol.Message),
		priority: priority,
	}
}

func (m *BufferMemory) LoadNodeHistory(ctx context.Context, nodeID string) ([]protocol.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.history[nodeID]
	out := make([]protocol.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *BufferMemory) AppendNodeHistory(ctx context.Context, nodeID string, msg protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := append(m.history[nodeID], msg)
	if m.MaxMessages > 0 && len(msgs) > m.MaxMessages {
		msgs = msgs[len(msgs)-m.MaxMessages:]
	}
	m.history[nodeID] = msgs
	return nil
}

func (m *BufferMemory) SetFeedback(ctx context.Context, nodeID, messageID, feedback string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.history[nodeID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Feedback = feedback
			return true, nil
		}
	}
	return false, nil
}

func (m *BufferMemory) ResetNodeHistory(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.history, nodeID)
	return nil
}

func (m *BufferMemory) Priority() int {
	return m.priority
}
