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
	"sync"

	"github.com/missionbay/agentflow/pkg/eventstream"
	"github.com/missionbay/agentflow/pkg/memory"
)

// Context is the per-run scratchpad shared by all nodes of one flow run:
// a swappable memory handle, mutable string-keyed variables, and an optional
// event stream. It lives for exactly one run and never crosses flows.
type Context struct {
	mu     sync.RWMutex
	memory memory.Memory
	stream eventstream.Stream
	vars   map[string]any
}

// NewContext builds a run context. Both memory and stream may be nil.
func NewContext(mem memory.Memory, stream eventstream.Stream) *Context {
	return &Context{
		memory: mem,
		stream: stream,
		vars:   make(map[string]any),
	}
}

// Memory returns the current memory handle, which may be nil.
func (c *Context) Memory() memory.Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memory
}

// SwapMemory replaces the memory handle and returns the previous one.
// Sub-flows use this to isolate their history.
func (c *Context) SwapMemory(mem memory.Memory) memory.Memory {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.memory
	c.memory = mem
	return prev
}

// Stream returns the event stream handle, which may be nil.
func (c *Context) Stream() eventstream.Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream
}

// SetStream attaches an event stream to the run.
func (c *Context) SetStream(stream eventstream.Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
}

// Var reads a run variable.
func (c *Context) Var(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[key]
	return v, ok
}

// SetVar writes a run variable.
func (c *Context) SetVar(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[key] = value
}

// Vars returns a shallow copy of all run variables.
func (c *Context) Vars() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Cancelled reports whether the reserved cancel variable has fired. It
// understands a bool, a chan struct{} and a <-chan struct{}.
func (c *Context) Cancelled() bool {
	v, ok := c.Var(CancelVar)
	if !ok {
		return false
	}
	switch sig := v.(type) {
	case bool:
		return sig
	case chan struct{}:
		select {
		case <-sig:
			return true
		default:
			return false
		}
	case <-chan struct{}:
		select {
		case <-sig:
			return true
		default:
			return false
		}
	default:
		return false
	}
}
