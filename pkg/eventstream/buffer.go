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

package eventstream

import "sync"

// Event is one recorded push.
type Event struct {
	Name    string
	Payload any
}

// Buffer records pushed events in memory. It backs non-interactive flow runs
// and tests.
type Buffer struct {
	mu           sync.Mutex
	events       []Event
	disconnected bool
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Push(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disconnected {
		return
	}
	b.events = append(b.events, Event{Name: event, Payload: payload})
}

func (b *Buffer) Disconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

func (b *Buffer) Close() {}

// Disconnect simulates the client going away.
func (b *Buffer) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

// Events returns a copy of everything pushed so far.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Names returns the event names in push order.
func (b *Buffer) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.events))
	for i, e := range b.events {
		names[i] = e.Name
	}
	return names
}
