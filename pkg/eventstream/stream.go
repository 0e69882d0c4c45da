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

// Package eventstream delivers named events to a client sink.
//
// Streams are cooperative: Push never fails and never blocks on a broken
// client. Transport errors flip the disconnected flag instead; emitters are
// expected to probe Disconnected before pushing and to keep running their
// side effects regardless.
package eventstream

// Core event names emitted by the runtime.
const (
	EventMsgID        = "msgid"
	EventToken        = "token"
	EventMeta         = "meta"
	EventToolStarted  = "tool.started"
	EventToolFinished = "tool.finished"
	EventToolError    = "tool.error"
	EventCanvasOpen   = "canvas.open"
	EventCanvasRender = "canvas.render"
	EventCanvasClose  = "canvas.close"
	EventError        = "error"
	EventDone         = "done"
)

// Stream pushes named events with JSON payloads to one client.
type Stream interface {
	// Push emits a named event. It swallows transport errors and marks the
	// stream disconnected instead of returning them.
	Push(event string, payload any)

	// Disconnected reports whether the client has gone away. Once true it
	// never flips back.
	Disconnected() bool

	// Close releases the underlying sink. Idempotent.
	Close()
}
