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

// Package protocol holds the chat message and tool-call types shared between
// memories, model adapters and the assistant node.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested invocation of a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// Message is a single chat history entry.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Feedback  string     `json:"feedback,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result message back to the assistant tool call
	// that produced it. Only set when Role is RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// NewMessage builds a message with a fresh id and the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolResult builds a tool-result message for the given tool call.
func NewToolResult(toolCallID string, content string) Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolCallID = toolCallID
	return msg
}
