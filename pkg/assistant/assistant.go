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

// Package assistant implements the streaming chat node: an early-opened
// event stream, a bounded tool-calling loop, then token streaming. The
// node's contract with clients is event-shaped; its return value only says
// whether the stream was opened.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/missionbay/agentflow/pkg/eventstream"
	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/llms"
	"github.com/missionbay/agentflow/pkg/logger"
	"github.com/missionbay/agentflow/pkg/memory"
	"github.com/missionbay/agentflow/pkg/protocol"
	"github.com/missionbay/agentflow/pkg/tool"
)

// MaxToolIterations bounds the raw tool-calling loop.
const MaxToolIterations = 5

// MemoryResource makes a memory.Memory dockable. It lives here instead of
// pkg/memory because flow already depends on memory.
type MemoryResource struct {
	flow.BaseResource
	memory.Memory
}

func NewMemoryResource(id string, mem memory.Memory) *MemoryResource {
	return &MemoryResource{
		BaseResource: flow.NewBaseResource(id),
		Memory:       mem,
	}
}

// Node is the streaming assistant.
type Node struct {
	flow.BaseNode
}

func NewNode(id string) *Node {
	return &Node{
		BaseNode: flow.BaseNode{
			NodeID: id,
			Inputs: []flow.Port{
				{Name: "message", Type: "string", Required: true, Description: "User message to answer"},
				{Name: "system_prompt", Type: "string", Default: ""},
				{Name: "suggestions", Type: "bool", Default: false, Description: "Suggestion mode: no memory writes, no tools"},
			},
			Outputs: []flow.Port{
				{Name: "stream_ready", Type: "bool"},
			},
			DockSet: []flow.Dock{
				{Name: "model", Interface: "llms.ChatProvider", MaxConnections: 1, Required: true},
				{Name: "memory", Interface: "memory.Memory"},
				{Name: "tools", Interface: "tool.Source"},
				{Name: "logger", Interface: "logger.Resource", MaxConnections: 1},
			},
		},
	}
}

func (n *Node) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	model, ok := flow.FirstDockedAs[llms.ChatProvider](resources, "model")
	if !ok {
		return map[string]any{"error": "assistant requires a docked model"}, nil
	}

	userText, _ := inputs["message"].(string)
	if strings.TrimSpace(userText) == "" {
		return map[string]any{"error": "empty message"}, nil
	}
	systemPrompt, _ := inputs["system_prompt"].(string)
	suggestions := flow.Truthy(inputs["suggestions"])

	var stream eventstream.Stream
	if fc != nil {
		stream = fc.Stream()
	}
	if stream == nil {
		return map[string]any{"error": "no event stream attached to run"}, nil
	}

	lg := slog.Default()
	if res, ok := flow.FirstDockedAs[*logger.Resource](resources, "logger"); ok {
		lg = res.Logger
	}

	var memories []memory.Memory
	if !suggestions {
		for _, m := range flow.DockedAs[memory.Memory](resources, "memory") {
			memories = append(memories, m)
		}
		memories = memory.ByPriority(memories)
	}

	var sources []tool.Source
	if !suggestions {
		sources = flow.DockedAs[tool.Source](resources, "tools")
	}

	run := &session{
		node:     n.ID(),
		model:    model,
		stream:   stream,
		memories: memories,
		sources:  sources,
		logger:   lg,
		fc:       fc,
	}
	run.run(ctx, systemPrompt, userText)
	return map[string]any{"stream_ready": true}, nil
}

type session struct {
	node     string
	model    llms.ChatProvider
	stream   eventstream.Stream
	memories []memory.Memory
	sources  []tool.Source
	logger   *slog.Logger
	fc       *flow.Context
}

// push probes the disconnect flag before every emission. Pushing to a gone
// client is skipped; the run itself keeps going so side effects complete.
func (s *session) push(event string, payload any) {
	if s.stream.Disconnected() {
		return
	}
	s.stream.Push(event, payload)
}

func (s *session) remember(ctx context.Context, msg protocol.Message) {
	for _, mem := range s.memories {
		if err := mem.AppendNodeHistory(ctx, s.node, msg); err != nil {
			s.logger.Warn("memory append failed", "node", s.node, "error", err)
		}
	}
}

func (s *session) run(ctx context.Context, systemPrompt, userText string) {
	// The final assistant message id is minted before any model work so the
	// client can commit a pending message immediately.
	msgID := uuid.NewString()
	s.push(eventstream.EventMsgID, map[string]any{"id": msgID})

	done := map[string]any{"status": "ok"}
	defer func() {
		s.push(eventstream.EventDone, done)
	}()

	messages := s.history(ctx, systemPrompt)
	userMsg := protocol.NewMessage(protocol.RoleUser, userText)
	messages = append(messages, userMsg)
	s.remember(ctx, userMsg)

	messages, err := s.toolLoop(ctx, messages)
	if err != nil {
		s.fail(err, done)
		return
	}

	var final strings.Builder
	err = s.model.Stream(ctx, messages, nil,
		func(delta string) {
			final.WriteString(delta)
			s.push(eventstream.EventToken, map[string]any{"text": delta})
		},
		func(ev llms.MetaEvent) {
			if ev.Event == llms.MetaInfo {
				s.push(eventstream.EventMeta, ev.Data)
			}
		},
	)
	if err != nil {
		s.fail(err, done)
		return
	}

	finalMsg := protocol.NewMessage(protocol.RoleAssistant, final.String())
	finalMsg.ID = msgID
	s.remember(ctx, finalMsg)
}

func (s *session) fail(err error, done map[string]any) {
	s.logger.Error("assistant run failed", "node", s.node, "error", err)
	s.push(eventstream.EventError, map[string]any{"error": err.Error()})
	done["status"] = "error"
}

func (s *session) history(ctx context.Context, systemPrompt string) []protocol.Message {
	var messages []protocol.Message
	if systemPrompt != "" {
		messages = append(messages, protocol.NewMessage(protocol.RoleSystem, systemPrompt))
	}
	if len(s.memories) == 0 {
		return messages
	}
	// The highest-priority memory is the read source; the rest only receive
	// writes.
	past, err := s.memories[0].LoadNodeHistory(ctx, s.node)
	if err != nil {
		s.logger.Warn("history load failed", "node", s.node, "error", err)
		return messages
	}
	return append(messages, past...)
}

func (s *session) definitions() []llms.ToolDefinition {
	var defs []llms.ToolDefinition
	for _, src := range s.sources {
		defs = append(defs, src.Definitions()...)
	}
	return defs
}

func (s *session) toolLoop(ctx context.Context, messages []protocol.Message) ([]protocol.Message, error) {
	defs := s.definitions()
	if len(defs) == 0 {
		return messages, nil
	}

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		completion, err := s.model.Raw(ctx, messages, defs)
		if err != nil {
			return nil, fmt.Errorf("tool loop: %w", err)
		}
		if len(completion.Message.ToolCalls) == 0 {
			// Discard the plain completion; the streaming phase regenerates
			// it as token events.
			return messages, nil
		}

		callMsg := completion.Message
		if callMsg.ID == "" {
			callMsg.ID = uuid.NewString()
		}
		messages = append(messages, callMsg)
		s.remember(ctx, callMsg)

		for _, call := range completion.Message.ToolCalls {
			result := s.invokeTool(ctx, call)
			resultMsg := protocol.NewToolResult(call.ID, result)
			messages = append(messages, resultMsg)
			s.remember(ctx, resultMsg)
		}
	}
	return messages, nil
}

func (s *session) invokeTool(ctx context.Context, call protocol.ToolCall) string {
	s.push(eventstream.EventToolStarted, map[string]any{"name": call.Name, "arguments": call.Args})

	src := s.sourceFor(call.Name)
	if src == nil {
		msg := fmt.Sprintf("tool %q is not available", call.Name)
		s.push(eventstream.EventToolError, map[string]any{"name": call.Name, "error": msg})
		return encodeResult(map[string]any{"error": msg})
	}

	out, err := src.Invoke(ctx, call.Name, call.Args, s.fc)
	if err != nil {
		s.push(eventstream.EventToolError, map[string]any{"name": call.Name, "error": err.Error()})
		return encodeResult(map[string]any{"error": err.Error()})
	}
	s.push(eventstream.EventToolFinished, map[string]any{"name": call.Name})
	return encodeResult(out)
}

func (s *session) sourceFor(name string) tool.Source {
	for _, src := range s.sources {
		for _, def := range src.Definitions() {
			if def.Name == name {
				return src
			}
		}
	}
	return nil
}

func encodeResult(result map[string]any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"error":"unencodable tool result: %v"}`, err)
	}
	return string(data)
}
