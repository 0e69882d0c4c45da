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

package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/missionbay/agentflow/pkg/httpclient"
	"github.com/missionbay/agentflow/pkg/observability"
	"github.com/missionbay/agentflow/pkg/protocol"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	config *ProviderConfig
	client *httpclient.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Temp      float64            `json:"temperature"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicProviderFromConfig(cfg *ProviderConfig) (*AnthropicProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llms: anthropic provider requires a model")
	}
	cfg.setDefaults()
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)
	return &AnthropicProvider{config: cfg, client: client}, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Raw(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Completion, error) {
	tracer := observability.Tracer("agentflow.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("llm.provider", "anthropic"),
		),
	)
	defer span.End()

	body, err := p.post(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "error").Inc()
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("llms: read response: %w", err)
	}
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("llms: decode response: %w", err)
	}
	if resp.Error != nil {
		apiErr := fmt.Errorf("llms: anthropic API error: %s", resp.Error.Message)
		span.RecordError(apiErr)
		observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "error").Inc()
		return nil, apiErr
	}

	var text strings.Builder
	var toolCalls []protocol.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, protocol.ToolCall{ID: block.ID, Name: block.Name, Args: block.Input})
		}
	}

	msg := protocol.NewMessage(protocol.RoleAssistant, text.String())
	msg.ToolCalls = toolCalls

	span.SetStatus(codes.Ok, "")
	observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "ok").Inc()
	return &Completion{
		Message: msg,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, onData OnData, onMeta OnMeta) error {
	tracer := observability.Tracer("agentflow.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMStream,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, p.config.Model)),
	)
	defer span.End()

	body, err := p.post(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		span.RecordError(err)
		observability.LLMRequests.WithLabelValues(p.config.Model, "stream", "error").Inc()
		return err
	}
	defer body.Close()

	if err := p.consumeStream(body, onData, onMeta); err != nil {
		span.RecordError(err)
		observability.LLMRequests.WithLabelValues(p.config.Model, "stream", "error").Inc()
		return err
	}
	observability.LLMRequests.WithLabelValues(p.config.Model, "stream", "ok").Inc()
	return nil
}

// buildRequest maps the neutral message list onto Anthropic's block format:
// system messages collapse into the system field, tool results become
// tool_result blocks on user messages and assistant tool calls become
// tool_use blocks.
func (p *AnthropicProvider) buildRequest(messages []protocol.Message, tools []ToolDefinition, stream bool) anthropicRequest {
	var system strings.Builder
	wire := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)

		case protocol.RoleTool:
			wire = append(wire, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case protocol.RoleAssistant:
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Args})
			}
			if len(blocks) == 0 {
				blocks = []anthropicContent{{Type: "text", Text: ""}}
			}
			wire = append(wire, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			wire = append(wire, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		}
	}

	req := anthropicRequest{
		Model:     p.config.Model,
		System:    system.String(),
		Messages:  wire,
		MaxTokens: p.config.MaxTokens,
		Temp:      p.config.temperature(),
		Stream:    stream,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return req
}

func (p *AnthropicProvider) post(ctx context.Context, request anthropicRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("llms: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llms: build request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if p.config.APIKey != "" {
		req.Header.Set("x-api-key", p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("llms: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llms: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return resp.Body, nil
}

func (p *AnthropicProvider) consumeStream(body io.Reader, onData OnData, onMeta OnMeta) error {
	reader := bufio.NewReader(body)
	outputTokens := 0

	// Open tool_use block being assembled from input_json_delta fragments.
	var openCall *protocol.ToolCall
	var openArgs strings.Builder

	flushOpenCall := func() error {
		if openCall == nil {
			return nil
		}
		args := map[string]any{}
		if openArgs.Len() > 0 {
			if err := json.Unmarshal([]byte(openArgs.String()), &args); err != nil {
				return fmt.Errorf("llms: parse tool arguments for '%s': %w", openCall.Name, err)
			}
		}
		openCall.Args = args
		onMeta(MetaEvent{Event: MetaToolCall, ToolCall: openCall})
		openCall = nil
		openArgs.Reset()
		return nil
	}

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("llms: read stream: %w", err)
		}
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal(line[6:], &event); err != nil {
			continue
		}
		if event.Error != nil {
			return fmt.Errorf("llms: anthropic API error: %s", event.Error.Message)
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				openCall = &protocol.ToolCall{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				onData(event.Delta.Text)
			case "input_json_delta":
				openArgs.WriteString(event.Delta.PartialJSON)
			}
		case "content_block_stop":
			if err := flushOpenCall(); err != nil {
				return err
			}
		case "message_delta":
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			onMeta(MetaEvent{Event: MetaDone, Tokens: outputTokens})
			return nil
		}
	}

	if err := flushOpenCall(); err != nil {
		return err
	}
	onMeta(MetaEvent{Event: MetaDone, Tokens: outputTokens})
	return nil
}
