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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/missionbay/agentflow/pkg/httpclient"
	"github.com/missionbay/agentflow/pkg/observability"
	"github.com/missionbay/agentflow/pkg/protocol"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	config *ProviderConfig
	client *httpclient.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage        `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content,omitempty"`
			ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage       `json:"usage,omitempty"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewOpenAIProviderFromConfig(cfg *ProviderConfig) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llms: openai provider requires a model")
	}
	cfg.setDefaults()
	if cfg.Host == "" {
		cfg.Host = "https://api.openai.com/v1"
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)
	return &OpenAIProvider{config: cfg, client: client}, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) Raw(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Completion, error) {
	tracer := observability.Tracer("agentflow.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("llm.provider", "openai"),
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

	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("llms: decode response: %w", err)
	}
	if resp.Error != nil {
		apiErr := fmt.Errorf("llms: openai API error: %s", resp.Error.Message)
		span.RecordError(apiErr)
		observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "error").Inc()
		return nil, apiErr
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llms: no choices returned")
	}

	choice := resp.Choices[0]
	msg := protocol.NewMessage(protocol.RoleAssistant, choice.Message.Content)
	if msg.ToolCalls, err = parseOpenAIToolCalls(choice.Message.ToolCalls); err != nil {
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "ok").Inc()
	return &Completion{Message: msg, Usage: resp.Usage}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, onData OnData, onMeta OnMeta) error {
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

func (p *OpenAIProvider) buildRequest(messages []protocol.Message, tools []ToolDefinition, stream bool) openAIRequest {
	wire := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		m := openAIMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			wtc := openAIToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			m.ToolCalls = append(m.ToolCalls, wtc)
		}
		wire = append(wire, m)
	}

	req := openAIRequest{
		Model:       p.config.Model,
		Messages:    wire,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.temperature(),
		Stream:      stream,
	}
	if len(tools) > 0 {
		req.Tools = make([]openAITool, len(tools))
		for i, t := range tools {
			req.Tools[i] = openAITool{Type: "function", Function: t}
		}
		req.ToolChoice = "auto"
	}
	return req
}

func (p *OpenAIProvider) post(ctx context.Context, request openAIRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("llms: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llms: build request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
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
		var wrapper struct {
			Error openAIError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapper) == nil && wrapper.Error.Message != "" {
			return nil, fmt.Errorf("llms: HTTP %d: %s", resp.StatusCode, wrapper.Error.Message)
		}
		return nil, fmt.Errorf("llms: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return resp.Body, nil
}

// consumeStream parses the SSE body. Tool call arguments arrive as JSON
// fragments spread over many deltas; they are accumulated per slot and only
// surfaced once a finish reason arrives.
func (p *OpenAIProvider) consumeStream(body io.Reader, onData OnData, onMeta OnMeta) error {
	reader := bufio.NewReader(body)
	var pending []openAIToolCall
	totalTokens := 0

	flushToolCalls := func() error {
		calls, err := parseOpenAIToolCalls(pending)
		if err != nil {
			return err
		}
		for i := range calls {
			onMeta(MetaEvent{Event: MetaToolCall, ToolCall: &calls[i]})
		}
		pending = nil
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
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk openAIStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("llms: openai API error: %s", chunk.Error.Message)
		}
		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			onData(choice.Delta.Content)
		}
		for _, delta := range choice.Delta.ToolCalls {
			if delta.ID != "" {
				pending = append(pending, delta)
			} else if len(pending) > 0 {
				pending[len(pending)-1].Function.Arguments += delta.Function.Arguments
			}
		}
		if choice.FinishReason == "stop" || choice.FinishReason == "tool_calls" {
			if err := flushToolCalls(); err != nil {
				return err
			}
		}
	}

	if err := flushToolCalls(); err != nil {
		return err
	}
	onMeta(MetaEvent{Event: MetaDone, Tokens: totalTokens})
	return nil
}

func parseOpenAIToolCalls(wire []openAIToolCall) ([]protocol.ToolCall, error) {
	if len(wire) == 0 {
		return nil, nil
	}
	calls := make([]protocol.ToolCall, len(wire))
	for i, tc := range wire {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("llms: parse tool arguments for '%s': %w", tc.Function.Name, err)
			}
		}
		calls[i] = protocol.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}
	}
	return calls, nil
}
