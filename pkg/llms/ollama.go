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

	"github.com/google/uuid"

	"github.com/missionbay/agentflow/pkg/httpclient"
	"github.com/missionbay/agentflow/pkg/observability"
	"github.com/missionbay/agentflow/pkg/protocol"
)

// OllamaProvider talks to a local Ollama server. The chat endpoint streams
// newline-delimited JSON rather than SSE.
type OllamaProvider struct {
	config *ProviderConfig
	client *httpclient.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaResponse struct {
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count"`
	Error     string        `json:"error,omitempty"`
}

func NewOllamaProviderFromConfig(cfg *ProviderConfig) (*OllamaProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llms: ollama provider requires a model")
	}
	cfg.setDefaults()
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
	)
	return &OllamaProvider{config: cfg, client: client}, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

func (p *OllamaProvider) Raw(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Completion, error) {
	body, err := p.post(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "error").Inc()
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("llms: read response: %w", err)
	}
	var resp ollamaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("llms: decode response: %w", err)
	}
	if resp.Error != "" {
		observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "error").Inc()
		return nil, fmt.Errorf("llms: ollama API error: %s", resp.Error)
	}

	msg := protocol.NewMessage(protocol.RoleAssistant, resp.Message.Content)
	msg.ToolCalls = convertOllamaToolCalls(resp.Message.ToolCalls)

	observability.LLMRequests.WithLabelValues(p.config.Model, "raw", "ok").Inc()
	return &Completion{Message: msg, Usage: Usage{CompletionTokens: resp.EvalCount, TotalTokens: resp.EvalCount}}, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, onData OnData, onMeta OnMeta) error {
	body, err := p.post(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		observability.LLMRequests.WithLabelValues(p.config.Model, "stream", "error").Inc()
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	tokens := 0

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			observability.LLMRequests.WithLabelValues(p.config.Model, "stream", "error").Inc()
			return fmt.Errorf("llms: ollama API error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			onData(chunk.Message.Content)
		}
		for _, call := range convertOllamaToolCalls(chunk.Message.ToolCalls) {
			call := call
			onMeta(MetaEvent{Event: MetaToolCall, ToolCall: &call})
		}
		if chunk.Done {
			tokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		observability.LLMRequests.WithLabelValues(p.config.Model, "stream", "error").Inc()
		return fmt.Errorf("llms: read stream: %w", err)
	}

	onMeta(MetaEvent{Event: MetaDone, Tokens: tokens})
	observability.LLMRequests.WithLabelValues(p.config.Model, "stream", "ok").Inc()
	return nil
}

func (p *OllamaProvider) buildRequest(messages []protocol.Message, tools []ToolDefinition, stream bool) ollamaRequest {
	wire := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		m := ollamaMessage{Role: string(msg.Role), Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Args
			m.ToolCalls = append(m.ToolCalls, otc)
		}
		wire = append(wire, m)
	}

	req := ollamaRequest{
		Model:    p.config.Model,
		Messages: wire,
		Stream:   stream,
		Options: map[string]any{
			"temperature": p.config.temperature(),
			"num_predict": p.config.MaxTokens,
		},
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openAITool{Type: "function", Function: t})
	}
	return req
}

func (p *OllamaProvider) post(ctx context.Context, request ollamaRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("llms: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llms: build request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")

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

// Ollama does not assign tool call ids; generate them so tool results can be
// linked back the same way as the other providers.
func convertOllamaToolCalls(wire []ollamaToolCall) []protocol.ToolCall {
	if len(wire) == 0 {
		return nil
	}
	calls := make([]protocol.ToolCall, len(wire))
	for i, tc := range wire {
		calls[i] = protocol.ToolCall{
			ID:   uuid.NewString(),
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		}
	}
	return calls
}
