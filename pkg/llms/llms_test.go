package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionbay/agentflow/pkg/protocol"
)

func newOpenAITestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProviderFromConfig(&ProviderConfig{
		Type:  "openai",
		Model: "gpt-4o-mini",
		Host:  srv.URL,
	})
	require.NoError(t, err)
	return p
}

func TestOpenAIRawText(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "gpt-4o-mini", req.Model)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hi there"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	})

	comp, err := p.Raw(context.Background(), []protocol.Message{protocol.NewMessage(protocol.RoleUser, "hello")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", comp.Message.Content)
	assert.Equal(t, protocol.RoleAssistant, comp.Message.Role)
	assert.Empty(t, comp.Message.ToolCalls)
	assert.Equal(t, 5, comp.Usage.TotalTokens)
}

func TestOpenAIRawToolCalls(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "",
						"tool_calls": []map[string]any{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]any{
									"name":      "search",
									"arguments": `{"query":"docs"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		})
	})

	comp, err := p.Raw(context.Background(), []protocol.Message{protocol.NewMessage(protocol.RoleUser, "find docs")}, []ToolDefinition{{Name: "search"}})
	require.NoError(t, err)
	require.Len(t, comp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", comp.Message.ToolCalls[0].ID)
	assert.Equal(t, "search", comp.Message.ToolCalls[0].Name)
	assert.Equal(t, "docs", comp.Message.ToolCalls[0].Args["query"])
}

func TestOpenAIStreamTokensAndToolCalls(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"id":"c1","type":"function","function":{"name":"lookup","arguments":"{\"k\""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":":1}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"total_tokens":11}}`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte("data: " + c + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	var text string
	var metas []MetaEvent
	err := p.Stream(context.Background(), []protocol.Message{protocol.NewMessage(protocol.RoleUser, "hi")}, nil,
		func(delta string) { text += delta },
		func(ev MetaEvent) { metas = append(metas, ev) },
	)
	require.NoError(t, err)

	assert.Equal(t, "Hello", text)
	require.Len(t, metas, 2)
	assert.Equal(t, MetaToolCall, metas[0].Event)
	assert.Equal(t, "lookup", metas[0].ToolCall.Name)
	assert.Equal(t, float64(1), metas[0].ToolCall.Args["k"])
	assert.Equal(t, MetaDone, metas[1].Event)
	assert.Equal(t, 11, metas[1].Tokens)
}

func TestAnthropicRawToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be helpful", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "tu_1", "name": "search", "input": map[string]any{"query": "x"}},
			},
			"usage": map[string]int{"input_tokens": 4, "output_tokens": 6},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropicProviderFromConfig(&ProviderConfig{Type: "anthropic", Model: "claude-sonnet-4-5", Host: srv.URL})
	require.NoError(t, err)

	comp, err := p.Raw(context.Background(), []protocol.Message{
		protocol.NewMessage(protocol.RoleSystem, "be helpful"),
		protocol.NewMessage(protocol.RoleUser, "find x"),
	}, []ToolDefinition{{Name: "search", Parameters: map[string]any{"type": "object"}}})
	require.NoError(t, err)

	assert.Equal(t, "checking", comp.Message.Content)
	require.Len(t, comp.Message.ToolCalls, 1)
	assert.Equal(t, "tu_1", comp.Message.ToolCalls[0].ID)
	assert.Equal(t, 10, comp.Usage.TotalTokens)
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"to"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ken"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			_, _ = w.Write([]byte("data: " + e + "\n\n"))
		}
	}))
	defer srv.Close()

	p, err := NewAnthropicProviderFromConfig(&ProviderConfig{Type: "anthropic", Model: "claude-sonnet-4-5", Host: srv.URL})
	require.NoError(t, err)

	var text string
	var last MetaEvent
	err = p.Stream(context.Background(), []protocol.Message{protocol.NewMessage(protocol.RoleUser, "hi")}, nil,
		func(delta string) { text += delta },
		func(ev MetaEvent) { last = ev },
	)
	require.NoError(t, err)
	assert.Equal(t, "token", text)
	assert.Equal(t, MetaDone, last.Event)
	assert.Equal(t, 2, last.Tokens)
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		lines := []string{
			`{"message":{"role":"assistant","content":"a"},"done":false}`,
			`{"message":{"role":"assistant","content":"b"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"eval_count":2}`,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	}))
	defer srv.Close()

	p, err := NewOllamaProviderFromConfig(&ProviderConfig{Type: "ollama", Model: "llama3", Host: srv.URL})
	require.NoError(t, err)

	var text string
	var last MetaEvent
	err = p.Stream(context.Background(), []protocol.Message{protocol.NewMessage(protocol.RoleUser, "hi")}, nil,
		func(delta string) { text += delta },
		func(ev MetaEvent) { last = ev },
	)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.Equal(t, MetaDone, last.Event)
	assert.Equal(t, 2, last.Tokens)
}

func TestProviderRegistry(t *testing.T) {
	r := NewProviderRegistry()

	_, err := r.Create(&ProviderConfig{Type: "openai", Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = r.Create(&ProviderConfig{Type: "nope", Model: "x"})
	require.Error(t, err)

	_, err = r.Create(nil)
	require.Error(t, err)
}
