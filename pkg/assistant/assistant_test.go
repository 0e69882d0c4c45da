package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionbay/agentflow/pkg/eventstream"
	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/llms"
	"github.com/missionbay/agentflow/pkg/memory"
	"github.com/missionbay/agentflow/pkg/protocol"
	"github.com/missionbay/agentflow/pkg/tool"
)

// scriptedProvider returns canned Raw completions in order, then streams the
// given tokens.
type scriptedProvider struct {
	raw       []protocol.Message
	rawCalls  int
	tokens    []string
	streamErr error
	rawErr    error
}

func (p *scriptedProvider) ModelName() string { return "scripted" }

func (p *scriptedProvider) Raw(ctx context.Context, messages []protocol.Message, tools []llms.ToolDefinition) (*llms.Completion, error) {
	if p.rawErr != nil {
		return nil, p.rawErr
	}
	if p.rawCalls >= len(p.raw) {
		return &llms.Completion{Message: protocol.NewMessage(protocol.RoleAssistant, "")}, nil
	}
	msg := p.raw[p.rawCalls]
	p.rawCalls++
	return &llms.Completion{Message: msg}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []protocol.Message, tools []llms.ToolDefinition, onData llms.OnData, onMeta llms.OnMeta) error {
	if p.streamErr != nil {
		return p.streamErr
	}
	for _, tok := range p.tokens {
		onData(tok)
	}
	onMeta(llms.MetaEvent{Event: llms.MetaDone})
	return nil
}

func newLookupTool(t *testing.T) tool.Tool {
	t.Helper()
	type args struct {
		Query string `json:"query" jsonschema:"required,description=Lookup key"`
	}
	tl, err := tool.NewFunction(
		tool.FunctionConfig{Name: "lookup", Description: "Looks things up", Category: "test"},
		func(ctx context.Context, a args, fc *flow.Context) (map[string]any, error) {
			return map[string]any{"answer": "42 for " + a.Query}, nil
		},
	)
	require.NoError(t, err)
	return tl
}

func runAssistant(t *testing.T, provider llms.ChatProvider, mem memory.Memory, reg *tool.Registry, inputs map[string]any) (*eventstream.Buffer, map[string]any) {
	t.Helper()
	node := NewNode("chat")
	buf := eventstream.NewBuffer()
	fc := flow.NewContext(mem, buf)

	resources := flow.Resources{
		"model": {llms.NewModelResource("model", provider)},
	}
	if mem != nil {
		resources["memory"] = []flow.Resource{NewMemoryResource("mem", mem)}
	}
	if reg != nil {
		resources["tools"] = []flow.Resource{tool.NewSourceResource("tools", reg)}
	}
	if inputs == nil {
		inputs = map[string]any{"message": "hello"}
	}

	out, err := node.Execute(context.Background(), inputs, resources, fc)
	require.NoError(t, err)
	return buf, out
}

func TestAssistantToolLoopEventOrder(t *testing.T) {
	toolCall := protocol.NewMessage(protocol.RoleAssistant, "")
	toolCall.ToolCalls = []protocol.ToolCall{{ID: "tc1", Name: "lookup", Args: map[string]any{"query": "meaning"}}}
	plain := protocol.NewMessage(protocol.RoleAssistant, "the answer is 42")

	provider := &scriptedProvider{
		raw:    []protocol.Message{toolCall, plain},
		tokens: []string{"the ", "answer ", "is 42"},
	}
	mem := memory.NewBufferMemory(0)
	reg := tool.NewRegistry(newLookupTool(t))

	buf, out := runAssistant(t, provider, mem, reg, map[string]any{"message": "what is the meaning?"})
	assert.Equal(t, true, out["stream_ready"])

	names := buf.Names()
	require.GreaterOrEqual(t, len(names), 6)
	assert.Equal(t, "msgid", names[0])
	assert.Equal(t, "tool.started", names[1])
	assert.Equal(t, "tool.finished", names[2])
	for _, name := range names[3 : len(names)-1] {
		assert.Equal(t, "token", name)
	}
	assert.Equal(t, "done", names[len(names)-1])

	// Memory order: user, assistant tool-call, tool result, assistant final.
	history, err := mem.LoadNodeHistory(context.Background(), "chat")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, protocol.RoleUser, history[0].Role)
	assert.Equal(t, protocol.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, protocol.RoleTool, history[2].Role)
	assert.Equal(t, "tc1", history[2].ToolCallID)
	assert.Equal(t, protocol.RoleAssistant, history[3].Role)
	assert.Equal(t, "the answer is 42", history[3].Content)

	// The final message carries the id announced by the msgid event.
	msgidPayload := buf.Events()[0].Payload.(map[string]any)
	assert.Equal(t, msgidPayload["id"], history[3].ID)
}

func TestAssistantPlainStreaming(t *testing.T) {
	provider := &scriptedProvider{tokens: []string{"hi ", "there"}}
	mem := memory.NewBufferMemory(0)

	buf, out := runAssistant(t, provider, mem, nil, nil)
	assert.Equal(t, true, out["stream_ready"])
	assert.Equal(t, []string{"msgid", "token", "token", "done"}, buf.Names())

	history, err := mem.LoadNodeHistory(context.Background(), "chat")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hi there", history[1].Content)
}

func TestAssistantSuggestionsModeSkipsMemoryAndTools(t *testing.T) {
	toolCall := protocol.NewMessage(protocol.RoleAssistant, "")
	toolCall.ToolCalls = []protocol.ToolCall{{ID: "tc1", Name: "lookup", Args: nil}}
	provider := &scriptedProvider{
		raw:    []protocol.Message{toolCall},
		tokens: []string{"suggestion"},
	}
	mem := memory.NewBufferMemory(0)
	reg := tool.NewRegistry(newLookupTool(t))

	buf, _ := runAssistant(t, provider, mem, reg, map[string]any{"message": "suggest", "suggestions": true})
	assert.Equal(t, []string{"msgid", "token", "done"}, buf.Names(), "no tool events in suggestions mode")
	assert.Zero(t, provider.rawCalls, "suggestions mode must not run the tool loop")

	history, err := mem.LoadNodeHistory(context.Background(), "chat")
	require.NoError(t, err)
	assert.Empty(t, history, "suggestions mode must not write memory")
}

func TestAssistantStreamErrorEmitsErrorThenDone(t *testing.T) {
	provider := &scriptedProvider{streamErr: errors.New("model unavailable")}
	buf, out := runAssistant(t, provider, memory.NewBufferMemory(0), nil, nil)

	assert.Equal(t, true, out["stream_ready"])
	names := buf.Names()
	require.Len(t, names, 3)
	assert.Equal(t, []string{"msgid", "error", "done"}, names)
	donePayload := buf.Events()[2].Payload.(map[string]any)
	assert.Equal(t, "error", donePayload["status"])
}

func TestAssistantNoStreamReturnsError(t *testing.T) {
	node := NewNode("chat")
	resources := flow.Resources{"model": {llms.NewModelResource("model", &scriptedProvider{})}}
	out, err := node.Execute(context.Background(), map[string]any{"message": "hi"}, resources, flow.NewContext(nil, nil))
	require.NoError(t, err)
	assert.Contains(t, out, "error")
}

func TestAssistantDisconnectStopsEmissionsNotSideEffects(t *testing.T) {
	toolCall := protocol.NewMessage(protocol.RoleAssistant, "")
	toolCall.ToolCalls = []protocol.ToolCall{{ID: "tc1", Name: "lookup", Args: map[string]any{"query": "x"}}}
	provider := &scriptedProvider{
		raw:    []protocol.Message{toolCall, protocol.NewMessage(protocol.RoleAssistant, "done")},
		tokens: []string{"a", "b"},
	}
	mem := memory.NewBufferMemory(0)
	reg := tool.NewRegistry(newLookupTool(t))

	node := NewNode("chat")
	buf := eventstream.NewBuffer()
	buf.Disconnect()
	fc := flow.NewContext(mem, buf)
	resources := flow.Resources{
		"model":  {llms.NewModelResource("model", provider)},
		"memory": {NewMemoryResource("mem", mem)},
		"tools":  {tool.NewSourceResource("tools", reg)},
	}
	_, err := node.Execute(context.Background(), map[string]any{"message": "hi"}, resources, fc)
	require.NoError(t, err)

	assert.Empty(t, buf.Names(), "no events reach a disconnected client")
	history, err := mem.LoadNodeHistory(context.Background(), "chat")
	require.NoError(t, err)
	assert.Len(t, history, 4, "memory writes still happen after disconnect")
}
