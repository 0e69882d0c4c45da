package component

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionbay/agentflow/pkg/config"
	"github.com/missionbay/agentflow/pkg/flow"
)

type doubleNode struct {
	flow.BaseNode
}

func newDoubleNode(id string) *doubleNode {
	return &doubleNode{BaseNode: flow.BaseNode{
		NodeID:  id,
		Inputs:  []flow.Port{{Name: "value", Type: "number", Required: true}},
		Outputs: []flow.Port{{Name: "result", Type: "number"}},
	}}
}

func (n *doubleNode) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	v, _ := inputs["value"].(float64)
	return map[string]any{"result": v * 2}, nil
}

func TestManagerBuiltinsRegistered(t *testing.T) {
	m := NewManager()

	assert.Subset(t, m.NodeTypes(), []string{"assistant", "ingest", "if", "template", "sleep", "setvars"})
	assert.Subset(t, m.ResourceTypes(), []string{
		"model", "embedder", "queue_extractor", "directory_extractor",
		"text_parser", "pdf_parser", "docx_parser", "xlsx_parser",
		"simple_chunker", "overlapping_chunker", "token_chunker",
		"qdrant", "chromem", "buffer_memory", "sql_memory",
		"logger", "tools", "tool_proxy",
	})
}

func TestManagerUnknownTypes(t *testing.T) {
	m := NewManager()

	_, err := m.CreateNode("ghost", "n1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")

	_, err = m.CreateResource("ghost", "r1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource type")
}

func TestManagerRejectsDuplicateType(t *testing.T) {
	m := NewManager()
	require.Error(t, m.RegisterNodeType("assistant", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return nil, nil
	}))
}

func TestBuildFlowRunsDocument(t *testing.T) {
	m := NewManager(WithGlobalConfig(map[string]any{"defaults": map[string]any{"seed": 21.0}}))
	require.NoError(t, m.RegisterNodeType("double", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return newDoubleNode(id), nil
	}))

	doc := &config.FlowDocument{
		Name: "doubling",
		Nodes: []config.NodeSpec{
			{
				ID:   "first",
				Type: "double",
				Inputs: map[string]any{
					"value": map[string]any{"mode": "config", "name": "defaults.seed"},
				},
			},
			{ID: "second", Type: "double"},
		},
		Connections: []config.ConnectionSpec{
			{From: "first", Output: "result", To: "second", Input: "value"},
		},
	}

	f, err := m.BuildFlow(doc)
	require.NoError(t, err)

	outputs, err := f.Run(context.Background(), flow.NewContext(nil, nil), nil)
	require.NoError(t, err)
	require.Contains(t, outputs, "second")
	assert.Equal(t, float64(84), outputs["second"]["result"])
}

func TestBuildFlowResolvesResourceConfig(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "64")
	m := NewManager()

	doc := &config.FlowDocument{
		Name: "rc",
		Nodes: []config.NodeSpec{
			{ID: "ingest", Type: "ingest", Docks: map[string][]string{
				"chunker": {"chunks"},
			}},
		},
		Resources: []config.ResourceSpec{
			{
				ID:   "chunks",
				Type: "simple_chunker",
				Config: map[string]any{
					"max_chars": map[string]any{"mode": "env", "name": "CHUNK_SIZE", "default": 128},
				},
			},
		},
	}

	f, err := m.BuildFlow(doc)
	require.NoError(t, err)
	assert.Equal(t, "rc", f.ID())
}

func TestBuildFlowUnknownResourceType(t *testing.T) {
	m := NewManager()
	doc := &config.FlowDocument{
		Name:      "bad",
		Nodes:     []config.NodeSpec{{ID: "n", Type: "ingest"}},
		Resources: []config.ResourceSpec{{ID: "r", Type: "ghost"}},
	}
	_, err := m.BuildFlow(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
