package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionbay/agentflow/pkg/flow"
)

func TestIfNode_TrueBranchOnly(t *testing.T) {
	f := flow.NewStrictFlow("branch", nil)

	ifNode, err := NewIfNode("if", nil)
	require.NoError(t, err)
	require.NoError(t, f.AddNode(ifNode))

	taken, err := NewTemplateNode("taken", map[string]any{"template": "took {{.v}}"})
	require.NoError(t, err)
	require.NoError(t, f.AddNode(taken))

	skipped, err := NewTemplateNode("skipped", map[string]any{"template": "never"})
	require.NoError(t, err)
	require.NoError(t, f.AddNode(skipped))

	f.Connect(flow.InputNodeID, "condition", "if", "condition")
	f.Connect("if", "true", "taken", "v")
	f.Connect("if", "false", "skipped", "v")

	result, err := f.Run(context.Background(), flow.NewContext(nil, nil), map[string]any{"condition": true})
	require.NoError(t, err)

	assert.Equal(t, "took 1", result["taken"]["text"])
	_, falseBranchRan := result["skipped"]
	assert.False(t, falseBranchRan, "false branch must stay unready")
}

func TestIfNode_DefaultConditionIsFalse(t *testing.T) {
	n, err := NewIfNode("if", nil)
	require.NoError(t, err)

	out, err := n.Execute(context.Background(), map[string]any{"condition": false, "value": 9}, nil, flow.NewContext(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"false": 9}, out)
}

func TestTemplateNode_RequiresTemplate(t *testing.T) {
	_, err := NewTemplateNode("t", nil)
	require.Error(t, err)
}

func TestSetVarsNode_WritesContextVars(t *testing.T) {
	n, err := NewSetVarsNode("vars", nil)
	require.NoError(t, err)

	fc := flow.NewContext(nil, nil)
	_, err = n.Execute(context.Background(), map[string]any{"user": "u-1", flow.CancelVar: true}, nil, fc)
	require.NoError(t, err)

	v, ok := fc.Var("user")
	require.True(t, ok)
	assert.Equal(t, "u-1", v)
	assert.False(t, fc.Cancelled(), "reserved cancel var must not be settable")
}

func TestSleepNode_ForwardsValue(t *testing.T) {
	n, err := NewSleepNode("zz", nil)
	require.NoError(t, err)

	out, err := n.Execute(context.Background(), map[string]any{"duration_ms": 0, "value": "pass"}, nil, flow.NewContext(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "pass", out["value"])
}
