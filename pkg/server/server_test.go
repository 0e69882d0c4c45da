package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionbay/agentflow/pkg/component"
	"github.com/missionbay/agentflow/pkg/eventstream"
	"github.com/missionbay/agentflow/pkg/flow"
)

type greetNode struct {
	flow.BaseNode
}

func (n *greetNode) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	name, _ := inputs["name"].(string)
	if stream := fc.Stream(); stream != nil {
		stream.Push(eventstream.EventToken, map[string]any{"text": "hello " + name})
		stream.Push(eventstream.EventDone, map[string]any{"status": "ok"})
	}
	return map[string]any{"greeting": "hello " + name}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(component.NewManager(), nil)

	f := flow.NewStrictFlow("greet", nil)
	require.NoError(t, f.AddNode(&greetNode{BaseNode: flow.BaseNode{
		NodeID:  "hello",
		Inputs:  []flow.Port{{Name: "name", Type: "string", Default: "world"}},
		Outputs: []flow.Port{{Name: "greeting", Type: "string"}},
	}}))
	f.Connect(flow.InputNodeID, "name", "hello", "name")
	require.NoError(t, s.RegisterFlow(f))
	return s
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunFlow(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	body := strings.NewReader(`{"inputs": {"name": "ada"}}`)
	resp, err := http.Post(srv.URL+"/flows/greet/run", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Outputs map[string]map[string]any `json:"outputs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.Contains(t, parsed.Outputs, "hello")
	assert.Equal(t, "hello ada", parsed.Outputs["hello"]["greeting"])
}

func TestRunFlowNotFound(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/flows/ghost/run", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatStreamsSSE(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body := strings.NewReader(`{"flow": "greet", "inputs": {"name": "sse"}}`)
	resp, err := http.Post(srv.URL+"/chat", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	payload := string(raw)
	assert.Contains(t, payload, "event: token")
	assert.Contains(t, payload, "hello sse")
	assert.Contains(t, payload, "event: done")
}

func TestChatUnknownFlow(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"flow": "ghost"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterFlowTwice(t *testing.T) {
	s := newTestServer(t)
	dup := flow.NewStrictFlow("greet", nil)
	require.Error(t, s.RegisterFlow(dup))
}
