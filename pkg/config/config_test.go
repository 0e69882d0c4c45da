package config

import (
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_HOST", "qdrant.local")
	t.Setenv("AGENTFLOW_TEST_PORT", "6334")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no vars", "plain", "plain"},
		{"braced", "${AGENTFLOW_TEST_HOST}", "qdrant.local"},
		{"simple", "$AGENTFLOW_TEST_HOST", "qdrant.local"},
		{"with default hit", "${AGENTFLOW_TEST_HOST:-fallback}", "qdrant.local"},
		{"with default miss", "${AGENTFLOW_TEST_MISSING:-fallback}", "fallback"},
		{"unset braced", "${AGENTFLOW_TEST_MISSING}", ""},
		{"embedded", "http://${AGENTFLOW_TEST_HOST}:$AGENTFLOW_TEST_PORT", "http://qdrant.local:6334"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnvInDataRetypes(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_TOPK", "5")
	t.Setenv("AGENTFLOW_TEST_ENABLED", "true")

	in := map[string]any{
		"top_k":   "${AGENTFLOW_TEST_TOPK}",
		"enabled": "$AGENTFLOW_TEST_ENABLED",
		"list":    []any{"${AGENTFLOW_TEST_TOPK:-1}", "static"},
	}
	out := ExpandEnvInData(in).(map[string]any)

	if out["top_k"] != 5 {
		t.Errorf("top_k = %v (%T), want 5", out["top_k"], out["top_k"])
	}
	if out["enabled"] != true {
		t.Errorf("enabled = %v, want true", out["enabled"])
	}
	list := out["list"].([]any)
	if list[0] != 5 || list[1] != "static" {
		t.Errorf("list = %v", list)
	}
}

func TestResolver(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_KEY", "secret")

	r := &Resolver{
		Global: map[string]any{"llm": map[string]any{"api_key": "from-config"}},
		Parent: map[string]any{"collection": "docs"},
	}

	tests := []struct {
		name    string
		spec    any
		want    any
		wantErr bool
	}{
		{"scalar passthrough", "plain", "plain", false},
		{"map without mode", map[string]any{"k": 1}, map[string]any{"k": 1}, false},
		{"fixed", map[string]any{"mode": "fixed", "value": 42}, 42, false},
		{"default", map[string]any{"mode": "default", "value": "d"}, "d", false},
		{"env set", map[string]any{"mode": "env", "name": "AGENTFLOW_TEST_KEY"}, "secret", false},
		{"env fallback", map[string]any{"mode": "env", "name": "AGENTFLOW_TEST_NOPE", "default": "fb"}, "fb", false},
		{"env no name", map[string]any{"mode": "env"}, nil, true},
		{"config path", map[string]any{"mode": "config", "path": "llm.api_key"}, "from-config", false},
		{"config missing", map[string]any{"mode": "config", "path": "llm.nope"}, nil, true},
		{"inherit", map[string]any{"mode": "inherit", "key": "collection"}, "docs", false},
		{"inherit missing", map[string]any{"mode": "inherit", "key": "nope"}, nil, true},
		{"unknown mode", map[string]any{"mode": "teleport"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%v) expected error, got %v", tt.spec, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%v) error: %v", tt.spec, err)
			}
			switch want := tt.want.(type) {
			case map[string]any:
				gm, ok := got.(map[string]any)
				if !ok || len(gm) != len(want) {
					t.Errorf("Resolve = %v, want %v", got, want)
				}
			default:
				if got != tt.want {
					t.Errorf("Resolve = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestResolverRandomAndUUID(t *testing.T) {
	r := &Resolver{}

	v, err := r.Resolve(map[string]any{"mode": "random", "length": 8})
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if s, ok := v.(string); !ok || len(s) != 8 {
		t.Errorf("random value = %v, want 8-char string", v)
	}

	a, err := r.Resolve(map[string]any{"mode": "uuid"})
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	b, _ := r.Resolve(map[string]any{"mode": "uuid"})
	if a == b {
		t.Errorf("uuid mode must generate fresh ids")
	}
}

func TestParseDocument(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_TPL", "hello {{.name}}")

	doc, err := ParseDocument([]byte(`
name: greeter
nodes:
  - id: greet
    type: template
    config:
      template: ${AGENTFLOW_TEST_TPL}
    docks:
      model: [llm]
resources:
  - id: llm
    type: openai
connections:
  - {from: __input__, output: name, to: greet, input: name}
`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if doc.Name != "greeter" {
		t.Errorf("name = %q", doc.Name)
	}
	if len(doc.Nodes) != 1 || doc.Nodes[0].Config["template"] != "hello {{.name}}" {
		t.Errorf("nodes = %+v", doc.Nodes)
	}
	if doc.Connections[0].From != "__input__" {
		t.Errorf("connections = %+v", doc.Connections)
	}
}

func TestParseDocumentValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate node id", `
nodes:
  - {id: a, type: t}
  - {id: a, type: t}
`},
		{"unknown dock resource", `
nodes:
  - {id: a, type: t, docks: {model: [nope]}}
`},
		{"unknown connection target", `
nodes:
  - {id: a, type: t}
connections:
  - {from: a, output: out, to: ghost, input: in}
`},
		{"missing node type", `
nodes:
  - {id: a}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(tt.yaml)); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
