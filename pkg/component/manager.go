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

// Package component instantiates nodes, resources and flows by type name.
// The Manager owns the type registries and a process-wide tool registry;
// the flow factory turns declarative documents into runnable StrictFlows.
package component

import (
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/missionbay/agentflow/pkg/assistant"
	"github.com/missionbay/agentflow/pkg/config"
	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/flow/nodes"
	"github.com/missionbay/agentflow/pkg/llms"
	"github.com/missionbay/agentflow/pkg/logger"
	"github.com/missionbay/agentflow/pkg/memory"
	"github.com/missionbay/agentflow/pkg/rag"
	"github.com/missionbay/agentflow/pkg/registry"
	"github.com/missionbay/agentflow/pkg/tool"
	"github.com/missionbay/agentflow/pkg/vector"
)

// NodeFactory builds a node from its resolved config.
type NodeFactory func(m *Manager, id string, cfg map[string]any) (flow.Node, error)

// ResourceFactory builds a resource from its resolved config.
type ResourceFactory func(m *Manager, id string, cfg map[string]any) (flow.Resource, error)

// Manager owns the node and resource type registries.
type Manager struct {
	nodes     *registry.BaseRegistry[NodeFactory]
	resources *registry.BaseRegistry[ResourceFactory]
	providers *llms.ProviderRegistry
	tools     *tool.Registry
	global    map[string]any
	logger    *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithGlobalConfig backs mode=config value lookups in flow documents.
func WithGlobalConfig(global map[string]any) Option {
	return func(m *Manager) { m.global = global }
}

// WithLogger sets the logger handed to flows and components.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a manager with every built-in type registered.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		nodes:     registry.NewBaseRegistry[NodeFactory](),
		resources: registry.NewBaseRegistry[ResourceFactory](),
		providers: llms.NewProviderRegistry(),
		tools:     tool.NewRegistry(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registerBuiltins()
	return m
}

// RegisterNodeType installs a custom node type.
func (m *Manager) RegisterNodeType(name string, factory NodeFactory) error {
	return m.nodes.Register(name, factory)
}

// RegisterResourceType installs a custom resource type.
func (m *Manager) RegisterResourceType(name string, factory ResourceFactory) error {
	return m.resources.Register(name, factory)
}

// Tools returns the process-wide tool registry. Hosts install their tools
// here before building flows.
func (m *Manager) Tools() *tool.Registry { return m.tools }

// Providers returns the chat provider registry.
func (m *Manager) Providers() *llms.ProviderRegistry { return m.providers }

// NodeTypes lists the registered node type names.
func (m *Manager) NodeTypes() []string { return m.nodes.Names() }

// ResourceTypes lists the registered resource type names.
func (m *Manager) ResourceTypes() []string { return m.resources.Names() }

// CreateNode instantiates a node by type name.
func (m *Manager) CreateNode(typeName, id string, cfg map[string]any) (flow.Node, error) {
	factory, ok := m.nodes.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("component: unknown node type '%s'", typeName)
	}
	return factory(m, id, cfg)
}

// CreateResource instantiates a resource by type name.
func (m *Manager) CreateResource(typeName, id string, cfg map[string]any) (flow.Resource, error) {
	factory, ok := m.resources.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("component: unknown resource type '%s'", typeName)
	}
	return factory(m, id, cfg)
}

// BuildFlow materializes a validated flow document into a StrictFlow.
func (m *Manager) BuildFlow(doc *config.FlowDocument) (*flow.StrictFlow, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	resolver := &config.Resolver{Global: m.global}

	f := flow.NewStrictFlow(doc.Name, m.logger)

	for _, spec := range doc.Resources {
		cfg, err := resolver.ResolveMap(spec.Config)
		if err != nil {
			return nil, fmt.Errorf("component: resource '%s' config: %w", spec.ID, err)
		}
		res, err := m.CreateResource(spec.Type, spec.ID, cfg)
		if err != nil {
			return nil, fmt.Errorf("component: resource '%s': %w", spec.ID, err)
		}
		if err := f.AddResource(res); err != nil {
			return nil, err
		}
		for dock, ids := range spec.Docks {
			for _, rid := range ids {
				f.DockResourceToResource(spec.ID, dock, rid)
			}
		}
	}

	for _, spec := range doc.Nodes {
		cfg, err := resolver.ResolveMap(spec.Config)
		if err != nil {
			return nil, fmt.Errorf("component: node '%s' config: %w", spec.ID, err)
		}
		node, err := m.CreateNode(spec.Type, spec.ID, cfg)
		if err != nil {
			return nil, fmt.Errorf("component: node '%s': %w", spec.ID, err)
		}
		if err := f.AddNode(node); err != nil {
			return nil, err
		}

		inputs, err := resolver.ResolveMap(spec.Inputs)
		if err != nil {
			return nil, fmt.Errorf("component: node '%s' inputs: %w", spec.ID, err)
		}
		f.SetInitialInputs(spec.ID, inputs)

		for dock, ids := range spec.Docks {
			for _, rid := range ids {
				f.DockResource(spec.ID, dock, rid)
			}
		}
	}

	for _, conn := range doc.Connections {
		f.Connect(conn.From, conn.Output, conn.To, conn.Input)
	}
	return f, nil
}

func decode[T any](cfg map[string]any, out *T) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(cfg)
}

type priorityConfig struct {
	Priority int `mapstructure:"priority"`
}

func (m *Manager) registerBuiltins() {
	// Nodes.
	_ = m.nodes.Register("assistant", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return assistant.NewNode(id), nil
	})
	_ = m.nodes.Register("ingest", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return rag.NewIngestNode(id), nil
	})
	_ = m.nodes.Register("if", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return nodes.NewIfNode(id, cfg)
	})
	_ = m.nodes.Register("template", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return nodes.NewTemplateNode(id, cfg)
	})
	_ = m.nodes.Register("sleep", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return nodes.NewSleepNode(id, cfg)
	})
	_ = m.nodes.Register("setvars", func(m *Manager, id string, cfg map[string]any) (flow.Node, error) {
		return nodes.NewSetVarsNode(id, cfg)
	})

	// Model and embedder resources.
	_ = m.resources.Register("model", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var pc llms.ProviderConfig
		if err := decode(cfg, &pc); err != nil {
			return nil, err
		}
		provider, err := m.providers.Create(&pc)
		if err != nil {
			return nil, err
		}
		return llms.NewModelResource(id, provider), nil
	})
	_ = m.resources.Register("embedder", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var ec rag.EmbedderConfig
		if err := decode(cfg, &ec); err != nil {
			return nil, err
		}
		return rag.NewHTTPEmbedder(id, &ec)
	})

	// Extractors.
	_ = m.resources.Register("queue_extractor", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var qc struct {
			MaxAttempts int `mapstructure:"max_attempts"`
		}
		if err := decode(cfg, &qc); err != nil {
			return nil, err
		}
		return rag.NewQueueExtractor(id, qc.MaxAttempts), nil
	})
	_ = m.resources.Register("directory_extractor", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var dc rag.DirectoryConfig
		if err := decode(cfg, &dc); err != nil {
			return nil, err
		}
		return rag.NewDirectoryExtractor(id, &dc)
	})

	// Parsers.
	_ = m.resources.Register("text_parser", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		pc := priorityConfig{Priority: 100}
		if err := decode(cfg, &pc); err != nil {
			return nil, err
		}
		return rag.NewTextParser(id, pc.Priority), nil
	})
	_ = m.resources.Register("pdf_parser", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		pc := priorityConfig{Priority: 10}
		if err := decode(cfg, &pc); err != nil {
			return nil, err
		}
		return rag.NewPDFParser(id, pc.Priority), nil
	})
	_ = m.resources.Register("docx_parser", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		pc := priorityConfig{Priority: 10}
		if err := decode(cfg, &pc); err != nil {
			return nil, err
		}
		return rag.NewDocxParser(id, pc.Priority), nil
	})
	_ = m.resources.Register("xlsx_parser", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		pc := priorityConfig{Priority: 10}
		if err := decode(cfg, &pc); err != nil {
			return nil, err
		}
		return rag.NewXlsxParser(id, pc.Priority), nil
	})

	// Chunkers.
	_ = m.resources.Register("simple_chunker", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var cc struct {
			MaxChars int `mapstructure:"max_chars"`
			Priority int `mapstructure:"priority"`
		}
		if err := decode(cfg, &cc); err != nil {
			return nil, err
		}
		return rag.NewSimpleChunker(id, cc.MaxChars, cc.Priority), nil
	})
	_ = m.resources.Register("overlapping_chunker", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var cc struct {
			MaxChars int `mapstructure:"max_chars"`
			Overlap  int `mapstructure:"overlap"`
			Priority int `mapstructure:"priority"`
		}
		if err := decode(cfg, &cc); err != nil {
			return nil, err
		}
		return rag.NewOverlappingChunker(id, cc.MaxChars, cc.Overlap, cc.Priority), nil
	})
	_ = m.resources.Register("token_chunker", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var cc struct {
			MaxTokens int `mapstructure:"max_tokens"`
			Overlap   int `mapstructure:"overlap"`
			Priority  int `mapstructure:"priority"`
		}
		if err := decode(cfg, &cc); err != nil {
			return nil, err
		}
		return rag.NewTokenChunker(id, cc.MaxTokens, cc.Overlap, cc.Priority), nil
	})

	// Vector stores.
	_ = m.resources.Register("qdrant", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var vc struct {
			vector.QdrantConfig `mapstructure:",squash"`
			Collections         []vector.CollectionSpec `mapstructure:"collections"`
		}
		if err := decode(cfg, &vc); err != nil {
			return nil, err
		}
		catalog, err := vector.NewCatalog(vc.Collections...)
		if err != nil {
			return nil, err
		}
		store, err := vector.NewQdrantStoreFromConfig(&vc.QdrantConfig, catalog)
		if err != nil {
			return nil, err
		}
		return vector.NewStoreResource(id, store), nil
	})
	_ = m.resources.Register("chromem", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var vc struct {
			vector.ChromemConfig `mapstructure:",squash"`
			Collections          []vector.CollectionSpec `mapstructure:"collections"`
		}
		if err := decode(cfg, &vc); err != nil {
			return nil, err
		}
		catalog, err := vector.NewCatalog(vc.Collections...)
		if err != nil {
			return nil, err
		}
		store, err := vector.NewChromemStoreFromConfig(&vc.ChromemConfig, catalog)
		if err != nil {
			return nil, err
		}
		return vector.NewStoreResource(id, store), nil
	})

	// Memories.
	_ = m.resources.Register("buffer_memory", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var pc priorityConfig
		if err := decode(cfg, &pc); err != nil {
			return nil, err
		}
		return assistant.NewMemoryResource(id, memory.NewBufferMemory(pc.Priority)), nil
	})
	_ = m.resources.Register("sql_memory", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var sc memory.SQLMemoryConfig
		if err := decode(cfg, &sc); err != nil {
			return nil, err
		}
		mem, err := memory.NewSQLMemory(sc)
		if err != nil {
			return nil, err
		}
		return assistant.NewMemoryResource(id, mem), nil
	})

	// Loggers and tools.
	_ = m.resources.Register("logger", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		var lc struct {
			Component string `mapstructure:"component"`
		}
		if err := decode(cfg, &lc); err != nil {
			return nil, err
		}
		if lc.Component == "" {
			lc.Component = id
		}
		return logger.NewResource(id, logger.For(lc.Component)), nil
	})
	_ = m.resources.Register("tools", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		return tool.NewSourceResource(id, m.tools), nil
	})
	_ = m.resources.Register("tool_proxy", func(m *Manager, id string, cfg map[string]any) (flow.Resource, error) {
		return tool.NewProxy(id, m.tools), nil
	})
}
