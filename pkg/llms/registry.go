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
	"fmt"

	"github.com/missionbay/agentflow/pkg/registry"
)

// ProviderFactory builds a ChatProvider from config.
type ProviderFactory func(cfg *ProviderConfig) (ChatProvider, error)

// ProviderRegistry maps provider type names to factories. The shipped
// adapters are pre-registered; callers add custom providers the same way.
type ProviderRegistry struct {
	*registry.BaseRegistry[ProviderFactory]
}

func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[ProviderFactory]()}
	_ = r.Register("openai", func(cfg *ProviderConfig) (ChatProvider, error) {
		return NewOpenAIProviderFromConfig(cfg)
	})
	_ = r.Register("anthropic", func(cfg *ProviderConfig) (ChatProvider, error) {
		return NewAnthropicProviderFromConfig(cfg)
	})
	_ = r.Register("ollama", func(cfg *ProviderConfig) (ChatProvider, error) {
		return NewOllamaProviderFromConfig(cfg)
	})
	return r
}

// Create instantiates a provider by its config's type name.
func (r *ProviderRegistry) Create(cfg *ProviderConfig) (ChatProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llms: nil provider config")
	}
	factory, ok := r.Get(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("llms: unknown provider type '%s'", cfg.Type)
	}
	return factory(cfg)
}
