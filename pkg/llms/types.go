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

// Package llms defines the chat model contract and its provider adapters.
// Providers expose two calls: Raw for a single completion (used by the tool
// loop) and Stream for token-level delivery (used for the final answer).
package llms

import (
	"context"

	"github.com/missionbay/agentflow/pkg/protocol"
)

// ToolDefinition describes one callable function advertised to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of a Raw call: one assistant message, possibly
// carrying tool calls, plus token accounting.
type Completion struct {
	Message protocol.Message
	Usage   Usage
}

// Meta event kinds delivered through OnMeta during streaming.
const (
	MetaToolCall = "toolcall"
	MetaInfo     = "meta"
	MetaDone     = "done"
)

// MetaEvent is a structured side-channel event emitted while streaming.
type MetaEvent struct {
	Event    string
	ToolCall *protocol.ToolCall
	Tokens   int
	Data     map[string]any
}

type OnData func(delta string)

type OnMeta func(event MetaEvent)

// ChatProvider is the chat model contract. Stream always finishes with a
// MetaDone event unless it returns an error.
type ChatProvider interface {
	Raw(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Completion, error)
	Stream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, onData OnData, onMeta OnMeta) error
	ModelName() string
}

// ProviderConfig configures any of the shipped adapters. Unknown providers go
// through the registry instead.
type ProviderConfig struct {
	Type        string   `mapstructure:"type" yaml:"type"`
	Model       string   `mapstructure:"model" yaml:"model"`
	APIKey      string   `mapstructure:"api_key" yaml:"api_key"`
	Host        string   `mapstructure:"host" yaml:"host"`
	Temperature *float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     int      `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int      `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay  int      `mapstructure:"retry_delay" yaml:"retry_delay"`
}

func (c *ProviderConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
}

func (c *ProviderConfig) temperature() float64 {
	if c.Temperature == nil {
		return 0.7
	}
	return *c.Temperature
}
