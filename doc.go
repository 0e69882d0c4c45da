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

// Package agentflow is a declarative runtime for agent flows.
//
// A flow is a directed graph of typed nodes connected by ports. Nodes do
// the work (streaming assistants, content ingestion); resources (models,
// vector stores, parsers, memories, tools) are docked onto the nodes that
// use them. Flows are described in YAML or JSON documents and can run
// one-shot from the CLI or behind the HTTP API.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/missionbay/agentflow/cmd/agentflow@latest
//
// Describe a flow:
//
//	name: chat
//	nodes:
//	  - id: chat
//	    type: assistant
//	    docks:
//	      model: [gpt]
//	      memory: [history]
//	resources:
//	  - id: gpt
//	    type: model
//	    config:
//	      provider: openai
//	      model: gpt-4o-mini
//	      api_key: {mode: env, name: OPENAI_API_KEY}
//	  - id: history
//	    type: buffer_memory
//
// Run it once, or serve a directory of flows:
//
//	agentflow run chat.yaml -i message="hello"
//	agentflow serve ./flows
//
// # Using as a Go Library
//
// Import the packages directly:
//
//	import (
//	    "github.com/missionbay/agentflow/pkg/component"
//	    "github.com/missionbay/agentflow/pkg/config"
//	    "github.com/missionbay/agentflow/pkg/flow"
//	)
//
// Build flows programmatically with flow.NewStrictFlow, or from documents
// with component.Manager.BuildFlow. Custom node and resource types register
// on the manager next to the builtins.
package agentflow
