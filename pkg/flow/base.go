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

package flow

import "context"

// BaseNode carries the declarative half of a Node: id, ports and docks.
// Concrete nodes embed it and implement Execute.
type BaseNode struct {
	NodeID  string
	Inputs  []Port
	Outputs []Port
	DockSet []Dock
}

func (n *BaseNode) ID() string          { return n.NodeID }
func (n *BaseNode) InputPorts() []Port  { return n.Inputs }
func (n *BaseNode) OutputPorts() []Port { return n.Outputs }
func (n *BaseNode) Docks() []Dock       { return n.DockSet }

// BaseResource is the trivial Resource implementation for providers with no
// docks of their own. Embed it and override Docks/Init as needed.
type BaseResource struct {
	ResourceID string
}

func NewBaseResource(id string) BaseResource {
	return BaseResource{ResourceID: id}
}

func (r *BaseResource) ID() string    { return r.ResourceID }
func (r *BaseResource) Docks() []Dock { return nil }

func (r *BaseResource) Init(ctx context.Context, resources Resources, fc *Context) error {
	return nil
}
