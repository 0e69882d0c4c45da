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
	"github.com/missionbay/agentflow/pkg/flow"
)

// ModelResource makes a ChatProvider dockable to flow nodes.
type ModelResource struct {
	flow.BaseResource
	ChatProvider
}

func NewModelResource(id string, provider ChatProvider) *ModelResource {
	return &ModelResource{
		BaseResource: flow.NewBaseResource(id),
		ChatProvider: provider,
	}
}
