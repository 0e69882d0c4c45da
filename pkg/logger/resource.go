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

package logger

import (
	"log/slog"

	"github.com/missionbay/agentflow/pkg/flow"
)

// Resource makes a *slog.Logger dockable so flows can route node logging to
// a named logger.
type Resource struct {
	flow.BaseResource
	*slog.Logger
}

func NewResource(id string, l *slog.Logger) *Resource {
	if l == nil {
		l = slog.Default()
	}
	return &Resource{
		BaseResource: flow.NewBaseResource(id),
		Logger:       l,
	}
}
