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

package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Value specs map declarative config values to runtime values. A spec is
// either a plain scalar (used as-is) or a map with a mode:
//
//	{mode: fixed,   value: ...}
//	{mode: default, value: ...}
//	{mode: env,     name: API_KEY, default: ...}
//	{mode: config,  path: llm.api_key}
//	{mode: random,  length: 16}
//	{mode: uuid}
//	{mode: inherit, key: parent_key}
//
// Nodes never look up the environment themselves; everything goes through a
// Resolver.
type Resolver struct {
	// Global is the application config document backing mode=config lookups.
	Global map[string]any

	// Parent backs mode=inherit lookups, typically the enclosing resource's
	// resolved config.
	Parent map[string]any
}

// Resolve maps one value spec to its runtime value.
func (r *Resolver) Resolve(spec any) (any, error) {
	m, ok := spec.(map[string]any)
	if !ok {
		return spec, nil
	}
	modeRaw, ok := m["mode"]
	if !ok {
		// A map without a mode is plain data.
		return m, nil
	}
	mode, _ := modeRaw.(string)

	switch strings.ToLower(mode) {
	case "fixed", "default":
		return m["value"], nil

	case "env":
		name, _ := m["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("config: env value spec requires 'name'")
		}
		if val := os.Getenv(name); val != "" {
			return parseScalar(val), nil
		}
		return m["default"], nil

	case "config":
		path, _ := m["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("config: config value spec requires 'path'")
		}
		val, found := lookupPath(r.Global, path)
		if !found {
			return nil, fmt.Errorf("config: path '%s' not found", path)
		}
		return val, nil

	case "random":
		length := 16
		switch n := m["length"].(type) {
		case int:
			length = n
		case float64:
			length = int(n)
		}
		if length <= 0 {
			length = 16
		}
		buf := make([]byte, (length+1)/2)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("config: generate random value: %w", err)
		}
		return hex.EncodeToString(buf)[:length], nil

	case "uuid":
		return uuid.NewString(), nil

	case "inherit":
		key, _ := m["key"].(string)
		if key == "" {
			return nil, fmt.Errorf("config: inherit value spec requires 'key'")
		}
		val, found := r.Parent[key]
		if !found {
			return nil, fmt.Errorf("config: inherited key '%s' not found", key)
		}
		return val, nil

	default:
		return nil, fmt.Errorf("config: unknown value mode '%s'", mode)
	}
}

// ResolveMap resolves every value of a config map, leaving keys intact.
func (r *Resolver) ResolveMap(spec map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(spec))
	for key, value := range spec {
		resolved, err := r.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("key '%s': %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

// lookupPath walks dot-separated keys through nested maps.
func lookupPath(root map[string]any, path string) (any, bool) {
	var current any = root
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
