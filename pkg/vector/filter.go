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

package vector

import "reflect"

// Filter is the backend-neutral filter: a scalar value means equality (or
// membership when the backend field is a list), a list value is a
// backend-level OR over its members.
type Filter struct {
	Must    map[string]any `json:"must,omitempty"`
	Any     map[string]any `json:"any,omitempty"`
	MustNot map[string]any `json:"must_not,omitempty"`
}

// Eq builds the common single-equality filter.
func Eq(key string, value any) *Filter {
	return &Filter{Must: map[string]any{key: value}}
}

func (f *Filter) Empty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Any) == 0 && len(f.MustNot) == 0)
}

// Matches evaluates the filter against a flat payload. Embedded backends use
// this directly; server backends translate the filter to their native form.
func (f *Filter) Matches(payload map[string]any) bool {
	if f.Empty() {
		return true
	}
	for key, want := range f.Must {
		if !valueMatches(payload[key], want) {
			return false
		}
	}
	if len(f.Any) > 0 {
		hit := false
		for key, want := range f.Any {
			if valueMatches(payload[key], want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for key, want := range f.MustNot {
		if valueMatches(payload[key], want) {
			return false
		}
	}
	return true
}

// valueMatches implements the scalar/list semantics: a list on the filter
// side is an OR, a list on the payload side means containment.
func valueMatches(have, want any) bool {
	if list, ok := asList(want); ok {
		for _, w := range list {
			if valueMatches(have, w) {
				return true
			}
		}
		return false
	}
	if list, ok := asList(have); ok {
		for _, h := range list {
			if scalarEqual(h, want) {
				return true
			}
		}
		return false
	}
	return scalarEqual(have, want)
}

func asList(v any) ([]any, bool) {
	switch vv := v.(type) {
	case []any:
		return vv, true
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// scalarEqual compares scalars with numeric widening so that int(3) and
// float64(3) from decoded JSON compare equal.
func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
