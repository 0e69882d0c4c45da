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

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Distance is a collection's similarity function.
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

// pointNamespace is the fixed UUIDv5 namespace for deterministic point ids.
var pointNamespace = uuid.MustParse("8c9d2f40-1b6e-5a3c-9e71-4f82a0c65d18")

// Workflow bookkeeping keys are never stored in point payloads.
var reservedMetadataKeys = map[string]bool{
	"job_id":        true,
	"attempts":      true,
	"locks":         true,
	"error_message": true,
	"action":        true,
	"collectionKey": true,
}

// CollectionSpec declares one logical collection.
type CollectionSpec struct {
	Key        string            `mapstructure:"key" yaml:"key"`
	Backend    string            `mapstructure:"backend" yaml:"backend"`
	VectorSize int               `mapstructure:"vector_size" yaml:"vector_size"`
	Distance   Distance          `mapstructure:"distance" yaml:"distance"`
	Schema     map[string]string `mapstructure:"schema" yaml:"schema"`
	Required   []string          `mapstructure:"required" yaml:"required"`

	// TextOptional marks collections that store non-text points.
	TextOptional bool `mapstructure:"text_optional" yaml:"text_optional"`
}

// Catalog owns the per-collection metadata: vector geometry, backend
// collection names, payload schemas and required metadata keys. The store
// adapters consult it for validation and payload construction.
type Catalog struct {
	specs map[string]CollectionSpec
	keys  []string
}

func NewCatalog(specs ...CollectionSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]CollectionSpec, len(specs))}
	for _, spec := range specs {
		if spec.Key == "" {
			return nil, fmt.Errorf("vector: collection spec without key")
		}
		if _, exists := c.specs[spec.Key]; exists {
			return nil, fmt.Errorf("vector: duplicate collection key '%s'", spec.Key)
		}
		if spec.Backend == "" {
			spec.Backend = spec.Key
		}
		if spec.VectorSize <= 0 {
			return nil, fmt.Errorf("vector: collection '%s' requires a positive vector_size", spec.Key)
		}
		switch spec.Distance {
		case DistanceCosine, DistanceDot, DistanceEuclid:
		case "":
			spec.Distance = DistanceCosine
		default:
			return nil, fmt.Errorf("vector: collection '%s' has unknown distance '%s'", spec.Key, spec.Distance)
		}
		c.specs[spec.Key] = spec
		c.keys = append(c.keys, spec.Key)
	}
	sort.Strings(c.keys)
	return c, nil
}

// Keys returns all known collection keys, sorted.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c *Catalog) spec(key string) (CollectionSpec, error) {
	spec, ok := c.specs[key]
	if !ok {
		return CollectionSpec{}, fmt.Errorf("%w: '%s'", ErrUnknownCollection, key)
	}
	return spec, nil
}

func (c *Catalog) BackendName(key string) (string, error) {
	spec, err := c.spec(key)
	if err != nil {
		return "", err
	}
	return spec.Backend, nil
}

func (c *Catalog) VectorSize(key string) (int, error) {
	spec, err := c.spec(key)
	if err != nil {
		return 0, err
	}
	return spec.VectorSize, nil
}

func (c *Catalog) Distance(key string) (Distance, error) {
	spec, err := c.spec(key)
	if err != nil {
		return "", err
	}
	return spec.Distance, nil
}

func (c *Catalog) Schema(key string) (map[string]string, error) {
	spec, err := c.spec(key)
	if err != nil {
		return nil, err
	}
	return spec.Schema, nil
}

// Validate rejects chunks that cannot be stored in their collection.
func (c *Catalog) Validate(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: nil chunk", ErrInvalidChunk)
	}
	if chunk.CollectionKey == "" {
		return fmt.Errorf("%w: empty collection key", ErrInvalidChunk)
	}
	spec, err := c.spec(chunk.CollectionKey)
	if err != nil {
		return err
	}
	if chunk.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index %d", ErrInvalidChunk, chunk.ChunkIndex)
	}
	if chunk.Hash == "" {
		return fmt.Errorf("%w: empty hash", ErrInvalidChunk)
	}
	if !spec.TextOptional && strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("%w: empty text for collection '%s'", ErrInvalidChunk, chunk.CollectionKey)
	}
	for _, req := range spec.Required {
		if _, ok := chunk.Metadata[req]; !ok {
			return fmt.Errorf("%w: missing required metadata key '%s'", ErrInvalidChunk, req)
		}
	}
	return nil
}

// Chunktoken is the stable per-chunk token: the bare hash for the first
// chunk, hash-index for the rest.
func Chunktoken(hash string, chunkIndex int) string {
	if chunkIndex == 0 {
		return hash
	}
	return hash + "-" + strconv.Itoa(chunkIndex)
}

// PointID derives the deterministic UUIDv5 point id for a (hash, chunkIndex)
// pair, making repeated upserts of the same chunk idempotent.
func PointID(hash string, chunkIndex int) string {
	name := hash + ":" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// BuildPayload validates the chunk and produces the flat point payload.
// Required lifecycle keys are lifted to the top level, reserved workflow
// keys are dropped, and everything else lands under "meta".
func (c *Catalog) BuildPayload(chunk *Chunk) (map[string]any, error) {
	if err := c.Validate(chunk); err != nil {
		return nil, err
	}
	spec, _ := c.spec(chunk.CollectionKey)

	payload := map[string]any{
		"text":           chunk.Text,
		"hash":           chunk.Hash,
		"collection_key": chunk.CollectionKey,
		"chunktoken":     Chunktoken(chunk.Hash, chunk.ChunkIndex),
		"chunk_index":    chunk.ChunkIndex,
	}

	required := make(map[string]bool, len(spec.Required))
	for _, req := range spec.Required {
		required[req] = true
		payload[req] = chunk.Metadata[req]
	}

	meta := make(map[string]any)
	for key, value := range chunk.Metadata {
		if required[key] || reservedMetadataKeys[key] {
			continue
		}
		meta[key] = value
	}
	// "meta" is always present so consumers need no existence check.
	payload["meta"] = meta
	return payload, nil
}
