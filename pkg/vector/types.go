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

// Package vector defines the multi-collection vector store contract, the
// collection catalog that normalizes chunk payloads, and the Qdrant and
// chromem backends.
package vector

import (
	"context"
	"errors"

	"github.com/missionbay/agentflow/pkg/flow"
)

var (
	ErrUnknownCollection = errors.New("vector: unknown collection key")
	ErrInvalidChunk      = errors.New("vector: invalid chunk")
)

// Chunk is one embeddable unit of content bound for a collection.
type Chunk struct {
	CollectionKey string         `json:"collection_key"`
	ChunkIndex    int            `json:"chunk_index"`
	Text          string         `json:"text"`
	Hash          string         `json:"hash"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Vector        []float32      `json:"vector,omitempty"`
}

// HasVector reports whether the chunk carries an embedding.
func (c *Chunk) HasVector() bool {
	return len(c.Vector) > 0
}

// SearchResult is one scored point returned from Search.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// CollectionInfo describes a backend collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	VectorSize  int    `json:"vector_size"`
	Distance    string `json:"distance"`
	PointsCount uint64 `json:"points_count"`
}

// Store is the multi-collection vector store contract. All operations are
// scoped by the logical collection key; the catalog maps keys to backend
// collection names. Implementations must be safe for concurrent upserts
// within one collection.
type Store interface {
	Upsert(ctx context.Context, chunk *Chunk) error
	ExistsByHash(ctx context.Context, collectionKey, hash string) (bool, error)
	ExistsByFilter(ctx context.Context, collectionKey string, filter *Filter) (bool, error)
	DeleteByFilter(ctx context.Context, collectionKey string, filter *Filter) (int, error)
	Search(ctx context.Context, collectionKey string, vector []float32, limit int, minScore *float32, filter *Filter) ([]SearchResult, error)
	CreateCollection(ctx context.Context, collectionKey string) error
	DeleteCollection(ctx context.Context, collectionKey string) error
	GetInfo(ctx context.Context, collectionKey string) (*CollectionInfo, error)
}

// StoreResource makes a Store dockable to flow nodes.
type StoreResource struct {
	flow.BaseResource
	Store
}

func NewStoreResource(id string, store Store) *StoreResource {
	return &StoreResource{
		BaseResource: flow.NewBaseResource(id),
		Store:        store,
	}
}
