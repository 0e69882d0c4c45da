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
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/missionbay/agentflow/pkg/observability"
)

// ChromemConfig configures the embedded chromem store.
type ChromemConfig struct {
	// Path enables on-disk persistence when non-empty.
	Path     string `mapstructure:"path" yaml:"path"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
}

// ChromemStore implements Store on the embedded chromem-go database. It is
// the zero-dependency backend for development and tests. chromem documents
// only carry string metadata, so the full payload is kept in a sidecar map
// that also answers filter-only queries.
type ChromemStore struct {
	db      *chromem.DB
	catalog *Catalog

	mu       sync.RWMutex
	payloads map[string]map[string]map[string]any
}

func NewChromemStoreFromConfig(cfg *ChromemConfig, catalog *Catalog) (*ChromemStore, error) {
	if catalog == nil {
		return nil, fmt.Errorf("vector: chromem store requires a catalog")
	}

	var db *chromem.DB
	if cfg != nil && cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("vector: open chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemStore{
		db:       db,
		catalog:  catalog,
		payloads: make(map[string]map[string]map[string]any),
	}, nil
}

// noEmbed guards against accidental reliance on chromem's built-in
// embedders; all vectors arrive precomputed.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vector: chromem store only accepts precomputed embeddings")
}

func (s *ChromemStore) collection(collectionKey string) (*chromem.Collection, string, error) {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return nil, "", err
	}
	col, err := s.db.GetOrCreateCollection(backend, nil, noEmbed)
	if err != nil {
		return nil, "", fmt.Errorf("vector: open collection '%s': %w", backend, err)
	}
	return col, backend, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, chunk *Chunk) error {
	payload, err := s.catalog.BuildPayload(chunk)
	if err != nil {
		return err
	}
	if !chunk.HasVector() {
		return fmt.Errorf("%w: chunk without vector", ErrInvalidChunk)
	}

	col, _, err := s.collection(chunk.CollectionKey)
	if err != nil {
		observability.VectorUpserts.WithLabelValues(chunk.CollectionKey, "error").Inc()
		return err
	}

	id := PointID(chunk.Hash, chunk.ChunkIndex)
	if err := col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   chunk.Text,
		Embedding: chunk.Vector,
	}); err != nil {
		observability.VectorUpserts.WithLabelValues(chunk.CollectionKey, "error").Inc()
		return fmt.Errorf("vector: add document: %w", err)
	}

	s.mu.Lock()
	if s.payloads[chunk.CollectionKey] == nil {
		s.payloads[chunk.CollectionKey] = make(map[string]map[string]any)
	}
	s.payloads[chunk.CollectionKey][id] = payload
	s.mu.Unlock()

	observability.VectorUpserts.WithLabelValues(chunk.CollectionKey, "ok").Inc()
	return nil
}

func (s *ChromemStore) ExistsByHash(ctx context.Context, collectionKey, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	return s.ExistsByFilter(ctx, collectionKey, Eq("hash", hash))
}

func (s *ChromemStore) ExistsByFilter(ctx context.Context, collectionKey string, filter *Filter) (bool, error) {
	if _, err := s.catalog.BackendName(collectionKey); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, payload := range s.payloads[collectionKey] {
		if filter.Matches(matchView(payload)) {
			return true, nil
		}
	}
	return false, nil
}

func (s *ChromemStore) DeleteByFilter(ctx context.Context, collectionKey string, filter *Filter) (int, error) {
	col, _, err := s.collection(collectionKey)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	var ids []string
	for id, payload := range s.payloads[collectionKey] {
		if filter.Matches(matchView(payload)) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(s.payloads[collectionKey], id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("vector: delete documents: %w", err)
	}
	return len(ids), nil
}

func (s *ChromemStore) Search(ctx context.Context, collectionKey string, vec []float32, limit int, minScore *float32, filter *Filter) ([]SearchResult, error) {
	col, _, err := s.collection(collectionKey)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	found, err := col.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]SearchResult, 0, len(found))
	for _, r := range found {
		if minScore != nil && r.Similarity < *minScore {
			continue
		}
		payload := s.payloads[collectionKey][r.ID]
		if !filter.Matches(matchView(payload)) {
			continue
		}
		results = append(results, SearchResult{ID: r.ID, Score: r.Similarity, Payload: payload})
	}
	return results, nil
}

func (s *ChromemStore) CreateCollection(ctx context.Context, collectionKey string) error {
	_, _, err := s.collection(collectionKey)
	return err
}

func (s *ChromemStore) DeleteCollection(ctx context.Context, collectionKey string) error {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return err
	}
	if err := s.db.DeleteCollection(backend); err != nil {
		return fmt.Errorf("vector: delete collection: %w", err)
	}
	s.mu.Lock()
	delete(s.payloads, collectionKey)
	s.mu.Unlock()
	return nil
}

func (s *ChromemStore) GetInfo(ctx context.Context, collectionKey string) (*CollectionInfo, error) {
	col, backend, err := s.collection(collectionKey)
	if err != nil {
		return nil, err
	}
	size, _ := s.catalog.VectorSize(collectionKey)
	distance, _ := s.catalog.Distance(collectionKey)
	return &CollectionInfo{
		Name:        backend,
		VectorSize:  size,
		Distance:    string(distance),
		PointsCount: uint64(col.Count()),
	}, nil
}

// matchView exposes the payload's meta entries at the top level so filters
// address fields uniformly across backends.
func matchView(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	meta, ok := payload["meta"].(map[string]any)
	if !ok {
		return payload
	}
	view := make(map[string]any, len(payload)+len(meta))
	for k, v := range meta {
		view[k] = v
	}
	for k, v := range payload {
		view[k] = v
	}
	return view
}
