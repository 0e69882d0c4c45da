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
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/missionbay/agentflow/pkg/observability"
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string `mapstructure:"host" yaml:"host"`
	Port   int    `mapstructure:"port" yaml:"port"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	UseTLS bool   `mapstructure:"use_tls" yaml:"use_tls"`
}

// QdrantStore implements Store against a Qdrant server. Collections and
// payload indexes are created lazily on first write.
type QdrantStore struct {
	client  *qdrant.Client
	catalog *Catalog

	mu      sync.Mutex
	ensured map[string]bool
}

func NewQdrantStoreFromConfig(cfg *QdrantConfig, catalog *Catalog) (*QdrantStore, error) {
	if catalog == nil {
		return nil, fmt.Errorf("vector: qdrant store requires a catalog")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: create qdrant client: %w", err)
	}
	return &QdrantStore{
		client:  client,
		catalog: catalog,
		ensured: make(map[string]bool),
	}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) Upsert(ctx context.Context, chunk *Chunk) error {
	payload, err := s.catalog.BuildPayload(chunk)
	if err != nil {
		return err
	}
	if !chunk.HasVector() {
		return fmt.Errorf("%w: chunk without vector", ErrInvalidChunk)
	}

	tracer := observability.Tracer("agentflow.vector")
	ctx, span := tracer.Start(ctx, observability.SpanVectorOp,
		trace.WithAttributes(
			attribute.String(observability.AttrCollectionKey, chunk.CollectionKey),
			attribute.String("vector.op", "upsert"),
		),
	)
	defer span.End()

	backend, err := s.ensureCollection(ctx, chunk.CollectionKey)
	if err != nil {
		observability.VectorUpserts.WithLabelValues(chunk.CollectionKey, "error").Inc()
		return err
	}

	wirePayload := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("vector: convert payload key '%s': %w", key, err)
		}
		wirePayload[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(PointID(chunk.Hash, chunk.ChunkIndex)),
		Vectors: qdrant.NewVectors(chunk.Vector...),
		Payload: wirePayload,
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: backend,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		span.RecordError(err)
		observability.VectorUpserts.WithLabelValues(chunk.CollectionKey, "error").Inc()
		return fmt.Errorf("vector: upsert point: %w", err)
	}
	observability.VectorUpserts.WithLabelValues(chunk.CollectionKey, "ok").Inc()
	return nil
}

func (s *QdrantStore) ExistsByHash(ctx context.Context, collectionKey, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	return s.ExistsByFilter(ctx, collectionKey, Eq("hash", hash))
}

func (s *QdrantStore) ExistsByFilter(ctx context.Context, collectionKey string, filter *Filter) (bool, error) {
	n, err := s.count(ctx, collectionKey, filter)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, collectionKey string, filter *Filter) (int, error) {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return 0, err
	}

	// Qdrant's delete result does not report a count; count first.
	n, err := s.count(ctx, collectionKey, filter)
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: backend,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: translateFilter(filter),
			},
		},
	}); err != nil {
		return 0, fmt.Errorf("vector: delete by filter: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Search(ctx context.Context, collectionKey string, vec []float32, limit int, minScore *float32, filter *Filter) ([]SearchResult, error) {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	req := &qdrant.SearchPoints{
		CollectionName: backend,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: minScore,
	}
	if !filter.Empty() {
		req.Filter = translateFilter(filter)
	}

	resp, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, point := range resp.Result {
		results = append(results, SearchResult{
			ID:      pointIDString(point.Id),
			Score:   point.Score,
			Payload: payloadToMap(point.Payload),
		})
	}
	return results, nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, collectionKey string) error {
	_, err := s.ensureCollection(ctx, collectionKey)
	return err
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collectionKey string) error {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, backend); err != nil {
		return fmt.Errorf("vector: delete collection: %w", err)
	}
	s.mu.Lock()
	delete(s.ensured, collectionKey)
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) GetInfo(ctx context.Context, collectionKey string) (*CollectionInfo, error) {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return nil, err
	}
	size, _ := s.catalog.VectorSize(collectionKey)
	distance, _ := s.catalog.Distance(collectionKey)

	info, err := s.client.GetCollectionInfo(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("vector: collection info: %w", err)
	}

	out := &CollectionInfo{
		Name:       backend,
		VectorSize: size,
		Distance:   string(distance),
	}
	if info.PointsCount != nil {
		out.PointsCount = *info.PointsCount
	}
	return out, nil
}

func (s *QdrantStore) count(ctx context.Context, collectionKey string, filter *Filter) (uint64, error) {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return 0, err
	}
	req := &qdrant.CountPoints{
		CollectionName: backend,
		Exact:          qdrant.PtrOf(true),
	}
	if !filter.Empty() {
		req.Filter = translateFilter(filter)
	}
	n, err := s.client.Count(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("vector: count: %w", err)
	}
	return n, nil
}

// ensureCollection creates the backend collection and its payload indexes on
// first touch per process.
func (s *QdrantStore) ensureCollection(ctx context.Context, collectionKey string) (string, error) {
	backend, err := s.catalog.BackendName(collectionKey)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	done := s.ensured[collectionKey]
	s.mu.Unlock()
	if done {
		return backend, nil
	}

	exists, err := s.client.CollectionExists(ctx, backend)
	if err != nil {
		return "", fmt.Errorf("vector: check collection: %w", err)
	}
	if !exists {
		size, _ := s.catalog.VectorSize(collectionKey)
		distance, _ := s.catalog.Distance(collectionKey)
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: backend,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(size),
				Distance: translateDistance(distance),
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return "", fmt.Errorf("vector: create collection: %w", err)
		}
	}

	schema, _ := s.catalog.Schema(collectionKey)
	for field, kind := range schema {
		fieldType := translateFieldType(kind)
		if fieldType == nil {
			continue
		}
		// Index creation is idempotent server-side.
		_, _ = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: backend,
			FieldName:      field,
			FieldType:      fieldType,
		})
	}

	s.mu.Lock()
	s.ensured[collectionKey] = true
	s.mu.Unlock()
	return backend, nil
}

func translateDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceDot:
		return qdrant.Distance_Dot
	case DistanceEuclid:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func translateFieldType(kind string) *qdrant.FieldType {
	switch strings.ToLower(kind) {
	case "keyword", "string":
		return qdrant.FieldType_FieldTypeKeyword.Enum()
	case "integer", "int":
		return qdrant.FieldType_FieldTypeInteger.Enum()
	case "float", "double":
		return qdrant.FieldType_FieldTypeFloat.Enum()
	case "bool", "boolean":
		return qdrant.FieldType_FieldTypeBool.Enum()
	default:
		return nil
	}
}

// translateFilter maps the neutral filter onto Qdrant's must/should/must_not
// clauses. A list value becomes a nested OR filter over its members.
func translateFilter(f *Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	return &qdrant.Filter{
		Must:    translateConditions(f.Must),
		Should:  translateConditions(f.Any),
		MustNot: translateConditions(f.MustNot),
	}
}

func translateConditions(clauses map[string]any) []*qdrant.Condition {
	if len(clauses) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(clauses))
	for key, value := range clauses {
		if list, ok := asList(value); ok {
			members := make([]*qdrant.Condition, 0, len(list))
			for _, item := range list {
				members = append(members, fieldCondition(key, item))
			}
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Filter{
					Filter: &qdrant.Filter{Should: members},
				},
			})
			continue
		}
		conditions = append(conditions, fieldCondition(key, value))
	}
	return conditions
}

func fieldCondition(key string, value any) *qdrant.Condition {
	var match *qdrant.Match
	switch v := value.(type) {
	case bool:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	case int:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case float64:
		if v == float64(int64(v)) {
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
		} else {
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
		}
	default:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: key, Match: match},
		},
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = valueToAny(value)
	}
	return out
}

func valueToAny(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = valueToAny(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		return payloadToMap(v.StructValue.Fields)
	default:
		return nil
	}
}
