package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/vector"
)

// fakeStore records operations in order so tests can assert sequencing.
type fakeStore struct {
	ops        []string
	hashes     map[string]bool
	chunks     []vector.Chunk
	deleted    int
	failUpsert bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: map[string]bool{}}
}

func (s *fakeStore) Upsert(ctx context.Context, chunk *vector.Chunk) error {
	s.ops = append(s.ops, "upsert")
	if s.failUpsert {
		return errors.New("upsert refused")
	}
	s.hashes[chunk.Hash] = true
	s.chunks = append(s.chunks, *chunk)
	return nil
}

func (s *fakeStore) ExistsByHash(ctx context.Context, collectionKey, hash string) (bool, error) {
	s.ops = append(s.ops, "exists:"+hash)
	return s.hashes[hash], nil
}

func (s *fakeStore) ExistsByFilter(ctx context.Context, collectionKey string, filter *vector.Filter) (bool, error) {
	return false, nil
}

func (s *fakeStore) DeleteByFilter(ctx context.Context, collectionKey string, filter *vector.Filter) (int, error) {
	uuid, _ := filter.Must["content_uuid"].(string)
	s.ops = append(s.ops, "delete:"+uuid)
	n := 0
	var kept []vector.Chunk
	for _, c := range s.chunks {
		if c.Metadata["content_uuid"] == uuid {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
	s.deleted += n
	return n, nil
}

func (s *fakeStore) Search(ctx context.Context, collectionKey string, v []float32, limit int, minScore *float32, filter *vector.Filter) ([]vector.SearchResult, error) {
	return nil, nil
}

func (s *fakeStore) CreateCollection(ctx context.Context, collectionKey string) error { return nil }
func (s *fakeStore) DeleteCollection(ctx context.Context, collectionKey string) error { return nil }

func (s *fakeStore) GetInfo(ctx context.Context, collectionKey string) (*vector.CollectionInfo, error) {
	return &vector.CollectionInfo{Name: collectionKey, PointsCount: uint64(len(s.chunks))}, nil
}

type fakeEmbedder struct {
	flow.BaseResource
	calls int
	fail  bool
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, float32(i)}
	}
	return out, nil
}

func newTestItem(id, hash, text string, meta map[string]any) *ContentItem {
	return &ContentItem{
		ID:            id,
		Action:        ActionUpsert,
		CollectionKey: "lm",
		Hash:          hash,
		ContentType:   "text/plain",
		Content:       text,
		Metadata:      meta,
	}
}

func runIngest(t *testing.T, q *QueueExtractor, store *fakeStore, emb *fakeEmbedder, inputs map[string]any) Stats {
	t.Helper()
	node := NewIngestNode("ingest")
	resources := flow.Resources{
		"extractor": {q},
		"parser":    {NewTextParser("text", 100)},
		"chunker":   {NewSimpleChunker("simple", 2000, 100)},
		"embedder":  {emb},
		"vectordb":  {vector.NewStoreResource("store", store)},
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	if _, ok := inputs["mode"]; !ok {
		inputs["mode"] = ModeSkip
	}
	out, err := node.Execute(context.Background(), inputs, resources, nil)
	require.NoError(t, err)
	raw, ok := out["stats"].(map[string]any)
	require.True(t, ok, "stats output missing")

	var stats Stats
	stats.NumItems = raw["num_items"].(int)
	stats.NumItemsDone = raw["num_items_done"].(int)
	stats.NumItemsFailed = raw["num_items_failed"].(int)
	stats.NumSkipped = raw["num_skipped"].(int)
	stats.NumDeleted = raw["num_deleted"].(int)
	stats.NumParsed = raw["num_parsed"].(int)
	stats.NumChunks = raw["num_chunks"].(int)
	stats.NumVectors = raw["num_vectors"].(int)
	stats.NumStoreUpserts = raw["num_store_upserts"].(int)
	stats.NumEmbedErrors = raw["num_embed_errors"].(int)
	return stats
}

func TestIngestUpsertHappyPath(t *testing.T) {
	q := NewQueueExtractor("queue", 3)
	q.Enqueue(newTestItem("i1", "h1", "line one\nline two", map[string]any{"content_uuid": "c1"}))

	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}
	stats := runIngest(t, q, store, emb, nil)

	assert.Equal(t, 1, stats.NumItems)
	assert.Equal(t, 1, stats.NumItemsDone)
	assert.Equal(t, 0, stats.NumItemsFailed)
	assert.Equal(t, 1, stats.NumParsed)
	assert.Equal(t, 1, stats.NumChunks)
	assert.Equal(t, 1, stats.NumStoreUpserts)
	require.Len(t, store.chunks, 1)
	assert.Equal(t, 1, store.chunks[0].Metadata["num_chunks"])
	assert.Equal(t, 0, store.chunks[0].ChunkIndex)

	pending, inFlight := q.Depth()
	assert.Zero(t, pending)
	assert.Zero(t, inFlight, "done item must be acked out of the queue")
}

func TestIngestSkipsDuplicateByHash(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}

	q := NewQueueExtractor("queue", 3)
	q.Enqueue(newTestItem("i1", "h1", "some text", nil))
	first := runIngest(t, q, store, emb, map[string]any{"mode": ModeSkip})
	require.Equal(t, 1, first.NumItemsDone)

	q.Enqueue(newTestItem("i2", "h1", "some text", nil))
	second := runIngest(t, q, store, emb, map[string]any{"mode": ModeSkip})

	assert.Equal(t, 1, second.NumItems)
	assert.Equal(t, 1, second.NumItemsDone, "a skip still completes the item")
	assert.Equal(t, 1, second.NumSkipped)
	assert.Equal(t, 0, second.NumChunks)
	assert.Equal(t, 0, second.NumStoreUpserts)
	assert.Equal(t, 1, emb.calls, "duplicate must not reach the embedder")
	assert.Len(t, store.chunks, 1)
}

func TestIngestReplaceDeletesBeforeStoring(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}

	q := NewQueueExtractor("queue", 3)
	q.Enqueue(newTestItem("i1", "h1", "old body", map[string]any{"content_uuid": "c1"}))
	runIngest(t, q, store, emb, map[string]any{"mode": ModeReplace})

	q.Enqueue(newTestItem("i2", "h2", "new body", map[string]any{"content_uuid": "c1"}))
	stats := runIngest(t, q, store, emb, map[string]any{"mode": ModeReplace})

	assert.Equal(t, 1, stats.NumItemsDone)
	require.Len(t, store.chunks, 1, "replace keeps a single generation of chunks")
	assert.Equal(t, "h2", store.chunks[0].Hash)

	// The second run must delete the previous generation before upserting.
	deleteAt, upsertAt := -1, -1
	for i, op := range store.ops {
		if op == "delete:c1" && upsertAt == -1 {
			deleteAt = i
		}
		if op == "upsert" {
			upsertAt = i
		}
	}
	require.GreaterOrEqual(t, deleteAt, 0)
	require.GreaterOrEqual(t, upsertAt, 0)
	assert.Less(t, deleteAt, upsertAt, "pre-delete must run before upserts")
}

func TestIngestReplaceWithoutUUIDFails(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}

	q := NewQueueExtractor("queue", 1)
	q.Enqueue(newTestItem("i1", "h1", "body", nil))
	stats := runIngest(t, q, store, emb, map[string]any{"mode": ModeReplace})

	assert.Equal(t, 1, stats.NumItemsFailed)
	assert.Equal(t, 0, stats.NumItemsDone)
	assert.Empty(t, store.chunks, "item without content identity must not degrade to append")
	require.Len(t, q.Dead(), 1, "non-retryable failure goes straight to the dead list")
}

func TestIngestDeleteAction(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}

	q := NewQueueExtractor("queue", 3)
	q.Enqueue(newTestItem("i1", "h1", "body", map[string]any{"content_uuid": "c1"}))
	runIngest(t, q, store, emb, nil)

	del := newTestItem("i2", "", "", map[string]any{"content_uuid": "c1"})
	del.Action = ActionDelete
	q.Enqueue(del)
	stats := runIngest(t, q, store, emb, nil)

	assert.Equal(t, 1, stats.NumDeleted)
	assert.Equal(t, 1, stats.NumItemsDone)
	assert.Empty(t, store.chunks)
}

func TestIngestDeleteWithoutUUIDFails(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}

	q := NewQueueExtractor("queue", 1)
	del := newTestItem("i1", "", "", nil)
	del.Action = ActionDelete
	q.Enqueue(del)
	stats := runIngest(t, q, store, emb, nil)

	assert.Equal(t, 1, stats.NumItemsFailed)
	assert.Equal(t, 0, stats.NumDeleted)
	require.Len(t, q.Dead(), 1, "non-retryable failure goes straight to the dead list")
}

func TestIngestEmbedFailureRequeues(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb"), fail: true}

	q := NewQueueExtractor("queue", 3)
	q.Enqueue(newTestItem("i1", "h1", "body", nil))
	stats := runIngest(t, q, store, emb, nil)

	assert.Equal(t, 1, stats.NumItemsFailed)
	assert.Equal(t, 1, stats.NumEmbedErrors)
	pending, _ := q.Depth()
	assert.Equal(t, 1, pending, "retryable failure goes back on the queue")
}

func TestIngestEmptyContentFails(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}

	q := NewQueueExtractor("queue", 3)
	q.Enqueue(newTestItem("i1", "h1", "   \n  \n ", nil))
	stats := runIngest(t, q, store, emb, nil)

	assert.Equal(t, 1, stats.NumItemsFailed)
	assert.Equal(t, 0, stats.NumChunks)
	assert.Equal(t, 0, emb.calls)
}

func TestIngestStatsAccountForEveryItem(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{BaseResource: flow.NewBaseResource("emb")}

	q := NewQueueExtractor("queue", 3)
	for i := 0; i < 5; i++ {
		q.Enqueue(newTestItem(fmt.Sprintf("i%d", i), fmt.Sprintf("h%d", i), fmt.Sprintf("body %d", i), nil))
	}
	q.Enqueue(newTestItem("bad", "hx", "  ", nil))

	stats := runIngest(t, q, store, emb, nil)
	assert.Equal(t, 6, stats.NumItems)
	assert.Equal(t, stats.NumItems, stats.NumItemsDone+stats.NumItemsFailed)
}

func TestIngestRequiresAllDocks(t *testing.T) {
	node := NewIngestNode("ingest")
	_, err := node.Execute(context.Background(), map[string]any{}, flow.Resources{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires")
}

func TestQueueExtractorRetriesThenDeadLetters(t *testing.T) {
	q := NewQueueExtractor("queue", 2)
	q.Enqueue(&ContentItem{ID: "i1", Content: "x"})
	ctx := context.Background()

	for attempt := 0; attempt < 2; attempt++ {
		batch, err := q.Extract(ctx)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.NoError(t, q.Fail(ctx, batch[0], "transient", true))
	}

	pending, _ := q.Depth()
	assert.Zero(t, pending)
	dead := q.Dead()
	require.Len(t, dead, 1)
	assert.Equal(t, "transient", dead[0].Metadata["error_message"])
}

func TestSimpleChunkerPacksLines(t *testing.T) {
	c := NewSimpleChunker("s", 20, 0)
	pieces, err := c.Chunk(&ParsedContent{Text: "aaaa\nbbbb\ncccc\ndddd\neeee\nffff"})
	require.NoError(t, err)
	require.NotEmpty(t, pieces)

	var all []string
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p.Text), 20)
		all = append(all, p.Text)
	}
	assert.Equal(t, "aaaa\nbbbb\ncccc\ndddd\neeee\nffff", strings.Join(all, "\n"), "chunking must not lose lines")
}

func TestOverlappingChunkerCarriesTail(t *testing.T) {
	c := NewOverlappingChunker("o", 30, 10, 0)
	pieces, err := c.Chunk(&ParsedContent{Text: "alpha\nbravo\ncharlie\ndelta\necho\nfoxtrot"})
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	// Each follow-up chunk starts with the tail of its predecessor.
	for i := 1; i < len(pieces); i++ {
		prevLines := strings.Split(pieces[i-1].Text, "\n")
		carried := prevLines[len(prevLines)-1]
		assert.True(t, strings.HasPrefix(pieces[i].Text, carried),
			"chunk %d should start with %q, got %q", i, carried, pieces[i].Text)
	}
}
