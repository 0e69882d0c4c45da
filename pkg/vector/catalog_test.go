package vector

import (
	"strings"
	"testing"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(
		CollectionSpec{
			Key:        "lm",
			Backend:    "lm_chunks",
			VectorSize: 4,
			Distance:   DistanceCosine,
			Schema:     map[string]string{"hash": "keyword", "content_uuid": "keyword", "chunk_index": "integer"},
			Required:   []string{"content_uuid"},
		},
		CollectionSpec{Key: "notes", VectorSize: 4},
	)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func TestCatalogValidate(t *testing.T) {
	c := testCatalog(t)

	valid := &Chunk{
		CollectionKey: "lm",
		ChunkIndex:    0,
		Text:          "some text",
		Hash:          "h1",
		Metadata:      map[string]any{"content_uuid": "c1"},
	}
	if err := c.Validate(valid); err != nil {
		t.Fatalf("valid chunk rejected: %v", err)
	}

	tests := []struct {
		name  string
		chunk *Chunk
	}{
		{"nil chunk", nil},
		{"empty collection key", &Chunk{ChunkIndex: 0, Text: "t", Hash: "h"}},
		{"unknown collection", &Chunk{CollectionKey: "ghost", Text: "t", Hash: "h"}},
		{"negative index", &Chunk{CollectionKey: "lm", ChunkIndex: -1, Text: "t", Hash: "h", Metadata: map[string]any{"content_uuid": "c"}}},
		{"empty hash", &Chunk{CollectionKey: "lm", Text: "t", Metadata: map[string]any{"content_uuid": "c"}}},
		{"empty text", &Chunk{CollectionKey: "lm", Text: "   ", Hash: "h", Metadata: map[string]any{"content_uuid": "c"}}},
		{"missing required key", &Chunk{CollectionKey: "lm", Text: "t", Hash: "h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Validate(tt.chunk); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestChunktoken(t *testing.T) {
	if got := Chunktoken("h1", 0); got != "h1" {
		t.Errorf("first chunk token = %q, want bare hash", got)
	}
	if got := Chunktoken("h1", 2); got != "h1-2" {
		t.Errorf("token = %q, want h1-2", got)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("h999", 3)
	b := PointID("h999", 3)
	if a != b {
		t.Fatalf("point id not deterministic: %s != %s", a, b)
	}
	if a == PointID("h999", 4) {
		t.Errorf("different chunk index must change point id")
	}
	if a == PointID("h998", 3) {
		t.Errorf("different hash must change point id")
	}
	// UUID shape.
	if len(a) != 36 || strings.Count(a, "-") != 4 {
		t.Errorf("point id %q is not a UUID", a)
	}
}

func TestBuildPayload(t *testing.T) {
	c := testCatalog(t)

	payload, err := c.BuildPayload(&Chunk{
		CollectionKey: "lm",
		ChunkIndex:    2,
		Text:          "chunk text",
		Hash:          "h1",
		Metadata: map[string]any{
			"content_uuid":  "c1",
			"source":        "doc.pdf",
			"job_id":        "j1",
			"attempts":      3,
			"locks":         "x",
			"error_message": "boom",
			"action":        "upsert",
			"collectionKey": "lm",
		},
	})
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}

	want := map[string]any{
		"text":           "chunk text",
		"hash":           "h1",
		"collection_key": "lm",
		"chunktoken":     "h1-2",
		"chunk_index":    2,
		"content_uuid":   "c1",
	}
	for key, val := range want {
		if payload[key] != val {
			t.Errorf("payload[%q] = %v, want %v", key, payload[key], val)
		}
	}

	meta, ok := payload["meta"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing meta: %v", payload)
	}
	if meta["source"] != "doc.pdf" {
		t.Errorf("meta = %v", meta)
	}
	for _, reserved := range []string{"job_id", "attempts", "locks", "error_message", "action", "collectionKey"} {
		if _, found := meta[reserved]; found {
			t.Errorf("reserved key %q leaked into meta", reserved)
		}
		if _, found := payload[reserved]; found {
			t.Errorf("reserved key %q leaked into payload", reserved)
		}
	}
}

func TestBuildPayloadAlwaysCarriesMeta(t *testing.T) {
	c := testCatalog(t)

	payload, err := c.BuildPayload(&Chunk{
		CollectionKey: "lm",
		Text:          "bare chunk",
		Hash:          "h2",
		Metadata:      map[string]any{"content_uuid": "c2"},
	})
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}

	meta, ok := payload["meta"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing meta: %v", payload)
	}
	if len(meta) != 0 {
		t.Errorf("meta = %v, want empty", meta)
	}
}

func TestCatalogLookups(t *testing.T) {
	c := testCatalog(t)

	if name, _ := c.BackendName("lm"); name != "lm_chunks" {
		t.Errorf("BackendName = %q", name)
	}
	if name, _ := c.BackendName("notes"); name != "notes" {
		t.Errorf("default backend name = %q, want collection key", name)
	}
	if size, _ := c.VectorSize("lm"); size != 4 {
		t.Errorf("VectorSize = %d", size)
	}
	if d, _ := c.Distance("notes"); d != DistanceCosine {
		t.Errorf("default distance = %q", d)
	}
	if _, err := c.BackendName("ghost"); err == nil {
		t.Errorf("unknown key must error")
	}
	keys := c.Keys()
	if len(keys) != 2 || keys[0] != "lm" || keys[1] != "notes" {
		t.Errorf("Keys = %v", keys)
	}
}
