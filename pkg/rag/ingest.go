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

package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/logger"
	"github.com/missionbay/agentflow/pkg/observability"
	"github.com/missionbay/agentflow/pkg/vector"
)

// Stats are the per-run pipeline counters, returned on the stats port.
type Stats struct {
	NumItems            int `json:"num_items"`
	NumItemsDone        int `json:"num_items_done"`
	NumItemsFailed      int `json:"num_items_failed"`
	NumSkipped          int `json:"num_skipped"`
	NumDeleted          int `json:"num_deleted"`
	NumParsed           int `json:"num_parsed"`
	NumChunks           int `json:"num_chunks"`
	NumVectors          int `json:"num_vectors"`
	NumVectorsSkipped   int `json:"num_vectors_skipped_empty"`
	NumStoreUpserts     int `json:"num_store_upserts"`
	NumStoreErrors      int `json:"num_store_errors"`
	NumEmbedErrors      int `json:"num_embed_errors"`
	NumParserErrors     int `json:"num_parser_errors"`
	NumChunkerErrors    int `json:"num_chunker_errors"`
	NumExtractorErrors  int `json:"num_extractor_errors"`
	NumAckErrors        int `json:"num_ack_errors"`
	NumFailErrors       int `json:"num_fail_errors"`
}

func (s *Stats) toMap() map[string]any {
	return map[string]any{
		"num_items":                 s.NumItems,
		"num_items_done":            s.NumItemsDone,
		"num_items_failed":          s.NumItemsFailed,
		"num_skipped":               s.NumSkipped,
		"num_deleted":               s.NumDeleted,
		"num_parsed":                s.NumParsed,
		"num_chunks":                s.NumChunks,
		"num_vectors":               s.NumVectors,
		"num_vectors_skipped_empty": s.NumVectorsSkipped,
		"num_store_upserts":         s.NumStoreUpserts,
		"num_store_errors":          s.NumStoreErrors,
		"num_embed_errors":          s.NumEmbedErrors,
		"num_parser_errors":         s.NumParserErrors,
		"num_chunker_errors":        s.NumChunkerErrors,
		"num_extractor_errors":      s.NumExtractorErrors,
		"num_ack_errors":            s.NumAckErrors,
		"num_fail_errors":           s.NumFailErrors,
	}
}

// IngestNode runs the extract, parse, chunk, embed, store pipeline. Failures
// are per item: a failing item is routed back to its extractor's Fail hook
// while the rest of the batch continues.
type IngestNode struct {
	flow.BaseNode
}

func NewIngestNode(id string) *IngestNode {
	return &IngestNode{
		BaseNode: flow.BaseNode{
			NodeID: id,
			Inputs: []flow.Port{
				{Name: "mode", Type: "string", Default: ModeSkip, Description: "skip, append or replace"},
				{Name: "debug", Type: "bool", Default: false},
				{Name: "debug_preview_len", Type: "int", Default: 120},
			},
			Outputs: []flow.Port{
				{Name: "stats", Type: "mixed"},
			},
			DockSet: []flow.Dock{
				{Name: "extractor", Interface: "rag.Extractor", Required: true},
				{Name: "parser", Interface: "rag.Parser", Required: true},
				{Name: "chunker", Interface: "rag.Chunker", Required: true},
				{Name: "embedder", Interface: "rag.Embedder", MaxConnections: 1, Required: true},
				{Name: "vectordb", Interface: "vector.Store", MaxConnections: 1, Required: true},
				{Name: "logger", Interface: "logger.Resource", MaxConnections: 1},
			},
		},
	}
}

func (n *IngestNode) Execute(ctx context.Context, inputs map[string]any, resources flow.Resources, fc *flow.Context) (map[string]any, error) {
	mode := normalizeMode(inputs["mode"])
	debug := flow.Truthy(inputs["debug"])
	previewLen := toInt(inputs["debug_preview_len"], 120)

	extractors := flow.DockedAs[Extractor](resources, "extractor")
	parsers := flow.DockedAs[Parser](resources, "parser")
	chunkers := flow.DockedAs[Chunker](resources, "chunker")
	embedder, hasEmbedder := flow.FirstDockedAs[Embedder](resources, "embedder")
	store, hasStore := flow.FirstDockedAs[vector.Store](resources, "vectordb")

	if len(extractors) == 0 || len(parsers) == 0 || len(chunkers) == 0 || !hasEmbedder || !hasStore {
		return nil, fmt.Errorf("ingest node '%s' requires extractor, parser, chunker, embedder and vectordb docks", n.ID())
	}

	log, ok := flow.FirstDockedAs[*logger.Resource](resources, "logger")
	var lg *slog.Logger
	if ok {
		lg = log.Logger
	} else {
		lg = logger.Discard()
	}

	// Stable priority order; ties keep dock order.
	sort.SliceStable(parsers, func(i, j int) bool { return parsers[i].Priority() < parsers[j].Priority() })
	sort.SliceStable(chunkers, func(i, j int) bool { return chunkers[i].Priority() < chunkers[j].Priority() })

	p := &pipeline{
		node:       n.ID(),
		mode:       mode,
		debug:      debug,
		previewLen: previewLen,
		parsers:    parsers,
		chunkers:   chunkers,
		embedder:   embedder,
		store:      store,
		logger:     lg,
	}

	var items []*ContentItem
	for _, ex := range extractors {
		batch, err := ex.Extract(ctx)
		if err != nil {
			p.stats.NumExtractorErrors++
			lg.Error("extractor failed", "extractor", ex.ID(), "error", err)
			continue
		}
		for _, item := range batch {
			item.Owner = ex
			items = append(items, item)
		}
	}
	p.stats.NumItems = len(items)

	for _, item := range items {
		p.processItem(ctx, item)
	}

	lg.Info("ingest finished",
		"node", n.ID(),
		"mode", mode,
		"items", p.stats.NumItems,
		"done", p.stats.NumItemsDone,
		"failed", p.stats.NumItemsFailed)

	return map[string]any{"stats": p.stats.toMap()}, nil
}

type pipeline struct {
	node       string
	mode       string
	debug      bool
	previewLen int
	parsers    []Parser
	chunkers   []Chunker
	embedder   Embedder
	store      vector.Store
	logger     *slog.Logger
	stats      Stats
}

func (p *pipeline) processItem(ctx context.Context, item *ContentItem) {
	tracer := observability.Tracer("agentflow.rag")
	ctx, span := tracer.Start(ctx, observability.SpanIngestItem,
		trace.WithAttributes(
			attribute.String(observability.AttrCollectionKey, item.CollectionKey),
			attribute.String("rag.item_id", item.ID),
			attribute.String("rag.action", item.Action),
		),
	)
	defer span.End()

	switch strings.ToLower(strings.TrimSpace(item.Action)) {
	case ActionDelete:
		p.deleteItem(ctx, item)
	default:
		p.upsertItem(ctx, item)
	}
}

func (p *pipeline) deleteItem(ctx context.Context, item *ContentItem) {
	contentUUID, _ := item.Metadata["content_uuid"].(string)
	if contentUUID == "" {
		p.failItem(ctx, item, "delete item without content_uuid", false)
		return
	}

	deleted, err := p.store.DeleteByFilter(ctx, item.CollectionKey, vector.Eq("content_uuid", contentUUID))
	if err != nil {
		p.stats.NumStoreErrors++
		p.failItem(ctx, item, fmt.Sprintf("delete failed: %v", err), true)
		return
	}

	p.stats.NumDeleted++
	p.ackItem(ctx, item, map[string]any{"action": ActionDelete, "deleted": deleted})
	observability.IngestItems.WithLabelValues(item.CollectionKey, "deleted").Inc()
}

func (p *pipeline) upsertItem(ctx context.Context, item *ContentItem) {
	if p.mode == ModeSkip && item.Hash != "" {
		exists, err := p.store.ExistsByHash(ctx, item.CollectionKey, item.Hash)
		if err != nil {
			p.stats.NumStoreErrors++
			p.failItem(ctx, item, fmt.Sprintf("duplicate check failed: %v", err), true)
			return
		}
		if exists {
			p.stats.NumSkipped++
			p.ackItem(ctx, item, map[string]any{"action": "skip"})
			observability.IngestItems.WithLabelValues(item.CollectionKey, "skipped").Inc()
			return
		}
	}

	if p.mode == ModeReplace {
		contentUUID, _ := item.Metadata["content_uuid"].(string)
		if contentUUID == "" {
			p.failItem(ctx, item, "replace item without content_uuid", false)
			return
		}
		if _, err := p.store.DeleteByFilter(ctx, item.CollectionKey, vector.Eq("content_uuid", contentUUID)); err != nil {
			p.stats.NumStoreErrors++
			p.failItem(ctx, item, fmt.Sprintf("replace pre-delete failed: %v", err), true)
			return
		}
	}

	parsed := p.parse(ctx, item)
	if parsed == nil {
		return
	}
	chunks := p.chunk(ctx, item, parsed)
	if chunks == nil {
		return
	}
	p.embedAndStore(ctx, item, chunks)
}

func (p *pipeline) parse(ctx context.Context, item *ContentItem) *ParsedContent {
	for _, parser := range p.parsers {
		if !parser.Supports(item) {
			continue
		}
		parsed, err := parser.Parse(ctx, item)
		if err != nil {
			p.stats.NumParserErrors++
			p.failItem(ctx, item, fmt.Sprintf("parser '%s' failed: %v", parser.ID(), err), true)
			return nil
		}
		p.stats.NumParsed++
		if p.debug {
			p.logger.Debug("parsed item",
				"item", item.ID,
				"parser", parser.ID(),
				"preview", preview(parsed.Text, p.previewLen))
		}
		return parsed
	}
	p.failItem(ctx, item, "no parser supports item", false)
	return nil
}

func (p *pipeline) chunk(ctx context.Context, item *ContentItem, parsed *ParsedContent) []vector.Chunk {
	var pieces []ChunkPiece
	matched := false
	for _, chunker := range p.chunkers {
		if !chunker.Supports(parsed) {
			continue
		}
		matched = true
		var err error
		pieces, err = chunker.Chunk(parsed)
		if err != nil {
			p.stats.NumChunkerErrors++
			p.failItem(ctx, item, fmt.Sprintf("chunker '%s' failed: %v", chunker.ID(), err), true)
			return nil
		}
		break
	}
	if !matched {
		p.failItem(ctx, item, "no chunker supports item", false)
		return nil
	}

	// Merge metadata bottom-up and drop empty chunks.
	var chunks []vector.Chunk
	for _, piece := range pieces {
		text := strings.TrimSpace(piece.Text)
		if text == "" {
			continue
		}
		meta := make(map[string]any)
		for k, v := range item.Metadata {
			meta[k] = v
		}
		for k, v := range parsed.Metadata {
			meta[k] = v
		}
		for k, v := range piece.Meta {
			meta[k] = v
		}
		chunks = append(chunks, vector.Chunk{
			CollectionKey: item.CollectionKey,
			ChunkIndex:    len(chunks),
			Text:          text,
			Hash:          item.Hash,
			Metadata:      meta,
		})
	}
	if len(chunks) == 0 {
		p.failItem(ctx, item, "no-chunks", true)
		return nil
	}
	for i := range chunks {
		chunks[i].Metadata["num_chunks"] = len(chunks)
	}
	p.stats.NumChunks += len(chunks)
	observability.IngestChunks.WithLabelValues(item.CollectionKey).Add(float64(len(chunks)))
	return chunks
}

func (p *pipeline) embedAndStore(ctx context.Context, item *ContentItem, chunks []vector.Chunk) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		p.stats.NumEmbedErrors++
		p.failItem(ctx, item, fmt.Sprintf("embed failed: %v", err), true)
		return
	}

	stored := 0
	for i := range chunks {
		if i < len(vectors) {
			chunks[i].Vector = vectors[i]
		}
		if !chunks[i].HasVector() {
			p.stats.NumVectorsSkipped++
			continue
		}
		p.stats.NumVectors++
		if err := p.store.Upsert(ctx, &chunks[i]); err != nil {
			p.stats.NumStoreErrors++
			p.logger.Warn("upsert failed", "item", item.ID, "chunk", chunks[i].ChunkIndex, "error", err)
			continue
		}
		p.stats.NumStoreUpserts++
		stored++
	}

	if stored == 0 {
		p.failItem(ctx, item, "no vectors stored", true)
		return
	}
	p.ackItem(ctx, item, map[string]any{
		"action": ActionUpsert,
		"stored": stored,
		"chunks": len(chunks),
	})
	observability.IngestItems.WithLabelValues(item.CollectionKey, "done").Inc()
}

func (p *pipeline) ackItem(ctx context.Context, item *ContentItem, result map[string]any) {
	p.stats.NumItemsDone++
	if item.Owner == nil {
		return
	}
	if err := item.Owner.Ack(ctx, item, result); err != nil {
		p.stats.NumAckErrors++
		p.logger.Warn("ack failed", "item", item.ID, "error", err)
	}
}

func (p *pipeline) failItem(ctx context.Context, item *ContentItem, reason string, retry bool) {
	p.stats.NumItemsFailed++
	observability.IngestItems.WithLabelValues(item.CollectionKey, "failed").Inc()
	p.logger.Warn("item failed", "item", item.ID, "reason", reason)
	if item.Owner == nil {
		return
	}
	if err := item.Owner.Fail(ctx, item, reason, retry); err != nil {
		p.stats.NumFailErrors++
		p.logger.Warn("fail hook errored", "item", item.ID, "error", err)
	}
}

func normalizeMode(v any) string {
	s, _ := v.(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ModeAppend:
		return ModeAppend
	case ModeReplace:
		return ModeReplace
	default:
		return ModeSkip
	}
}

func toInt(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}

func preview(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
