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

// Package rag implements the ingestion pipeline: extractors yield content
// items, parsers turn them into text, chunkers split the text, an embedder
// vectorizes the chunks and a vector store persists them. The IngestNode
// drives the whole pipeline per item with queue-style ack/fail semantics.
package rag

import (
	"context"

	"github.com/missionbay/agentflow/pkg/flow"
)

// Item actions.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// Ingest modes.
const (
	ModeSkip    = "skip"
	ModeAppend  = "append"
	ModeReplace = "replace"
)

// ContentItem is the queue envelope one extractor yields. Delete actions
// must carry metadata["content_uuid"].
type ContentItem struct {
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	CollectionKey string         `json:"collection_key"`
	Hash          string         `json:"hash"`
	ContentType   string         `json:"content_type"`
	Content       any            `json:"content"`
	IsBinary      bool           `json:"is_binary"`
	Size          int64          `json:"size"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// Owner routes ack/fail back to the extractor that produced the item.
	// Set by the ingest node while collecting.
	Owner Extractor `json:"-"`
}

// Bytes returns the raw content regardless of how it was delivered.
func (i *ContentItem) Bytes() []byte {
	switch c := i.Content.(type) {
	case []byte:
		return c
	case string:
		return []byte(c)
	default:
		return nil
	}
}

// Text returns the content as a string when it is textual.
func (i *ContentItem) Text() string {
	switch c := i.Content.(type) {
	case string:
		return c
	case []byte:
		return string(c)
	default:
		return ""
	}
}

// ParsedContent is a parser's output.
type ParsedContent struct {
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Structured any            `json:"structured,omitempty"`

	// Attachments are embedded items discovered while parsing (for example
	// images inside a document). They re-enter the pipeline as new items.
	Attachments []*ContentItem `json:"attachments,omitempty"`
}

// ChunkPiece is one chunk of parsed text before embedding.
type ChunkPiece struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Extractor yields items and receives their terminal ack/fail.
type Extractor interface {
	flow.Resource
	Extract(ctx context.Context) ([]*ContentItem, error)
	Ack(ctx context.Context, item *ContentItem, result map[string]any) error
	Fail(ctx context.Context, item *ContentItem, reason string, retry bool) error
}

// Parser turns an item into text. Lower priority wins; the first supporting
// parser in priority order is used.
type Parser interface {
	flow.Resource
	Supports(item *ContentItem) bool
	Parse(ctx context.Context, item *ContentItem) (*ParsedContent, error)
	Priority() int
}

// Chunker splits parsed content. Selection mirrors Parser.
type Chunker interface {
	flow.Resource
	Supports(parsed *ParsedContent) bool
	Chunk(parsed *ParsedContent) ([]ChunkPiece, error)
	Priority() int
}

// Embedder vectorizes a batch of texts; the result slice is positional.
type Embedder interface {
	flow.Resource
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
