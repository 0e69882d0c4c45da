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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/missionbay/agentflow/pkg/flow"
)

// QueueExtractor is an in-memory work queue. Items are enqueued by other
// nodes or by tests, drained by Extract, and re-enqueued on retryable
// failure up to MaxAttempts.
type QueueExtractor struct {
	flow.BaseResource

	mu          sync.Mutex
	maxAttempts int
	pending     []*ContentItem
	inFlight    map[string]*ContentItem
	attempts    map[string]int
	dead        []*ContentItem
}

func NewQueueExtractor(id string, maxAttempts int) *QueueExtractor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &QueueExtractor{
		BaseResource: flow.NewBaseResource(id),
		maxAttempts:  maxAttempts,
		inFlight:     make(map[string]*ContentItem),
		attempts:     make(map[string]int),
	}
}

// Enqueue adds an item to the tail of the queue.
func (q *QueueExtractor) Enqueue(item *ContentItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	q.pending = append(q.pending, item)
}

// Extract drains everything currently pending and marks it in flight.
func (q *QueueExtractor) Extract(ctx context.Context) ([]*ContentItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.pending
	q.pending = nil
	for _, item := range batch {
		q.inFlight[item.ID] = item
		q.attempts[item.ID]++
	}
	return batch, nil
}

func (q *QueueExtractor) Ack(ctx context.Context, item *ContentItem, result map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[item.ID]; !ok {
		return fmt.Errorf("queue '%s': ack for unknown item %s", q.ID(), item.ID)
	}
	delete(q.inFlight, item.ID)
	delete(q.attempts, item.ID)
	return nil
}

func (q *QueueExtractor) Fail(ctx context.Context, item *ContentItem, reason string, retry bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[item.ID]; !ok {
		return fmt.Errorf("queue '%s': fail for unknown item %s", q.ID(), item.ID)
	}
	delete(q.inFlight, item.ID)

	if retry && q.attempts[item.ID] < q.maxAttempts {
		q.pending = append(q.pending, item)
		return nil
	}
	delete(q.attempts, item.ID)
	if item.Metadata == nil {
		item.Metadata = make(map[string]any)
	}
	item.Metadata["error_message"] = reason
	q.dead = append(q.dead, item)
	return nil
}

// Depth reports pending and in-flight counts.
func (q *QueueExtractor) Depth() (pending, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inFlight)
}

// Dead returns items that exhausted their attempts.
func (q *QueueExtractor) Dead() []*ContentItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*ContentItem, len(q.dead))
	copy(out, q.dead)
	return out
}

var pathNamespace = uuid.MustParse("d2b1f6e8-4a0c-5f93-8b27-31c9e7a5d064")

// DirectoryExtractor walks a directory tree and yields one item per file.
// With Watch enabled it also picks up files created or modified since the
// previous Extract call via fsnotify.
type DirectoryExtractor struct {
	flow.BaseResource

	root          string
	collectionKey string
	extensions    map[string]bool
	watch         bool

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	changed map[string]bool
	walked  bool
}

type DirectoryConfig struct {
	Root          string   `yaml:"root" mapstructure:"root"`
	CollectionKey string   `yaml:"collection_key" mapstructure:"collection_key"`
	Extensions    []string `yaml:"extensions" mapstructure:"extensions"`
	Watch         bool     `yaml:"watch" mapstructure:"watch"`
}

func NewDirectoryExtractor(id string, cfg *DirectoryConfig) (*DirectoryExtractor, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("directory extractor '%s': root is required", id)
	}
	if cfg.CollectionKey == "" {
		return nil, fmt.Errorf("directory extractor '%s': collection_key is required", id)
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return &DirectoryExtractor{
		BaseResource:  flow.NewBaseResource(id),
		root:          cfg.Root,
		collectionKey: cfg.CollectionKey,
		extensions:    exts,
		watch:         cfg.Watch,
		changed:       make(map[string]bool),
	}, nil
}

// Extract walks the whole tree on the first call. Later calls return only
// files the watcher flagged since.
func (d *DirectoryExtractor) Extract(ctx context.Context) ([]*ContentItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.walked {
		d.walked = true
		if d.watch {
			if err := d.startWatcher(); err != nil {
				return nil, err
			}
		}
		return d.walkAll(ctx)
	}

	paths := make([]string, 0, len(d.changed))
	for p := range d.changed {
		paths = append(paths, p)
	}
	d.changed = make(map[string]bool)

	var items []*ContentItem
	for _, p := range paths {
		item, err := d.loadFile(p)
		if err != nil {
			// File may have been removed between the event and the read.
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (d *DirectoryExtractor) walkAll(ctx context.Context) ([]*ContentItem, error) {
	var items []*ContentItem
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if d.watcher != nil {
				if werr := d.watcher.Add(path); werr != nil {
					return werr
				}
			}
			return nil
		}
		if !d.accepts(path) {
			return nil
		}
		item, lerr := d.loadFile(path)
		if lerr != nil {
			return lerr
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory extractor '%s': walk: %w", d.ID(), err)
	}
	return items, nil
}

func (d *DirectoryExtractor) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("directory extractor '%s': watcher: %w", d.ID(), err)
	}
	d.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if !d.accepts(ev.Name) {
					continue
				}
				d.mu.Lock()
				d.changed[ev.Name] = true
				d.mu.Unlock()
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (d *DirectoryExtractor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watcher == nil {
		return nil
	}
	err := d.watcher.Close()
	d.watcher = nil
	return err
}

func (d *DirectoryExtractor) accepts(path string) bool {
	if len(d.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return d.extensions[ext]
}

func (d *DirectoryExtractor) loadFile(path string) (*ContentItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		rel = path
	}
	return &ContentItem{
		ID:            uuid.NewString(),
		Action:        ActionUpsert,
		CollectionKey: d.collectionKey,
		Hash:          hex.EncodeToString(sum[:]),
		ContentType:   contentTypeForPath(path),
		Content:       data,
		IsBinary:      isBinaryExt(path),
		Size:          int64(len(data)),
		Metadata: map[string]any{
			// A stable identity per path so re-ingesting a changed file can
			// replace its previous chunks.
			"content_uuid": uuid.NewSHA1(pathNamespace, []byte(rel)).String(),
			"source":       rel,
		},
	}, nil
}

// Ack is a no-op for filesystem sources.
func (d *DirectoryExtractor) Ack(ctx context.Context, item *ContentItem, result map[string]any) error {
	return nil
}

// Fail re-flags the file so a later Extract retries it.
func (d *DirectoryExtractor) Fail(ctx context.Context, item *ContentItem, reason string, retry bool) error {
	if !retry {
		return nil
	}
	source, _ := item.Metadata["source"].(string)
	if source == "" {
		return nil
	}
	d.mu.Lock()
	d.changed[filepath.Join(d.root, source)] = true
	d.mu.Unlock()
	return nil
}

func contentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

func isBinaryExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".xlsx":
		return true
	default:
		return false
	}
}
