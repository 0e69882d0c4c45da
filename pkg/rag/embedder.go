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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/httpclient"
)

// EmbedderConfig configures an OpenAI-compatible embeddings endpoint.
type EmbedderConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Model       string `yaml:"model" mapstructure:"model"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

func (c *EmbedderConfig) setDefaults() {
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// HTTPEmbedder calls POST {host}/embeddings with up to BatchSize inputs per
// request and Concurrency requests in flight.
type HTTPEmbedder struct {
	flow.BaseResource
	cfg    EmbedderConfig
	client *httpclient.Client
}

func NewHTTPEmbedder(id string, cfg *EmbedderConfig) (*HTTPEmbedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder '%s': config is required", id)
	}
	c := *cfg
	c.setDefaults()
	return &HTTPEmbedder{
		BaseResource: flow.NewBaseResource(id),
		cfg:          c,
		client: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns one vector per input text, positionally. Empty or blank
// texts are skipped upstream; an empty input slice returns nil.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			vectors, err := e.embedBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			mu.Lock()
			copy(out[start:end], vectors)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *HTTPEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(e.cfg.Host, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder '%s': %w", e.ID(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder '%s': status %d: %s", e.ID(), resp.StatusCode, truncate(string(data), 200))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("embedder '%s': decode response: %w", e.ID(), err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedder '%s': %s", e.ID(), parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedder '%s': got %d embeddings for %d inputs", e.ID(), len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedder '%s': embedding index %d out of range", e.ID(), d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
