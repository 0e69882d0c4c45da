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
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/missionbay/agentflow/pkg/flow"
)

// SimpleChunker packs whole lines into chunks of at most maxChars. A single
// line longer than maxChars becomes its own chunk.
type SimpleChunker struct {
	flow.BaseResource
	maxChars int
	priority int
}

func NewSimpleChunker(id string, maxChars, priority int) *SimpleChunker {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &SimpleChunker{BaseResource: flow.NewBaseResource(id), maxChars: maxChars, priority: priority}
}

func (c *SimpleChunker) Priority() int { return c.priority }

func (c *SimpleChunker) Supports(parsed *ParsedContent) bool { return true }

func (c *SimpleChunker) Chunk(parsed *ParsedContent) ([]ChunkPiece, error) {
	var pieces []ChunkPiece
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		pieces = append(pieces, ChunkPiece{Text: current.String()})
		current.Reset()
	}

	for _, line := range strings.Split(parsed.Text, "\n") {
		if current.Len() > 0 && current.Len()+len(line)+1 > c.maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	flush()
	return pieces, nil
}

// OverlappingChunker is SimpleChunker with the tail lines of each chunk
// repeated at the head of the next, preserving context across boundaries.
type OverlappingChunker struct {
	flow.BaseResource
	maxChars int
	overlap  int
	priority int
}

func NewOverlappingChunker(id string, maxChars, overlap, priority int) *OverlappingChunker {
	if maxChars <= 0 {
		maxChars = 2000
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = maxChars / 10
	}
	return &OverlappingChunker{BaseResource: flow.NewBaseResource(id), maxChars: maxChars, overlap: overlap, priority: priority}
}

func (c *OverlappingChunker) Priority() int { return c.priority }

func (c *OverlappingChunker) Supports(parsed *ParsedContent) bool { return true }

func (c *OverlappingChunker) Chunk(parsed *ParsedContent) ([]ChunkPiece, error) {
	lines := strings.Split(parsed.Text, "\n")

	var pieces []ChunkPiece
	var current []string
	size := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		pieces = append(pieces, ChunkPiece{Text: strings.Join(current, "\n")})

		// Carry trailing lines up to the overlap budget into the next chunk.
		var carry []string
		carried := 0
		for i := len(current) - 1; i >= 0; i-- {
			if carried+len(current[i])+1 > c.overlap {
				break
			}
			carried += len(current[i]) + 1
			carry = append([]string{current[i]}, carry...)
		}
		current = carry
		size = carried
	}

	for _, line := range lines {
		if size > 0 && size+len(line)+1 > c.maxChars {
			flush()
		}
		current = append(current, line)
		size += len(line) + 1
	}
	if len(pieces) == 0 || size > 0 {
		// Final flush without carrying an overlap forward.
		text := strings.Join(current, "\n")
		if strings.TrimSpace(text) != "" {
			last := ""
			if len(pieces) > 0 {
				last = pieces[len(pieces)-1].Text
			}
			if text != last {
				pieces = append(pieces, ChunkPiece{Text: text})
			}
		}
	}
	return pieces, nil
}

// TokenChunker windows the text by token count using the cl100k_base
// encoding, matching how embedding models measure input.
type TokenChunker struct {
	flow.BaseResource
	maxTokens int
	overlap   int
	priority  int

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTokenChunker(id string, maxTokens, overlap, priority int) *TokenChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = maxTokens / 8
	}
	return &TokenChunker{BaseResource: flow.NewBaseResource(id), maxTokens: maxTokens, overlap: overlap, priority: priority}
}

func (c *TokenChunker) Priority() int { return c.priority }

func (c *TokenChunker) Supports(parsed *ParsedContent) bool { return true }

func (c *TokenChunker) encoding() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
	return c.enc, c.err
}

func (c *TokenChunker) Chunk(parsed *ParsedContent) ([]ChunkPiece, error) {
	enc, err := c.encoding()
	if err != nil {
		return nil, fmt.Errorf("token chunker '%s': %w", c.ID(), err)
	}

	tokens := enc.Encode(parsed.Text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	step := c.maxTokens - c.overlap
	var pieces []ChunkPiece
	for start := 0; start < len(tokens); start += step {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		pieces = append(pieces, ChunkPiece{
			Text: enc.Decode(tokens[start:end]),
			Meta: map[string]any{"token_count": end - start},
		})
		if end == len(tokens) {
			break
		}
	}
	return pieces, nil
}
