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

package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// SSEStream writes server-sent events to an http.ResponseWriter.
//
// The request context is watched so client disconnects are observed even
// between pushes.
type SSEStream struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	flusher      http.Flusher
	disconnected atomic.Bool
	closed       atomic.Bool
	logger       *slog.Logger
}

// NewSSE prepares w for server-sent events and returns the stream. The
// returned stream observes ctx (normally the request context) for client
// disconnects.
func NewSSE(ctx context.Context, w http.ResponseWriter, logger *slog.Logger) (*SSEStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("eventstream: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &SSEStream{
		w:       w,
		flusher: flusher,
		logger:  logger,
	}

	go func() {
		<-ctx.Done()
		s.disconnected.Store(true)
	}()

	return s, nil
}

func (s *SSEStream) Push(event string, payload any) {
	if s.disconnected.Load() || s.closed.Load() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("dropping unserializable event", "event", event, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.disconnected.Store(true)
		return
	}
	s.flusher.Flush()
}

func (s *SSEStream) Disconnected() bool {
	return s.disconnected.Load()
}

func (s *SSEStream) Close() {
	s.closed.Store(true)
}
