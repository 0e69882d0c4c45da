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

// Package server exposes flows over HTTP: batch runs as JSON, chat runs as
// server-sent events, plus health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/missionbay/agentflow/pkg/component"
	"github.com/missionbay/agentflow/pkg/config"
	"github.com/missionbay/agentflow/pkg/eventstream"
	"github.com/missionbay/agentflow/pkg/flow"
)

// ErrFlowNotFound is returned for unknown flow names.
var ErrFlowNotFound = errors.New("server: flow not found")

// Server hosts flows behind an HTTP API. Each request gets its own flow
// context; flow definitions are shared and must stay read-only at run time.
type Server struct {
	manager *component.Manager
	logger  *slog.Logger

	mu    sync.RWMutex
	flows map[string]flow.Flow
}

func New(manager *component.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: manager,
		logger:  logger,
		flows:   make(map[string]flow.Flow),
	}
}

// RegisterFlow installs a flow under its own id.
func (s *Server) RegisterFlow(f flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flows[f.ID()]; exists {
		return fmt.Errorf("server: flow '%s' already registered", f.ID())
	}
	s.flows[f.ID()] = f
	return nil
}

// LoadDirectory builds and registers every flow document in dir.
func (s *Server) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("server: read flow dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		doc, err := config.LoadDocument(path)
		if err != nil {
			return err
		}
		f, err := s.manager.BuildFlow(doc)
		if err != nil {
			return fmt.Errorf("server: build flow %s: %w", path, err)
		}
		if err := s.RegisterFlow(f); err != nil {
			return err
		}
		s.logger.Info("flow loaded", "flow", f.ID(), "path", path)
	}
	return nil
}

func (s *Server) lookup(name string) (flow.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFlowNotFound, name)
	}
	return f, nil
}

// Flows lists the registered flow names.
func (s *Server) Flows() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.flows))
	for name := range s.flows {
		names = append(names, name)
	}
	return names
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/flows", s.handleListFlows)
	r.Post("/flows/{name}/run", s.handleRunFlow)
	r.Post("/chat", s.handleChat)
	return r
}

// ListenAndServe blocks serving the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"flows": s.Flows()})
}

type runRequest struct {
	Inputs map[string]any `json:"inputs"`
}

func (s *Server) handleRunFlow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := s.lookup(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}

	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
	}

	// Batch runs still collect events so callers can inspect them.
	buffer := eventstream.NewBuffer()
	fc := flow.NewContext(nil, buffer)

	outputs, err := f.Run(r.Context(), fc, req.Inputs)
	if err != nil {
		s.logger.Error("flow run failed", "flow", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outputs": outputs,
		"events":  buffer.Events(),
	})
}

type chatRequest struct {
	Flow   string         `json:"flow"`
	Inputs map[string]any `json:"inputs"`
}

// handleChat runs a flow with a live SSE stream attached. The HTTP status is
// committed before the flow starts, so run failures surface as error events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if req.Flow == "" {
		req.Flow = "chat"
	}

	f, err := s.lookup(req.Flow)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}

	stream, err := eventstream.NewSSE(r.Context(), w, s.logger)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	defer stream.Close()

	fc := flow.NewContext(nil, stream)
	if _, err := f.Run(r.Context(), fc, req.Inputs); err != nil {
		s.logger.Error("chat run failed", "flow", req.Flow, "error", err)
		stream.Push(eventstream.EventError, map[string]any{"error": err.Error()})
		stream.Push(eventstream.EventDone, map[string]any{"status": "error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
