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

// Package observability wires tracing and metrics for the runtime.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the runtime.
const (
	SpanFlowRun     = "flow.run"
	SpanNodeExecute = "flow.node.execute"
	SpanLLMRequest  = "llm.request"
	SpanLLMStream   = "llm.stream"
	SpanIngestItem  = "rag.ingest.item"
	SpanVectorOp    = "vector.op"
)

// Attribute keys.
const (
	AttrFlowID        = "flow.id"
	AttrNodeID        = "flow.node.id"
	AttrLLMModel      = "llm.model"
	AttrCollectionKey = "vector.collection_key"
)

// Tracer returns a named tracer from the global provider. Safe to call before
// InitTracing; spans are no-ops until a provider is installed.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// InitTracing installs a stdout-exporting trace provider and returns its
// shutdown function. Production deployments swap the exporter behind the same
// call site.
func InitTracing(pretty bool) (func(context.Context) error, error) {
	var opts []stdouttrace.Option
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
