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

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the flow engine and the ingestion pipeline.
var (
	FlowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_flow_runs_total",
		Help: "Completed flow runs by terminal status.",
	}, []string{"flow", "status"})

	FlowRounds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentflow_flow_rounds",
		Help:    "Dispatch rounds needed per flow run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"flow"})

	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentflow_node_duration_seconds",
		Help:    "Wall time spent in node Execute calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"flow", "node"})

	NodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_node_errors_total",
		Help: "Node-local errors recorded as {error} outputs.",
	}, []string{"flow", "node"})

	IngestItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_ingest_items_total",
		Help: "RAG pipeline items by outcome (done, failed, skipped, deleted).",
	}, []string{"collection", "outcome"})

	IngestChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_ingest_chunks_total",
		Help: "Chunks produced by the RAG pipeline.",
	}, []string{"collection"})

	VectorUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_vector_upserts_total",
		Help: "Vector store upserts by collection and status.",
	}, []string{"collection", "status"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_llm_requests_total",
		Help: "Chat model requests by model, mode and status.",
	}, []string{"model", "mode", "status"})
)
