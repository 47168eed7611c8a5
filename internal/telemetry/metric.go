// Copyright 2025 IBM Corp.
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

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const InstrumentationName = "github.com/ibmi-community/db2i-mcp-server/internal/telemetry"

// Instrumentation bundles the tracer and the server's custom metrics.
type Instrumentation struct {
	Tracer trace.Tracer

	McpPost       metric.Int64Counter
	ToolsetGet    metric.Int64Counter
	ToolInvoke    metric.Int64Counter
	AuthIssued    metric.Int64Counter
	InvokeLatency metric.Float64Histogram
}

// CreateTelemetryInstrumentation creates the tracer and the custom metrics.
func CreateTelemetryInstrumentation(versionString string) (*Instrumentation, error) {
	tracer := otel.Tracer(InstrumentationName, trace.WithInstrumentationVersion(versionString))
	meter := otel.Meter(InstrumentationName, metric.WithInstrumentationVersion(versionString))

	mcpPost, err := meter.Int64Counter(
		"db2i.server.mcp.post.count",
		metric.WithDescription("Number of MCP POST requests."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create mcp post metric: %w", err)
	}

	toolsetGet, err := meter.Int64Counter(
		"db2i.server.toolset.get.count",
		metric.WithDescription("Number of toolset GET API calls."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create toolset get metric: %w", err)
	}

	toolInvoke, err := meter.Int64Counter(
		"db2i.server.tool.invoke.count",
		metric.WithDescription("Number of tool invocations."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create tool invoke metric: %w", err)
	}

	authIssued, err := meter.Int64Counter(
		"db2i.server.auth.issued.count",
		metric.WithDescription("Number of bearer tokens issued."),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create auth issued metric: %w", err)
	}

	invokeLatency, err := meter.Float64Histogram(
		"db2i.server.tool.invoke.duration",
		metric.WithDescription("Duration of tool invocations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create invoke duration metric: %w", err)
	}

	return &Instrumentation{
		Tracer:        tracer,
		McpPost:       mcpPost,
		ToolsetGet:    toolsetGet,
		ToolInvoke:    toolInvoke,
		AuthIssued:    authIssued,
		InvokeLatency: invokeLatency,
	}, nil
}
