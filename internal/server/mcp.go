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

package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ibmi-community/db2i-mcp-server/internal/server/mcp"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// mcpRouter creates a router that represents the routes under /mcp
func mcpRouter(s *Server) (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(middleware.AllowContentType("application/json"))
	r.Use(middleware.StripSlashes)

	r.Post("/", func(w http.ResponseWriter, r *http.Request) { mcpHandler(s, "", w, r) })
	r.Post("/{toolsetName}", func(w http.ResponseWriter, r *http.Request) {
		mcpHandler(s, chi.URLParam(r, "toolsetName"), w, r)
	})

	return r, nil
}

// mcpHandler handles all mcp messages. The response is a single JSON object,
// or one SSE event when the client negotiated text/event-stream. Either way
// the per-request cleanup hook runs exactly once.
func mcpHandler(s *Server, toolsetName string, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var method string
	cleanup := sync.OnceFunc(func() {
		s.instrumentation.McpPost.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("toolset", toolsetName),
		))
		s.Logger().DebugContext(ctx, "mcp request complete",
			"method", method,
			"durationMs", time.Since(start).Milliseconds(),
		)
	})
	defer cleanup()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		// Generate a new uuid if unable to decode
		id := uuid.New().String()
		writeMcpResponse(w, r, mcp.NewError(id, mcp.PARSE_ERROR, err.Error(), nil), cleanup)
		return
	}

	res, notification := processMcpMessage(ctx, s, toolsetName, body)
	method = mcpMethodOf(body)
	if notification {
		// Notifications do not expect a response.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeMcpResponse(w, r, res, cleanup)
}

// mcpMethodOf extracts the method name for metrics without re-dispatching.
func mcpMethodOf(body []byte) string {
	var probe struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Method
}

// writeMcpResponse renders res as plain JSON, or as a single SSE event when
// the client asked for a stream. Cleanup is invoked on every terminal path;
// its sync.Once guard makes a second call from the deferred handler a no-op.
func writeMcpResponse(w http.ResponseWriter, r *http.Request, res mcp.JSONRPCMessage, cleanup func()) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		render.SetContentType(render.ContentTypeJSON)
		render.JSON(w, r, res)
		cleanup()
		return
	}

	payload, err := json.Marshal(res)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		cleanup()
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
		// Client cancelled mid-stream; cleanup still runs exactly once.
		cleanup()
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	cleanup()
}

// processMcpMessage dispatches one JSON-RPC message. The second return is
// true for notifications, which produce no response frame. Shared by the
// HTTP and stdio transports.
func processMcpMessage(ctx context.Context, s *Server, toolsetName string, body []byte) (mcp.JSONRPCMessage, bool) {
	// Generic baseMessage could either be a JSONRPCNotification or JSONRPCRequest
	var baseMessage struct {
		Jsonrpc string        `json:"jsonrpc"`
		Method  string        `json:"method"`
		Id      mcp.RequestId `json:"id,omitempty"`
	}
	if err := util.DecodeJSON(bytes.NewBuffer(body), &baseMessage); err != nil {
		return mcp.NewError(uuid.New().String(), mcp.PARSE_ERROR, err.Error(), nil), false
	}

	if baseMessage.Jsonrpc != mcp.JSONRPC_VERSION {
		return mcp.NewError(baseMessage.Id, mcp.INVALID_REQUEST, "invalid json-rpc version", nil), false
	}
	if baseMessage.Method == "" {
		return mcp.NewError(baseMessage.Id, mcp.METHOD_NOT_FOUND, "method not found", nil), false
	}

	// Check if message is a notification
	if baseMessage.Id == nil {
		s.Logger().DebugContext(ctx, fmt.Sprintf("received notification %q", baseMessage.Method))
		return nil, true
	}

	switch baseMessage.Method {
	case "initialize":
		var req mcp.InitializeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return mcp.NewError(baseMessage.Id, mcp.INVALID_REQUEST, fmt.Sprintf("invalid mcp initialize request: %s", err), nil), false
		}
		return mcp.NewResponse(baseMessage.Id, mcp.Initialize(s.version)), false

	case "ping":
		return mcp.NewResponse(baseMessage.Id, struct{}{}), false

	case "tools/list":
		var req mcp.ListToolsRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return mcp.NewError(baseMessage.Id, mcp.INVALID_REQUEST, fmt.Sprintf("invalid mcp tools list request: %s", err), nil), false
		}
		manifests, err := s.toolManifests(toolsetName)
		if err != nil {
			return mcp.NewError(baseMessage.Id, mcp.INVALID_REQUEST, err.Error(), nil), false
		}
		return mcp.NewResponse(baseMessage.Id, mcp.ToolsList(manifests)), false

	case "tools/call":
		var req mcp.CallToolRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return mcp.NewError(baseMessage.Id, mcp.INVALID_REQUEST, fmt.Sprintf("invalid mcp tools call request: %s", err), nil), false
		}
		return mcp.NewResponse(baseMessage.Id, s.callTool(ctx, toolsetName, req.Params)), false

	case "resources/list":
		return mcp.NewResponse(baseMessage.Id, s.listResources()), false

	case "resources/read":
		var req mcp.ReadResourceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return mcp.NewError(baseMessage.Id, mcp.INVALID_REQUEST, fmt.Sprintf("invalid mcp resources read request: %s", err), nil), false
		}
		result, err := s.readResource(req.Params.URI)
		if err != nil {
			se := util.AsServerError(err)
			return mcp.NewError(baseMessage.Id, int(se.Code), se.Message, se.Details), false
		}
		return mcp.NewResponse(baseMessage.Id, result), false

	case "logging/setLevel":
		var req mcp.SetLevelRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return mcp.NewError(baseMessage.Id, mcp.INVALID_REQUEST, fmt.Sprintf("invalid mcp set level request: %s", err), nil), false
		}
		if err := s.SetLogLevel(req.Params.Level); err != nil {
			se := util.AsServerError(err)
			return mcp.NewError(baseMessage.Id, int(se.Code), se.Message, se.Details), false
		}
		return mcp.NewResponse(baseMessage.Id, struct{}{}), false

	default:
		return mcp.NewError(baseMessage.Id, mcp.METHOD_NOT_FOUND, fmt.Sprintf("invalid method %s", baseMessage.Method), nil), false
	}
}

// toolManifests collects the MCP manifests of the toolset's members in a
// stable order.
func (s *Server) toolManifests(toolsetName string) ([]tools.McpManifest, error) {
	res := s.snapshot()
	names, err := res.toolsets.ToolsInToolset(toolsetName)
	if err != nil {
		return nil, err
	}
	manifests := make([]tools.McpManifest, 0, len(names))
	for _, name := range names {
		t, ok := res.tools[name]
		if !ok {
			continue
		}
		manifests = append(manifests, t.McpManifest())
	}
	return manifests, nil
}

// callTool validates arguments and invokes the tool. Errors never escape as
// JSON-RPC error frames; they come back as a well-formed CallToolResult with
// isError set, text content, and a structured {code, message, details}.
func (s *Server) callTool(ctx context.Context, toolsetName string, params mcp.CallToolParams) mcp.CallToolResult {
	res := s.snapshot()
	tool, ok := res.tools[params.Name]
	if !ok || !res.toolsets.IsToolInToolset(params.Name, toolsetName) {
		se := util.NewMethodNotFoundError(fmt.Sprintf("unknown tool %q", params.Name))
		return mcp.ToolCallError(int(se.Code), se.Message, se.Details)
	}

	start := time.Now()
	ctx, span := s.instrumentation.Tracer.Start(ctx, "db2i-mcp-server/tool/invoke")
	span.SetAttributes(attribute.String("tool_name", params.Name))
	defer span.End()

	status := "success"
	defer func() {
		s.instrumentation.ToolInvoke.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool_name", params.Name),
			attribute.String("status", status),
		))
		s.instrumentation.InvokeLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000.0,
			metric.WithAttributes(attribute.String("tool_name", params.Name)))
	}()

	values, err := tool.ParseParams(params.Arguments)
	if err != nil {
		status = "error"
		se := util.AsServerError(err)
		s.logdContext(ctx).WarnContext(ctx, fmt.Sprintf("tool %q rejected arguments: %s", params.Name, se.Message))
		return mcp.ToolCallError(int(se.Code), se.Message, se.Details)
	}

	raw, err := tool.Invoke(ctx, values)
	if err != nil {
		status = "error"
		se := util.AsServerError(err)
		s.logdContext(ctx).ErrorContext(ctx, fmt.Sprintf("tool %q failed: %s", params.Name, se.Message),
			"errorCode", int(se.Code))
		return mcp.ToolCallError(int(se.Code), se.Message, se.Details)
	}

	result, ok := raw.(*tools.ToolResult)
	if !ok {
		status = "error"
		se := util.NewInternalError(fmt.Sprintf("tool %q returned an unexpected result shape", params.Name), nil)
		return mcp.ToolCallError(int(se.Code), se.Message, se.Details)
	}
	return mcp.ToolCallSuccess(result)
}

// toolsetsScheme is the resource URI namespace for toolset discovery.
const toolsetsScheme = "toolsets://"

// listResources advertises the toolset catalog plus one resource per
// declared toolset.
func (s *Server) listResources() mcp.ListResourcesResult {
	res := s.snapshot()
	out := mcp.ListResourcesResult{
		Resources: []mcp.Resource{{
			URI:         toolsetsScheme,
			Name:        "toolsets",
			Description: "Catalog of all toolsets and their tools",
			MimeType:    "application/json",
		}},
	}
	for _, name := range res.toolsets.Names() {
		ts, _ := res.toolsets.Toolset(name)
		out.Resources = append(out.Resources, mcp.Resource{
			URI:         toolsetsScheme + name,
			Name:        name,
			Description: ts.Description,
			MimeType:    "application/json",
		})
	}
	return out
}

// readResource serves toolsets:// and toolsets://<name> as base64 JSON.
func (s *Server) readResource(uri string) (mcp.ReadResourceResult, error) {
	if !strings.HasPrefix(uri, toolsetsScheme) {
		return mcp.ReadResourceResult{}, util.NewInvalidRequestError(fmt.Sprintf("unknown resource %q", uri))
	}
	res := s.snapshot()
	name := strings.TrimPrefix(uri, toolsetsScheme)

	var payload any
	if name == "" {
		catalog := make(map[string]tools.Toolset, len(res.toolsets.Names()))
		for _, n := range res.toolsets.Names() {
			ts, _ := res.toolsets.Toolset(n)
			catalog[n] = ts
		}
		payload = map[string]any{"toolsets": catalog, "stats": res.toolsets.Stats()}
	} else {
		ts, ok := res.toolsets.Toolset(name)
		if !ok {
			return mcp.ReadResourceResult{}, util.NewInvalidRequestError(fmt.Sprintf("toolset %q does not exist", name))
		}
		payload = ts
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return mcp.ReadResourceResult{}, util.NewInternalError("unable to encode resource", err)
	}
	return mcp.ReadResourceResult{
		Contents: []mcp.BlobResourceContents{{
			URI:      uri,
			MimeType: "application/json",
			Blob:     base64.StdEncoding.EncodeToString(raw),
		}},
	}, nil
}
