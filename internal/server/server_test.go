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
	"context"
	"database/sql"
	"io"
	"net/http/httptest"
	"slices"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ibmi-community/db2i-mcp-server/internal/log"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/telemetry"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const fakeVersionString = "0.0.0-test"

// fakeTool satisfies tools.Tool without touching a database.
type fakeTool struct {
	name   string
	result *tools.ToolResult
	err    error
}

func (t fakeTool) Invoke(_ context.Context, _ tools.ParamValues) (any, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

func (t fakeTool) ParseParams(data map[string]any) (tools.ParamValues, error) {
	values := make(tools.ParamValues, 0, len(data))
	for k, v := range data {
		values = append(values, tools.ParamValue{Name: k, Value: v})
	}
	return values, nil
}

func (t fakeTool) Manifest() tools.Manifest {
	return tools.Manifest{Description: "fake tool " + t.name}
}

func (t fakeTool) McpManifest() tools.McpManifest {
	return tools.McpManifest{
		Name:        t.name,
		Description: "fake tool " + t.name,
		InputSchema: tools.McpToolsSchema{Type: "object", Properties: map[string]tools.McpPropSchema{}},
	}
}

func okResult() *tools.ToolResult {
	return &tools.ToolResult{
		Success:  true,
		Data:     []map[string]any{{"greeting": "hello"}},
		RowCount: 1,
	}
}

// newTestServer builds a Server over a hand-built snapshot and returns an
// httptest server for it.
func newTestServer(t *testing.T, toolsMap map[string]tools.Tool, toolsetConfigs tools.ToolsetConfigs) (*Server, *httptest.Server) {
	t.Helper()

	logger, err := log.NewLogger("standard", "error", io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("logger: %s", err)
	}
	instrumentation, err := telemetry.CreateTelemetryInstrumentation(fakeVersionString)
	if err != nil {
		t.Fatalf("instrumentation: %s", err)
	}
	manager, err := tools.NewToolsetManager(toolsetConfigs, toolsMap, nil)
	if err != nil {
		t.Fatalf("toolsets: %s", err)
	}

	s := &Server{
		version: fakeVersionString,
		conf: ServerConfig{
			Version:       fakeVersionString,
			LoggingFormat: "standard",
			LogLevel:      "error",
		},
		resources: &resourceSnapshot{
			sources:  nil,
			tools:    toolsMap,
			toolsets: manager,
		},
		logger:          logger,
		instrumentation: instrumentation,
	}
	if err := s.setupRoutes(); err != nil {
		t.Fatalf("routes: %s", err)
	}

	ts := httptest.NewServer(s.root)
	t.Cleanup(ts.Close)
	return s, ts
}

func sorted(list []string) []string {
	out := slices.Clone(list)
	slices.Sort(out)
	return out
}

// handleSource satisfies sources.Source over a bare handle.
type handleSource struct {
	db *sql.DB
}

func (s handleSource) SourceKind() string { return "db2i" }
func (s handleSource) Db2iDB() *sql.DB    { return s.db }

func TestClosePoolsClosesSourceHandles(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %s", err)
	}
	mock.ExpectClose()

	s, _ := newTestServer(t, nil, nil)
	snap := s.snapshot()
	s.UpdateResources(&resourceSnapshot{
		sources:  map[string]sources.Source{"ibmi": handleSource{db: db}},
		tools:    snap.tools,
		toolsets: snap.toolsets,
	})

	s.closePools()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	logger, err := log.NewLogger("standard", "error", io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("logger: %s", err)
	}
	instrumentation, err := telemetry.CreateTelemetryInstrumentation(fakeVersionString)
	if err != nil {
		t.Fatalf("instrumentation: %s", err)
	}
	ctx := util.WithLogger(context.Background(), logger)
	return util.WithInstrumentation(ctx, instrumentation)
}
