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
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
)

// ToolsetManifest is the response shape of the toolset API: the server
// version plus each member tool's manifest.
type ToolsetManifest struct {
	ServerVersion string                    `json:"serverVersion"`
	Toolset       string                    `json:"toolset"`
	Tools         map[string]tools.Manifest `json:"tools"`
}

// toolsetHandler handles the request for information about a Toolset. An
// empty toolset name addresses every registered tool.
func toolsetHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx, span := s.instrumentation.Tracer.Start(r.Context(), "db2i-mcp-server/server/toolset/get")
	r = r.WithContext(ctx)

	toolsetName := chi.URLParam(r, "toolsetName")
	span.SetAttributes(attribute.String("toolset_name", toolsetName))
	var err error
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		status := "success"
		if err != nil {
			status = "error"
		}
		s.instrumentation.ToolsetGet.Add(
			r.Context(),
			1,
			metric.WithAttributes(attribute.String("toolset_name", toolsetName)),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}()

	res := s.snapshot()
	names, terr := res.toolsets.ToolsInToolset(toolsetName)
	if terr != nil {
		err = fmt.Errorf("toolset %q does not exist", toolsetName)
		s.logdContext(ctx).DebugContext(ctx, err.Error())
		_ = render.Render(w, r, newErrResponse(err, http.StatusNotFound))
		return
	}

	manifest := ToolsetManifest{
		ServerVersion: s.version,
		Toolset:       toolsetName,
		Tools:         make(map[string]tools.Manifest, len(names)),
	}
	for _, name := range names {
		t, ok := res.tools[name]
		if !ok {
			continue
		}
		manifest.Tools[name] = t.Manifest()
	}
	render.JSON(w, r, manifest)
}
