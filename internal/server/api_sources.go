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
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	yaml "github.com/goccy/go-yaml"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
)

type SourceInfo struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

type SourceListResponse struct {
	Sources map[string]SourceInfo `json:"sources"`
}

// sourceListHandler handles requests for listing all sources.
func sourceListHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx, span := s.instrumentation.Tracer.Start(r.Context(), "db2i-mcp-server/server/source/list")
	r = r.WithContext(ctx)
	defer span.End()

	res := s.snapshot()
	resp := SourceListResponse{
		Sources: make(map[string]SourceInfo, len(res.sources)),
	}
	for name, source := range res.sources {
		resp.Sources[name] = SourceInfo{
			Name: name,
			Kind: source.SourceKind(),
		}
	}
	render.JSON(w, r, resp)
}

// sourceGetHandler handles requests for a single source. The serialized
// config is redacted before it leaves the process.
func sourceGetHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx, span := s.instrumentation.Tracer.Start(r.Context(), "db2i-mcp-server/server/source/get")
	r = r.WithContext(ctx)
	defer span.End()

	sourceName := chi.URLParam(r, "sourceName")
	res := s.snapshot()
	source, ok := res.sources[sourceName]
	if !ok {
		err := fmt.Errorf("source %q does not exist", sourceName)
		s.logdContext(ctx).DebugContext(ctx, err.Error())
		_ = render.Render(w, r, newErrResponse(err, http.StatusNotFound))
		return
	}

	info := SourceInfo{Name: sourceName, Kind: source.SourceKind()}
	if d, ok := source.(*db2i.Source); ok {
		configMap, err := sourceConfigToMap(d.Config)
		if err != nil {
			errMsg := fmt.Errorf("unable to serialize source %q config: %w", sourceName, err)
			s.logdContext(ctx).DebugContext(ctx, errMsg.Error())
			_ = render.Render(w, r, newErrResponse(errMsg, http.StatusInternalServerError))
			return
		}
		redactSensitiveValues(configMap)
		info.Config = configMap
	}
	render.JSON(w, r, SourceListResponse{
		Sources: map[string]SourceInfo{sourceName: info},
	})
}

func sourceConfigToMap(cfg any) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var configMap map[string]any
	if err := yaml.Unmarshal(raw, &configMap); err != nil {
		return nil, err
	}
	return configMap, nil
}

func redactSensitiveValues(v any) {
	switch typed := v.(type) {
	case map[string]any:
		for k, val := range typed {
			if isSensitiveKey(k) {
				typed[k] = "[REDACTED]"
				continue
			}
			redactSensitiveValues(val)
		}
	case []any:
		for i := range typed {
			redactSensitiveValues(typed[i])
		}
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, needle := range []string{"password", "secret", "token", "apikey", "credential"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
