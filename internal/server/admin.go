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
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// adminRouter creates a router that represents the routes under /admin
func adminRouter(s *Server) (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(middleware.StripSlashes)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/{resource}", func(w http.ResponseWriter, r *http.Request) { adminGetHandler(s, w, r) })

	return r, nil
}

// adminGetHandler handles requests for a list of specific resource
func adminGetHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resource := chi.URLParam(r, "resource")
	res := s.snapshot()

	var resourceList []string
	switch resource {
	case "source":
		for n := range res.sources {
			resourceList = append(resourceList, n)
		}
	case "tool":
		for n := range res.tools {
			resourceList = append(resourceList, n)
		}
	case "toolset":
		resourceList = res.toolsets.Names()
	default:
		err := fmt.Errorf(`invalid resource %s, please provide one of "source", "tool", or "toolset"`, resource)
		s.logdContext(ctx).DebugContext(ctx, err.Error())
		_ = render.Render(w, r, newErrResponse(err, http.StatusNotFound))
		return
	}
	sort.Strings(resourceList)

	render.JSON(w, r, resourceList)
}

// statsHandler reports runtime counts: toolset topology, live sessions and
// per-session pool stats.
func statsHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	res := s.snapshot()
	out := map[string]any{
		"version":  s.version,
		"toolsets": res.toolsets.Stats(),
		"tools":    len(res.tools),
		"sources":  len(res.sources),
	}
	if s.tokens != nil {
		out["activeSessions"] = s.tokens.ActiveSessions()
		out["sessionPools"] = s.authPools.Stats()
	}
	render.JSON(w, r, out)
}
