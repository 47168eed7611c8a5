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
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
)

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %s", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %s", err)
		}
	}
	return resp.StatusCode
}

func TestToolsetManifest(t *testing.T) {
	toolsMap, toolsets := testResources(t)
	_, ts := newTestServer(t, toolsMap, toolsets)

	tests := []struct {
		name           string
		toolsetName    string
		wantStatusCode int
		wantTools      []string
	}{
		{
			name:           "all tools",
			toolsetName:    "",
			wantStatusCode: http.StatusOK,
			wantTools:      []string{"broken", "get_user", "list_jobs"},
		},
		{
			name:           "one toolset",
			toolsetName:    "users",
			wantStatusCode: http.StatusOK,
			wantTools:      []string{"get_user"},
		},
		{
			name:           "invalid toolset name",
			toolsetName:    "nonExistentToolset",
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var manifest ToolsetManifest
			code := getJSON(t, ts.URL+"/api/toolset/"+tt.toolsetName, &manifest)
			if code != tt.wantStatusCode {
				t.Fatalf("status = %d, want %d", code, tt.wantStatusCode)
			}
			if tt.wantStatusCode != http.StatusOK {
				return
			}
			if manifest.ServerVersion != fakeVersionString {
				t.Errorf("serverVersion = %q", manifest.ServerVersion)
			}
			got := make([]string, 0, len(manifest.Tools))
			for name := range manifest.Tools {
				got = append(got, name)
			}
			if diff := cmp.Diff(tt.wantTools, sorted(got)); diff != "" {
				t.Errorf("tools mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToolManifestContent(t *testing.T) {
	toolsMap, toolsets := testResources(t)
	_, ts := newTestServer(t, toolsMap, toolsets)

	var manifest ToolsetManifest
	if code := getJSON(t, ts.URL+"/api/toolset/users", &manifest); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	want := tools.Manifest{Description: "fake tool get_user"}
	if diff := cmp.Diff(want, manifest.Tools["get_user"]); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestHealthz(t *testing.T) {
	toolsMap, toolsets := testResources(t)
	_, ts := newTestServer(t, toolsMap, toolsets)

	var body map[string]any
	if code := getJSON(t, ts.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" || body["version"] != fakeVersionString {
		t.Fatalf("body = %v", body)
	}
}
