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
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAdminResourceList(t *testing.T) {
	toolsMap, toolsets := testResources(t)
	_, ts := newTestServer(t, toolsMap, toolsets)

	tests := []struct {
		resource string
		want     []string
		wantCode int
	}{
		{resource: "tool", want: []string{"broken", "get_user", "list_jobs"}, wantCode: http.StatusOK},
		{resource: "toolset", want: []string{"users"}, wantCode: http.StatusOK},
		{resource: "source", want: nil, wantCode: http.StatusOK},
		{resource: "prompt", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			var list []string
			code := getJSON(t, ts.URL+"/admin/"+tt.resource, &list)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if diff := cmp.Diff(tt.want, list); diff != "" {
				t.Errorf("list mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	toolsMap, toolsets := testResources(t)
	_, ts := newTestServer(t, toolsMap, toolsets)

	var stats map[string]any
	if code := getJSON(t, ts.URL+"/api/stats", &stats); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if stats["version"] != fakeVersionString {
		t.Errorf("version = %v", stats["version"])
	}
	if stats["tools"] != float64(3) {
		t.Errorf("tools = %v", stats["tools"])
	}
	toolsetStats := stats["toolsets"].(map[string]any)
	if toolsetStats["totalToolsets"] != float64(1) {
		t.Errorf("toolsets = %v", toolsetStats)
	}
}
