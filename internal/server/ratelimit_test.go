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
	"time"

	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "forwarded for wins",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2", "X-Real-IP": "10.0.0.3"},
			remoteAddr: "192.168.1.1:1234",
			want:       "10.0.0.1",
		},
		{
			name:       "real ip second",
			headers:    map[string]string{"X-Real-IP": "10.0.0.3"},
			remoteAddr: "192.168.1.1:1234",
			want:       "10.0.0.3",
		},
		{
			name:       "socket host third",
			remoteAddr: "192.168.1.1:1234",
			want:       "192.168.1.1",
		},
		{
			name: "fallback",
			want: "unknown_ip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodPost, "/mcp", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := clientKey(r); got != tt.want {
				t.Errorf("clientKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiterCheck(t *testing.T) {
	rl := newRateLimiter(rateLimitConfig{
		enabled:     true,
		maxRequests: 3,
		window:      time.Hour,
	})

	for i := 0; i < 3; i++ {
		if err := rl.check("10.0.0.1"); err != nil {
			t.Fatalf("request %d rejected: %s", i+1, err)
		}
	}

	err := rl.check("10.0.0.1")
	if err == nil {
		t.Fatal("fourth request in window must be rejected")
	}
	se := util.AsServerError(err)
	if se.Code != util.CodeRateLimited {
		t.Errorf("code = %d, want %d", se.Code, util.CodeRateLimited)
	}
	if se.Details["key"] != "10.0.0.1" {
		t.Errorf("details.key = %v", se.Details["key"])
	}
	if se.Details["limit"] != 3 {
		t.Errorf("details.limit = %v", se.Details["limit"])
	}
	if wait, ok := se.Details["waitTimeSeconds"].(int); !ok || wait <= 0 {
		t.Errorf("details.waitTimeSeconds = %v", se.Details["waitTimeSeconds"])
	}

	// A different key has its own budget.
	if err := rl.check("10.0.0.2"); err != nil {
		t.Errorf("other key rejected: %s", err)
	}
}

func TestRateLimitConfigFromEnv(t *testing.T) {
	t.Setenv("MCP_RATE_LIMIT_ENABLED", "true")
	t.Setenv("MCP_RATE_LIMIT_MAX_REQUESTS", "25")
	t.Setenv("MCP_RATE_LIMIT_WINDOW_MS", "5000")

	cfg := rateLimitConfigFromEnv()
	if !cfg.enabled {
		t.Error("enabled = false")
	}
	if cfg.maxRequests != 25 {
		t.Errorf("maxRequests = %d", cfg.maxRequests)
	}
	if cfg.window != 5*time.Second {
		t.Errorf("window = %s", cfg.window)
	}
}

func TestRateLimitConfigDefaults(t *testing.T) {
	t.Setenv("MCP_RATE_LIMIT_ENABLED", "")
	t.Setenv("MCP_RATE_LIMIT_MAX_REQUESTS", "")
	t.Setenv("MCP_RATE_LIMIT_WINDOW_MS", "")

	cfg := rateLimitConfigFromEnv()
	if cfg.enabled {
		t.Error("limiter must default to disabled")
	}
	if cfg.maxRequests != defaultRateLimitMax || cfg.window != defaultRateLimitWindow {
		t.Errorf("defaults = %d/%s", cfg.maxRequests, cfg.window)
	}
}
