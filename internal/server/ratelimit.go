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
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const (
	defaultRateLimitMax    = 100
	defaultRateLimitWindow = time.Minute
	// limiterIdleTTL is how long an idle client entry survives before the
	// janitor drops it.
	limiterIdleTTL = 10 * time.Minute
)

// rateLimitConfig is read once at startup from MCP_RATE_LIMIT_* variables.
type rateLimitConfig struct {
	enabled     bool
	maxRequests int
	window      time.Duration
	skipDev     bool
}

func rateLimitConfigFromEnv() rateLimitConfig {
	cfg := rateLimitConfig{
		enabled:     strings.EqualFold(os.Getenv("MCP_RATE_LIMIT_ENABLED"), "true"),
		maxRequests: defaultRateLimitMax,
		window:      defaultRateLimitWindow,
		skipDev:     strings.EqualFold(os.Getenv("MCP_RATE_LIMIT_SKIP_DEV"), "true"),
	}
	if raw := os.Getenv("MCP_RATE_LIMIT_MAX_REQUESTS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.maxRequests = n
		}
	}
	if raw := os.Getenv("MCP_RATE_LIMIT_WINDOW_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			cfg.window = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

// environment reports the deployment environment; development is the default
// for a bare process.
func environment() string {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		return strings.ToLower(v)
	}
	return "development"
}

func isDevelopment() bool {
	env := environment()
	return env == "development" || env == "dev"
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter admits maxRequests per window per client key.
type rateLimiter struct {
	cfg rateLimitConfig

	mu      sync.Mutex
	clients map[string]*limiterEntry
	sweep   time.Time
}

func newRateLimiter(cfg rateLimitConfig) *rateLimiter {
	return &rateLimiter{
		cfg:     cfg,
		clients: make(map[string]*limiterEntry),
		sweep:   time.Now(),
	}
}

// clientKey identifies the caller: first X-Forwarded-For entry, then
// X-Real-IP, then the socket remote, then a fixed fallback.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return "unknown_ip"
}

// check admits or rejects one request for the key.
func (rl *rateLimiter) check(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.sweep) > limiterIdleTTL {
		for k, e := range rl.clients {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(rl.clients, k)
			}
		}
		rl.sweep = now
	}

	entry, ok := rl.clients[key]
	if !ok {
		limit := rate.Every(rl.cfg.window / time.Duration(rl.cfg.maxRequests))
		entry = &limiterEntry{limiter: rate.NewLimiter(limit, rl.cfg.maxRequests)}
		rl.clients[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return util.NewRateLimitedError(
			fmt.Sprintf("rate limit exceeded for %s", key),
			map[string]any{
				"limit":           rl.cfg.maxRequests,
				"windowMs":        rl.cfg.window.Milliseconds(),
				"waitTimeSeconds": int(math.Ceil(delay.Seconds())),
				"key":             key,
			})
	}
	return nil
}

// rateLimitFromEnv returns the limiter middleware, or a pass-through when the
// limiter is disabled or skipped for development.
func rateLimitFromEnv(s *Server) func(http.Handler) http.Handler {
	cfg := rateLimitConfigFromEnv()
	if !cfg.enabled || (cfg.skipDev && isDevelopment()) {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := rl.check(clientKey(r)); err != nil {
				se := util.AsServerError(err)
				s.Logger().WarnContext(r.Context(), se.Message)
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, map[string]any{
					"code":    int(se.Code),
					"message": se.Message,
					"details": se.Details,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
