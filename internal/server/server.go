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

// Package server hosts the MCP endpoint, the credential auth endpoint and the
// toolset discovery API over HTTP or stdio.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/google/uuid"

	"github.com/ibmi-community/db2i-mcp-server/internal/auth"
	"github.com/ibmi-community/db2i-mcp-server/internal/db2ipool"
	"github.com/ibmi-community/db2i-mcp-server/internal/log"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/telemetry"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools/db2iexecutesql"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// reaperInterval is how often expired sessions and their pools are collected.
const reaperInterval = time.Minute

// resourceSnapshot is the immutable-after-init view of the loaded config.
// Hot reload builds a fresh snapshot and swaps the pointer; in-flight
// requests keep the snapshot they started with.
type resourceSnapshot struct {
	sources  map[string]sources.Source
	tools    map[string]tools.Tool
	toolsets *tools.ToolsetManager
}

// Server contains info for running an instance of the MCP server. Should be
// instantiated with NewServer().
type Server struct {
	version string
	conf    ServerConfig
	root    chi.Router
	srv     *http.Server

	mu        sync.RWMutex
	resources *resourceSnapshot
	logger    log.Logger

	instrumentation *telemetry.Instrumentation

	// Auth surface; nil when IBMI_AUTH_ENABLED=false.
	tokens    *auth.TokenManager
	authPools *db2ipool.AuthPoolManager
	keyPair   *auth.KeyPair
}

// authEnabled reports whether the per-session auth surface is mounted.
// Enabled unless the operator explicitly turns it off.
func authEnabled() bool {
	return !strings.EqualFold(os.Getenv("IBMI_AUTH_ENABLED"), "false")
}

// tokenExpiry reads the configured default session lifetime.
func tokenExpiry() time.Duration {
	raw := os.Getenv("IBMI_AUTH_TOKEN_EXPIRY_SECONDS")
	if raw == "" {
		return auth.DefaultSessionDuration
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 || secs > int64(auth.MaxSessionDuration.Seconds()) {
		return auth.DefaultSessionDuration
	}
	return time.Duration(secs) * time.Second
}

// InitializeConfigs turns parsed configs into live sources, tools and the
// toolset manager. Raw-SQL tool configs are skipped with a warning when the
// operator has not opted in.
func InitializeConfigs(ctx context.Context, cfg ServerConfig) (*resourceSnapshot, error) {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	instrumentation, err := util.InstrumentationFromContext(ctx)
	if err != nil {
		return nil, err
	}

	initializedSources := make(map[string]sources.Source)
	for name, sc := range cfg.SourceConfigs {
		s, err := sc.Initialize(ctx, instrumentation.Tracer)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize source %q: %w", name, err)
		}
		initializedSources[name] = s
	}
	logger.InfoContext(ctx, fmt.Sprintf("initialized %d sources", len(initializedSources)))

	initializedTools := make(map[string]tools.Tool)
	for name, tc := range cfg.ToolConfigs {
		if tc.ToolConfigKind() == db2iexecutesql.Kind && !db2iexecutesql.Enabled() {
			logger.WarnContext(ctx, fmt.Sprintf(
				"tool %q skipped: set %s=true to register the raw-SQL tool", name, db2iexecutesql.EnableEnvVar))
			continue
		}
		t, err := tc.Initialize(initializedSources)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize tool %q: %w", name, err)
		}
		initializedTools[name] = t
	}
	logger.InfoContext(ctx, fmt.Sprintf("initialized %d tools", len(initializedTools)))

	manager, err := tools.NewToolsetManager(cfg.ToolsetConfigs, initializedTools, cfg.GlobalTools)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize toolsets: %w", err)
	}
	if len(cfg.ToolsetFilter) > 0 {
		manager, err = manager.Filter(cfg.ToolsetFilter)
		if err != nil {
			return nil, fmt.Errorf("unable to apply toolset filter: %w", err)
		}
	}
	logger.InfoContext(ctx, fmt.Sprintf("initialized %d toolsets", len(manager.Names())))

	return &resourceSnapshot{
		sources:  initializedSources,
		tools:    initializedTools,
		toolsets: manager,
	}, nil
}

// NewServer returns a Server object based on provided Config. The context
// must carry a logger and instrumentation.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	instrumentation, err := util.InstrumentationFromContext(ctx)
	if err != nil {
		return nil, err
	}

	res, err := InitializeConfigs(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		version:         cfg.Version,
		conf:            cfg,
		resources:       res,
		logger:          logger,
		instrumentation: instrumentation,
	}

	if authEnabled() {
		s.tokens = auth.NewTokenManager(auth.DefaultMaxSessions)
		s.authPools = db2ipool.NewAuthPoolManager(s.tokens)
		s.tokens.SetPoolRemover(s.authPools)
		s.keyPair, err = auth.NewKeyPair()
		if err != nil {
			return nil, fmt.Errorf("unable to generate auth key pair: %w", err)
		}
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// setupRoutes builds the chi router. Split from NewServer so tests can mount
// the routes over a hand-built resource snapshot.
func (s *Server) setupRoutes() error {
	cfg := s.conf
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httplog.RequestLogger(httplog.NewLogger("db2i-mcp-server", httplog.Options{
		JSON:     cfg.LoggingFormat.String() == "json",
		LogLevel: httpLogLevel(cfg.LogLevel.String()),
		Concise:  true,
	})))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(s.requestContext)
	r.Use(rateLimitFromEnv(s))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("db2i-mcp-server " + s.version + "\n"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { healthzHandler(s, w, r) })

	apiR, err := apiRouter(s)
	if err != nil {
		return err
	}
	r.Mount("/api", apiR)

	adminR, err := adminRouter(s)
	if err != nil {
		return err
	}
	r.Mount("/admin", adminR)

	mcpR, err := mcpRouter(s)
	if err != nil {
		return err
	}
	r.Mount("/mcp", mcpR)

	s.root = r
	return nil
}

// snapshot returns the current resource view.
func (s *Server) snapshot() *resourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources
}

// UpdateResources atomically replaces the resource snapshot. Used by the
// config hot-reload watcher.
func (s *Server) UpdateResources(res *resourceSnapshot) {
	s.mu.Lock()
	s.resources = res
	s.mu.Unlock()
}

// ReloadConfig rebuilds the snapshot from new configs and swaps it in.
func (s *Server) ReloadConfig(ctx context.Context, cfg ServerConfig) error {
	res, err := InitializeConfigs(ctx, cfg)
	if err != nil {
		return err
	}
	s.UpdateResources(res)
	s.logdContext(ctx).InfoContext(ctx, "configuration reloaded")
	return nil
}

// Logger returns the server's logger. The pointer can change at runtime via
// logging/setLevel, so callers must not cache it across requests.
func (s *Server) Logger() log.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// SetLogLevel rebuilds the logger at the requested level. MCP's syslog-style
// level names collapse onto the four supported levels.
func (s *Server) SetLogLevel(level string) error {
	mapped, err := mapMcpLogLevel(level)
	if err != nil {
		return err
	}
	logger, err := log.NewLogger(s.conf.LoggingFormat.String(), mapped, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
	return nil
}

// mapMcpLogLevel maps the MCP logging/setLevel vocabulary onto the logger's.
func mapMcpLogLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug":
		return log.Debug, nil
	case "info", "notice":
		return log.Info, nil
	case "warning":
		return log.Warn, nil
	case "error", "crit", "alert", "emerg":
		return log.Error, nil
	default:
		return "", util.NewInvalidRequestError(fmt.Sprintf("unknown log level %q", level))
	}
}

// requestContext tags every request with an id and repopulates the context
// helpers the tool layer reads. The bearer token, when present, routes the
// request to its session pool.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = util.WithRequestID(ctx, uuid.NewString())
		ctx = util.WithLogger(ctx, s.Logger())
		ctx = util.WithInstrumentation(ctx, s.instrumentation)
		ctx = util.WithUserAgent(ctx, s.version)

		if token := bearerToken(r); token != "" {
			ctx = util.WithAuthToken(ctx, token)
			if s.authPools != nil {
				ctx = db2ipool.WithAuthPools(ctx, s.authPools)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the Authorization bearer token, if any.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func httpLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ListenAndServe starts an HTTP server for the given Server instance. It
// blocks until ctx is cancelled, then drains in-flight requests and closes
// every pool.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.conf.Address, strconv.Itoa(s.conf.Port))
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to open listener for %q: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler: s.root,
		BaseContext: func(net.Listener) context.Context {
			return util.WithLogger(context.Background(), s.Logger())
		},
	}

	if s.tokens != nil {
		s.tokens.StartReaper(ctx, reaperInterval)
		s.authPools.StartReaper(ctx, reaperInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(l)
	}()
	s.Logger().InfoContext(ctx, fmt.Sprintf("listening on %s", addr))

	select {
	case err := <-errCh:
		s.closePools()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = s.srv.Shutdown(shutdownCtx)
	s.closePools()
	return err
}

// closePools releases every database connection the process owns: the
// per-token session pools, the environment pool, and each YAML-declared
// source's handle from the current snapshot.
func (s *Server) closePools() {
	if s.authPools != nil {
		s.authPools.Close()
	}
	db2ipool.CloseEnv()
	res := s.snapshot()
	if res == nil {
		return
	}
	for name, src := range res.sources {
		handle, ok := src.(interface{ Db2iDB() *sql.DB })
		if !ok {
			continue
		}
		if db := handle.Db2iDB(); db != nil {
			if err := db.Close(); err != nil {
				s.Logger().WarnContext(context.Background(),
					fmt.Sprintf("closing source %q: %s", name, err))
			}
		}
	}
}

func (s *Server) logdContext(ctx context.Context) log.Logger {
	if logger, err := util.LoggerFromContext(ctx); err == nil {
		return logger
	}
	return s.Logger()
}
