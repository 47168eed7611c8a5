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

package db2ipool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/sqlsecurity"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const (
	// MaxPoolStartSize bounds the per-session starting pool size.
	MaxPoolStartSize = 50
	// MaxPoolMaxSize bounds the per-session maximum pool size.
	MaxPoolMaxSize = 100
)

// TokenValidator answers whether a bearer token is still valid. Implemented
// by the auth token manager.
type TokenValidator interface {
	// ValidateToken returns the session's user and host for logging, or an
	// error when the token is unknown, expired or revoked.
	ValidateToken(token string) (user string, host string, err error)
}

// AuthPoolManager owns one pool per bearer token. Lookups dominate; the
// credentials side map exists for diagnostics and the reaper.
type AuthPoolManager struct {
	manager   *Manager
	validator TokenValidator

	mu    sync.RWMutex
	creds map[string]db2i.Config
}

// NewAuthPoolManager returns a manager that checks every query's token
// against validator before touching the database.
func NewAuthPoolManager(validator TokenValidator) *AuthPoolManager {
	return &AuthPoolManager{
		manager:   NewManager(DefaultInitTimeout),
		validator: validator,
		creds:     make(map[string]db2i.Config),
	}
}

// CreatePool registers a session pool for the token. Size bounds are
// enforced here so a client cannot request an oversized pool.
func (m *AuthPoolManager) CreatePool(ctx context.Context, token string, cfg db2i.Config) error {
	if token == "" {
		return util.NewUnauthorizedError("empty bearer token")
	}
	if cfg.PoolStartSize <= 0 {
		cfg.PoolStartSize = 2
	}
	if cfg.PoolMaxSize <= 0 {
		cfg.PoolMaxSize = 10
	}
	if cfg.PoolStartSize > MaxPoolStartSize {
		return util.NewValidationError(
			fmt.Sprintf("poolstart %d exceeds maximum %d", cfg.PoolStartSize, MaxPoolStartSize), nil)
	}
	if cfg.PoolMaxSize > MaxPoolMaxSize {
		return util.NewValidationError(
			fmt.Sprintf("poolmax %d exceeds maximum %d", cfg.PoolMaxSize, MaxPoolMaxSize), nil)
	}
	if cfg.PoolStartSize > cfg.PoolMaxSize {
		return util.NewValidationError(
			fmt.Sprintf("poolstart %d exceeds poolmax %d", cfg.PoolStartSize, cfg.PoolMaxSize), nil)
	}

	m.mu.Lock()
	m.creds[token] = cfg
	m.mu.Unlock()

	if err := m.manager.InitializePool(ctx, token, cfg); err != nil {
		m.mu.Lock()
		delete(m.creds, token)
		m.mu.Unlock()
		return err
	}
	return nil
}

// ExecuteQuery validates the token, then dispatches to the session pool.
func (m *AuthPoolManager) ExecuteQuery(ctx context.Context, token, sqlStr string, params []any, policy *sqlsecurity.Policy) (*QueryResult, error) {
	if err := m.checkToken(ctx, token); err != nil {
		return nil, err
	}
	return m.manager.ExecuteQuery(ctx, token, sqlStr, params, policy)
}

// ExecuteQueryWithPagination validates the token, then drains the result.
func (m *AuthPoolManager) ExecuteQueryWithPagination(ctx context.Context, token, sqlStr string, params []any, policy *sqlsecurity.Policy, fetchSize int) (*QueryResult, error) {
	if err := m.checkToken(ctx, token); err != nil {
		return nil, err
	}
	return m.manager.ExecuteQueryWithPagination(ctx, token, sqlStr, params, policy, fetchSize)
}

// DB validates the token and returns the raw pool handle, for callers that
// must pin work to a single connection.
func (m *AuthPoolManager) DB(ctx context.Context, token string) (*sql.DB, error) {
	if err := m.checkToken(ctx, token); err != nil {
		return nil, err
	}
	return m.manager.DB(ctx, token)
}

// ParseStatementFor returns a statement parser bound to the token's pool.
func (m *AuthPoolManager) ParseStatementFor(token string) sqlsecurity.StatementParser {
	return &tokenStatementParser{manager: m, token: token}
}

type tokenStatementParser struct {
	manager *AuthPoolManager
	token   string
}

func (p *tokenStatementParser) ParseStatementType(ctx context.Context, sqlStr string) (string, error) {
	if err := p.manager.checkToken(ctx, p.token); err != nil {
		return "", err
	}
	return p.manager.manager.ParseStatement(ctx, p.token, sqlStr)
}

func (m *AuthPoolManager) checkToken(ctx context.Context, token string) error {
	user, host, err := m.validator.ValidateToken(token)
	if err != nil {
		return err
	}
	if logger, lerr := util.LoggerFromContext(ctx); lerr == nil {
		logger.DebugContext(ctx, fmt.Sprintf(
			"session %s executing as %s on %s", util.AnonymizeToken(token), user, host))
	}
	return nil
}

// RemovePool closes the session pool and forgets its credentials.
func (m *AuthPoolManager) RemovePool(token string) {
	m.mu.Lock()
	delete(m.creds, token)
	m.mu.Unlock()
	m.manager.RemovePool(token)
}

// CleanupExpiredPools removes every pool whose token no longer validates.
// Returns the number of pools removed. Invoked on the reaper timer.
func (m *AuthPoolManager) CleanupExpiredPools(ctx context.Context) int {
	m.mu.RLock()
	tokens := make([]string, 0, len(m.creds))
	for token := range m.creds {
		tokens = append(tokens, token)
	}
	m.mu.RUnlock()

	removed := 0
	for _, token := range tokens {
		if _, _, err := m.validator.ValidateToken(token); err != nil {
			m.RemovePool(token)
			removed++
			if logger, lerr := util.LoggerFromContext(ctx); lerr == nil {
				logger.DebugContext(ctx, fmt.Sprintf(
					"reaped expired session pool %s", util.AnonymizeToken(token)))
			}
		}
	}
	return removed
}

// StartReaper runs CleanupExpiredPools on the interval until ctx ends.
func (m *AuthPoolManager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpiredPools(ctx)
			}
		}
	}()
}

// PoolStats describes one live session pool.
type PoolStats struct {
	Token string `json:"token"`
	User  string `json:"user"`
	Host  string `json:"host"`
}

// Stats lists the live session pools with anonymized tokens.
func (m *AuthPoolManager) Stats() []PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PoolStats, 0, len(m.creds))
	for token, cfg := range m.creds {
		out = append(out, PoolStats{
			Token: util.AnonymizeToken(token),
			User:  cfg.User,
			Host:  cfg.Host,
		})
	}
	return out
}

// Close terminates every session pool.
func (m *AuthPoolManager) Close() {
	m.mu.Lock()
	m.creds = make(map[string]db2i.Config)
	m.mu.Unlock()
	m.manager.Close()
}

type authPoolsKey struct{}

// WithAuthPools attaches the session pool manager to the request context so
// tool kinds can route token-bearing requests without a direct dependency on
// server wiring.
func WithAuthPools(ctx context.Context, m *AuthPoolManager) context.Context {
	return context.WithValue(ctx, authPoolsKey{}, m)
}

// AuthPoolsFromContext returns the session pool manager, or nil when token
// auth is not enabled.
func AuthPoolsFromContext(ctx context.Context) *AuthPoolManager {
	m, _ := ctx.Value(authPoolsKey{}).(*AuthPoolManager)
	return m
}
