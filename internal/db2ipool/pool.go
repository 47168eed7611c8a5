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

// DefaultInitTimeout caps how long a caller waits for a pool to come up.
const DefaultInitTimeout = 30 * time.Second

// connector opens a verified handle for a config. Swappable in tests.
type connector func(ctx context.Context, cfg db2i.Config) (*sql.DB, error)

func defaultConnector(ctx context.Context, cfg db2i.Config) (*sql.DB, error) {
	db, err := sql.Open("go_ibm_db", cfg.ConnString())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(cfg.PoolMaxSize)
	db.SetMaxIdleConns(cfg.PoolStartSize)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// entry is one keyed pool. ready closes exactly once when init finishes,
// successfully or not.
type entry struct {
	config  db2i.Config
	ready   chan struct{}
	db      *sql.DB
	initErr error
}

// Manager is the base keyed pool. Initialization is idempotent and
// serialized per key: concurrent first-callers produce one connect attempt
// and all await its outcome.
type Manager struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	initTimeout time.Duration
	connect     connector
}

// NewManager returns an empty keyed pool manager.
func NewManager(initTimeout time.Duration) *Manager {
	if initTimeout <= 0 {
		initTimeout = DefaultInitTimeout
	}
	return &Manager{
		entries:     make(map[string]*entry),
		initTimeout: initTimeout,
		connect:     defaultConnector,
	}
}

// InitializePool ensures a pool exists for key, connecting lazily on first
// call. Subsequent callers with the same key await the single init attempt.
func (m *Manager) InitializePool(ctx context.Context, key string, cfg db2i.Config) error {
	_, err := m.pool(ctx, key, &cfg)
	return err
}

// Adopt registers an already-open handle under key, e.g. a handle owned by a
// YAML-declared source. The manager will close it with the others.
func (m *Manager) Adopt(key string, db *sql.DB, cfg db2i.Config) {
	e := &entry{config: cfg, ready: make(chan struct{}), db: db}
	close(e.ready)
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// pool returns the ready handle for key. When cfg is non-nil a missing entry
// is created and initialized; when nil a missing entry is an error.
func (m *Manager) pool(ctx context.Context, key string, cfg *db2i.Config) (*sql.DB, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		if cfg == nil {
			return nil, util.NewInitializationFailedError(
				fmt.Sprintf("no pool initialized for key %q", anonymizeKey(key)), nil)
		}
		m.mu.Lock()
		e, ok = m.entries[key]
		if !ok {
			e = &entry{config: *cfg, ready: make(chan struct{})}
			m.entries[key] = e
			go m.initialize(e)
		}
		m.mu.Unlock()
	}

	select {
	case <-e.ready:
	case <-time.After(m.initTimeout):
		return nil, util.NewInitializationFailedError(
			fmt.Sprintf("pool init for key %q timed out after %s", anonymizeKey(key), m.initTimeout), nil)
	case <-ctx.Done():
		return nil, util.NewInitializationFailedError(
			fmt.Sprintf("pool init for key %q canceled", anonymizeKey(key)), ctx.Err())
	}

	if e.initErr != nil {
		return nil, util.NewInitializationFailedError(
			fmt.Sprintf("pool init for key %q failed", anonymizeKey(key)), e.initErr)
	}
	return e.db, nil
}

// initialize runs off the caller's goroutine so a slow connect cannot hold
// the manager lock. The init context is bounded by the manager's timeout, not
// by any single caller's deadline.
func (m *Manager) initialize(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), m.initTimeout)
	defer cancel()
	db, err := m.connect(ctx, e.config)
	if err != nil {
		e.initErr = err
		// Failed entries are evicted so a later call can retry.
		m.mu.Lock()
		for k, cur := range m.entries {
			if cur == e {
				delete(m.entries, k)
			}
		}
		m.mu.Unlock()
	} else {
		e.db = db
	}
	close(e.ready)
}

// ExecuteQuery runs sql on the keyed pool, enforcing policy when supplied.
func (m *Manager) ExecuteQuery(ctx context.Context, key, sqlStr string, params []any, policy *sqlsecurity.Policy) (*QueryResult, error) {
	db, err := m.pool(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	return execute(ctx, db, sqlStr, params, policy, DefaultFetchSize)
}

// ExecuteQueryWithPagination drains the full result in fetchSize batches.
func (m *Manager) ExecuteQueryWithPagination(ctx context.Context, key, sqlStr string, params []any, policy *sqlsecurity.Policy, fetchSize int) (*QueryResult, error) {
	db, err := m.pool(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	return executeWithPagination(ctx, db, sqlStr, params, policy, fetchSize)
}

// HealthCheck probes the keyed pool.
func (m *Manager) HealthCheck(ctx context.Context, key string) error {
	db, err := m.pool(ctx, key, nil)
	if err != nil {
		return err
	}
	return healthCheck(ctx, db)
}

// ParseStatement classifies a statement using the keyed pool's database.
func (m *Manager) ParseStatement(ctx context.Context, key, sqlStr string) (string, error) {
	db, err := m.pool(ctx, key, nil)
	if err != nil {
		return "", err
	}
	return parseStatementType(ctx, db, sqlStr)
}

// DB returns the ready raw handle for key, for callers that must pin work
// to a single connection (QTEMP-scoped catalog services).
func (m *Manager) DB(ctx context.Context, key string) (*sql.DB, error) {
	return m.pool(ctx, key, nil)
}

// Has reports whether a pool exists (ready or initializing) for key.
func (m *Manager) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok
}

// RemovePool closes and drops the keyed pool.
func (m *Manager) RemovePool(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	if ok {
		<-e.ready
		if e.db != nil {
			e.db.Close()
		}
	}
}

// Close terminates every pool.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()
	for _, e := range entries {
		<-e.ready
		if e.db != nil {
			e.db.Close()
		}
	}
}

// anonymizeKey keeps bearer-token keys out of error messages.
func anonymizeKey(key string) string {
	return util.AnonymizeToken(key)
}
