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
	"os"
	"strings"
	"sync"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/sqlsecurity"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// envPoolKey is the sentinel key for the process-wide environment pool.
const envPoolKey = "environment"

var (
	envMu      sync.Mutex
	envDefault *EnvPool
)

// Env returns the process-wide environment pool, building it from the DB2i_*
// variables on first use. The pool itself connects lazily on its first query.
// A configuration error is not cached, so a caller can retry after fixing the
// environment.
func Env() (*EnvPool, error) {
	envMu.Lock()
	defer envMu.Unlock()
	if envDefault != nil {
		return envDefault, nil
	}
	p, err := NewEnvPoolFromEnv()
	if err != nil {
		return nil, err
	}
	envDefault = p
	return envDefault, nil
}

// CloseEnv tears down the process-wide environment pool if one was built.
// The next Env call starts fresh.
func CloseEnv() {
	envMu.Lock()
	defer envMu.Unlock()
	if envDefault != nil {
		envDefault.Close()
		envDefault = nil
	}
}

// EnvPool is the process-wide singleton pool backed by environment
// credentials. Initialization is lazy: the first query connects.
type EnvPool struct {
	manager *Manager
	config  db2i.Config
}

// NewEnvPool wraps a config in the singleton pool abstraction.
func NewEnvPool(cfg db2i.Config) *EnvPool {
	return &EnvPool{manager: NewManager(DefaultInitTimeout), config: cfg}
}

// NewEnvPoolFromEnv builds the singleton from DB2i_* environment variables.
func NewEnvPoolFromEnv() (*EnvPool, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewEnvPool(cfg), nil
}

// ConfigFromEnv reads the DB2i_* variables. Host, user and password are
// mandatory; everything else has a default.
func ConfigFromEnv() (db2i.Config, error) {
	cfg := db2i.Config{
		Name:           envPoolKey,
		Kind:           db2i.SourceKind,
		Host:           os.Getenv("DB2i_HOST"),
		User:           os.Getenv("DB2i_USER"),
		Password:       os.Getenv("DB2i_PASS"),
		Port:           os.Getenv("DB2i_PORT"),
		Database:       "*LOCAL",
		PoolStartSize:  2,
		PoolMaxSize:    10,
		MaxRetries:     5,
		RetryBaseDelay: "500ms",
	}
	if cfg.Port == "" {
		cfg.Port = "8471"
	}
	cfg.IgnoreUnauthorized = envBool("DB2i_IGNORE_UNAUTHORIZED")
	cfg.Secure = envBool("DB2i_SECURE")

	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "DB2i_HOST")
	}
	if cfg.User == "" {
		missing = append(missing, "DB2i_USER")
	}
	if cfg.Password == "" {
		missing = append(missing, "DB2i_PASS")
	}
	if len(missing) > 0 {
		return db2i.Config{}, util.NewConfigurationError(
			"missing required environment credentials: "+strings.Join(missing, ", "), nil)
	}
	return cfg, nil
}

func envBool(name string) bool {
	return strings.EqualFold(os.Getenv(name), "true")
}

// ExecuteQuery lazily initializes the singleton and runs the statement.
func (p *EnvPool) ExecuteQuery(ctx context.Context, sqlStr string, params []any, policy *sqlsecurity.Policy) (*QueryResult, error) {
	if err := p.manager.InitializePool(ctx, envPoolKey, p.config); err != nil {
		return nil, err
	}
	return p.manager.ExecuteQuery(ctx, envPoolKey, sqlStr, params, policy)
}

// ExecuteQueryWithPagination drains the result in fetchSize batches.
func (p *EnvPool) ExecuteQueryWithPagination(ctx context.Context, sqlStr string, params []any, policy *sqlsecurity.Policy, fetchSize int) (*QueryResult, error) {
	if err := p.manager.InitializePool(ctx, envPoolKey, p.config); err != nil {
		return nil, err
	}
	return p.manager.ExecuteQueryWithPagination(ctx, envPoolKey, sqlStr, params, policy, fetchSize)
}

// HealthCheck probes the singleton, initializing it if needed.
func (p *EnvPool) HealthCheck(ctx context.Context) error {
	if err := p.manager.InitializePool(ctx, envPoolKey, p.config); err != nil {
		return err
	}
	return p.manager.HealthCheck(ctx, envPoolKey)
}

// ParseStatementType implements the validator's runtime statement check.
func (p *EnvPool) ParseStatementType(ctx context.Context, sqlStr string) (string, error) {
	if err := p.manager.InitializePool(ctx, envPoolKey, p.config); err != nil {
		return "", err
	}
	return p.manager.ParseStatement(ctx, envPoolKey, sqlStr)
}

// Close terminates the pool and releases its sockets.
func (p *EnvPool) Close() {
	p.manager.Close()
}
