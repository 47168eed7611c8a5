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

package db2isql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"github.com/ibmi-community/db2i-mcp-server/internal/db2ipool"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/sqlsecurity"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const kind string = "db2i-sql"

func init() {
	if !tools.Register(kind, newConfig) {
		panic(fmt.Sprintf("tool kind %q already registered", kind))
	}
}

func newConfig(ctx context.Context, name string, decoder *yaml.Decoder) (tools.ToolConfig, error) {
	actual := Config{Name: name}
	if err := decoder.DecodeContext(ctx, &actual); err != nil {
		return nil, err
	}
	return actual, nil
}

type compatibleSource interface {
	Db2iDB() *sql.DB
}

// validate compatible sources are still compatible
var _ compatibleSource = &db2i.Source{}

var compatibleSources = [...]string{db2i.SourceKind}

// SecurityConfig is the per-tool security block. ReadOnly is a pointer so an
// absent field defaults to true rather than false.
type SecurityConfig struct {
	ReadOnly          *bool    `yaml:"readOnly"`
	MaxQueryLength    int      `yaml:"maxQueryLength"`
	ForbiddenKeywords []string `yaml:"forbiddenKeywords"`
}

// Policy converts the YAML block into the validator's policy, applying the
// read-only and length defaults.
func (s SecurityConfig) Policy() sqlsecurity.Policy {
	p := sqlsecurity.DefaultPolicy()
	if s.ReadOnly != nil {
		p.ReadOnly = *s.ReadOnly
	}
	if s.MaxQueryLength > 0 {
		p.MaxQueryLength = s.MaxQueryLength
	}
	p.ForbiddenKeywords = s.ForbiddenKeywords
	return p
}

type Config struct {
	Name string `yaml:"name" validate:"required"`
	Kind string `yaml:"kind" validate:"required"`
	// Source names a YAML-declared connection. When omitted the tool runs on
	// the process-wide environment pool built from the DB2i_* variables.
	Source string `yaml:"source"`
	Description string            `yaml:"description" validate:"required"`
	Statement   string            `yaml:"statement" validate:"required"`
	Parameters  []tools.Parameter `yaml:"parameters"`
	Security    SecurityConfig    `yaml:"security"`
	FetchSize   int               `yaml:"fetchSize"`
	Enabled     *bool             `yaml:"enabled"`
	Domain      string            `yaml:"domain"`
	Category    string            `yaml:"category"`
	Annotations map[string]any    `yaml:"annotations"`
}

// validate interface
var _ tools.ToolConfig = Config{}

func (cfg Config) ToolConfigKind() string {
	return kind
}

func (cfg Config) Initialize(srcs map[string]sources.Source) (tools.Tool, error) {
	var db *sql.DB
	if cfg.Source != "" {
		rawS, ok := srcs[cfg.Source]
		if !ok {
			return nil, fmt.Errorf("no source named %q configured", cfg.Source)
		}
		s, ok := rawS.(compatibleSource)
		if !ok {
			return nil, fmt.Errorf("invalid source for %q tool: source kind must be one of %q", kind, compatibleSources)
		}
		db = s.Db2iDB()
	}

	if strings.TrimSpace(cfg.Statement) == "" {
		return nil, fmt.Errorf("tool %q has an empty statement", cfg.Name)
	}
	if err := tools.ValidateParameters(cfg.Parameters); err != nil {
		return nil, fmt.Errorf("tool %q: %w", cfg.Name, err)
	}

	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = db2ipool.DefaultFetchSize
	}

	mcpManifest := tools.McpManifest{
		Name:        cfg.Name,
		Description: cfg.Description,
		InputSchema: tools.McpSchema(cfg.Parameters),
		Annotations: cfg.Annotations,
	}

	t := Tool{
		Name:        cfg.Name,
		Kind:        kind,
		Parameters:  cfg.Parameters,
		Statement:   cfg.Statement,
		Policy:      cfg.Security.Policy(),
		FetchSize:   fetchSize,
		Db:          db,
		manifest:    tools.Manifest{Description: cfg.Description, Parameters: tools.Manifests(cfg.Parameters), Annotations: cfg.Annotations},
		mcpManifest: mcpManifest,
	}
	return t, nil
}

// validate interface
var _ tools.Tool = Tool{}

type Tool struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Parameters []tools.Parameter `yaml:"parameters"`

	Statement string
	Policy    sqlsecurity.Policy
	FetchSize int
	Db        *sql.DB

	manifest    tools.Manifest
	mcpManifest tools.McpManifest
}

func (t Tool) Invoke(ctx context.Context, params tools.ParamValues) (any, error) {
	bound, err := t.prepare(params)
	if err != nil {
		return nil, err
	}
	if len(bound.Missing) > 0 {
		if logger, lerr := util.LoggerFromContext(ctx); lerr == nil {
			logger.WarnContext(ctx, fmt.Sprintf("tool %q leaves named parameters unbound: %s",
				t.Name, strings.Join(bound.Missing, ", ")))
		}
	}

	res, err := t.execute(ctx, bound.SQL, bound.Params)
	if err != nil {
		return nil, err
	}
	return tools.ResultFromQuery(res), nil
}

// prepare rewrites the statement for the given values. A single declared
// parameter whose value IS the statement body bypasses rewriting entirely.
func (t Tool) prepare(params tools.ParamValues) (*tools.BoundStatement, error) {
	if name, ok := tools.SingleSlot(t.Statement, t.Parameters); ok {
		raw, found := params.AsMap()[name]
		if !found {
			return nil, util.NewValidationError(
				fmt.Sprintf("missing required parameter %q", name), nil)
		}
		direct, ok := raw.(string)
		if !ok {
			return nil, util.NewValidationError(
				fmt.Sprintf("parameter %q must be a string statement", name), nil)
		}
		return &tools.BoundStatement{SQL: direct, Params: []any{}}, nil
	}
	return tools.BindParams(t.Statement, params)
}

// execute routes to the per-token pool when the request carries a bearer
// token, otherwise runs on the source's own handle, falling back to the
// environment pool for tools declared without a source. Every path hands the
// policy down so the validator runs on the final SQL.
func (t Tool) execute(ctx context.Context, sqlStr string, binds []any) (*db2ipool.QueryResult, error) {
	policy := t.Policy
	if token := util.AuthTokenFromContext(ctx); token != "" {
		pools := db2ipool.AuthPoolsFromContext(ctx)
		if pools == nil {
			return nil, util.NewUnauthorizedError("bearer token present but token auth is not enabled")
		}
		return pools.ExecuteQueryWithPagination(ctx, token, sqlStr, binds, &policy, t.FetchSize)
	}
	if t.Db == nil {
		env, err := db2ipool.Env()
		if err != nil {
			return nil, err
		}
		return env.ExecuteQueryWithPagination(ctx, sqlStr, binds, &policy, t.FetchSize)
	}
	return db2ipool.ExecutePaginated(ctx, t.Db, sqlStr, binds, &policy, t.FetchSize)
}

func (t Tool) ParseParams(data map[string]any) (tools.ParamValues, error) {
	res, err := tools.ProcessParameters(t.Parameters, data)
	if err != nil {
		return nil, err
	}
	return res.Values, nil
}

func (t Tool) Manifest() tools.Manifest {
	return t.manifest
}

func (t Tool) McpManifest() tools.McpManifest {
	return t.mcpManifest
}
