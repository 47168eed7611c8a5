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

// Package db2iexecutesql implements the raw-SQL escape hatch. The tool is
// registered only when IBMI_ENABLE_EXECUTE_SQL is set; the submitted
// statement runs through the full security validator and, by default, a
// QSYS2.PARSE_STATEMENT classification on the live connection.
package db2iexecutesql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"github.com/ibmi-community/db2i-mcp-server/internal/db2ipool"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/sqlsecurity"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const kind string = "db2i-execute-sql"

// Kind is exported so the server can recognize raw-SQL tool configs when the
// opt-in gate is closed and skip them instead of failing startup.
const Kind = kind

// FetchSize is larger than the default because raw SELECTs are typically
// exploratory full-table scans.
const FetchSize = 1000

// EnableEnvVar gates registration of the raw-SQL tool.
const EnableEnvVar = "IBMI_ENABLE_EXECUTE_SQL"

func init() {
	if !tools.Register(kind, newConfig) {
		panic(fmt.Sprintf("tool kind %q already registered", kind))
	}
}

// Enabled reports whether the operator has opted in to the raw-SQL tool.
func Enabled() bool {
	v := os.Getenv(EnableEnvVar)
	return strings.EqualFold(v, "true") || v == "1"
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

var _ compatibleSource = &db2i.Source{}

var compatibleSources = [...]string{db2i.SourceKind}

func sqlParameter() []tools.Parameter {
	minLen := 1
	return []tools.Parameter{
		{Name: "sql", Type: tools.TypeString, Description: "A read-only SQL statement to execute.", Required: true, MinLength: &minLen},
	}
}

type Config struct {
	Name        string `yaml:"name" validate:"required"`
	Kind        string `yaml:"kind" validate:"required"`
	Source      string `yaml:"source" validate:"required"`
	Description string `yaml:"description"`
	// ParseStatementCheck disables the runtime classification when false.
	ParseStatementCheck *bool `yaml:"parseStatementCheck"`
	MaxQueryLength      int   `yaml:"maxQueryLength"`
}

var _ tools.ToolConfig = Config{}

func (cfg Config) ToolConfigKind() string {
	return kind
}

func (cfg Config) Initialize(srcs map[string]sources.Source) (tools.Tool, error) {
	if !Enabled() {
		return nil, fmt.Errorf("tool %q is disabled; set %s=true to register the raw-SQL tool", cfg.Name, EnableEnvVar)
	}

	rawS, ok := srcs[cfg.Source]
	if !ok {
		return nil, fmt.Errorf("no source named %q configured", cfg.Source)
	}
	s, ok := rawS.(compatibleSource)
	if !ok {
		return nil, fmt.Errorf("invalid source for %q tool: source kind must be one of %q", kind, compatibleSources)
	}

	description := cfg.Description
	if description == "" {
		description = "Execute an arbitrary read-only SQL statement. Writes are rejected by the security validator."
	}
	policy := sqlsecurity.DefaultPolicy()
	if cfg.MaxQueryLength > 0 {
		policy.MaxQueryLength = cfg.MaxQueryLength
	}
	params := sqlParameter()

	t := Tool{
		Name:       cfg.Name,
		Kind:       kind,
		Parameters: params,
		Policy:     policy,
		ParseCheck: cfg.ParseStatementCheck == nil || *cfg.ParseStatementCheck,
		Db:         s.Db2iDB(),
		manifest:   tools.Manifest{Description: description, Parameters: tools.Manifests(params)},
		mcpManifest: tools.McpManifest{
			Name:        cfg.Name,
			Description: description,
			InputSchema: tools.McpSchema(params),
			Annotations: map[string]any{"readOnlyHint": true},
		},
	}
	return t, nil
}

var _ tools.Tool = Tool{}

type Tool struct {
	Name       string
	Kind       string
	Parameters []tools.Parameter
	Policy     sqlsecurity.Policy
	ParseCheck bool
	Db         *sql.DB

	manifest    tools.Manifest
	mcpManifest tools.McpManifest
}

func (t Tool) Invoke(ctx context.Context, params tools.ParamValues) (any, error) {
	raw, ok := params.AsMap()["sql"]
	if !ok {
		return nil, util.NewValidationError(`missing required parameter "sql"`, nil)
	}
	sqlStr, ok := raw.(string)
	if !ok {
		return nil, util.NewValidationError(`parameter "sql" must be a string`, nil)
	}
	sqlStr = strings.TrimSpace(sqlStr)
	if sqlStr == "" {
		return nil, util.NewValidationError("SQL statement is empty", nil)
	}

	token := util.AuthTokenFromContext(ctx)
	if err := sqlsecurity.ValidateWithParseStatement(ctx, sqlStr, t.Policy, t.parser(ctx, token)); err != nil {
		return nil, err
	}

	// The validator already admitted the statement; the pool layer does not
	// need to run it again.
	var res *db2ipool.QueryResult
	var err error
	if token != "" {
		pools := db2ipool.AuthPoolsFromContext(ctx)
		if pools == nil {
			return nil, util.NewUnauthorizedError("bearer token present but token auth is not enabled")
		}
		res, err = pools.ExecuteQueryWithPagination(ctx, token, sqlStr, nil, nil, FetchSize)
	} else {
		res, err = db2ipool.ExecutePaginated(ctx, t.Db, sqlStr, nil, nil, FetchSize)
	}
	if err != nil {
		return nil, err
	}
	return tools.ResultFromQuery(res), nil
}

// parser selects the PARSE_STATEMENT path for the request: the token's own
// pool when authenticated, else the source handle. Nil skips the check.
func (t Tool) parser(ctx context.Context, token string) sqlsecurity.StatementParser {
	if !t.ParseCheck {
		return nil
	}
	if token != "" {
		if pools := db2ipool.AuthPoolsFromContext(ctx); pools != nil {
			return pools.ParseStatementFor(token)
		}
	}
	return handleParser{db: t.Db}
}

type handleParser struct {
	db *sql.DB
}

func (p handleParser) ParseStatementType(ctx context.Context, sqlStr string) (string, error) {
	return db2ipool.ParseStatementOn(ctx, p.db, sqlStr)
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
