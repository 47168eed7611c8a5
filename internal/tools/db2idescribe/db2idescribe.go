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

// Package db2idescribe implements the built-in DDL describer. It drives
// QSYS2.GENERATE_SQL, which writes the generated source into QTEMP; QTEMP is
// scoped to one job, so the procedure call and the readback are pinned to a
// single connection.
package db2idescribe

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"github.com/ibmi-community/db2i-mcp-server/internal/db2ipool"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const kind string = "db2i-describe"

// DDLFetchSize is the batch size for reading generated source lines.
const DDLFetchSize = 500

// DefaultToolName is the registered name of the describer; configs that
// auto-append a global DDL tool reference it by this name.
const DefaultToolName = "describe_object"

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

var _ compatibleSource = &db2i.Source{}

var compatibleSources = [...]string{db2i.SourceKind}

// objectTypes are the DATABASE_OBJECT_TYPE values GENERATE_SQL accepts.
var objectTypes = []any{
	"TABLE", "VIEW", "INDEX", "ALIAS", "CONSTRAINT", "FUNCTION", "MASK",
	"PERMISSION", "PROCEDURE", "SCHEMA", "SEQUENCE", "TRIGGER", "TYPE",
	"VARIABLE", "XSR",
}

const identifierPattern = `^[A-Za-z$#@_][A-Za-z0-9$#@_]{0,127}$`

func describeParameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "object", Type: tools.TypeString, Description: "Object name, e.g. a table or view name.", Required: true, Pattern: identifierPattern},
		{Name: "library", Type: tools.TypeString, Description: "Library (schema) containing the object.", Required: true, Pattern: identifierPattern},
		{Name: "type", Type: tools.TypeString, Description: "Object type.", Required: true, Enum: objectTypes},
	}
}

type Config struct {
	Name        string `yaml:"name" validate:"required"`
	Kind        string `yaml:"kind" validate:"required"`
	Source      string `yaml:"source" validate:"required"`
	Description string `yaml:"description"`
}

var _ tools.ToolConfig = Config{}

func (cfg Config) ToolConfigKind() string {
	return kind
}

func (cfg Config) Initialize(srcs map[string]sources.Source) (tools.Tool, error) {
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
		description = "Generate the SQL DDL for a database object (table, view, index, procedure, …) using QSYS2.GENERATE_SQL."
	}
	params := describeParameters()

	t := Tool{
		Name:       cfg.Name,
		Kind:       kind,
		Parameters: params,
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
	Db         *sql.DB

	manifest    tools.Manifest
	mcpManifest tools.McpManifest
}

const generateStmt = "CALL QSYS2.GENERATE_SQL(" +
	"DATABASE_OBJECT_NAME => ?, " +
	"DATABASE_OBJECT_LIBRARY_NAME => ?, " +
	"DATABASE_OBJECT_TYPE => ?, " +
	"CREATE_OR_REPLACE_OPTION => '1', " +
	"PRIVILEGES_OPTION => '0', " +
	"STATEMENT_FORMATTING_OPTION => '1')"

const readbackStmt = "SELECT SRCSEQ, SRCDTA FROM QTEMP.Q_GENSQL ORDER BY SRCSEQ"

func (t Tool) Invoke(ctx context.Context, params tools.ParamValues) (any, error) {
	values := params.AsMap()
	object := strings.ToUpper(fmt.Sprint(values["object"]))
	library := strings.ToUpper(fmt.Sprint(values["library"]))
	objType := strings.ToUpper(fmt.Sprint(values["type"]))

	db, err := t.handle(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, util.NewDatabaseError("unable to reserve a connection", generateStmt, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, generateStmt, object, library, objType); err != nil {
		return nil, util.NewDatabaseError(
			fmt.Sprintf("GENERATE_SQL failed for %s.%s (%s)", library, object, objType),
			generateStmt, err)
	}

	res, err := db2ipool.ExecutePaginated(ctx, conn, readbackStmt, nil, nil, DDLFetchSize)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(res.Data))
	for _, row := range res.Data {
		lines = append(lines, strings.TrimRight(fmt.Sprint(row["SRCDTA"]), " "))
	}
	ddl := strings.Join(lines, "\n")

	return &tools.ToolResult{
		Success: true,
		Data: []map[string]any{{
			"object":  object,
			"library": library,
			"type":    objType,
			"ddl":     ddl,
		}},
		RowCount:      1,
		ExecutionTime: res.ExecutionTime,
		Metadata: tools.ResultMetadata{Columns: []tools.ResultColumn{
			{Name: "object", Type: "VARCHAR"},
			{Name: "library", Type: "VARCHAR"},
			{Name: "type", Type: "VARCHAR"},
			{Name: "ddl", Type: "CLOB"},
		}},
	}, nil
}

// handle routes to the per-token pool when a bearer token is present.
func (t Tool) handle(ctx context.Context) (*sql.DB, error) {
	if token := util.AuthTokenFromContext(ctx); token != "" {
		pools := db2ipool.AuthPoolsFromContext(ctx)
		if pools == nil {
			return nil, util.NewUnauthorizedError("bearer token present but token auth is not enabled")
		}
		return pools.DB(ctx, token)
	}
	return t.Db, nil
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
