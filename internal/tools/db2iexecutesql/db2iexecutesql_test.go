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

package db2iexecutesql_test

import (
	"context"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools/db2iexecutesql"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const parseProbe = "SELECT SQL_STATEMENT_TYPE FROM TABLE(QSYS2.PARSE_STATEMENT(" +
	"SQL_STATEMENT => ?, NAMING => '*SQL', DECIMAL_POINT => '*PERIOD', " +
	"SQL_STRING_DELIMITER => '*APOSTSQL')) FETCH FIRST 1 ROW ONLY"

func newTool(t *testing.T, cfg db2iexecutesql.Config) (tools.Tool, sqlmock.Sqlmock) {
	t.Helper()
	t.Setenv(db2iexecutesql.EnableEnvVar, "true")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	srcs := map[string]sources.Source{
		"ibmi": &db2i.Source{Config: db2i.Config{Name: "ibmi"}, Db: db},
	}
	if cfg.Name == "" {
		cfg.Name = "execute_sql"
	}
	if cfg.Source == "" {
		cfg.Source = "ibmi"
	}
	tool, err := cfg.Initialize(srcs)
	if err != nil {
		t.Fatalf("initialize: %s", err)
	}
	return tool, mock
}

func TestInitializeRequiresOptIn(t *testing.T) {
	t.Setenv(db2iexecutesql.EnableEnvVar, "")
	cfg := db2iexecutesql.Config{Name: "execute_sql", Source: "ibmi"}
	_, err := cfg.Initialize(map[string]sources.Source{})
	if err == nil || !strings.Contains(err.Error(), db2iexecutesql.EnableEnvVar) {
		t.Fatalf("error = %v, want opt-in rejection", err)
	}
}

func TestInvokeRunsSelectWithRuntimeCheck(t *testing.T) {
	tool, mock := newTool(t, db2iexecutesql.Config{})

	query := "SELECT JOB_NAME FROM TABLE(QSYS2.ACTIVE_JOB_INFO())"
	mock.ExpectQuery(parseProbe).
		WithArgs(query).
		WillReturnRows(sqlmock.NewRows([]string{"SQL_STATEMENT_TYPE"}).AddRow("QUERY"))
	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"JOB_NAME"}).AddRow("QZDASOINIT").AddRow("QPADEV0001"))

	values, err := tool.ParseParams(map[string]any{"sql": query})
	if err != nil {
		t.Fatalf("parse params: %s", err)
	}
	raw, err := tool.Invoke(context.Background(), values)
	if err != nil {
		t.Fatalf("invoke: %s", err)
	}
	res := raw.(*tools.ToolResult)
	if !res.Success || res.RowCount != 2 {
		t.Fatalf("result = %+v, want two rows", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInvokeRejectsNonQueryClassification(t *testing.T) {
	tool, mock := newTool(t, db2iexecutesql.Config{})

	// A statement the static validator admits but the database classifies
	// as something other than QUERY must still be rejected.
	query := "SELECT 1 FROM SYSIBM.SYSDUMMY1"
	mock.ExpectQuery(parseProbe).
		WithArgs(query).
		WillReturnRows(sqlmock.NewRows([]string{"SQL_STATEMENT_TYPE"}).AddRow("SET"))

	values, err := tool.ParseParams(map[string]any{"sql": query})
	if err != nil {
		t.Fatalf("parse params: %s", err)
	}
	_, err = tool.Invoke(context.Background(), values)
	se := util.AsServerError(err)
	if se.Code != util.CodeValidationError {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestInvokeRejectsWrite(t *testing.T) {
	tool, mock := newTool(t, db2iexecutesql.Config{})

	values, err := tool.ParseParams(map[string]any{"sql": "DELETE FROM mylib.t"})
	if err != nil {
		t.Fatalf("parse params: %s", err)
	}
	_, err = tool.Invoke(context.Background(), values)
	se := util.AsServerError(err)
	if se.Code != util.CodeValidationError {
		t.Fatalf("error = %v, want validation error", err)
	}
	// Rejected before any driver call, including the parse probe.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInvokeSkipsRuntimeCheckWhenDisabled(t *testing.T) {
	off := false
	tool, mock := newTool(t, db2iexecutesql.Config{ParseStatementCheck: &off})

	query := "SELECT 1 FROM SYSIBM.SYSDUMMY1"
	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"00001"}).AddRow(int64(1)))

	values, err := tool.ParseParams(map[string]any{"sql": query})
	if err != nil {
		t.Fatalf("parse params: %s", err)
	}
	if _, err := tool.Invoke(context.Background(), values); err != nil {
		t.Fatalf("invoke: %s", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
