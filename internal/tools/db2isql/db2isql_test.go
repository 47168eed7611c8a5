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

package db2isql_test

import (
	"context"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools/db2isql"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

func mockSource(t *testing.T) (map[string]sources.Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	src := &db2i.Source{Config: db2i.Config{Name: "ibmi"}, Db: db}
	return map[string]sources.Source{"ibmi": src}, mock
}

type incompatibleSource struct{}

func (incompatibleSource) SourceKind() string { return "other" }

func TestInitialize(t *testing.T) {
	srcs, _ := mockSource(t)

	t.Run("unknown source", func(t *testing.T) {
		cfg := db2isql.Config{Name: "t", Source: "missing", Statement: "SELECT 1 FROM SYSIBM.SYSDUMMY1"}
		if _, err := cfg.Initialize(srcs); err == nil || !strings.Contains(err.Error(), `no source named "missing"`) {
			t.Fatalf("error = %v, want unknown source", err)
		}
	})

	t.Run("incompatible source", func(t *testing.T) {
		cfg := db2isql.Config{Name: "t", Source: "other", Statement: "SELECT 1 FROM SYSIBM.SYSDUMMY1"}
		bad := map[string]sources.Source{"other": incompatibleSource{}}
		if _, err := cfg.Initialize(bad); err == nil || !strings.Contains(err.Error(), "source kind must be one of") {
			t.Fatalf("error = %v, want incompatible source", err)
		}
	})

	t.Run("empty statement", func(t *testing.T) {
		cfg := db2isql.Config{Name: "t", Source: "ibmi", Statement: "   "}
		if _, err := cfg.Initialize(srcs); err == nil || !strings.Contains(err.Error(), "empty statement") {
			t.Fatalf("error = %v, want empty statement", err)
		}
	})

	t.Run("duplicate parameter names", func(t *testing.T) {
		cfg := db2isql.Config{
			Name: "t", Source: "ibmi", Statement: "SELECT * FROM t WHERE a = :x",
			Parameters: []tools.Parameter{
				{Name: "x", Type: tools.TypeString},
				{Name: "x", Type: tools.TypeInteger},
			},
		}
		if _, err := cfg.Initialize(srcs); err == nil {
			t.Fatal("expected duplicate parameter rejection")
		}
	})
}

func TestInvokeNamedParameter(t *testing.T) {
	srcs, mock := mockSource(t)
	cfg := db2isql.Config{
		Name:        "get_user",
		Source:      "ibmi",
		Description: "Look up one user profile.",
		Statement:   "SELECT * FROM qsys2.user_info_basic WHERE authorization_name = :username",
		Parameters: []tools.Parameter{
			{Name: "username", Type: tools.TypeString, Required: true, Pattern: "^[A-Z0-9_]{1,10}$"},
		},
	}
	tool, err := cfg.Initialize(srcs)
	if err != nil {
		t.Fatalf("initialize: %s", err)
	}

	mock.ExpectQuery("SELECT * FROM qsys2.user_info_basic WHERE authorization_name = ?").
		WithArgs("TESTUSER").
		WillReturnRows(sqlmock.NewRows([]string{"AUTHORIZATION_NAME", "STATUS"}).
			AddRow("TESTUSER", "*ENABLED"))

	values, err := tool.ParseParams(map[string]any{"username": "TESTUSER"})
	if err != nil {
		t.Fatalf("parse params: %s", err)
	}
	raw, err := tool.Invoke(context.Background(), values)
	if err != nil {
		t.Fatalf("invoke: %s", err)
	}
	res, ok := raw.(*tools.ToolResult)
	if !ok {
		t.Fatalf("result type %T", raw)
	}
	if !res.Success || res.RowCount != 1 {
		t.Fatalf("result = %+v, want success with one row", res)
	}
	want := []map[string]any{{"AUTHORIZATION_NAME": "TESTUSER", "STATUS": "*ENABLED"}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("incorrect data: diff %v", diff)
	}
	if res.Metadata.Columns[0].Name != "AUTHORIZATION_NAME" {
		t.Fatalf("incorrect metadata: %+v", res.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInvokeArrayExpansion(t *testing.T) {
	srcs, mock := mockSource(t)
	cfg := db2isql.Config{
		Name:      "jobs_by_status",
		Source:    "ibmi",
		Statement: "SELECT * FROM table(qsys2.active_job_info()) WHERE job_status IN (:statuses)",
		Parameters: []tools.Parameter{
			{Name: "statuses", Type: tools.TypeArray, ItemType: tools.TypeString, Required: true},
		},
	}
	tool, err := cfg.Initialize(srcs)
	if err != nil {
		t.Fatalf("initialize: %s", err)
	}

	mock.ExpectQuery("SELECT * FROM table(qsys2.active_job_info()) WHERE job_status IN (?, ?)").
		WithArgs("RUN", "MSGW").
		WillReturnRows(sqlmock.NewRows([]string{"JOB_NAME"}).AddRow("QZDASOINIT"))

	values, err := tool.ParseParams(map[string]any{"statuses": []any{"RUN", "MSGW"}})
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

func TestInvokeReadOnlyRejection(t *testing.T) {
	srcs, mock := mockSource(t)
	cfg := db2isql.Config{
		Name:      "delete_rows",
		Source:    "ibmi",
		Statement: "DELETE FROM mylib.t WHERE id = :id",
		Parameters: []tools.Parameter{
			{Name: "id", Type: tools.TypeInteger, Required: true},
		},
	}
	tool, err := cfg.Initialize(srcs)
	if err != nil {
		t.Fatalf("initialize: %s", err)
	}

	values, err := tool.ParseParams(map[string]any{"id": 7})
	if err != nil {
		t.Fatalf("parse params: %s", err)
	}
	_, err = tool.Invoke(context.Background(), values)
	se := util.AsServerError(err)
	if se.Code != util.CodeValidationError {
		t.Fatalf("error = %v, want validation error", err)
	}
	// The statement must never reach the driver.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInvokeSingleSlotSubstitution(t *testing.T) {
	srcs, mock := mockSource(t)
	cfg := db2isql.Config{
		Name:      "run_select",
		Source:    "ibmi",
		Statement: ":query",
		Parameters: []tools.Parameter{
			{Name: "query", Type: tools.TypeString, Required: true},
		},
	}
	tool, err := cfg.Initialize(srcs)
	if err != nil {
		t.Fatalf("initialize: %s", err)
	}

	mock.ExpectQuery("SELECT 1 FROM SYSIBM.SYSDUMMY1").
		WillReturnRows(sqlmock.NewRows([]string{"00001"}).AddRow(int64(1)))

	values, err := tool.ParseParams(map[string]any{"query": "SELECT 1 FROM SYSIBM.SYSDUMMY1"})
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

func TestInvokeTokenWithoutPoolManager(t *testing.T) {
	srcs, _ := mockSource(t)
	cfg := db2isql.Config{
		Name:      "session_check",
		Source:    "ibmi",
		Statement: "SELECT 1 FROM SYSIBM.SYSDUMMY1",
	}
	tool, err := cfg.Initialize(srcs)
	if err != nil {
		t.Fatalf("initialize: %s", err)
	}

	ctx := util.WithAuthToken(context.Background(), "some-bearer-token")
	_, err = tool.Invoke(ctx, nil)
	if se := util.AsServerError(err); se.Code != util.CodeUnauthorized {
		t.Fatalf("error = %v, want unauthorized", err)
	}
}

func TestInitializeWithoutSource(t *testing.T) {
	cfg := db2isql.Config{
		Name:      "env_query",
		Statement: "SELECT 1 FROM SYSIBM.SYSDUMMY1",
	}
	if _, err := cfg.Initialize(nil); err != nil {
		t.Fatalf("initialize without source: %s", err)
	}
}

func TestInvokeWithoutSourceNeedsEnvCredentials(t *testing.T) {
	t.Setenv("DB2i_HOST", "")
	t.Setenv("DB2i_USER", "")
	t.Setenv("DB2i_PASS", "")

	cfg := db2isql.Config{
		Name:      "env_query",
		Statement: "SELECT 1 FROM SYSIBM.SYSDUMMY1",
	}
	tool, err := cfg.Initialize(nil)
	if err != nil {
		t.Fatalf("initialize: %s", err)
	}

	_, err = tool.Invoke(context.Background(), nil)
	se := util.AsServerError(err)
	if se.Code != util.CodeConfigurationError {
		t.Fatalf("error = %v, want configuration error", err)
	}
	if !strings.Contains(se.Message, "DB2i_HOST") {
		t.Fatalf("message = %q, want missing variable names", se.Message)
	}
}
