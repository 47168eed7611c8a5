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

package sqlparse_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ibmi-community/db2i-mcp-server/internal/sqlparse"
)

func TestParseClassification(t *testing.T) {
	tcs := []struct {
		name string
		sql  string
		want []sqlparse.StatementType
	}{
		{
			name: "select",
			sql:  "SELECT * FROM qsys2.user_info_basic",
			want: []sqlparse.StatementType{sqlparse.StmtSelect},
		},
		{
			name: "cte",
			sql:  "WITH top AS (SELECT * FROM t FETCH FIRST 5 ROWS ONLY) SELECT * FROM top",
			want: []sqlparse.StatementType{sqlparse.StmtWith},
		},
		{
			name: "insert",
			sql:  "INSERT INTO t(x) VALUES(1)",
			want: []sqlparse.StatementType{sqlparse.StmtInsert},
		},
		{
			name: "call",
			sql:  "CALL QSYS2.PARSE_STATEMENT('SELECT 1')",
			want: []sqlparse.StatementType{sqlparse.StmtCall},
		},
		{
			name: "multiple statements",
			sql:  "SELECT 1 FROM t; DROP TABLE users",
			want: []sqlparse.StatementType{sqlparse.StmtSelect, sqlparse.StmtDrop},
		},
		{
			name: "parenthesized query expression",
			sql:  "(SELECT a FROM t) UNION (SELECT a FROM u)",
			want: []sqlparse.StatementType{sqlparse.StmtSelect},
		},
		{
			name: "table function",
			sql:  "SELECT * FROM TABLE(QSYS2.IFS_OBJECT_STATISTICS('/tmp'))",
			want: []sqlparse.StatementType{sqlparse.StmtSelect},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := sqlparse.Parse(tc.sql)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			got := make([]sqlparse.StatementType, len(doc.Statements))
			for i, s := range doc.Statements {
				got[i] = s.Type
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("incorrect classification: diff %v", diff)
			}
		})
	}
}

func TestParseFailures(t *testing.T) {
	tcs := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{name: "unmatched quote", sql: "SELECT 'oops FROM t", wantErr: true},
		{name: "truncated from", sql: "SELECT * FROM WHERE", wantErr: false},
		{name: "unbalanced brackets", sql: "SELECT a FROM (t", wantErr: false},
		{name: "empty input", sql: "   ", wantErr: false},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := sqlparse.Parse(tc.sql)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected tokenize error for %q", tc.sql)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if doc.Success {
				t.Fatalf("expected Success=false for %q", tc.sql)
			}
		})
	}
}

func TestNestedStatementTypes(t *testing.T) {
	tcs := []struct {
		name string
		sql  string
		want []sqlparse.StatementType
	}{
		{
			name: "subselect",
			sql:  "SELECT * FROM t WHERE id IN (SELECT id FROM u)",
			want: []sqlparse.StatementType{sqlparse.StmtSelect},
		},
		{
			name: "union injection",
			sql:  "SELECT a FROM t UNION SELECT b FROM u",
			want: []sqlparse.StatementType{sqlparse.StmtSelect},
		},
		{
			name: "nested delete",
			sql:  "SELECT * FROM NEW TABLE (DELETE FROM t)",
			want: []sqlparse.StatementType{sqlparse.StmtDelete},
		},
		{
			name: "no nesting",
			sql:  "SELECT a FROM t",
			want: nil,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := sqlparse.Parse(tc.sql)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			got := sqlparse.NestedStatementTypes(doc.Statements[0])
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("incorrect nested types: diff %v", diff)
			}
		})
	}
}

func TestCallSchema(t *testing.T) {
	tcs := []struct {
		name string
		sql  string
		want string
	}{
		{name: "qsys2", sql: "CALL QSYS2.QCMDEXC('DSPJOB')", want: "QSYS2"},
		{name: "lowercase schema", sql: "call qsys2.parse_statement('SELECT 1')", want: "QSYS2"},
		{name: "user schema", sql: "CALL MYLIB.MYPROC()", want: "MYLIB"},
		{name: "unqualified", sql: "CALL MYPROC()", want: ""},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := sqlparse.Parse(tc.sql)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got := sqlparse.CallSchema(doc.Statements[0]); got != tc.want {
				t.Fatalf("CallSchema = %q, want %q", got, tc.want)
			}
		})
	}
}
