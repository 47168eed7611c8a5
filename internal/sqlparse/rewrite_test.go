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

func TestDetectParamMode(t *testing.T) {
	tcs := []struct {
		name string
		sql  string
		want sqlparse.ParamMode
	}{
		{name: "named", sql: "SELECT * FROM t WHERE a = :a", want: sqlparse.ModeNamed},
		{name: "positional", sql: "SELECT * FROM t WHERE a = ?", want: sqlparse.ModePositional},
		{name: "hybrid", sql: "SELECT * FROM t WHERE a = :a AND b = ?", want: sqlparse.ModeHybrid},
		{name: "none", sql: "SELECT * FROM t", want: sqlparse.ModeNone},
		{name: "colon inside literal ignored", sql: "SELECT ':notaparam' FROM t", want: sqlparse.ModeNone},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sqlparse.DetectParamMode(tc.sql)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got != tc.want {
				t.Fatalf("mode = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRewriteNamedParams(t *testing.T) {
	tcs := []struct {
		name        string
		sql         string
		values      map[string]any
		wantSQL     string
		wantParams  []any
		wantMissing []string
	}{
		{
			name:       "single scalar",
			sql:        "SELECT * FROM qsys2.user_info_basic WHERE authorization_name = :username",
			values:     map[string]any{"username": "TESTUSER"},
			wantSQL:    "SELECT * FROM qsys2.user_info_basic WHERE authorization_name = ?",
			wantParams: []any{"TESTUSER"},
		},
		{
			name:       "array expansion with trailing scalar",
			sql:        "SELECT * FROM users WHERE id IN (:userIds) AND status = :status",
			values:     map[string]any{"userIds": []any{1, 2, 3}, "status": "active"},
			wantSQL:    "SELECT * FROM users WHERE id IN (?, ?, ?) AND status = ?",
			wantParams: []any{1, 2, 3, "active"},
		},
		{
			name:       "duplicate occurrence binds twice",
			sql:        "SELECT * FROM t WHERE a = :v OR b = :v",
			values:     map[string]any{"v": 7},
			wantSQL:    "SELECT * FROM t WHERE a = ? OR b = ?",
			wantParams: []any{7, 7},
		},
		{
			name:       "literal occurrence untouched",
			sql:        "SELECT ':skip' FROM t WHERE a = :v",
			values:     map[string]any{"v": 1},
			wantSQL:    "SELECT ':skip' FROM t WHERE a = ?",
			wantParams: []any{1},
		},
		{
			name:       "singleton array",
			sql:        "SELECT * FROM t WHERE id IN (:ids)",
			values:     map[string]any{"ids": []any{42}},
			wantSQL:    "SELECT * FROM t WHERE id IN (?)",
			wantParams: []any{42},
		},
		{
			name:        "missing value leaves placeholder",
			sql:         "SELECT * FROM t WHERE a = :known AND b = :unknown",
			values:      map[string]any{"known": 1},
			wantSQL:     "SELECT * FROM t WHERE a = ? AND b = :unknown",
			wantParams:  []any{1},
			wantMissing: []string{"unknown"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sqlparse.RewriteNamedParams(tc.sql, tc.values)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got.SQL != tc.wantSQL {
				t.Errorf("sql = %q, want %q", got.SQL, tc.wantSQL)
			}
			if diff := cmp.Diff(tc.wantParams, got.Params); diff != "" {
				t.Errorf("incorrect params: diff %v", diff)
			}
			if diff := cmp.Diff(tc.wantMissing, got.Missing); diff != "" {
				t.Errorf("incorrect missing: diff %v", diff)
			}
		})
	}
}

func TestRewriteDeterminism(t *testing.T) {
	sql := "SELECT * FROM t WHERE a IN (:ids) AND b = :b"
	values := map[string]any{"ids": []any{1, 2}, "b": "x"}
	first, err := sqlparse.RewriteNamedParams(sql, values)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	second, err := sqlparse.RewriteNamedParams(sql, values)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("rewrite not deterministic: diff %v", diff)
	}
}
