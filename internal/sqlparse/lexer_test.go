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

func tokenValues(tokens []sqlparse.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Value
	}
	return out
}

func TestTokenize(t *testing.T) {
	tcs := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "simple select",
			sql:  "SELECT id, name FROM users WHERE id = 1",
			want: []string{"SELECT", "id", ",", "name", "FROM", "users", "WHERE", "id", "=", "1"},
		},
		{
			name: "doubled quote escape",
			sql:  "SELECT 'can''t' FROM sysibm.sysdummy1",
			want: []string{"SELECT", "'can''t'", "FROM", "sysibm", ".", "sysdummy1"},
		},
		{
			name: "named parameter",
			sql:  "SELECT * FROM t WHERE c = :userName",
			want: []string{"SELECT", "*", "FROM", "t", "WHERE", "c", "=", ":userName"},
		},
		{
			name: "infix concat",
			sql:  "SELECT 'R' CONCAT library FROM t",
			want: []string{"SELECT", "'R'", "CONCAT", "library", "FROM", "t"},
		},
		{
			name: "pipe concat operator",
			sql:  "SELECT a || b FROM t",
			want: []string{"SELECT", "a", "||", "b", "FROM", "t"},
		},
		{
			name: "qualified call",
			sql:  "CALL QSYS2.QCMDEXC('WRKACTJOB')",
			want: []string{"CALL", "QSYS2", ".", "QCMDEXC", "(", "'WRKACTJOB'", ")"},
		},
		{
			name: "fetch first clause",
			sql:  "SELECT * FROM t FETCH FIRST 10 ROWS ONLY",
			want: []string{"SELECT", "*", "FROM", "t", "FETCH", "FIRST", "10", "ROWS", "ONLY"},
		},
		{
			name: "comments elided",
			sql:  "SELECT 1 -- trailing\nFROM /* inline */ t",
			want: []string{"SELECT", "1", "FROM", "t"},
		},
		{
			name: "decimal and exponent numbers",
			sql:  "SELECT 3.14, 1e6 FROM t",
			want: []string{"SELECT", "3.14", ",", "1e6", "FROM", "t"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			tokens, err := sqlparse.Tokenize(tc.sql)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if diff := cmp.Diff(tc.want, tokenValues(tokens)); diff != "" {
				t.Fatalf("incorrect tokens: diff %v", diff)
			}
		})
	}
}

func TestTokenizeStringLiteralType(t *testing.T) {
	tokens, err := sqlparse.Tokenize("SELECT 'DROP TABLE X' AS txt")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var found bool
	for _, tok := range tokens {
		if tok.Value == "'DROP TABLE X'" {
			found = true
			if tok.Type != sqlparse.TokenString {
				t.Errorf("literal lexed as %s, want string", tok.Type)
			}
		}
	}
	if !found {
		t.Fatal("string literal token not found")
	}
}

func TestTokenizeErrors(t *testing.T) {
	tcs := []struct {
		name string
		sql  string
	}{
		{name: "unmatched single quote", sql: "SELECT 'abc FROM t"},
		{name: "unmatched double quote", sql: `SELECT "abc FROM t`},
		{name: "unterminated block comment", sql: "SELECT 1 /* no end"},
		{name: "digit named parameter", sql: "SELECT * FROM t WHERE c = :1"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := sqlparse.Tokenize(tc.sql); err == nil {
				t.Fatalf("expected error for %q", tc.sql)
			}
		})
	}
}

func TestReconstructRoundTrip(t *testing.T) {
	sql := "SELECT a.b, 'x''y' FROM QSYS2.USER_INFO_BASIC WHERE c IN (1, 2)"
	tokens, err := sqlparse.Tokenize(sql)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	got := sqlparse.Reconstruct(tokens)
	again, err := sqlparse.Tokenize(got)
	if err != nil {
		t.Fatalf("reconstructed SQL does not tokenize: %s", err)
	}
	if diff := cmp.Diff(tokenValues(tokens), tokenValues(again)); diff != "" {
		t.Fatalf("round trip not equivalent: diff %v", diff)
	}
}
