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

// Package sqlsecurity enforces the read-only SQL policy for Db2 for i. The
// validator is layered: a length gate, a forbidden-keyword scan, and a
// structural read-only allowlist built on the dialect tokenizer. When the
// tokenizer cannot parse a query the read-only gate fails closed.
package sqlsecurity

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ibmi-community/db2i-mcp-server/internal/sqlparse"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// DefaultMaxQueryLength bounds query size when a tool declares no limit.
const DefaultMaxQueryLength = 10000

// Policy is the per-tool security configuration.
type Policy struct {
	// ReadOnly defaults to true; a tool must declare readOnly:false to
	// run write statements.
	ReadOnly bool
	// MaxQueryLength caps the byte length of the post-rewrite SQL.
	MaxQueryLength int
	// ForbiddenKeywords are bare identifiers rejected anywhere outside
	// string literals.
	ForbiddenKeywords []string
}

// DefaultPolicy returns the fail-closed defaults.
func DefaultPolicy() Policy {
	return Policy{ReadOnly: true, MaxQueryLength: DefaultMaxQueryLength}
}

// readOnlyCallSchemas are the catalog namespaces whose procedures are safe to
// CALL under a read-only policy.
var readOnlyCallSchemas = map[string]struct{}{
	"QSYS2":    {},
	"SYSTOOLS": {},
	"QSYS":     {},
}

// dangerousOperations are flagged by the regex coverage pass on a
// literal-stripped query.
var dangerousOperations = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "TRUNCATE", "DROP", "CREATE",
	"ALTER", "RENAME", "CALL", "EXEC", "EXECUTE", "SET", "DECLARE", "GRANT",
	"REVOKE", "DENY", "LOAD", "IMPORT", "EXPORT", "BULK", "SHUTDOWN",
	"RESTART", "KILL", "STOP", "START", "BACKUP", "RESTORE", "DUMP", "LOCK",
	"UNLOCK", "COMMIT", "ROLLBACK", "SAVEPOINT", "QCMDEXC",
	"SQL_EXECUTE_IMMEDIATE",
}

// dangerousFunctions are rejected when invoked as a call. Benign builtins
// such as CONCAT, CHAR and VARCHAR must never appear here.
var dangerousFunctions = []string{
	"SYSTEM", "QCMDEXC", "SQL_EXECUTE_IMMEDIATE", "SQLCMD", "LOAD_EXTENSION",
	"EXEC", "EXECUTE_IMMEDIATE", "EVAL",
}

// stringLiteralPattern strips single-quoted literals, honoring '' escapes.
var stringLiteralPattern = regexp.MustCompile(`'(?:''|[^'])*'`)

var structuralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*(DROP|DELETE|INSERT|UPDATE|CREATE|ALTER)\b`),
	regexp.MustCompile(`(?i)UNION\s+(ALL\s+)?\(\s*(DROP|DELETE|INSERT|UPDATE)\b`),
	regexp.MustCompile(`(?i)\bREPLACE\s+INTO\b`),
}

// StatementParser runs the optional QSYS2.PARSE_STATEMENT runtime check.
// Implemented by the connection pool layer.
type StatementParser interface {
	// ParseStatementType returns the SQL_STATEMENT_TYPE reported by the
	// database for the given statement.
	ParseStatementType(ctx context.Context, sql string) (string, error)
}

// Validate enforces the policy on the post-rewrite SQL. Both the environment
// and the per-token execution paths share this call site. A nil return means
// the statement is admitted.
func Validate(ctx context.Context, sql string, policy Policy) error {
	maxLen := policy.MaxQueryLength
	if maxLen <= 0 {
		maxLen = DefaultMaxQueryLength
	}
	if len(sql) > maxLen {
		return violationError(sql, policy, "token",
			[]string{fmt.Sprintf("query length %d exceeds maximum %d", len(sql), maxLen)})
	}

	tokens, tokErr := sqlparse.Tokenize(sql)

	// Forbidden keywords run on every query, read-only or not.
	if violations, validatedBy := checkForbiddenKeywords(sql, tokens, tokErr, policy.ForbiddenKeywords); len(violations) > 0 {
		return violationError(sql, policy, validatedBy, violations)
	}

	if !policy.ReadOnly {
		return nil
	}

	// Read-only gate: no regex path can re-open this gate when the
	// tokenizer fails.
	if tokErr != nil {
		return violationError(sql, policy, "token",
			[]string{"SQL parsing failed (cannot validate read-only safely)"})
	}
	doc, err := sqlparse.Parse(sql)
	if err != nil || !doc.Success {
		return violationError(sql, policy, "token",
			[]string{"SQL parsing failed (cannot validate read-only safely)"})
	}

	var violations []string
	hasAllowlistedCall := false
	for _, stmt := range doc.Statements {
		switch stmt.Type {
		case sqlparse.StmtSelect, sqlparse.StmtWith:
			for _, nested := range sqlparse.NestedStatementTypes(stmt) {
				if nested != sqlparse.StmtSelect {
					violations = append(violations,
						fmt.Sprintf("nested %s statement is not allowed in read-only mode",
							strings.ToUpper(string(nested))))
				}
			}
		case sqlparse.StmtCall:
			schema := sqlparse.CallSchema(stmt)
			if _, ok := readOnlyCallSchemas[schema]; !ok {
				violations = append(violations,
					fmt.Sprintf("CALL is not allowed in read-only mode (schema %q is not a read-only catalog)", schema))
			} else {
				hasAllowlistedCall = true
			}
		default:
			violations = append(violations,
				fmt.Sprintf("%s statement is not allowed in read-only mode",
					strings.ToUpper(string(stmt.Type))))
		}
	}
	if len(violations) > 0 {
		return violationError(sql, policy, "token", violations)
	}

	// Additional regex coverage for patterns the structural walk may miss.
	// Skipped when the query is an allowlisted catalog CALL: the CALL
	// keyword itself would trip the operations list.
	if !hasAllowlistedCall {
		if violations := regexCoverage(sql); len(violations) > 0 {
			return violationError(sql, policy, "regex-fallback", violations)
		}
	}
	return nil
}

// ValidateWithParseStatement runs Validate and then asks the database itself
// to classify the statement via QSYS2.PARSE_STATEMENT. Any failure of the
// runtime check is translated into a validation error (fail-closed).
func ValidateWithParseStatement(ctx context.Context, sql string, policy Policy, parser StatementParser) error {
	if err := Validate(ctx, sql, policy); err != nil {
		return err
	}
	if parser == nil {
		return nil
	}
	stmtType, err := parser.ParseStatementType(ctx, sql)
	if err != nil {
		// Pool-layer auth errors propagate unchanged; everything else
		// fails closed as a validation error.
		if se := util.AsServerError(err); se.Code == util.CodeUnauthorized {
			return err
		}
		return violationError(sql, policy, "parse_statement",
			[]string{fmt.Sprintf("PARSE_STATEMENT check failed: %v", err)})
	}
	if policy.ReadOnly && stmtType != "QUERY" {
		return violationError(sql, policy, "parse_statement",
			[]string{fmt.Sprintf("statement type %q is not a query", stmtType)})
	}
	return nil
}

// checkForbiddenKeywords scans non-string tokens against the per-tool
// forbidden set. When tokenization failed it falls back to a regex scan on a
// literal-stripped copy of the query.
func checkForbiddenKeywords(sql string, tokens []sqlparse.Token, tokErr error, forbidden []string) ([]string, string) {
	if len(forbidden) == 0 {
		return nil, "token"
	}
	set := make(map[string]struct{}, len(forbidden))
	for _, kw := range forbidden {
		set[strings.ToUpper(kw)] = struct{}{}
	}

	if tokErr == nil {
		var violations []string
		for _, t := range tokens {
			if t.Type == sqlparse.TokenString {
				continue
			}
			if _, ok := set[strings.ToUpper(t.Value)]; ok {
				violations = append(violations, fmt.Sprintf("Forbidden keyword: %s", strings.ToUpper(t.Value)))
			}
		}
		return violations, "token"
	}

	stripped := stringLiteralPattern.ReplaceAllString(sql, "''")
	var violations []string
	for _, kw := range forbidden {
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if pattern.MatchString(stripped) {
			violations = append(violations, fmt.Sprintf("Forbidden keyword: %s", strings.ToUpper(kw)))
		}
	}
	return violations, "regex-fallback"
}

// regexCoverage flags dangerous operations, dangerous function calls, and
// structural injection patterns on a literal-stripped query.
func regexCoverage(sql string) []string {
	stripped := stringLiteralPattern.ReplaceAllString(sql, "''")
	var violations []string
	for _, op := range dangerousOperations {
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(op) + `\b`)
		if pattern.MatchString(stripped) {
			violations = append(violations, fmt.Sprintf("dangerous operation detected: %s", op))
		}
	}
	for _, fn := range dangerousFunctions {
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(fn) + `\s*\(`)
		if pattern.MatchString(stripped) {
			violations = append(violations, fmt.Sprintf("dangerous function call detected: %s", fn))
		}
	}
	for _, pattern := range structuralPatterns {
		if pattern.MatchString(stripped) {
			violations = append(violations, fmt.Sprintf("injection pattern detected: %s", pattern.String()))
		}
	}
	return violations
}

// violationError shapes the structured ValidationError details object.
func violationError(sql string, policy Policy, validatedBy string, violations []string) error {
	details := map[string]any{
		"violations":  violations,
		"validatedBy": validatedBy,
		"query":       truncateQuery(sql),
		"readOnly":    policy.ReadOnly,
	}
	if policy.MaxQueryLength > 0 {
		details["maxLength"] = policy.MaxQueryLength
	}
	return util.NewValidationError(
		fmt.Sprintf("SQL security validation failed: %s", strings.Join(violations, "; ")),
		details,
	)
}

func truncateQuery(sql string) string {
	if len(sql) <= 100 {
		return sql
	}
	return sql[:100] + "…"
}
