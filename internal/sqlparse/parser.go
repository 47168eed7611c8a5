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

package sqlparse

import "strings"

// StatementType classifies a parsed statement.
type StatementType string

const (
	StmtSelect    StatementType = "Select"
	StmtWith      StatementType = "With"
	StmtInsert    StatementType = "Insert"
	StmtUpdate    StatementType = "Update"
	StmtDelete    StatementType = "Delete"
	StmtMerge     StatementType = "Merge"
	StmtTruncate  StatementType = "Truncate"
	StmtDrop      StatementType = "Drop"
	StmtCreate    StatementType = "Create"
	StmtAlter     StatementType = "Alter"
	StmtRename    StatementType = "Rename"
	StmtCall      StatementType = "Call"
	StmtExec      StatementType = "Exec"
	StmtSet       StatementType = "Set"
	StmtDeclare   StatementType = "Declare"
	StmtGrant     StatementType = "Grant"
	StmtRevoke    StatementType = "Revoke"
	StmtDeny      StatementType = "Deny"
	StmtLoad      StatementType = "Load"
	StmtImport    StatementType = "Import"
	StmtExport    StatementType = "Export"
	StmtBulk      StatementType = "Bulk"
	StmtShutdown  StatementType = "Shutdown"
	StmtRestart   StatementType = "Restart"
	StmtKill      StatementType = "Kill"
	StmtStop      StatementType = "Stop"
	StmtStart     StatementType = "Start"
	StmtBackup    StatementType = "Backup"
	StmtRestore   StatementType = "Restore"
	StmtDump      StatementType = "Dump"
	StmtLock      StatementType = "Lock"
	StmtUnlock    StatementType = "Unlock"
	StmtCommit    StatementType = "Commit"
	StmtRollback  StatementType = "Rollback"
	StmtSavepoint StatementType = "Savepoint"
	StmtUnknown   StatementType = "Unknown"
)

// leadingKeywords maps a statement's first keyword to its type.
var leadingKeywords = map[string]StatementType{
	"SELECT": StmtSelect, "WITH": StmtWith, "INSERT": StmtInsert,
	"UPDATE": StmtUpdate, "DELETE": StmtDelete, "MERGE": StmtMerge,
	"TRUNCATE": StmtTruncate, "DROP": StmtDrop, "CREATE": StmtCreate,
	"ALTER": StmtAlter, "RENAME": StmtRename, "CALL": StmtCall,
	"EXEC": StmtExec, "EXECUTE": StmtExec, "SET": StmtSet,
	"DECLARE": StmtDeclare, "GRANT": StmtGrant, "REVOKE": StmtRevoke,
	"DENY": StmtDeny, "LOAD": StmtLoad, "IMPORT": StmtImport,
	"EXPORT": StmtExport, "BULK": StmtBulk, "SHUTDOWN": StmtShutdown,
	"RESTART": StmtRestart, "KILL": StmtKill, "STOP": StmtStop,
	"START": StmtStart, "BACKUP": StmtBackup, "RESTORE": StmtRestore,
	"DUMP": StmtDump, "LOCK": StmtLock, "UNLOCK": StmtUnlock,
	"COMMIT": StmtCommit, "ROLLBACK": StmtRollback, "SAVEPOINT": StmtSavepoint,
}

// Statement is a classified run of tokens ending at a top-level semicolon.
type Statement struct {
	Type   StatementType
	Tokens []Token
}

// Document is the parse result for a SQL string.
type Document struct {
	Statements []Statement
	Success    bool
}

// Parse tokenizes sql and groups the tokens into classified statements.
// Statements are split on semicolons outside brackets. A tokenization failure
// is returned as an error; an empty or unclassifiable input yields
// Success=false.
func Parse(sql string) (*Document, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return nil, err
	}
	doc := &Document{Success: true}

	var cur []Token
	depth := 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		doc.Statements = append(doc.Statements, Statement{
			Type:   classify(cur),
			Tokens: cur,
		})
		cur = nil
	}
	for _, t := range tokens {
		switch t.Type {
		case TokenOpenBracket:
			depth++
		case TokenCloseBracket:
			depth--
			if depth < 0 {
				doc.Success = false
			}
		case TokenSemicolon:
			if depth == 0 {
				flush()
				continue
			}
		}
		cur = append(cur, t)
	}
	flush()

	if depth != 0 {
		doc.Success = false
	}
	if len(doc.Statements) == 0 {
		doc.Success = false
		return doc, nil
	}
	for _, s := range doc.Statements {
		if s.Type == StmtUnknown {
			doc.Success = false
		}
		if !wellFormed(s) {
			doc.Success = false
		}
	}
	return doc, nil
}

func classify(tokens []Token) StatementType {
	for _, t := range tokens {
		if t.Type == TokenOpenBracket {
			// Parenthesized query expression, e.g. "(SELECT ...) UNION ...".
			continue
		}
		if t.Type != TokenKeyword {
			return StmtUnknown
		}
		if st, ok := leadingKeywords[strings.ToUpper(t.Value)]; ok {
			return st
		}
		return StmtUnknown
	}
	return StmtUnknown
}

// wellFormed applies cheap structural checks that catch truncated statements
// the keyword classifier alone would admit, e.g. "SELECT * FROM WHERE".
func wellFormed(s Statement) bool {
	for i, t := range s.Tokens {
		if t.Type != TokenKeyword {
			continue
		}
		switch strings.ToUpper(t.Value) {
		case "FROM", "INTO", "JOIN":
			// must be followed by a table reference
			next := nextMeaningful(s.Tokens, i+1)
			if next == nil {
				return false
			}
			switch next.Type {
			case TokenWord, TokenOpenBracket, TokenNamedParam:
			case TokenKeyword:
				if !isTableKeyword(next.Value) {
					return false
				}
			default:
				return false
			}
		case "WHERE", "HAVING":
			if nextMeaningful(s.Tokens, i+1) == nil {
				return false
			}
		}
	}
	return true
}

// isTableKeyword lists keywords that may legally begin a table reference,
// e.g. "FROM TABLE(...)" or "JOIN LATERAL (...)".
func isTableKeyword(v string) bool {
	switch strings.ToUpper(v) {
	case "TABLE", "LATERAL", "FINAL", "NEW", "OLD":
		return true
	}
	return false
}

func nextMeaningful(tokens []Token, i int) *Token {
	if i < len(tokens) {
		return &tokens[i]
	}
	return nil
}

// NestedStatementTypes walks the bracket structure of a statement and returns
// the type of every nested statement node: a statement-leading keyword that
// directly follows an opening bracket or a set operator (UNION, EXCEPT,
// INTERSECT).
func NestedStatementTypes(s Statement) []StatementType {
	var nested []StatementType
	for i, t := range s.Tokens {
		if t.Type != TokenKeyword {
			continue
		}
		st, ok := leadingKeywords[strings.ToUpper(t.Value)]
		if !ok {
			continue
		}
		if i == 0 {
			continue // top-level type, not nested
		}
		prev := s.Tokens[i-1]
		switch {
		case prev.Type == TokenOpenBracket:
			nested = append(nested, st)
		case prev.Type == TokenKeyword && isSetOperator(prev.Value):
			nested = append(nested, st)
		}
	}
	return nested
}

func isSetOperator(v string) bool {
	switch strings.ToUpper(v) {
	case "UNION", "EXCEPT", "INTERSECT", "ALL":
		return true
	}
	return false
}

// CallSchema returns the qualifying schema of a CALL statement: the first
// identifier after the CALL keyword when it is followed by a dot separator.
// Returns "" for unqualified calls.
func CallSchema(s Statement) string {
	if s.Type != StmtCall {
		return ""
	}
	for i, t := range s.Tokens {
		if t.Type == TokenKeyword && strings.ToUpper(t.Value) == "CALL" {
			if i+2 < len(s.Tokens) &&
				s.Tokens[i+1].Type == TokenWord &&
				s.Tokens[i+2].Type == TokenDot {
				return strings.ToUpper(strings.Trim(s.Tokens[i+1].Value, `"`))
			}
			return ""
		}
	}
	return ""
}
