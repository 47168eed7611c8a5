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

// TokenType is the semantic class of a token.
type TokenType int

const (
	TokenKeyword TokenType = iota
	TokenWord
	TokenString
	TokenNumber
	TokenDot
	TokenComma
	TokenOpenBracket
	TokenCloseBracket
	TokenOperator
	TokenSemicolon
	TokenNamedParam
)

func (t TokenType) String() string {
	switch t {
	case TokenKeyword:
		return "keyword"
	case TokenWord:
		return "word"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenDot:
		return "dot"
	case TokenComma:
		return "comma"
	case TokenOpenBracket:
		return "openbracket"
	case TokenCloseBracket:
		return "closebracket"
	case TokenOperator:
		return "operator"
	case TokenSemicolon:
		return "semicolon"
	case TokenNamedParam:
		return "namedparam"
	default:
		return "unknown"
	}
}

// Token is a lexed unit of SQL. Pos is the byte offset of the first character
// of the token in the original input; for string tokens Value holds the raw
// text including quotes so the input can be reconstructed.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// keywords is the Db2 for i keyword set recognized by the tokenizer. Words not
// present here lex as plain identifiers.
var keywords = map[string]struct{}{
	"ADD": {}, "ALL": {}, "ALTER": {}, "AND": {}, "AS": {}, "ASC": {},
	"BACKUP": {}, "BETWEEN": {}, "BULK": {}, "BY": {},
	"CALL": {}, "CASE": {}, "CAST": {}, "COMMIT": {}, "CONCAT": {}, "CREATE": {},
	"CROSS": {}, "CURRENT": {},
	"DECLARE": {}, "DELETE": {}, "DENY": {}, "DESC": {}, "DISTINCT": {},
	"DROP": {}, "DUMP": {},
	"ELSE": {}, "END": {}, "EXCEPT": {}, "EXEC": {}, "EXECUTE": {}, "EXISTS": {},
	"EXPORT": {},
	"FETCH": {}, "FIRST": {}, "FOR": {}, "FROM": {}, "FULL": {},
	"GRANT": {}, "GROUP": {},
	"HAVING": {},
	"IMPORT": {}, "IN": {}, "INNER": {}, "INSERT": {}, "INTERSECT": {},
	"INTO": {}, "IS": {},
	"JOIN": {},
	"KILL": {},
	"LATERAL": {}, "LEFT": {}, "LIKE": {}, "LIMIT": {}, "LOAD": {}, "LOCK": {},
	"MERGE": {},
	"NOT": {}, "NULL": {},
	"OFFSET": {}, "ON": {}, "ONLY": {}, "OR": {}, "ORDER": {}, "OUTER": {},
	"OVER": {},
	"PARTITION": {},
	"RENAME": {}, "RESTART": {}, "RESTORE": {}, "REVOKE": {}, "RIGHT": {},
	"ROLLBACK": {}, "ROW": {}, "ROWS": {},
	"SAVEPOINT": {}, "SELECT": {}, "SET": {}, "SHUTDOWN": {}, "START": {},
	"STOP": {},
	"TABLE": {}, "THEN": {}, "TRUNCATE": {},
	"UNION": {}, "UNLOCK": {}, "UPDATE": {}, "USING": {},
	"VALUES": {},
	"WHEN": {}, "WHERE": {}, "WITH": {},
}

// IsKeyword reports whether word (any case) is a recognized SQL keyword.
func IsKeyword(word string) bool {
	_, ok := keywords[strings.ToUpper(word)]
	return ok
}

// Reconstruct joins the token stream back into a string that is semantically
// equivalent to the original input under whitespace normalization.
func Reconstruct(tokens []Token) string {
	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			prev := tokens[i-1]
			if needsSpace(prev, t) {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(t.Value)
	}
	return sb.String()
}

func needsSpace(prev, cur Token) bool {
	switch cur.Type {
	case TokenDot, TokenComma, TokenSemicolon, TokenCloseBracket:
		return false
	}
	switch prev.Type {
	case TokenDot, TokenOpenBracket:
		return false
	}
	return true
}
