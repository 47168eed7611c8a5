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

import (
	"fmt"
	"strings"
)

// SyntaxError is a classifiable tokenization failure. Callers enforcing a
// read-only policy must treat it as fail-closed.
type SyntaxError struct {
	Msg string
	Pos int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// Tokenize lexes Db2 for i SQL into typed tokens. Whitespace and comments are
// elided. Handled dialect details: doubled single-quote escapes, quoted
// identifiers, the || and CONCAT operators, named parameters (:ident) and
// positional markers (?).
func Tokenize(sql string) ([]Token, error) {
	l := &lexer{input: sql}
	return l.run()
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) run() ([]Token, error) {
	var tokens []Token
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case isSpace(c):
			l.pos++
		case c == '-' && l.peek(1) == '-':
			l.skipLineComment()
		case c == '/' && l.peek(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return nil, err
			}
		case c == '\'':
			tok, err := l.lexString()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		case c == '"':
			tok, err := l.lexQuotedIdent()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		case c == ':':
			tok, err := l.lexNamedParam()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		case isDigit(c):
			tokens = append(tokens, l.lexNumber())
		case isIdentStart(c):
			tokens = append(tokens, l.lexWord())
		case c == '.':
			// A dot between digits was consumed by lexNumber; a bare
			// leading dot starting a number is lexed here.
			if isDigit(l.peek(1)) {
				tokens = append(tokens, l.lexNumber())
			} else {
				tokens = append(tokens, Token{Type: TokenDot, Value: ".", Pos: l.pos})
				l.pos++
			}
		case c == ',':
			tokens = append(tokens, Token{Type: TokenComma, Value: ",", Pos: l.pos})
			l.pos++
		case c == '(':
			tokens = append(tokens, Token{Type: TokenOpenBracket, Value: "(", Pos: l.pos})
			l.pos++
		case c == ')':
			tokens = append(tokens, Token{Type: TokenCloseBracket, Value: ")", Pos: l.pos})
			l.pos++
		case c == ';':
			tokens = append(tokens, Token{Type: TokenSemicolon, Value: ";", Pos: l.pos})
			l.pos++
		case isOperatorChar(c):
			tokens = append(tokens, l.lexOperator())
		default:
			return nil, &SyntaxError{Msg: fmt.Sprintf("unexpected character %q", c), Pos: l.pos}
		}
	}
	return tokens, nil
}

func (l *lexer) peek(n int) byte {
	if l.pos+n < len(l.input) {
		return l.input[l.pos+n]
	}
	return 0
}

func (l *lexer) skipLineComment() {
	for l.pos < len(l.input) && l.input[l.pos] != '\n' {
		l.pos++
	}
}

func (l *lexer) skipBlockComment() error {
	start := l.pos
	l.pos += 2
	for l.pos < len(l.input) {
		if l.input[l.pos] == '*' && l.peek(1) == '/' {
			l.pos += 2
			return nil
		}
		l.pos++
	}
	return &SyntaxError{Msg: "unterminated block comment", Pos: start}
}

// lexString consumes a single-quoted literal, honoring '' escapes.
func (l *lexer) lexString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	for l.pos < len(l.input) {
		if l.input[l.pos] == '\'' {
			if l.peek(1) == '\'' {
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: l.input[start:l.pos], Pos: start}, nil
		}
		l.pos++
	}
	return Token{}, &SyntaxError{Msg: "unmatched single quote", Pos: start}
}

func (l *lexer) lexQuotedIdent() (Token, error) {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) {
		if l.input[l.pos] == '"' {
			l.pos++
			return Token{Type: TokenWord, Value: l.input[start:l.pos], Pos: start}, nil
		}
		l.pos++
	}
	return Token{}, &SyntaxError{Msg: "unmatched double quote", Pos: start}
}

func (l *lexer) lexNamedParam() (Token, error) {
	start := l.pos
	l.pos++
	if l.pos >= len(l.input) || !isIdentStart(l.input[l.pos]) {
		if l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			return Token{}, &SyntaxError{Msg: "invalid named parameter: name must not start with a digit", Pos: start}
		}
		// A bare colon is an operator (e.g. array slices in some dialects).
		return Token{Type: TokenOperator, Value: ":", Pos: start}, nil
	}
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	return Token{Type: TokenNamedParam, Value: l.input[start:l.pos], Pos: start}, nil
}

func (l *lexer) lexNumber() Token {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isDigit(c) {
			l.pos++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		if (c == 'e' || c == 'E') && (isDigit(l.peek(1)) || ((l.peek(1) == '+' || l.peek(1) == '-') && isDigit(l.peek(2)))) {
			l.pos += 2
			continue
		}
		break
	}
	return Token{Type: TokenNumber, Value: l.input[start:l.pos], Pos: start}
}

func (l *lexer) lexWord() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]
	typ := TokenWord
	if IsKeyword(word) {
		typ = TokenKeyword
	}
	return Token{Type: typ, Value: word, Pos: start}
}

var twoCharOperators = map[string]struct{}{
	"<>": {}, "<=": {}, ">=": {}, "!=": {}, "||": {}, "->": {}, "=>": {},
}

func (l *lexer) lexOperator() Token {
	start := l.pos
	if l.pos+1 < len(l.input) {
		two := l.input[l.pos : l.pos+2]
		if _, ok := twoCharOperators[two]; ok {
			l.pos += 2
			return Token{Type: TokenOperator, Value: two, Pos: start}
		}
	}
	l.pos++
	return Token{Type: TokenOperator, Value: l.input[start:l.pos], Pos: start}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c == '#' || c == '@' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// isOperatorChar covers the single-character operators of the dialect.
func isOperatorChar(c byte) bool {
	return strings.IndexByte("+-*/=<>!%|&^~?", c) >= 0
}
