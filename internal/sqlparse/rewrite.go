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
	"strings"
)

// ParamMode describes which placeholder style a statement uses.
type ParamMode string

const (
	ModeNamed      ParamMode = "named"
	ModePositional ParamMode = "positional"
	ModeHybrid     ParamMode = "hybrid"
	ModeNone       ParamMode = "none"
)

// DetectParamMode tokenizes sql and reports its placeholder style. Named
// parameters inside string literals do not count.
func DetectParamMode(sql string) (ParamMode, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return ModeNone, err
	}
	named, positional := false, false
	for _, t := range tokens {
		switch {
		case t.Type == TokenNamedParam:
			named = true
		case t.Type == TokenOperator && t.Value == "?":
			positional = true
		}
	}
	switch {
	case named && positional:
		return ModeHybrid, nil
	case named:
		return ModeNamed, nil
	case positional:
		return ModePositional, nil
	}
	return ModeNone, nil
}

// RewriteResult is the outcome of a named-parameter rewrite.
type RewriteResult struct {
	SQL     string
	Params  []any
	Names   []string
	Missing []string
}

// RewriteNamedParams walks :name occurrences in textual order and rewrites
// each into driver placeholders: a scalar value becomes a single ?, an array
// value of length k becomes (?, ?, ... k times) with all items appended in
// order. Duplicate occurrences bind the same logical value at each site.
// Occurrences inside string literals are left untouched (they never lex as
// named parameters). Names absent from values are reported in Missing and
// their placeholder is left in the rewritten SQL.
func RewriteNamedParams(sql string, values map[string]any) (*RewriteResult, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return nil, err
	}

	res := &RewriteResult{}
	missing := map[string]struct{}{}
	var sb strings.Builder
	last := 0
	for i, t := range tokens {
		if t.Type != TokenNamedParam {
			continue
		}
		name := t.Value[1:] // strip leading colon
		res.Names = append(res.Names, name)
		v, ok := values[name]
		if !ok {
			if _, seen := missing[name]; !seen {
				missing[name] = struct{}{}
				res.Missing = append(res.Missing, name)
			}
			continue
		}
		sb.WriteString(sql[last:t.Pos])
		last = t.Pos + len(t.Value)
		// An array occurrence written as "(:ids)" is already bracketed;
		// emit a bare placeholder list instead of nesting brackets.
		bracketed := i > 0 && i+1 < len(tokens) &&
			tokens[i-1].Type == TokenOpenBracket &&
			tokens[i+1].Type == TokenCloseBracket
		switch arr := v.(type) {
		case []any:
			sb.WriteString(expandArray(len(arr), bracketed))
			res.Params = append(res.Params, arr...)
		case []string:
			sb.WriteString(expandArray(len(arr), bracketed))
			for _, item := range arr {
				res.Params = append(res.Params, item)
			}
		case []int:
			sb.WriteString(expandArray(len(arr), bracketed))
			for _, item := range arr {
				res.Params = append(res.Params, item)
			}
		case []float64:
			sb.WriteString(expandArray(len(arr), bracketed))
			for _, item := range arr {
				res.Params = append(res.Params, item)
			}
		default:
			sb.WriteString("?")
			res.Params = append(res.Params, v)
		}
	}
	sb.WriteString(sql[last:])
	res.SQL = sb.String()
	return res, nil
}

// expandArray renders the placeholder list for an array of length k,
// e.g. "(?, ?, ?)", or the bare "?, ?, ?" when the call site is already
// bracketed. A zero-length array renders as NULL so the enclosing IN
// predicate stays syntactically valid and matches nothing.
func expandArray(k int, bracketed bool) string {
	if k == 0 {
		if bracketed {
			return "NULL"
		}
		return "(NULL)"
	}
	var sb strings.Builder
	if !bracketed {
		sb.WriteByte('(')
	}
	for i := 0; i < k; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('?')
	}
	if !bracketed {
		sb.WriteByte(')')
	}
	return sb.String()
}

// CountPositional returns the number of ? markers outside string literals.
func CountPositional(sql string) (int, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tokens {
		if t.Type == TokenOperator && t.Value == "?" {
			n++
		}
	}
	return n, nil
}
