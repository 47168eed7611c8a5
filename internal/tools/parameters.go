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

package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ibmi-community/db2i-mcp-server/internal/sqlparse"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeArray   = "array"
)

// parameterNamePattern restricts parameter names to SQL-host-variable-safe
// identifiers.
var parameterNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// templatePattern detects the retired {{...}} substitution syntax.
var templatePattern = regexp.MustCompile(`\{\{.*?\}\}`)

// Parameter declares one tool input: its type, whether it is required, and
// the constraints enforced before the value is bound to the statement.
type Parameter struct {
	Name        string `yaml:"name" validate:"required"`
	Type        string `yaml:"type" validate:"required"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`

	// String constraints.
	MinLength *int   `yaml:"minLength"`
	MaxLength *int   `yaml:"maxLength"`
	Pattern   string `yaml:"pattern"`

	// Numeric constraints.
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`

	// Enumerated values, compared after coercion.
	Enum []any `yaml:"enum"`

	// Array element type; defaults to string.
	ItemType string `yaml:"itemType"`

	pattern *regexp.Regexp
}

// Validate checks the declaration itself, not a value. Called once at config
// load so invocation-time processing can assume a well-formed declaration.
func (p *Parameter) Validate() error {
	if !parameterNamePattern.MatchString(p.Name) {
		return fmt.Errorf("invalid parameter name %q: must match %s", p.Name, parameterNamePattern.String())
	}
	switch p.Type {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean:
	case TypeArray:
		switch p.ItemType {
		case "", TypeString, TypeInteger, TypeFloat, TypeBoolean:
		default:
			return fmt.Errorf("parameter %q: unsupported itemType %q", p.Name, p.ItemType)
		}
	default:
		return fmt.Errorf("parameter %q: unsupported type %q", p.Name, p.Type)
	}
	if p.Pattern != "" {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("parameter %q: invalid pattern: %w", p.Name, err)
		}
		p.pattern = re
	}
	if p.Required && p.Default != nil {
		return fmt.Errorf("parameter %q: required parameters must not declare a default", p.Name)
	}
	return nil
}

// McpSchemaType maps a declared type onto its JSON Schema name.
func (p *Parameter) McpSchemaType() string {
	switch p.Type {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	default:
		return "string"
	}
}

// ParamValue is a single named value in declaration order.
type ParamValue struct {
	Name  string
	Value any
}

// ParamValues holds processed values ordered by parameter declaration.
type ParamValues []ParamValue

// AsMap returns the values keyed by parameter name.
func (p ParamValues) AsMap() map[string]any {
	m := make(map[string]any, len(p))
	for _, v := range p {
		m[v.Name] = v.Value
	}
	return m
}

// AsSlice returns the values in declaration order.
func (p ParamValues) AsSlice() []any {
	s := make([]any, len(p))
	for i, v := range p {
		s[i] = v.Value
	}
	return s
}

// ParameterManifest is the client-facing description of one parameter.
type ParameterManifest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// McpToolsSchema is the JSON Schema "object" describing a tool's input.
type McpToolsSchema struct {
	Type       string                   `json:"type"`
	Properties map[string]McpPropSchema `json:"properties"`
	Required   []string                 `json:"required,omitempty"`
}

// McpPropSchema is one property of the input schema.
type McpPropSchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []any    `json:"enum,omitempty"`
	Items       *McpItem `json:"items,omitempty"`
}

type McpItem struct {
	Type string `json:"type"`
}

// Manifests renders the declaration list for the native manifest endpoint.
func Manifests(params []Parameter) []ParameterManifest {
	out := make([]ParameterManifest, len(params))
	for i, p := range params {
		out[i] = ParameterManifest{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
			Default:     p.Default,
		}
	}
	return out
}

// McpSchema renders the JSON Schema for the MCP tools/list manifest.
func McpSchema(params []Parameter) McpToolsSchema {
	schema := McpToolsSchema{
		Type:       "object",
		Properties: make(map[string]McpPropSchema, len(params)),
	}
	for _, p := range params {
		prop := McpPropSchema{
			Type:        p.McpSchemaType(),
			Description: p.Description,
			Enum:        p.Enum,
		}
		if p.Type == TypeArray {
			itemType := p.ItemType
			if itemType == "" {
				itemType = TypeString
			}
			item := Parameter{Type: itemType}
			prop.Items = &McpItem{Type: item.McpSchemaType()}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

// ProcessResult carries the processed values plus non-fatal coercion warnings.
type ProcessResult struct {
	Values   ParamValues
	Warnings []string
}

// ProcessParameters validates and coerces raw client arguments against the
// declarations. All failures are aggregated into a single validation error so
// a client sees every problem at once. Missing optional values fall back to
// their declared default; parameters with neither value nor default are
// omitted from the result.
func ProcessParameters(params []Parameter, raw map[string]any) (*ProcessResult, error) {
	res := &ProcessResult{}
	var errs []string

	declared := make(map[string]struct{}, len(params))
	for i := range params {
		p := &params[i]
		declared[p.Name] = struct{}{}
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				errs = append(errs, fmt.Sprintf("parameter %q is required", p.Name))
				continue
			}
			if p.Default == nil {
				continue
			}
			v = p.Default
		}
		coerced, warning, err := coerceValue(p, v)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
		if err := checkConstraints(p, coerced); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		res.Values = append(res.Values, ParamValue{Name: p.Name, Value: coerced})
	}

	for name := range raw {
		if _, ok := declared[name]; !ok {
			errs = append(errs, fmt.Sprintf("unexpected parameter %q", name))
		}
	}

	if len(errs) > 0 {
		return nil, util.NewValidationError(
			fmt.Sprintf("parameter validation failed: %s", strings.Join(errs, "; ")),
			map[string]any{"errors": errs, "warnings": res.Warnings},
		)
	}
	return res, nil
}

// coerceValue converts v to the parameter's declared type. Mismatched input
// types succeed with a warning where the conversion is well defined: floats
// floor onto integer parameters, booleans bind as 0/1, and the usual boolean
// words parse. Anything ambiguous is an error.
func coerceValue(p *Parameter, v any) (any, string, error) {
	switch p.Type {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, "", nil
		case json.Number:
			return t.String(), coercionWarning(p.Name, "number", "string"), nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), coercionWarning(p.Name, "number", "string"), nil
		case int:
			return strconv.Itoa(t), coercionWarning(p.Name, "number", "string"), nil
		case int64:
			return strconv.FormatInt(t, 10), coercionWarning(p.Name, "number", "string"), nil
		case bool:
			return strconv.FormatBool(t), coercionWarning(p.Name, "boolean", "string"), nil
		}
	case TypeInteger:
		switch t := v.(type) {
		case int:
			return int64(t), "", nil
		case int64:
			return t, "", nil
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n, "", nil
			}
			if f, err := t.Float64(); err == nil {
				return int64(math.Floor(f)), coercionWarning(p.Name, "float", "integer"), nil
			}
			return nil, "", fmt.Errorf("parameter %q: value %q is not an integer", p.Name, t.String())
		case float64:
			if t == math.Trunc(t) {
				return int64(t), "", nil
			}
			return int64(math.Floor(t)), coercionWarning(p.Name, "float", "integer"), nil
		case bool:
			if t {
				return int64(1), coercionWarning(p.Name, "boolean", "integer"), nil
			}
			return int64(0), coercionWarning(p.Name, "boolean", "integer"), nil
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return n, coercionWarning(p.Name, "string", "integer"), nil
			}
			return nil, "", fmt.Errorf("parameter %q: value %q is not an integer", p.Name, t)
		}
	case TypeFloat:
		switch t := v.(type) {
		case float64:
			return t, "", nil
		case int:
			return float64(t), "", nil
		case int64:
			return float64(t), "", nil
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f, "", nil
			}
			return nil, "", fmt.Errorf("parameter %q: value %q is not a number", p.Name, t.String())
		case bool:
			if t {
				return float64(1), coercionWarning(p.Name, "boolean", "float"), nil
			}
			return float64(0), coercionWarning(p.Name, "boolean", "float"), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f, coercionWarning(p.Name, "string", "float"), nil
			}
			return nil, "", fmt.Errorf("parameter %q: value %q is not a number", p.Name, t)
		}
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, "", nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "1", "yes", "on":
				return true, coercionWarning(p.Name, "string", "boolean"), nil
			case "false", "0", "no", "off":
				return false, coercionWarning(p.Name, "string", "boolean"), nil
			}
			return nil, "", fmt.Errorf("parameter %q: value %q is not a boolean", p.Name, t)
		case json.Number:
			switch t.String() {
			case "1":
				return true, coercionWarning(p.Name, "number", "boolean"), nil
			case "0":
				return false, coercionWarning(p.Name, "number", "boolean"), nil
			}
		case float64:
			switch t {
			case 1:
				return true, coercionWarning(p.Name, "number", "boolean"), nil
			case 0:
				return false, coercionWarning(p.Name, "number", "boolean"), nil
			}
		case int:
			switch t {
			case 1:
				return true, coercionWarning(p.Name, "number", "boolean"), nil
			case 0:
				return false, coercionWarning(p.Name, "number", "boolean"), nil
			}
		}
	case TypeArray:
		items, ok := v.([]any)
		if !ok {
			return nil, "", fmt.Errorf("parameter %q: value is not an array", p.Name)
		}
		itemType := p.ItemType
		if itemType == "" {
			itemType = TypeString
		}
		elem := Parameter{Name: p.Name, Type: itemType}
		out := make([]any, len(items))
		var warning string
		for i, item := range items {
			coerced, w, err := coerceValue(&elem, item)
			if err != nil {
				return nil, "", fmt.Errorf("parameter %q: element %d: %w", p.Name, i, unwrapElementErr(err, p.Name))
			}
			if w != "" {
				warning = w
			}
			out[i] = coerced
		}
		return out, warning, nil
	}
	return nil, "", fmt.Errorf("parameter %q: cannot convert %T to %s", p.Name, v, p.Type)
}

// unwrapElementErr strips the redundant name prefix from nested element
// errors so array messages read "parameter "ids": element 1: value ...".
func unwrapElementErr(err error, name string) error {
	msg := strings.TrimPrefix(err.Error(), fmt.Sprintf("parameter %q: ", name))
	return fmt.Errorf("%s", msg)
}

func coercionWarning(name, from, to string) string {
	return fmt.Sprintf("parameter %q: coerced %s value to %s", name, from, to)
}

// checkConstraints applies the declaration's constraints to a coerced value.
func checkConstraints(p *Parameter, v any) error {
	switch p.Type {
	case TypeString:
		s := v.(string)
		if p.MinLength != nil && len(s) < *p.MinLength {
			return fmt.Errorf("parameter %q: length %d is below minimum %d", p.Name, len(s), *p.MinLength)
		}
		if p.MaxLength != nil && len(s) > *p.MaxLength {
			return fmt.Errorf("parameter %q: length %d exceeds maximum %d", p.Name, len(s), *p.MaxLength)
		}
		if p.Pattern != "" {
			re := p.pattern
			if re == nil {
				var err error
				re, err = regexp.Compile(p.Pattern)
				if err != nil {
					return fmt.Errorf("parameter %q: invalid pattern: %w", p.Name, err)
				}
			}
			if !re.MatchString(s) {
				return fmt.Errorf("parameter %q: value does not match pattern %s", p.Name, p.Pattern)
			}
		}
	case TypeInteger:
		n := v.(int64)
		if p.Min != nil && float64(n) < *p.Min {
			return fmt.Errorf("parameter %q: value %d is below minimum %v", p.Name, n, *p.Min)
		}
		if p.Max != nil && float64(n) > *p.Max {
			return fmt.Errorf("parameter %q: value %d exceeds maximum %v", p.Name, n, *p.Max)
		}
	case TypeFloat:
		f := v.(float64)
		if p.Min != nil && f < *p.Min {
			return fmt.Errorf("parameter %q: value %v is below minimum %v", p.Name, f, *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return fmt.Errorf("parameter %q: value %v exceeds maximum %v", p.Name, f, *p.Max)
		}
	case TypeArray:
		items := v.([]any)
		if p.MinLength != nil && len(items) < *p.MinLength {
			return fmt.Errorf("parameter %q: array length %d is below minimum %d", p.Name, len(items), *p.MinLength)
		}
		if p.MaxLength != nil && len(items) > *p.MaxLength {
			return fmt.Errorf("parameter %q: array length %d exceeds maximum %d", p.Name, len(items), *p.MaxLength)
		}
	}
	if len(p.Enum) > 0 {
		for _, allowed := range p.Enum {
			if enumEqual(v, allowed) {
				return nil
			}
		}
		return fmt.Errorf("parameter %q: value %v is not one of the allowed values", p.Name, v)
	}
	return nil
}

// enumEqual compares a coerced value against a YAML-decoded enum entry, which
// may carry a different concrete numeric type.
func enumEqual(v, allowed any) bool {
	if v == allowed {
		return true
	}
	return fmt.Sprint(v) == fmt.Sprint(allowed)
}

// BoundStatement is a statement rewritten to driver placeholders with its
// bind values in execution order. Missing lists named markers no value was
// supplied for; their :name placeholder stays in SQL and the database rejects
// the statement if it is ever executed as-is.
type BoundStatement struct {
	SQL     string
	Params  []any
	Missing []string
}

// SingleSlot reports whether the statement body is exactly one named marker
// referencing the tool's single declared parameter. In that case the
// parameter's string value becomes the runtime SQL itself, with no binds.
// This is how a raw-SQL tool accepts an arbitrary query.
func SingleSlot(sqlStr string, params []Parameter) (string, bool) {
	if len(params) != 1 {
		return "", false
	}
	if strings.TrimSpace(sqlStr) == ":"+params[0].Name {
		return params[0].Name, true
	}
	return "", false
}

// BindParams rewrites the statement's parameter markers against the processed
// values. Named markers bind by name; positional markers consume the
// remaining values in declaration order. Named markers with no value do not
// fail here: required parameters were already enforced during processing, so
// the leftovers are reported in Missing for the caller to warn about. The
// retired {{...}} template syntax is rejected outright.
func BindParams(sql string, values ParamValues) (*BoundStatement, error) {
	if templatePattern.MatchString(sql) {
		return nil, util.NewValidationError(
			"Template mode is deprecated; use :name or ? parameters",
			map[string]any{"statement": sql},
		)
	}

	mode, err := sqlparse.DetectParamMode(sql)
	if err != nil {
		return nil, util.NewValidationError(
			fmt.Sprintf("cannot parse statement parameters: %v", err), nil)
	}

	switch mode {
	case sqlparse.ModeNone:
		if len(values) > 0 {
			return nil, util.NewValidationError(
				fmt.Sprintf("statement has no parameter markers but %d values were supplied", len(values)), nil)
		}
		return &BoundStatement{SQL: sql}, nil

	case sqlparse.ModeNamed:
		rewritten, err := sqlparse.RewriteNamedParams(sql, values.AsMap())
		if err != nil {
			return nil, util.NewValidationError(
				fmt.Sprintf("named parameter rewrite failed: %v", err), nil)
		}
		return &BoundStatement{SQL: rewritten.SQL, Params: rewritten.Params, Missing: rewritten.Missing}, nil

	case sqlparse.ModePositional:
		n, err := sqlparse.CountPositional(sql)
		if err != nil {
			return nil, util.NewValidationError(
				fmt.Sprintf("cannot count positional markers: %v", err), nil)
		}
		if n != len(values) {
			return nil, util.NewValidationError(
				fmt.Sprintf("statement has %d positional markers but %d values were supplied", n, len(values)), nil)
		}
		return &BoundStatement{SQL: sql, Params: values.AsSlice()}, nil

	case sqlparse.ModeHybrid:
		return bindHybrid(sql, values)
	}
	return nil, util.NewInternalError(fmt.Sprintf("unknown parameter mode %q", mode), nil)
}

// bindHybrid resolves named markers first, then feeds the declared values not
// referenced by name into the positional markers in declaration order.
func bindHybrid(sql string, values ParamValues) (*BoundStatement, error) {
	rewritten, err := sqlparse.RewriteNamedParams(sql, values.AsMap())
	if err != nil {
		return nil, util.NewValidationError(
			fmt.Sprintf("named parameter rewrite failed: %v", err), nil)
	}

	named := make(map[string]struct{}, len(rewritten.Names))
	for _, n := range rewritten.Names {
		named[n] = struct{}{}
	}
	var positional []any
	for _, v := range values {
		if _, ok := named[v.Name]; !ok {
			positional = append(positional, v.Value)
		}
	}

	// The named rewrite leaves the original ? markers in place; they bind
	// after the named values at each marker position. Db2 drivers bind
	// strictly left to right, so interleave by walking the rewritten SQL.
	n, err := sqlparse.CountPositional(rewritten.SQL)
	if err != nil {
		return nil, util.NewValidationError(
			fmt.Sprintf("cannot count positional markers: %v", err), nil)
	}
	total := len(rewritten.Params) + len(positional)
	if n != total {
		return nil, util.NewValidationError(
			fmt.Sprintf("statement has %d markers but %d values were bound", n, total), nil)
	}
	return &BoundStatement{
		SQL:     rewritten.SQL,
		Params:  interleaveHybrid(sql, values.AsMap(), positional),
		Missing: rewritten.Missing,
	}, nil
}

// interleaveHybrid orders bind values to match marker positions in the
// original statement. Db2 drivers bind strictly left to right: each named
// site contributes its value (array sites contribute every element), each
// original ? consumes the next leftover declared value.
func interleaveHybrid(sql string, byName map[string]any, positional []any) []any {
	tokens, err := sqlparse.Tokenize(sql)
	if err != nil {
		// DetectParamMode already tokenized this statement.
		return positional
	}
	var out []any
	pi := 0
	for _, t := range tokens {
		switch {
		case t.Type == sqlparse.TokenNamedParam:
			v, ok := byName[t.Value[1:]]
			if !ok {
				continue
			}
			switch arr := v.(type) {
			case []any:
				out = append(out, arr...)
			default:
				out = append(out, v)
			}
		case t.Type == sqlparse.TokenOperator && t.Value == "?":
			if pi < len(positional) {
				out = append(out, positional[pi])
				pi++
			}
		}
	}
	return out
}
