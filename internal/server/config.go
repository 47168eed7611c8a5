// Copyright 2025 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

type ServerConfig struct {
	// Server version
	Version string
	// Address is the address of the interface the server will listen on.
	Address string
	// Port is the port the server will listen on.
	Port int
	// SourceConfigs defines what Db2 for i endpoints are available for tools.
	SourceConfigs SourceConfigs
	// ToolConfigs defines what tools are available.
	ToolConfigs ToolConfigs
	// ToolsetConfigs defines the named tool bundles.
	ToolsetConfigs tools.ToolsetConfigs
	// GlobalTools are appended to every toolset's effective membership.
	GlobalTools []string
	// ToolsetFilter restricts registration to the named toolsets.
	ToolsetFilter []string
	// LoggingFormat defines whether structured loggings are used.
	LoggingFormat logFormat
	// LogLevel defines the levels to log.
	LogLevel StringLevel
	// TelemetryOTLP defines OTLP collector url for telemetry exports.
	TelemetryOTLP string
	// TelemetryServiceName defines the value of service.name resource attribute.
	TelemetryServiceName string
	// Stdio indicates the server speaks MCP over stdin/stdout.
	Stdio bool
	// DisableReload disables dynamic config reloading.
	DisableReload bool
}

type logFormat string

// String is used by both fmt.Print and by Cobra in help text
func (f *logFormat) String() string {
	if string(*f) != "" {
		return strings.ToLower(string(*f))
	}
	return "standard"
}

// validate logging format flag
func (f *logFormat) Set(v string) error {
	switch strings.ToLower(v) {
	case "standard", "json":
		*f = logFormat(v)
		return nil
	default:
		return fmt.Errorf(`log format must be one of "standard", or "json"`)
	}
}

// Type is used in Cobra help text
func (f *logFormat) Type() string {
	return "logFormat"
}

type StringLevel string

// String is used by both fmt.Print and by Cobra in help text
func (s *StringLevel) String() string {
	if string(*s) != "" {
		return strings.ToLower(string(*s))
	}
	return "info"
}

// validate log level flag
func (s *StringLevel) Set(v string) error {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		*s = StringLevel(v)
		return nil
	default:
		return fmt.Errorf(`log level must be one of "debug", "info", "warn", or "error"`)
	}
}

// Type is used in Cobra help text
func (s *StringLevel) Type() string {
	return "stringLevel"
}

// SourceConfigs is a type used to allow unmarshal of the data source config map
type SourceConfigs map[string]sources.SourceConfig

// ToolConfigs is a type used to allow unmarshal of the tool configs
type ToolConfigs map[string]tools.ToolConfig

// ParsingResult holds everything one config load produced, along with every
// validation error encountered. A bad tool entry does not abort the load;
// callers inspect Err to decide whether partial results are usable.
type ParsingResult struct {
	Sources     SourceConfigs
	Tools       ToolConfigs
	Toolsets    tools.ToolsetConfigs
	GlobalTools []string
	Errors      []error
}

// Err joins the collected errors, or returns nil when the load was clean.
func (r *ParsingResult) Err() error {
	return errors.Join(r.Errors...)
}

// rawConfig is the top-level YAML document shape.
type rawConfig struct {
	Sources     map[string]map[string]any `yaml:"sources"`
	Tools       map[string]map[string]any `yaml:"tools"`
	Toolsets    tools.ToolsetConfigs      `yaml:"toolsets"`
	GlobalTools []string                  `yaml:"globalTools"`
}

// UnmarshalResourceConfig parses one YAML document. ${VAR} references are
// interpolated against the process environment first; unresolved references
// pass through literally. Toolset-to-tool resolution is deferred to server
// construction because a toolset may name tools from another file.
func UnmarshalResourceConfig(ctx context.Context, raw []byte) *ParsingResult {
	res := &ParsingResult{
		Sources:  make(SourceConfigs),
		Tools:    make(ToolConfigs),
		Toolsets: make(tools.ToolsetConfigs),
	}

	interpolated := util.InterpolateEnv(ctx, raw)
	var doc rawConfig
	if err := yaml.UnmarshalContext(ctx, interpolated, &doc); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("unable to parse config: %w", err))
		return res
	}

	for _, name := range sortedKeys(doc.Sources) {
		c, err := unmarshalSourceConfig(ctx, name, doc.Sources[name])
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Sources[name] = c
	}

	for _, name := range sortedKeys(doc.Tools) {
		entry := doc.Tools[name]
		if enabled, ok := entry["enabled"].(bool); ok && !enabled {
			if logger, err := util.LoggerFromContext(ctx); err == nil {
				logger.DebugContext(ctx, fmt.Sprintf("tool %q is disabled, skipping", name))
			}
			continue
		}
		c, err := unmarshalToolConfig(ctx, name, entry)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Tools[name] = c
	}

	if doc.Toolsets != nil {
		res.Toolsets = doc.Toolsets
	}
	res.GlobalTools = doc.GlobalTools
	return res
}

// LoadResourceConfigs reads and merges multiple config files. Duplicate
// source, tool, or toolset names across files are errors.
func LoadResourceConfigs(ctx context.Context, paths []string) *ParsingResult {
	merged := &ParsingResult{
		Sources:  make(SourceConfigs),
		Tools:    make(ToolConfigs),
		Toolsets: make(tools.ToolsetConfigs),
	}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			merged.Errors = append(merged.Errors, fmt.Errorf("unable to read config %q: %w", path, err))
			continue
		}
		part := UnmarshalResourceConfig(ctx, raw)
		for _, err := range part.Errors {
			merged.Errors = append(merged.Errors, fmt.Errorf("%s: %w", path, err))
		}
		for name, c := range part.Sources {
			if _, exists := merged.Sources[name]; exists {
				merged.Errors = append(merged.Errors, fmt.Errorf("%s: duplicate source %q", path, name))
				continue
			}
			merged.Sources[name] = c
		}
		for name, c := range part.Tools {
			if _, exists := merged.Tools[name]; exists {
				merged.Errors = append(merged.Errors, fmt.Errorf("%s: duplicate tool %q", path, name))
				continue
			}
			merged.Tools[name] = c
		}
		for name, ts := range part.Toolsets {
			if _, exists := merged.Toolsets[name]; exists {
				merged.Errors = append(merged.Errors, fmt.Errorf("%s: duplicate toolset %q", path, name))
				continue
			}
			merged.Toolsets[name] = ts
		}
		for _, g := range part.GlobalTools {
			if !slices.Contains(merged.GlobalTools, g) {
				merged.GlobalTools = append(merged.GlobalTools, g)
			}
		}
	}
	return merged
}

func unmarshalSourceConfig(ctx context.Context, name string, r map[string]any) (sources.SourceConfig, error) {
	kind, ok := r["kind"].(string)
	if !ok {
		return nil, fmt.Errorf("source %q is missing 'kind' field or it is not a string", name)
	}
	dec, err := util.NewStrictDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("error creating decoder for source %q: %w", name, err)
	}
	return sources.DecodeConfig(ctx, kind, name, dec)
}

func unmarshalToolConfig(ctx context.Context, name string, r map[string]any) (tools.ToolConfig, error) {
	kind, ok := r["kind"].(string)
	if !ok {
		return nil, fmt.Errorf("tool %q is missing 'kind' field or it is not a string", name)
	}
	dec, err := util.NewStrictDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("error creating decoder for tool %q: %w", name, err)
	}
	return tools.DecodeConfig(ctx, kind, name, dec)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
