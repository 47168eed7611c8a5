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
	"fmt"
	"slices"
	"sort"
)

// Toolset is a named group of tools exposed together to a client.
type Toolset struct {
	Name        string   `yaml:"name" json:"name"`
	Title       string   `yaml:"title" json:"title,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Tools       []string `yaml:"tools" json:"tools"`
}

// ToolsetConfigs maps toolset name to its declaration.
type ToolsetConfigs map[string]Toolset

func (c *ToolsetConfigs) UnmarshalYAML(unmarshal func(any) error) error {
	*c = make(ToolsetConfigs)

	var raw map[string]struct {
		Title       string   `yaml:"title"`
		Description string   `yaml:"description"`
		Tools       []string `yaml:"tools"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	for name, ts := range raw {
		(*c)[name] = Toolset{Name: name, Title: ts.Title, Description: ts.Description, Tools: ts.Tools}
	}
	return nil
}

// Initialize validates that every declared tool name exists.
func (t Toolset) Initialize(toolsMap map[string]Tool) (Toolset, error) {
	for _, name := range t.Tools {
		if _, exists := toolsMap[name]; !exists {
			return t, fmt.Errorf("toolset %q references unknown tool %q", t.Name, name)
		}
	}
	return t, nil
}

// ToolsetStats summarizes the toolset topology for the diagnostics endpoint.
type ToolsetStats struct {
	TotalToolsets int `json:"totalToolsets"`
	TotalTools    int `json:"totalTools"`
	// MultiToolsetTools counts tools referenced by more than one toolset.
	MultiToolsetTools int            `json:"multiToolsetTools"`
	ToolsetCounts     map[string]int `json:"toolsetCounts"`
}

// ToolsetManager answers membership queries over the validated toolsets. The
// empty toolset name addresses every registered tool.
type ToolsetManager struct {
	toolsets map[string]Toolset
	// toolsetsByTool is the reverse index, built once at initialization.
	toolsetsByTool map[string][]string
	allTools       []string
}

// NewToolsetManager validates the configs against the registered tools and
// builds the membership indexes. Global tools are appended to every declared
// toolset's effective membership (a derived relation, never persisted back to
// config). Tools that no toolset references remain reachable through the
// empty toolset.
func NewToolsetManager(configs ToolsetConfigs, toolsMap map[string]Tool, globalTools []string) (*ToolsetManager, error) {
	for _, g := range globalTools {
		if _, ok := toolsMap[g]; !ok {
			return nil, fmt.Errorf("global tool %q is not a registered tool", g)
		}
	}
	m := &ToolsetManager{
		toolsets:       make(map[string]Toolset, len(configs)+1),
		toolsetsByTool: make(map[string][]string),
	}
	for name, ts := range configs {
		validated, err := ts.Initialize(toolsMap)
		if err != nil {
			return nil, err
		}
		for _, g := range globalTools {
			if !slices.Contains(validated.Tools, g) {
				validated.Tools = append(validated.Tools, g)
			}
		}
		m.toolsets[name] = validated
		for _, toolName := range validated.Tools {
			m.toolsetsByTool[toolName] = append(m.toolsetsByTool[toolName], name)
		}
	}

	m.allTools = make([]string, 0, len(toolsMap))
	for name := range toolsMap {
		m.allTools = append(m.allTools, name)
	}
	sort.Strings(m.allTools)
	m.toolsets[""] = Toolset{Name: "", Tools: m.allTools}

	for _, names := range m.toolsetsByTool {
		sort.Strings(names)
	}
	return m, nil
}

// Toolset returns the named toolset; the empty name returns all tools.
func (m *ToolsetManager) Toolset(name string) (Toolset, bool) {
	ts, ok := m.toolsets[name]
	return ts, ok
}

// ToolsInToolset returns the tool names of a toolset in declaration order.
func (m *ToolsetManager) ToolsInToolset(name string) ([]string, error) {
	ts, ok := m.toolsets[name]
	if !ok {
		return nil, fmt.Errorf("toolset %q does not exist", name)
	}
	return slices.Clone(ts.Tools), nil
}

// ToolsetsForTool returns the names of every toolset containing the tool.
func (m *ToolsetManager) ToolsetsForTool(toolName string) []string {
	return slices.Clone(m.toolsetsByTool[toolName])
}

// IsToolInToolset reports membership; every tool is in the empty toolset.
func (m *ToolsetManager) IsToolInToolset(toolName, toolsetName string) bool {
	if toolsetName == "" {
		return slices.Contains(m.allTools, toolName)
	}
	return slices.Contains(m.toolsetsByTool[toolName], toolsetName)
}

// Names returns the declared toolset names, sorted, excluding the implicit
// empty toolset.
func (m *ToolsetManager) Names() []string {
	names := make([]string, 0, len(m.toolsets)-1)
	for name := range m.toolsets {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stats reports toolset topology counts.
func (m *ToolsetManager) Stats() ToolsetStats {
	multi := 0
	for _, tool := range m.allTools {
		if len(m.toolsetsByTool[tool]) > 1 {
			multi++
		}
	}
	counts := make(map[string]int, len(m.toolsets)-1)
	for name, ts := range m.toolsets {
		if name != "" {
			counts[name] = len(ts.Tools)
		}
	}
	return ToolsetStats{
		TotalToolsets:     len(m.toolsets) - 1,
		TotalTools:        len(m.allTools),
		MultiToolsetTools: multi,
		ToolsetCounts:     counts,
	}
}

// Filter restricts the manager to the named toolsets, typically from the
// --toolsets flag. Tools only reachable through excluded toolsets drop out of
// the implicit empty toolset as well.
func (m *ToolsetManager) Filter(names []string) (*ToolsetManager, error) {
	if len(names) == 0 {
		return m, nil
	}
	kept := make(map[string]Toolset, len(names))
	keptTools := make(map[string]struct{})
	for _, name := range names {
		ts, ok := m.toolsets[name]
		if !ok {
			return nil, fmt.Errorf("toolset %q does not exist", name)
		}
		kept[name] = ts
		for _, tool := range ts.Tools {
			keptTools[tool] = struct{}{}
		}
	}

	out := &ToolsetManager{
		toolsets:       kept,
		toolsetsByTool: make(map[string][]string),
	}
	for name, ts := range kept {
		for _, tool := range ts.Tools {
			out.toolsetsByTool[tool] = append(out.toolsetsByTool[tool], name)
		}
	}
	out.allTools = make([]string, 0, len(keptTools))
	for tool := range keptTools {
		out.allTools = append(out.allTools, tool)
	}
	sort.Strings(out.allTools)
	out.toolsets[""] = Toolset{Name: "", Tools: out.allTools}
	for _, ns := range out.toolsetsByTool {
		sort.Strings(ns)
	}
	return out, nil
}
