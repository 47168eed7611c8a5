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
	"strings"

	"github.com/ibmi-community/db2i-mcp-server/internal/db2ipool"
)

// ResultColumn describes one column of a tool result.
type ResultColumn struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

// ResultMetadata carries the column descriptors of a tool result.
type ResultMetadata struct {
	Columns []ResultColumn `json:"columns"`
}

// ToolResult is the typed output object every tool invocation returns. It is
// serialized verbatim as the MCP structuredContent and summarized by
// ResultText for the text content.
type ToolResult struct {
	Success       bool             `json:"success"`
	Data          []map[string]any `json:"data"`
	RowCount      int              `json:"rowCount"`
	ExecutionTime float64          `json:"executionTime"`
	Metadata      ResultMetadata   `json:"metadata"`
	Error         string           `json:"error,omitempty"`
}

// ResultFromQuery maps the pool execution contract onto the tool output
// schema.
func ResultFromQuery(res *db2ipool.QueryResult) *ToolResult {
	cols := make([]ResultColumn, len(res.Metadata.Columns))
	for i, c := range res.Metadata.Columns {
		cols[i] = ResultColumn{Name: c.Name, Type: c.Type, Label: c.Label}
	}
	return &ToolResult{
		Success:       res.Success,
		Data:          res.Data,
		RowCount:      len(res.Data),
		ExecutionTime: res.ExecutionTime,
		Metadata:      ResultMetadata{Columns: cols},
	}
}

// ResultTextRows caps how many rows ResultText renders as JSON.
const ResultTextRows = 50

// ResultText renders the human-readable representation of a result: a
// one-line summary followed by pretty JSON of the first rows.
func ResultText(res *ToolResult) string {
	var b strings.Builder
	if res.RowCount == 1 {
		fmt.Fprintf(&b, "Query returned 1 row in %.1f ms.", res.ExecutionTime)
	} else {
		fmt.Fprintf(&b, "Query returned %d rows in %.1f ms.", res.RowCount, res.ExecutionTime)
	}
	if len(res.Data) == 0 {
		return b.String()
	}

	rows := res.Data
	truncated := false
	if len(rows) > ResultTextRows {
		rows = rows[:ResultTextRows]
		truncated = true
	}
	rendered, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return b.String()
	}
	b.WriteString("\n")
	b.Write(rendered)
	if truncated {
		fmt.Fprintf(&b, "\n… %d more rows omitted.", res.RowCount-ResultTextRows)
	}
	return b.String()
}
