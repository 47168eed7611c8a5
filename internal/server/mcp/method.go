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

package mcp

import (
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
)

func Initialize(version string) InitializeResult {
	toolsListChanged := false
	result := InitializeResult{
		ProtocolVersion: LATEST_PROTOCOL_VERSION,
		Capabilities: ServerCapabilities{
			Tools: &ListChanged{
				ListChanged: &toolsListChanged,
			},
			Resources: &ListChanged{},
			Logging:   map[string]any{},
		},
		ServerInfo: Implementation{
			Name:    SERVER_NAME,
			Version: version,
		},
	}
	return result
}

// ToolsList returns a ListToolsResult for the given manifests.
func ToolsList(manifests []tools.McpManifest) ListToolsResult {
	return ListToolsResult{Tools: manifests}
}

// ToolCallSuccess pairs the structured result with its text rendering.
func ToolCallSuccess(res *tools.ToolResult) CallToolResult {
	return CallToolResult{
		Content:           []TextContent{NewTextContent(tools.ResultText(res))},
		StructuredContent: res,
	}
}

// ToolCallError shapes a failed invocation. The response is well formed
// either way: text content with the message, structured content with the
// code/message/details object.
func ToolCallError(code int, message string, details any) CallToolResult {
	return CallToolResult{
		Content: []TextContent{NewTextContent(message)},
		StructuredContent: map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
		IsError: true,
	}
}
