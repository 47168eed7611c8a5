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

const LATEST_PROTOCOL_VERSION = "2024-11-05"

const SERVER_NAME = "db2i-mcp-server"

type InitializeRequest struct {
	JSONRPCRequest
	Params InitializeParams `json:"params"`
}

type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

type ServerCapabilities struct {
	Tools     *ListChanged   `json:"tools,omitempty"`
	Resources *ListChanged   `json:"resources,omitempty"`
	Logging   map[string]any `json:"logging,omitempty"`
}

type ListChanged struct {
	ListChanged *bool `json:"listChanged,omitempty"`
}

type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ListToolsRequest struct {
	JSONRPCRequest
	Params struct {
		Cursor string `json:"cursor,omitempty"`
	} `json:"params,omitempty"`
}

type ListToolsResult struct {
	Tools []tools.McpManifest `json:"tools"`
}

type CallToolRequest struct {
	JSONRPCRequest
	Params CallToolParams `json:"params"`
}

type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult carries both representations of a tool result: the typed
// object in StructuredContent and a human-readable rendering in Content.
type CallToolResult struct {
	Content           []TextContent `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError,omitempty"`
}

type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextContent wraps text in the MCP content envelope.
func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}

type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type ListResourcesRequest struct {
	JSONRPCRequest
	Params struct {
		Cursor string `json:"cursor,omitempty"`
	} `json:"params,omitempty"`
}

type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

type ReadResourceRequest struct {
	JSONRPCRequest
	Params struct {
		URI string `json:"uri"`
	} `json:"params"`
}

// BlobResourceContents carries a base64-encoded payload per the MCP resource
// contract.
type BlobResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Blob     string `json:"blob"`
}

type ReadResourceResult struct {
	Contents []BlobResourceContents `json:"contents"`
}

type SetLevelRequest struct {
	JSONRPCRequest
	Params struct {
		Level string `json:"level"`
	} `json:"params"`
}
