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

// Package mcp defines the JSON-RPC 2.0 message frames and the Model Context
// Protocol request/result payloads the server speaks.
package mcp

const JSONRPC_VERSION = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	PARSE_ERROR      = -32700
	INVALID_REQUEST  = -32600
	METHOD_NOT_FOUND = -32601
	INVALID_PARAMS   = -32602
	INTERNAL_ERROR   = -32603
)

// RequestId is either a string or an integer per the JSON-RPC spec.
type RequestId any

// JSONRPCMessage is any frame the server can send back.
type JSONRPCMessage any

type JSONRPCRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id,omitempty"`
	Method  string    `json:"method"`
}

type JSONRPCNotification struct {
	Jsonrpc string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id,omitempty"`
	Result  any       `json:"result"`
}

type JSONRPCError struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id,omitempty"`
	Error   McpError  `json:"error"`
}

// McpError is the error member of a JSON-RPC error frame.
type McpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError builds an error frame for the given request id.
func NewError(id RequestId, code int, message string, data any) JSONRPCError {
	return JSONRPCError{
		Jsonrpc: JSONRPC_VERSION,
		Id:      id,
		Error: McpError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// NewResponse builds a result frame for the given request id.
func NewResponse(id RequestId, result any) JSONRPCResponse {
	return JSONRPCResponse{
		Jsonrpc: JSONRPC_VERSION,
		Id:      id,
		Result:  result,
	}
}
