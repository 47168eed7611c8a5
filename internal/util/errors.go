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
package util

import (
	"errors"
	"fmt"
)

// ErrorCode is a JSON-RPC compatible integer error code.
type ErrorCode int

const (
	CodeInvalidRequest       ErrorCode = -32600
	CodeMethodNotFound       ErrorCode = -32601
	CodeInvalidParams        ErrorCode = -32602
	CodeInternalError        ErrorCode = -32603
	CodeValidationError      ErrorCode = -32001
	CodeConfigurationError   ErrorCode = -32002
	CodeInitializationFailed ErrorCode = -32003
	CodeUnauthorized         ErrorCode = -32004
	CodeRateLimited          ErrorCode = -32005
	CodeDatabaseError        ErrorCode = -32006
)

// ServerError is the error type surfaced across layer boundaries. It pairs a
// JSON-RPC code with a message and an optional structured details object.
type ServerError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Cause   error
}

func (e *ServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ServerError) Unwrap() error { return e.Cause }

// NewValidationError reports a parameter validation or SQL policy violation.
func NewValidationError(msg string, details map[string]any) *ServerError {
	return &ServerError{Code: CodeValidationError, Message: msg, Details: details}
}

// NewInvalidRequestError reports a malformed request body or missing field.
func NewInvalidRequestError(msg string) *ServerError {
	return &ServerError{Code: CodeInvalidRequest, Message: msg}
}

// NewConfigurationError reports missing or malformed YAML or environment config.
func NewConfigurationError(msg string, cause error) *ServerError {
	return &ServerError{Code: CodeConfigurationError, Message: msg, Cause: cause}
}

// NewInitializationFailedError reports a pool or server startup failure.
func NewInitializationFailedError(msg string, cause error) *ServerError {
	return &ServerError{Code: CodeInitializationFailed, Message: msg, Cause: cause}
}

// NewUnauthorizedError reports an invalid or expired bearer token.
func NewUnauthorizedError(msg string) *ServerError {
	return &ServerError{Code: CodeUnauthorized, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool or a disabled feature.
func NewMethodNotFoundError(msg string) *ServerError {
	return &ServerError{Code: CodeMethodNotFound, Message: msg}
}

// NewRateLimitedError reports an exhausted rate-limit window.
func NewRateLimitedError(msg string, details map[string]any) *ServerError {
	return &ServerError{Code: CodeRateLimited, Message: msg, Details: details}
}

// NewDatabaseError reports a driver failure during execute.
func NewDatabaseError(msg string, sql string, cause error) *ServerError {
	return &ServerError{
		Code:    CodeDatabaseError,
		Message: msg,
		Details: map[string]any{"sql": sql, "originalError": fmt.Sprint(cause)},
		Cause:   cause,
	}
}

// NewInternalError wraps an unexpected failure, preserving the original.
func NewInternalError(msg string, cause error) *ServerError {
	return &ServerError{Code: CodeInternalError, Message: msg, Cause: cause}
}

// AsServerError returns err as a *ServerError, wrapping unknown errors into an
// internal error so the response envelope is always well formed.
func AsServerError(err error) *ServerError {
	var se *ServerError
	if errors.As(err, &se) {
		return se
	}
	return NewInternalError(err.Error(), err)
}
