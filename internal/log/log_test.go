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

package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ibmi-community/db2i-mcp-server/internal/log"
)

func TestStructuredLoggerRequestID(t *testing.T) {
	var out, errW bytes.Buffer
	logger, err := log.NewLogger("json", "info", &out, &errW)
	if err != nil {
		t.Fatalf("logger: %s", err)
	}

	ctx := log.WithRequestID(context.Background(), "req-12345-abcde")
	logger.InfoContext(ctx, "query started")

	var record map[string]any
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("record is not JSON: %s: %q", err, out.String())
	}
	if got := record["request_id"]; got != "req-12345-abcde" {
		t.Fatalf("request_id = %v, want req-12345-abcde", got)
	}
}

func TestStructuredLoggerWithoutRequestID(t *testing.T) {
	var out, errW bytes.Buffer
	logger, err := log.NewLogger("json", "info", &out, &errW)
	if err != nil {
		t.Fatalf("logger: %s", err)
	}

	logger.InfoContext(context.Background(), "background work")

	var record map[string]any
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("record is not JSON: %s: %q", err, out.String())
	}
	if _, found := record["request_id"]; found {
		t.Fatalf("request_id present on untagged context: %q", out.String())
	}
}

func TestStdLoggerRequestID(t *testing.T) {
	var out, errW bytes.Buffer
	logger, err := log.NewLogger("standard", "info", &out, &errW)
	if err != nil {
		t.Fatalf("logger: %s", err)
	}

	ctx := log.WithRequestID(context.Background(), "req-67890-fghij")
	logger.WarnContext(ctx, "slow statement")

	if !strings.Contains(errW.String(), `request_id="req-67890-fghij"`) {
		t.Fatalf("line %q missing request id attribute", errW.String())
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	if got := log.RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("request id on empty context = %q, want empty", got)
	}
}
