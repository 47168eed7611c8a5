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

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ibmi-community/db2i-mcp-server/internal/auth"
	"github.com/ibmi-community/db2i-mcp-server/internal/db2ipool"
	"github.com/ibmi-community/db2i-mcp-server/internal/log"
	"github.com/ibmi-community/db2i-mcp-server/internal/telemetry"
	"github.com/ibmi-community/db2i-mcp-server/internal/tools"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// newAuthTestServer is newTestServer plus the session-auth stack, so the
// /api/v1/auth routes are mounted.
func newAuthTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	logger, err := log.NewLogger("standard", "error", io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("logger: %s", err)
	}
	instrumentation, err := telemetry.CreateTelemetryInstrumentation(fakeVersionString)
	if err != nil {
		t.Fatalf("instrumentation: %s", err)
	}
	manager, err := tools.NewToolsetManager(nil, nil, nil)
	if err != nil {
		t.Fatalf("toolsets: %s", err)
	}
	keyPair, err := auth.NewKeyPair()
	if err != nil {
		t.Fatalf("key pair: %s", err)
	}
	tokens := auth.NewTokenManager(auth.DefaultMaxSessions)

	s := &Server{
		version:         fakeVersionString,
		conf:            ServerConfig{Version: fakeVersionString, LoggingFormat: "standard", LogLevel: "error"},
		resources:       &resourceSnapshot{toolsets: manager},
		logger:          logger,
		instrumentation: instrumentation,
		tokens:          tokens,
		authPools:       db2ipool.NewAuthPoolManager(tokens),
		keyPair:         keyPair,
	}
	if err := s.setupRoutes(); err != nil {
		t.Fatalf("routes: %s", err)
	}

	ts := httptest.NewServer(s.root)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestAuthKeyEndpoint(t *testing.T) {
	t.Setenv("IBMI_AUTH_ALLOW_HTTP", "true")
	t.Setenv("ENVIRONMENT", "development")
	_, ts := newAuthTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/auth/key")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var key KeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		t.Fatalf("decode: %s", err)
	}
	if key.KeyID == "" {
		t.Error("keyId is empty")
	}
	if !strings.Contains(key.PublicKey, "PUBLIC KEY") {
		t.Errorf("publicKey = %q, want PEM block", key.PublicKey)
	}
}

func TestEnforceTLSRejectsPlainHTTP(t *testing.T) {
	t.Setenv("IBMI_AUTH_ALLOW_HTTP", "")
	_, ts := newAuthTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/auth/key")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestEnforceTLSAcceptsForwardedHTTPS(t *testing.T) {
	t.Setenv("IBMI_AUTH_ALLOW_HTTP", "")
	_, ts := newAuthTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/auth/key", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestAuthCreateRejectsBadEnvelope(t *testing.T) {
	_, ts := newAuthTestServer(t)

	body := `{"keyId":"nope","encryptedSessionKey":"QQ==","iv":"QQ==","authTag":"QQ==","ciphertext":"QQ=="}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode: %s", err)
	}
	if errBody["code"] != float64(util.CodeInvalidRequest) {
		t.Errorf("code = %v, want %d", errBody["code"], util.CodeInvalidRequest)
	}
}

func TestAuthRevokeWithoutTokenIsUnauthorized(t *testing.T) {
	_, ts := newAuthTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/auth", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}
