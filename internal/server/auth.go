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
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ibmi-community/db2i-mcp-server/internal/auth"
	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// TokenResponse is the 201 body of a successful auth exchange.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   string `json:"expires_at"`
}

// KeyResponse is the public half of the envelope key pair.
type KeyResponse struct {
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
}

// enforceTLS rejects credential traffic over plaintext HTTP. The operator
// can allow it in development only.
func enforceTLS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
		allowHTTP := strings.EqualFold(os.Getenv("IBMI_AUTH_ALLOW_HTTP"), "true") && isDevelopment()
		if !secure && !allowHTTP {
			err := fmt.Errorf("credential endpoints require HTTPS; set IBMI_AUTH_ALLOW_HTTP=true in development to override")
			_ = render.Render(w, r, newErrResponse(err, http.StatusBadRequest))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authKeyHandler serves the public key clients encrypt credential envelopes
// against.
func authKeyHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	pem, err := s.keyPair.PublicKeyPEM()
	if err != nil {
		_ = render.Render(w, r, newErrResponse(err, http.StatusInternalServerError))
		return
	}
	render.JSON(w, r, KeyResponse{KeyID: s.keyPair.ID, PublicKey: pem})
}

// authCreateHandler exchanges an encrypted credential envelope for a bearer
// token backed by a fresh session pool. The pool must open before the token
// is usable; a failed connect rolls the session back.
func authCreateHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx, span := s.instrumentation.Tracer.Start(r.Context(), "db2i-mcp-server/server/auth/create")
	defer span.End()
	r = r.WithContext(ctx)

	var envelope auth.Envelope
	if err := util.DecodeJSON(r.Body, &envelope); err != nil {
		writeAuthError(s, w, r, util.NewInvalidRequestError(fmt.Sprintf("invalid request body: %s", err)))
		return
	}

	payload, err := s.keyPair.Decrypt(&envelope)
	if err != nil {
		writeAuthError(s, w, r, err)
		return
	}

	duration := time.Duration(payload.Request.DurationSeconds) * time.Second
	if duration == 0 {
		duration = tokenExpiry()
	}
	session, err := s.tokens.CreateSession(payload.Credentials.Username, payload.Request.Host, duration)
	if err != nil {
		writeAuthError(s, w, r, err)
		return
	}

	cfg := db2i.Config{
		Name:           "session",
		Kind:           db2i.SourceKind,
		Host:           payload.Request.Host,
		Port:           "8471",
		User:           payload.Credentials.Username,
		Password:       payload.Credentials.Password,
		Database:       "*LOCAL",
		PoolStartSize:  payload.Request.PoolStart,
		PoolMaxSize:    payload.Request.PoolMax,
		MaxRetries:     3,
		RetryBaseDelay: "500ms",
	}
	if err := s.authPools.CreatePool(ctx, session.Token, cfg); err != nil {
		s.tokens.RevokeSession(session.Token)
		writeAuthError(s, w, r, err)
		return
	}

	s.instrumentation.AuthIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("host", payload.Request.Host),
	))
	s.logdContext(ctx).InfoContext(ctx, fmt.Sprintf("issued session token %s for %s@%s",
		util.AnonymizeToken(session.Token), session.User, session.Host))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, TokenResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(session.ExpiresAt.Sub(session.IssuedAt).Seconds()),
		ExpiresAt:   session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// authRevokeHandler ends the caller's session and closes its pool.
func authRevokeHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	token := util.AuthTokenFromContext(r.Context())
	if token == "" {
		writeAuthError(s, w, r, util.NewUnauthorizedError("missing bearer token"))
		return
	}
	if _, _, err := s.tokens.ValidateToken(token); err != nil {
		writeAuthError(s, w, r, err)
		return
	}
	s.tokens.RevokeSession(token)
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthError maps a ServerError onto an HTTP status and JSON body.
func writeAuthError(s *Server, w http.ResponseWriter, r *http.Request, err error) {
	se := util.AsServerError(err)
	status := http.StatusInternalServerError
	switch se.Code {
	case util.CodeInvalidRequest, util.CodeValidationError:
		status = http.StatusBadRequest
	case util.CodeUnauthorized:
		status = http.StatusUnauthorized
	case util.CodeRateLimited:
		status = http.StatusTooManyRequests
	case util.CodeInitializationFailed, util.CodeDatabaseError:
		status = http.StatusBadGateway
	}
	s.Logger().WarnContext(r.Context(), fmt.Sprintf("auth request failed: %s", se.Message))
	render.Status(r, status)
	render.JSON(w, r, map[string]any{
		"code":    int(se.Code),
		"message": se.Message,
		"details": se.Details,
	})
}
