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

// Package auth issues and validates the opaque bearer tokens that bind an
// MCP client to a per-session Db2 for i connection pool, and decrypts the
// credential envelopes clients post to the auth endpoint.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

const (
	// MaxSessionDuration is the ceiling on a requested session lifetime.
	MaxSessionDuration = 24 * time.Hour
	// DefaultSessionDuration applies when a request omits duration.
	DefaultSessionDuration = time.Hour
	// DefaultMaxSessions caps concurrent sessions per process.
	DefaultMaxSessions = 100
	// tokenBytes is the entropy of an issued token (hex-encoded on the wire).
	tokenBytes = 32
)

// Session pairs an issued token with the credentials and lifetime it stands
// for. The password is held only long enough to open the session pool.
type Session struct {
	Token     string
	User      string
	Host      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PoolRemover lets the expiry reaper cascade into the authenticated pool
// manager without importing it.
type PoolRemover interface {
	RemovePool(token string)
}

// TokenManager keeps session state in memory and enforces the concurrent
// session ceiling.
type TokenManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	pools       PoolRemover
	now         func() time.Time
}

// NewTokenManager returns a manager admitting up to maxSessions concurrent
// sessions; zero or negative selects the default ceiling.
func NewTokenManager(maxSessions int) *TokenManager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &TokenManager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// SetPoolRemover wires the reaper's cascade target. Called once at startup.
func (tm *TokenManager) SetPoolRemover(r PoolRemover) {
	tm.pools = r
}

// CanCreateNewSession reports whether the ceiling admits another session.
// Expired-but-unreaped sessions do not count against the ceiling.
func (tm *TokenManager) CanCreateNewSession() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.liveCountLocked() < tm.maxSessions
}

func (tm *TokenManager) liveCountLocked() int {
	now := tm.now()
	live := 0
	for _, s := range tm.sessions {
		if s.ExpiresAt.After(now) {
			live++
		}
	}
	return live
}

// CreateSession issues a token for the user/host pair. Duration must be in
// (0, 24h]; zero selects the default.
func (tm *TokenManager) CreateSession(user, host string, duration time.Duration) (*Session, error) {
	if duration == 0 {
		duration = DefaultSessionDuration
	}
	if duration < 0 || duration > MaxSessionDuration {
		return nil, util.NewValidationError(
			fmt.Sprintf("session duration must be in (0, %s], got %s", MaxSessionDuration, duration), nil)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.liveCountLocked() >= tm.maxSessions {
		return nil, util.NewRateLimitedError(
			fmt.Sprintf("concurrent session limit %d reached", tm.maxSessions),
			map[string]any{"limit": tm.maxSessions},
		)
	}

	token, err := newToken()
	if err != nil {
		return nil, util.NewInternalError("unable to generate session token", err)
	}
	now := tm.now()
	s := &Session{
		Token:     token,
		User:      user,
		Host:      host,
		IssuedAt:  now,
		ExpiresAt: now.Add(duration),
	}
	tm.sessions[token] = s
	return s, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ValidateToken checks presence and expiry, returning the session's user and
// host for logging. Implements the pool manager's TokenValidator.
func (tm *TokenManager) ValidateToken(token string) (string, string, error) {
	if token == "" {
		return "", "", util.NewUnauthorizedError("missing bearer token")
	}
	tm.mu.RLock()
	s, ok := tm.sessions[token]
	tm.mu.RUnlock()
	if !ok {
		return "", "", util.NewUnauthorizedError("unknown bearer token")
	}
	if !s.ExpiresAt.After(tm.now()) {
		return "", "", util.NewUnauthorizedError("bearer token expired")
	}
	return s.User, s.Host, nil
}

// RevokeSession forgets the token and closes its pool.
func (tm *TokenManager) RevokeSession(token string) {
	tm.mu.Lock()
	_, ok := tm.sessions[token]
	delete(tm.sessions, token)
	tm.mu.Unlock()
	if ok && tm.pools != nil {
		tm.pools.RemovePool(token)
	}
}

// ReapExpired removes expired sessions and cascades to the pool manager.
// Returns the number of sessions removed.
func (tm *TokenManager) ReapExpired() int {
	now := tm.now()
	var expired []string
	tm.mu.Lock()
	for token, s := range tm.sessions {
		if !s.ExpiresAt.After(now) {
			delete(tm.sessions, token)
			expired = append(expired, token)
		}
	}
	tm.mu.Unlock()

	if tm.pools != nil {
		for _, token := range expired {
			tm.pools.RemovePool(token)
		}
	}
	return len(expired)
}

// StartReaper runs ReapExpired on the interval until ctx ends.
func (tm *TokenManager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := tm.ReapExpired(); n > 0 {
					if logger, err := util.LoggerFromContext(ctx); err == nil {
						logger.DebugContext(ctx, fmt.Sprintf("reaped %d expired sessions", n))
					}
				}
			}
		}
	}()
}

// ActiveSessions counts unexpired sessions.
func (tm *TokenManager) ActiveSessions() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.liveCountLocked()
}
