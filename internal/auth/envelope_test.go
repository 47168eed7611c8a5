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

package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// sealEnvelope builds a well-formed envelope the way a client would.
func sealEnvelope(t *testing.T, k *KeyPair, payload AuthPayload) *Envelope {
	t.Helper()
	plain, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %s", err)
	}

	sessionKey := make([]byte, 32)
	if _, err := rand.Read(sessionKey); err != nil {
		t.Fatalf("session key: %s", err)
	}
	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("iv: %s", err)
	}

	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		t.Fatalf("cipher: %s", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %s", err)
	}
	sealed := gcm.Seal(nil, iv, plain, nil)
	tagStart := len(sealed) - gcm.Overhead()

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &k.private.PublicKey, sessionKey, nil)
	if err != nil {
		t.Fatalf("wrap session key: %s", err)
	}

	enc := base64.StdEncoding.EncodeToString
	return &Envelope{
		KeyID:               k.ID,
		EncryptedSessionKey: enc(wrapped),
		IV:                  enc(iv),
		AuthTag:             enc(sealed[tagStart:]),
		Ciphertext:          enc(sealed[:tagStart]),
	}
}

func testPayload() AuthPayload {
	return AuthPayload{
		Credentials: IBMiCredentials{Username: "TESTUSER", Password: "secret"},
		Request:     SessionRequest{Host: "pub400.com", DurationSeconds: 3600, PoolStart: 2, PoolMax: 10},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	k, err := NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %s", err)
	}
	e := sealEnvelope(t, k, testPayload())

	got, err := k.Decrypt(e)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got.Credentials.Username != "TESTUSER" || got.Request.Host != "pub400.com" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Request.DurationSeconds != 3600 {
		t.Fatalf("duration = %d, want 3600", got.Request.DurationSeconds)
	}
}

func TestEnvelopeMissingFields(t *testing.T) {
	k, err := NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %s", err)
	}
	base := sealEnvelope(t, k, testPayload())

	tcs := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"missing keyId", func(e *Envelope) { e.KeyID = "" }},
		{"missing encryptedSessionKey", func(e *Envelope) { e.EncryptedSessionKey = "" }},
		{"missing iv", func(e *Envelope) { e.IV = "" }},
		{"missing authTag", func(e *Envelope) { e.AuthTag = "" }},
		{"missing ciphertext", func(e *Envelope) { e.Ciphertext = "" }},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			e := *base
			tc.mutate(&e)
			_, err := k.Decrypt(&e)
			if err == nil {
				t.Fatal("expected invalid request error")
			}
			if se := util.AsServerError(err); se.Code != util.CodeInvalidRequest {
				t.Fatalf("code = %d, want %d", se.Code, util.CodeInvalidRequest)
			}
		})
	}
}

func TestEnvelopeTamperedCiphertext(t *testing.T) {
	k, err := NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %s", err)
	}
	e := sealEnvelope(t, k, testPayload())

	raw, _ := base64.StdEncoding.DecodeString(e.Ciphertext)
	raw[0] ^= 0xff
	e.Ciphertext = base64.StdEncoding.EncodeToString(raw)

	_, err = k.Decrypt(e)
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("error = %v, want authentication failure", err)
	}
}

func TestEnvelopeWrongKeyID(t *testing.T) {
	k, err := NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %s", err)
	}
	e := sealEnvelope(t, k, testPayload())
	e.KeyID = "some-other-key"
	if _, err := k.Decrypt(e); err == nil {
		t.Fatal("expected unknown keyId rejection")
	}
}

func TestEnvelopePayloadValidation(t *testing.T) {
	k, err := NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %s", err)
	}

	tcs := []struct {
		name    string
		payload AuthPayload
		wantErr string
	}{
		{
			name: "missing username",
			payload: AuthPayload{
				Credentials: IBMiCredentials{Password: "p"},
				Request:     SessionRequest{Host: "h"},
			},
			wantErr: "credentials.username",
		},
		{
			name: "missing password",
			payload: AuthPayload{
				Credentials: IBMiCredentials{Username: "u"},
				Request:     SessionRequest{Host: "h"},
			},
			wantErr: "credentials.password",
		},
		{
			name: "missing host",
			payload: AuthPayload{
				Credentials: IBMiCredentials{Username: "u", Password: "p"},
			},
			wantErr: "request.host",
		},
		{
			name: "duration above ceiling",
			payload: AuthPayload{
				Credentials: IBMiCredentials{Username: "u", Password: "p"},
				Request:     SessionRequest{Host: "h", DurationSeconds: 90000},
			},
			wantErr: "request.duration",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			e := sealEnvelope(t, k, tc.payload)
			_, err := k.Decrypt(e)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestPublicKeyPEM(t *testing.T) {
	k, err := NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %s", err)
	}
	pemStr, err := k.PublicKeyPEM()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----") {
		t.Fatalf("unexpected PEM: %q", pemStr)
	}
}
