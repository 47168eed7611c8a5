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
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/google/uuid"

	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// Envelope is the hybrid-encrypted credential payload a client posts to the
// auth endpoint: an RSA-OAEP wrapped AES session key plus an AES-GCM sealed
// ciphertext. All fields are base64.
type Envelope struct {
	KeyID               string `json:"keyId"`
	EncryptedSessionKey string `json:"encryptedSessionKey"`
	IV                  string `json:"iv"`
	AuthTag             string `json:"authTag"`
	Ciphertext          string `json:"ciphertext"`
}

// Validate rejects envelopes with any missing field before touching crypto.
func (e *Envelope) Validate() error {
	missing := func(field string) error {
		return util.NewInvalidRequestError(fmt.Sprintf("envelope field %q is required", field))
	}
	switch {
	case e.KeyID == "":
		return missing("keyId")
	case e.EncryptedSessionKey == "":
		return missing("encryptedSessionKey")
	case e.IV == "":
		return missing("iv")
	case e.AuthTag == "":
		return missing("authTag")
	case e.Ciphertext == "":
		return missing("ciphertext")
	}
	return nil
}

// IBMiCredentials is the decrypted login pair.
type IBMiCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionRequest carries the connection target and optional session tuning.
type SessionRequest struct {
	Host string `json:"host"`
	// DurationSeconds must be in (0, 86400]; zero selects the default.
	DurationSeconds int64 `json:"duration,omitempty"`
	PoolStart       int   `json:"poolstart,omitempty"`
	PoolMax         int   `json:"poolmax,omitempty"`
}

// AuthPayload is the decrypted envelope body.
type AuthPayload struct {
	Credentials IBMiCredentials `json:"credentials"`
	Request     SessionRequest  `json:"request"`
}

// KeyPair is the server's envelope decryption key. A fresh pair is generated
// at startup; clients fetch the public half before posting credentials.
type KeyPair struct {
	ID      string
	private *rsa.PrivateKey
}

// NewKeyPair generates a 2048-bit RSA pair with a random key id.
func NewKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("unable to generate envelope key: %w", err)
	}
	return &KeyPair{ID: uuid.NewString(), private: key}, nil
}

// PublicKeyPEM renders the public half for the key-discovery endpoint.
func (k *KeyPair) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.private.PublicKey)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Decrypt opens the envelope: unwrap the session key with RSA-OAEP, then
// AEAD-open ciphertext||authTag under iv. The decrypted payload's username,
// password and host must be non-empty.
func (k *KeyPair) Decrypt(e *Envelope) (*AuthPayload, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.KeyID != k.ID {
		return nil, util.NewInvalidRequestError(fmt.Sprintf("unknown keyId %q", e.KeyID))
	}

	wrapped, err := b64(e.EncryptedSessionKey, "encryptedSessionKey")
	if err != nil {
		return nil, err
	}
	iv, err := b64(e.IV, "iv")
	if err != nil {
		return nil, err
	}
	authTag, err := b64(e.AuthTag, "authTag")
	if err != nil {
		return nil, err
	}
	ciphertext, err := b64(e.Ciphertext, "ciphertext")
	if err != nil {
		return nil, err
	}

	sessionKey, err := rsa.DecryptOAEP(sha256.New(), nil, k.private, wrapped, nil)
	if err != nil {
		return nil, util.NewInvalidRequestError("unable to unwrap session key")
	}
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, util.NewInvalidRequestError("invalid session key length")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, util.NewInvalidRequestError("invalid iv length")
	}
	plain, err := gcm.Open(nil, iv, append(ciphertext, authTag...), nil)
	if err != nil {
		return nil, util.NewInvalidRequestError("envelope authentication failed")
	}

	var payload AuthPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, util.NewInvalidRequestError("envelope payload is not valid JSON")
	}
	switch {
	case payload.Credentials.Username == "":
		return nil, util.NewInvalidRequestError("credentials.username is required")
	case payload.Credentials.Password == "":
		return nil, util.NewInvalidRequestError("credentials.password is required")
	case payload.Request.Host == "":
		return nil, util.NewInvalidRequestError("request.host is required")
	}
	if payload.Request.DurationSeconds < 0 || payload.Request.DurationSeconds > int64(MaxSessionDuration.Seconds()) {
		return nil, util.NewInvalidRequestError(
			fmt.Sprintf("request.duration must be in (0, %d]", int64(MaxSessionDuration.Seconds())))
	}
	return &payload, nil
}

func b64(s, field string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, util.NewInvalidRequestError(fmt.Sprintf("envelope field %q is not valid base64", field))
	}
	return out, nil
}
