package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"upload-lab/errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// Policy is the allow-list the server distributes to the client so the
// upload UI can pre-filter, and that the receiving endpoint re-checks.
// It travels sealed: the client can carry it but not rewrite it.
type Policy struct {
	AllowedTypes []string  `json:"allowedTypes"`
	MaxBytes     int64     `json:"maxBytes"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// SealPolicy encrypts the policy with XChaCha20-Poly1305 under the shared
// policy key (32 bytes) and encodes it for header transport. The random
// nonce is prepended to the ciphertext.
func SealPolicy(key []byte, policy Policy) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("policy key rejected: %w", err)
	}

	plain, err := json.Marshal(policy)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenPolicy decrypts a sealed policy blob. Any tampering, truncation or
// wrong key surfaces as ErrPolicyRejected.
func OpenPolicy(key []byte, blob string) (Policy, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Policy{}, fmt.Errorf("policy key rejected: %w", err)
	}

	sealed, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil || len(sealed) < aead.NonceSize() {
		return Policy{}, errors.ErrPolicyRejected
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Policy{}, errors.ErrPolicyRejected
	}

	var policy Policy
	if err := json.Unmarshal(plain, &policy); err != nil {
		return Policy{}, errors.ErrPolicyRejected
	}
	return policy, nil
}
