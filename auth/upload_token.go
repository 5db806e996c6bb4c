package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"upload-lab/errors"
)

const (
	minSecretLength = 16
	// DefaultTokenTTL must exceed the expected duration of one upload.
	DefaultTokenTTL = 5 * time.Minute
)

// UploadTokenService issues and validates the single-use tokens binding an
// upload to a file identity and a user. The token itself carries no replay
// protection: that is the nonce ledger's job at the receiving boundary.
type UploadTokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewUploadTokenService(secret []byte, ttl time.Duration) (*UploadTokenService, error) {
	if len(secret) < minSecretLength {
		return nil, errors.ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &UploadTokenService{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue builds the payload fileID:userID:expiry, signs it with HMAC-SHA256
// and returns the whole structure encoded for header transport.
func (s *UploadTokenService) Issue(fileID, userID string) string {
	expiry := s.now().Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%s:%d", fileID, userID, expiry)
	mac := s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload + ":" + mac))
}

// Validate fails closed: any decode error, malformed field count, user
// mismatch, expired token or wrong signature returns ok=false. It never
// returns an error because every failure means the same thing to the caller.
func (s *UploadTokenService) Validate(token, expectedUserID string) (fileID string, ok bool) {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return "", false
	}
	fileID, userID, rawExpiry, presentedMac := parts[0], parts[1], parts[2], parts[3]

	if !strings.EqualFold(userID, expectedUserID) {
		return "", false
	}

	expiry, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil || s.now().Unix() > expiry {
		return "", false
	}

	payload := fmt.Sprintf("%s:%s:%s", fileID, userID, rawExpiry)
	if !hmac.Equal([]byte(s.sign(payload)), []byte(presentedMac)) {
		return "", false
	}
	return fileID, true
}

// TokenID extracts the signature of a well-formed token. It is the key
// recorded in the nonce ledger: two presentations of the same signed token
// share the same id.
func (s *UploadTokenService) TokenID(token string) (string, bool) {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return "", false
	}
	return parts[3], true
}

// TTL returns the configured token lifespan.
func (s *UploadTokenService) TTL() time.Duration {
	return s.ttl
}

func (s *UploadTokenService) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
