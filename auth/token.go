package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims defines the data stored inside the session JWT presented by
// the upload client. The UserID claim is what upload tokens get bound to.
type SessionClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// SessionTokenService signs and validates the session JWTs that gate the
// receiving endpoint. It is a different trust boundary than the single-use
// upload tokens: a session proves who the caller is, an upload token proves
// what they were allowed to upload.
type SessionTokenService struct {
	key []byte
	ttl time.Duration
}

func NewSessionTokenService(key []byte, ttl time.Duration) *SessionTokenService {
	return &SessionTokenService{key: key, ttl: ttl}
}

// Generate creates a signed session JWT for a specific user.
func (s *SessionTokenService) Generate(userID string, roles []string) (string, error) {
	claims := &SessionClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "upload-lab",
		},
	}

	// HS256 (HMAC with SHA256), signed with the server key.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Validate parses and validates the signature and expiration of a session JWT.
func (s *SessionTokenService) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
