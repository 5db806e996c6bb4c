package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionTokenService_RoundTrip(t *testing.T) {
	req := require.New(t)
	svc := NewSessionTokenService([]byte("session-key-0123456789"), time.Hour)

	token, err := svc.Generate("alice", []string{"uploader"})
	req.NoError(err)

	claims, err := svc.Validate(token)
	req.NoError(err)
	req.Equal("alice", claims.UserID)
	req.Equal([]string{"uploader"}, claims.Roles)
	req.Equal("upload-lab", claims.Issuer)
}

func TestSessionTokenService_RejectsWrongKey(t *testing.T) {
	req := require.New(t)
	svc := NewSessionTokenService([]byte("session-key-0123456789"), time.Hour)
	other := NewSessionTokenService([]byte("a-completely-other-key"), time.Hour)

	token, err := svc.Generate("alice", nil)
	req.NoError(err)

	_, err = other.Validate(token)
	req.Error(err)
}

func TestSessionTokenService_RejectsExpired(t *testing.T) {
	req := require.New(t)
	svc := NewSessionTokenService([]byte("session-key-0123456789"), -time.Minute)

	token, err := svc.Generate("alice", nil)
	req.NoError(err)

	_, err = svc.Validate(token)
	req.Error(err)
}

func TestPassword_HashAndCompare(t *testing.T) {
	req := require.New(t)

	encoded, err := HashPassword("CorrectHorseBattery!")
	req.NoError(err)
	req.NotEqual("CorrectHorseBattery!", encoded)

	ok, err := ComparePassword("CorrectHorseBattery!", encoded)
	req.NoError(err)
	req.True(ok)

	ok, err = ComparePassword("wrong-password", encoded)
	req.NoError(err)
	req.False(ok)
}
