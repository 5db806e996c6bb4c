package client_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"upload-lab/auth"
	"upload-lab/bridge"
	"upload-lab/client"
	"upload-lab/contract"
	"upload-lab/gateway"

	"github.com/stretchr/testify/require"
)

func startEndpoint(t *testing.T) (*httptest.Server, *bridge.Bridge, *auth.UploadTokenService) {
	t.Helper()
	req := require.New(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	uploadTokens, err := auth.NewUploadTokenService([]byte("a-secret-of-proper-length"), time.Minute)
	req.NoError(err)
	sessionTokens := auth.NewSessionTokenService([]byte("session-key-0123456789"), time.Hour)

	hash, err := auth.HashPassword("CorrectHorseBattery!")
	req.NoError(err)

	policy := auth.Policy{
		AllowedTypes: []string{"image/png", "text/plain"},
		MaxBytes:     1 << 20,
		IssuedAt:     time.Now().UTC(),
	}
	policyKey := []byte("0123456789abcdef0123456789abcdef")

	br := bridge.New(log, time.Minute, time.Minute)
	gw := gateway.New(log, br, uploadTokens, sessionTokens, policyKey, policy,
		t.TempDir(), map[string]string{"alice": hash}, nil)

	server := httptest.NewServer(gw.Router())
	t.Cleanup(server.Close)
	return server, br, uploadTokens
}

func TestHTTPTransport_FullExchange(t *testing.T) {
	req := require.New(t)
	server, br, uploadTokens := startEndpoint(t)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := client.NewHTTPTransport(server.URL, log)
	ctx := context.Background()

	session, err := transport.Login(ctx, "alice", "CorrectHorseBattery!")
	req.NoError(err)
	req.NotEmpty(session)

	sealed, err := transport.FetchPolicy(ctx, session)
	req.NoError(err)
	req.NotEmpty(sealed)

	content := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{7}, 512)...)
	path := filepath.Join(t.TempDir(), "photo.png")
	req.NoError(os.WriteFile(path, content, 0o600))

	var lastPercent float64
	result, err := transport.Upload(ctx, contract.UploadRequest{
		FilePath:     path,
		FileName:     "photo.png",
		DeclaredType: "image/png",
		Size:         int64(len(content)),
		UploadToken:  uploadTokens.Issue("file-1", "alice"),
		SealedPolicy: sealed,
		SessionToken: session,
	}, func(percent float64) {
		lastPercent = percent
	})
	req.NoError(err)
	req.Equal(int64(len(content)), result.Bytes)
	req.InDelta(100, lastPercent, 1e-9)

	artifactPath, ok := br.Claim(result.ClaimToken)
	req.True(ok)
	stored, err := os.ReadFile(artifactPath)
	req.NoError(err)
	req.Equal(content, stored)
}

func TestHTTPTransport_SurfacesRefusals(t *testing.T) {
	req := require.New(t)
	server, _, _ := startEndpoint(t)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := client.NewHTTPTransport(server.URL, log)
	ctx := context.Background()

	_, err := transport.Login(ctx, "alice", "wrong")
	req.Error(err)

	_, err = transport.FetchPolicy(ctx, "not-a-session")
	req.Error(err)

	session, err := transport.Login(ctx, "alice", "CorrectHorseBattery!")
	req.NoError(err)
	sealed, err := transport.FetchPolicy(ctx, session)
	req.NoError(err)

	path := filepath.Join(t.TempDir(), "notes.txt")
	req.NoError(os.WriteFile(path, []byte("hello"), 0o600))

	// A stale or forged upload token is refused with the endpoint's status
	_, err = transport.Upload(ctx, contract.UploadRequest{
		FilePath:     path,
		FileName:     "notes.txt",
		DeclaredType: "text/plain",
		Size:         5,
		UploadToken:  "forged",
		SealedPolicy: sealed,
		SessionToken: session,
	}, nil)
	req.Error(err)
	req.Contains(err.Error(), "401")
}
