package gateway_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"upload-lab/auth"
	"upload-lab/bridge"
	"upload-lab/gateway"
	"upload-lab/mocks"
	"upload-lab/repositories"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	tokenSecret = []byte("a-secret-of-proper-length")
	policyKey   = []byte("0123456789abcdef0123456789abcdef")
	pngBytes    = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
)

type fixture struct {
	handler      http.Handler
	bridge       *bridge.Bridge
	uploadTokens *auth.UploadTokenService
	session      string
	sealed       string
}

func newFixture(t *testing.T, policy auth.Policy, catalog repositories.ICatalogRepository) *fixture {
	t.Helper()
	req := require.New(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	uploadTokens, err := auth.NewUploadTokenService(tokenSecret, time.Minute)
	req.NoError(err)
	sessionTokens := auth.NewSessionTokenService([]byte("session-key-0123456789"), time.Hour)

	hash, err := auth.HashPassword("CorrectHorseBattery!")
	req.NoError(err)
	users := map[string]string{"alice": hash}

	br := bridge.New(log, time.Minute, time.Minute)
	gw := gateway.New(log, br, uploadTokens, sessionTokens,
		policyKey, policy, t.TempDir(), users, catalog)

	session, err := sessionTokens.Generate("alice", []string{"uploader"})
	req.NoError(err)
	sealed, err := auth.SealPolicy(policyKey, policy)
	req.NoError(err)

	return &fixture{
		handler:      gw.Router(),
		bridge:       br,
		uploadTokens: uploadTokens,
		session:      session,
		sealed:       sealed,
	}
}

func defaultPolicy() auth.Policy {
	return auth.Policy{
		AllowedTypes: []string{"text/plain", "image/png"},
		MaxBytes:     1 << 20,
		IssuedAt:     time.Now().UTC(),
	}
}

func (f *fixture) uploadRequest(t *testing.T, fileName string, content []byte, uploadToken, sealed string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	r := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
	r.Header.Set("Content-Type", writer.FormDataContentType())
	r.Header.Set("Authorization", "Bearer "+f.session)
	r.Header.Set(gateway.HeaderUploadToken, uploadToken)
	r.Header.Set(gateway.HeaderSealedPolicy, sealed)
	return r
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func TestGateway_Login(t *testing.T) {
	f := newFixture(t, defaultPolicy(), nil)

	t.Run("should issue a session for valid credentials", func(t *testing.T) {
		req := require.New(t)
		w := f.do(httptest.NewRequest(http.MethodPost, "/v1/login",
			strings.NewReader(`{"userId":"Alice","password":"CorrectHorseBattery!"}`)))
		req.Equal(http.StatusOK, w.Code)

		var payload map[string]string
		req.NoError(json.NewDecoder(w.Body).Decode(&payload))
		req.NotEmpty(payload["sessionToken"])
	})

	t.Run("should refuse a wrong password", func(t *testing.T) {
		req := require.New(t)
		w := f.do(httptest.NewRequest(http.MethodPost, "/v1/login",
			strings.NewReader(`{"userId":"alice","password":"nope"}`)))
		req.Equal(http.StatusUnauthorized, w.Code)
	})

	t.Run("should refuse an unknown user", func(t *testing.T) {
		req := require.New(t)
		w := f.do(httptest.NewRequest(http.MethodPost, "/v1/login",
			strings.NewReader(`{"userId":"mallory","password":"CorrectHorseBattery!"}`)))
		req.Equal(http.StatusUnauthorized, w.Code)
	})
}

func TestGateway_PolicyEndpointRequiresSession(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultPolicy(), nil)

	w := f.do(httptest.NewRequest(http.MethodGet, "/v1/policy", nil))
	req.Equal(http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/v1/policy", nil)
	r.Header.Set("Authorization", "Bearer "+f.session)
	w = f.do(r)
	req.Equal(http.StatusOK, w.Code)

	var payload map[string]string
	req.NoError(json.NewDecoder(w.Body).Decode(&payload))
	// The blob must open with the shared key
	opened, err := auth.OpenPolicy(policyKey, payload["policy"])
	req.NoError(err)
	req.Equal(defaultPolicy().AllowedTypes, opened.AllowedTypes)
}

func TestGateway_UploadHappyPath(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultPolicy(), nil)

	token := f.uploadTokens.Issue("file-1", "alice")
	w := f.do(f.uploadRequest(t, "pic.png", pngBytes, token, f.sealed))
	req.Equal(http.StatusCreated, w.Code)

	var payload struct {
		ClaimToken string `json:"claimToken"`
		Bytes      int64  `json:"bytes"`
	}
	req.NoError(json.NewDecoder(w.Body).Decode(&payload))
	req.NotEmpty(payload.ClaimToken)
	req.Equal(int64(len(pngBytes)), payload.Bytes)

	// The claim token resolves to an artifact holding the full stream
	path, ok := f.bridge.Claim(payload.ClaimToken)
	req.True(ok)
	stored, err := os.ReadFile(path)
	req.NoError(err)
	req.Equal(pngBytes, stored)
}

func TestGateway_UploadBoundaryChecks(t *testing.T) {
	f := newFixture(t, defaultPolicy(), nil)

	t.Run("should reject a tampered policy before anything else", func(t *testing.T) {
		req := require.New(t)
		token := f.uploadTokens.Issue("file-1", "alice")
		w := f.do(f.uploadRequest(t, "pic.png", pngBytes, token, "garbage"))
		req.Equal(http.StatusBadRequest, w.Code)
	})

	t.Run("should reject a token issued for another user", func(t *testing.T) {
		req := require.New(t)
		token := f.uploadTokens.Issue("file-1", "bob")
		w := f.do(f.uploadRequest(t, "pic.png", pngBytes, token, f.sealed))
		req.Equal(http.StatusUnauthorized, w.Code)
	})

	t.Run("should burn the token on first presentation", func(t *testing.T) {
		req := require.New(t)
		token := f.uploadTokens.Issue("file-2", "alice")

		w := f.do(f.uploadRequest(t, "pic.png", pngBytes, token, f.sealed))
		req.Equal(http.StatusCreated, w.Code)

		// Same signed token again: replay
		w = f.do(f.uploadRequest(t, "pic.png", pngBytes, token, f.sealed))
		req.Equal(http.StatusConflict, w.Code)
	})

	t.Run("should reject a type outside the policy", func(t *testing.T) {
		req := require.New(t)
		token := f.uploadTokens.Issue("file-3", "alice")
		zipBytes := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0}, 64)...)
		w := f.do(f.uploadRequest(t, "archive.zip", zipBytes, token, f.sealed))
		req.Equal(http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("should reject a renamed payload", func(t *testing.T) {
		req := require.New(t)
		token := f.uploadTokens.Issue("file-4", "alice")
		// Plain text dressed as a PNG: allowed type, lying extension
		w := f.do(f.uploadRequest(t, "image.png", []byte("just some text"), token, f.sealed))
		req.Equal(http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("should reject without a session", func(t *testing.T) {
		req := require.New(t)
		token := f.uploadTokens.Issue("file-5", "alice")
		r := f.uploadRequest(t, "pic.png", pngBytes, token, f.sealed)
		r.Header.Del("Authorization")
		w := f.do(r)
		req.Equal(http.StatusUnauthorized, w.Code)
	})
}

func TestGateway_UploadEnforcesSizeCeiling(t *testing.T) {
	req := require.New(t)
	policy := defaultPolicy()
	policy.MaxBytes = 16
	f := newFixture(t, policy, nil)

	token := f.uploadTokens.Issue("file-1", "alice")
	w := f.do(f.uploadRequest(t, "notes.txt", []byte("well beyond sixteen bytes of text"), token, f.sealed))
	req.Equal(http.StatusRequestEntityTooLarge, w.Code)
	req.Equal(0, f.bridge.Size())
}

func TestGateway_CatalogSearch(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	catalog := mocks.NewMockICatalogRepository(ctrl)
	catalog.EXPECT().
		Search(gomock.Any(), "report", 20).
		Return([]repositories.StoredUpload{{Name: "report.pdf", Hash: "abc"}}, nil).
		Times(1)

	f := newFixture(t, defaultPolicy(), catalog)

	r := httptest.NewRequest(http.MethodGet, "/v1/catalog/search?q=report", nil)
	r.Header.Set("Authorization", "Bearer "+f.session)
	w := f.do(r)
	req.Equal(http.StatusOK, w.Code)

	var results []repositories.StoredUpload
	req.NoError(json.NewDecoder(w.Body).Decode(&results))
	req.Len(results, 1)
	req.Equal("report.pdf", results[0].Name)

	// Without a term the endpoint refuses
	r = httptest.NewRequest(http.MethodGet, "/v1/catalog/search", nil)
	r.Header.Set("Authorization", "Bearer "+f.session)
	req.Equal(http.StatusBadRequest, f.do(r).Code)
}
