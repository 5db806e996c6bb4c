package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"upload-lab/auth"
	"upload-lab/bridge"
	"upload-lab/domain/mimetypes"
	"upload-lab/errors"
	"upload-lab/repositories"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Header names shared with the upload client.
const (
	HeaderUploadToken  = "X-Upload-Token"
	HeaderSealedPolicy = "X-Upload-Policy"
)

// sniffSize is how much of the stream feeds the magic-byte detector.
const sniffSize = 3072

type contextKey string

const userKey contextKey = "user"

// Gateway is the receiving endpoint. It trusts nothing from the client:
// the policy arrives sealed, the upload token is validated and burned, and
// the declared content type is ignored in favor of magic-byte inspection.
type Gateway struct {
	log           *slog.Logger
	bridge        *bridge.Bridge
	uploadTokens  *auth.UploadTokenService
	sessionTokens *auth.SessionTokenService
	policyKey     []byte
	policy        auth.Policy
	spoolDir      string
	users         map[string]string // user id -> argon2 hash
	catalog       repositories.ICatalogRepository
}

func New(
	log *slog.Logger,
	br *bridge.Bridge,
	uploadTokens *auth.UploadTokenService,
	sessionTokens *auth.SessionTokenService,
	policyKey []byte,
	policy auth.Policy,
	spoolDir string,
	users map[string]string,
	catalog repositories.ICatalogRepository,
) *Gateway {
	return &Gateway{
		log:           log,
		bridge:        br,
		uploadTokens:  uploadTokens,
		sessionTokens: sessionTokens,
		policyKey:     policyKey,
		policy:        policy,
		spoolDir:      spoolDir,
		users:         users,
		catalog:       catalog,
	}
}

func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/login", g.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(g.requireSession)
		r.Get("/v1/policy", g.handlePolicy)
		r.Post("/v1/uploads", g.handleUpload)
		if g.catalog != nil {
			r.Get("/v1/catalog/search", g.handleCatalogSearch)
		}
	})
	return r
}

// handleCatalogSearch queries the full-text index over stored uploads.
func (g *Gateway) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		g.reject(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	results, err := g.catalog.Search(r.Context(), term, 20)
	if err != nil {
		g.log.Error("Catalog search failed", "term", term, "err", err)
		g.reject(w, http.StatusInternalServerError, "search failed")
		return
	}
	g.respond(w, http.StatusOK, results)
}

// handlePolicy hands the sealed allow-list to an authenticated client.
// The client carries it back with every upload but cannot rewrite it.
func (g *Gateway) handlePolicy(w http.ResponseWriter, r *http.Request) {
	sealed, err := auth.SealPolicy(g.policyKey, g.policy)
	if err != nil {
		g.reject(w, http.StatusInternalServerError, "policy sealing failed")
		return
	}
	g.respond(w, http.StatusOK, map[string]string{"policy": sealed})
}

type loginRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.reject(w, http.StatusBadRequest, "malformed login request")
		return
	}

	encoded, found := g.users[strings.ToLower(req.UserID)]
	if !found {
		g.reject(w, http.StatusUnauthorized, "unknown user")
		return
	}
	ok, err := auth.ComparePassword(req.Password, encoded)
	if err != nil || !ok {
		g.reject(w, http.StatusUnauthorized, "bad credentials")
		return
	}

	token, err := g.sessionTokens.Generate(req.UserID, []string{"uploader"})
	if err != nil {
		g.reject(w, http.StatusInternalServerError, "session issuance failed")
		return
	}
	g.respond(w, http.StatusOK, map[string]string{"sessionToken": token})
}

// requireSession resolves the Bearer session JWT and stores the user id in
// the request context.
func (g *Gateway) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			g.reject(w, http.StatusUnauthorized, "missing session token")
			return
		}
		claims, err := g.sessionTokens.Validate(raw)
		if err != nil {
			g.reject(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type uploadResponse struct {
	ClaimToken string `json:"claimToken"`
	Bytes      int64  `json:"bytes"`
}

// handleUpload runs the boundary checks in their mandatory order: policy,
// token, replay, content. Only a request passing all of them reaches disk
// and the bridge.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(userKey).(string)

	// 1. The sealed policy. A client unable to present an intact policy
	// gets no detail about what went wrong.
	policy, err := auth.OpenPolicy(g.policyKey, r.Header.Get(HeaderSealedPolicy))
	if err != nil {
		g.reject(w, http.StatusBadRequest, "policy rejected")
		return
	}

	// 2. The single-use upload token, bound to the session user.
	rawToken := r.Header.Get(HeaderUploadToken)
	fileID, ok := g.uploadTokens.Validate(rawToken, userID)
	if !ok {
		g.reject(w, http.StatusUnauthorized, errors.ErrInvalidToken.Error())
		return
	}

	// 3. Replay defense: the token signature is burned on first sight.
	nonce, ok := g.uploadTokens.TokenID(rawToken)
	if !ok || !g.bridge.RegisterNonce(nonce) {
		g.log.Warn("Replayed upload token rejected", "file_id", fileID, "user", userID)
		g.reject(w, http.StatusConflict, errors.ErrReplayedToken.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		g.reject(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	// 4. Magic-byte inspection. The declared extension is only checked for
	// consistency, never trusted as the type.
	head := make([]byte, sniffSize)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		g.reject(w, http.StatusBadRequest, "unreadable file part")
		return
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	effective := mimetypes.ToMIME(detected.String())
	if !mimetypes.Allowed(effective, policy.AllowedTypes) {
		g.reject(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("detected type %s is not permitted", effective))
		return
	}
	if !mimetypes.ExtensionConsistent(header.Filename, detected.Extension()) {
		g.reject(w, http.StatusUnsupportedMediaType, errors.ErrTypeSpoofed.Error())
		return
	}

	// 5. Spool the raw bytes. The sniffed head is replayed in front of the
	// remainder of the stream.
	written, tmpPath, err := g.spool(io.MultiReader(bytes.NewReader(head), file), policy.MaxBytes)
	if err != nil {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
		if err == errTooLarge {
			g.reject(w, http.StatusRequestEntityTooLarge, errors.ErrFileTooLarge.Error())
			return
		}
		g.log.Error("Failed to spool upload", "error", err, "file_id", fileID)
		g.reject(w, http.StatusInternalServerError, "storage failure")
		return
	}

	// 6. Hand the artifact to the bridge under a fresh claim token.
	claimToken := uuid.NewString()
	g.bridge.Register(claimToken, tmpPath)

	g.log.Info("Upload accepted",
		"file_id", fileID, "user", userID, "bytes", written, "type", string(effective))
	g.respond(w, http.StatusCreated, uploadResponse{ClaimToken: claimToken, Bytes: written})
}

var errTooLarge = fmt.Errorf("size ceiling exceeded")

// spool copies the stream into a fresh temp file, enforcing the policy size
// ceiling while writing. The path is returned even on failure so the caller
// can clean up.
func (g *Gateway) spool(content io.Reader, maxBytes int64) (int64, string, error) {
	tmp, err := os.CreateTemp(g.spoolDir, "upload-*.part")
	if err != nil {
		return 0, "", err
	}
	defer tmp.Close()

	limited := content
	if maxBytes > 0 {
		limited = io.LimitReader(content, maxBytes+1)
	}
	written, err := io.Copy(tmp, limited)
	if err != nil {
		return written, tmp.Name(), err
	}
	if maxBytes > 0 && written > maxBytes {
		return written, tmp.Name(), errTooLarge
	}
	return written, tmp.Name(), nil
}

func (g *Gateway) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (g *Gateway) reject(w http.ResponseWriter, status int, message string) {
	g.respond(w, status, map[string]string{"error": message})
}
