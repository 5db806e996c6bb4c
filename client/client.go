package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"upload-lab/contract"
	"upload-lab/gateway"
)

// HTTPTransport streams one file to the receiving endpoint as a multipart
// request, reporting progress while the body is written. It implements
// contract.Transport.
type HTTPTransport struct {
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
}

func NewHTTPTransport(endpoint string, log *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		// No global timeout: a slow large upload is legitimate, cancellation
		// comes from the request context.
		httpClient: &http.Client{Timeout: 0},
		log:        log,
	}
}

func (t *HTTPTransport) Upload(ctx context.Context, req contract.UploadRequest, onProgress contract.ProgressFunc) (contract.UploadResult, error) {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return contract.UploadResult{}, fmt.Errorf("opening %s: %w", req.FilePath, err)
	}
	defer file.Close()

	// The multipart body is produced through a pipe so the file is streamed,
	// never buffered whole in memory.
	bodyReader, bodyWriter := io.Pipe()
	form := multipart.NewWriter(bodyWriter)

	go func() {
		part, err := form.CreateFormFile("file", req.FileName)
		if err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		counted := &countingReader{reader: file, total: req.Size, onProgress: onProgress}
		if _, err := io.Copy(part, counted); err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		_ = bodyWriter.CloseWithError(form.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/v1/uploads", bodyReader)
	if err != nil {
		return contract.UploadResult{}, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set(gateway.HeaderUploadToken, req.UploadToken)
	httpReq.Header.Set(gateway.HeaderSealedPolicy, req.SealedPolicy)
	httpReq.Header.Set("Authorization", "Bearer "+req.SessionToken)

	started := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return contract.UploadResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return contract.UploadResult{}, fmt.Errorf("endpoint refused upload (%d): %s", resp.StatusCode, body.Error)
	}

	var body struct {
		ClaimToken string `json:"claimToken"`
		Bytes      int64  `json:"bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return contract.UploadResult{}, fmt.Errorf("malformed endpoint response: %w", err)
	}

	t.log.Debug("Upload transferred",
		"file", req.FileName, "bytes", body.Bytes, "duration", time.Since(started))
	return contract.UploadResult{ClaimToken: body.ClaimToken, Bytes: body.Bytes}, nil
}

// Login exchanges credentials for the session token expected by the endpoint.
func (t *HTTPTransport) Login(ctx context.Context, userID, password string) (string, error) {
	payload := fmt.Sprintf(`{"userId":%q,"password":%q}`, userID, password)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.endpoint+"/v1/login", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login refused (%d)", resp.StatusCode)
	}
	var body struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.SessionToken, nil
}

// FetchPolicy retrieves the sealed allow-list blob the endpoint expects
// back on every upload.
func (t *HTTPTransport) FetchPolicy(ctx context.Context, sessionToken string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/v1/policy", nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+sessionToken)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("policy fetch refused (%d)", resp.StatusCode)
	}
	var body struct {
		Policy string `json:"policy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Policy, nil
}

// countingReader forwards reads and reports cumulative progress. The final
// callback at EOF is the transport's guarantee that 100 is always reported.
type countingReader struct {
	reader     io.Reader
	total      int64
	read       int64
	onProgress contract.ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.onProgress != nil && c.total > 0 {
			percent := float64(c.read) / float64(c.total) * 100
			if percent > 100 {
				percent = 100
			}
			c.onProgress(percent)
		}
	}
	return n, err
}
