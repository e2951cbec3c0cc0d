// Package client talks to a running avatar service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/avatar-service/internal/media"
)

// API endpoints and paths.
const (
	apiProcess = "/api/process"
	apiHealth  = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

const (
	outputFilePermissions = 0o600
	maxErrorBodyBytes     = 4096
)

var (
	// ErrImageEmpty is returned when no selfie is supplied.
	ErrImageEmpty = errors.New("image cannot be empty")
	// ErrServiceFailed is returned when the service reports an unsuccessful run.
	ErrServiceFailed = errors.New("avatar service request failed")
)

// HTTPClient calls the avatar service's process and health endpoints.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// ProcessRequest is the JSON body sent to /api/process.
type ProcessRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// ProcessResponse is the service's answer. Error is set when Success is false.
type ProcessResponse struct {
	Success  bool     `json:"success"`
	Text     string   `json:"text"`
	Video    string   `json:"video"`
	Avatar   string   `json:"avatar"`
	Degraded []string `json:"degraded,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// NewHTTPClient creates a client for the service at baseURL. The timeout must
// cover a full pipeline run, lip sync included.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Process submits one utterance and selfie and returns the generated media.
func (c *HTTPClient) Process(ctx context.Context, req ProcessRequest) (*ProcessResponse, error) {
	if req.Image == "" {
		return nil, ErrImageEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiProcess, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to avatar service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded ProcessResponse

	decodeErr := json.Unmarshal(body, &decoded)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %s, body: %s", ErrServiceFailed, resp.Status, truncate(body))
	}

	if resp.StatusCode != http.StatusOK || !decoded.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrServiceFailed, resp.Status, decoded.Error)
	}

	return &decoded, nil
}

// HealthCheck verifies that the service is up.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// LoadImage turns a selfie argument into the service's image field. URLs and
// data URIs pass through unchanged; anything else is read as a local file.
func LoadImage(arg string) (string, error) {
	if arg == "" {
		return "", ErrImageEmpty
	}

	if media.IsDataURI(arg) || media.IsHTTPURL(arg) {
		return arg, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", arg, err)
	}

	info, err := media.InspectImage(data)
	if err != nil {
		return "", fmt.Errorf("image %s: %w", arg, err)
	}

	return media.EncodeDataURI(info.MIMEType, data), nil
}

// SaveDataURI decodes a data URI and writes its payload to path.
func SaveDataURI(dataURI, path string) error {
	_, data, err := media.ParseDataURI(dataURI)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	err = os.WriteFile(path, data, outputFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes])
	}

	return string(body)
}
