// Package textgen produces the avatar's reply text by calling a hosted
// language-generation inference endpoint.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/logger"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// EmptyGenerationReply is used when the service answers 200 without any text.
const EmptyGenerationReply = "Sorry, I couldn't generate a response."

const maxErrorBodyBytes = 4096

var (
	// ErrServiceStatus is returned when the service answers with a non-200 status.
	ErrServiceStatus = errors.New("text generation service returned non-OK status")
	// ErrNoGeneratedText is returned when a 200 response carries no generated text.
	ErrNoGeneratedText = errors.New("no generated text in response")
)

// inferenceRequest is the JSON payload sent to the inference endpoint.
type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// inferenceResult is one generation as returned by the endpoint.
type inferenceResult struct {
	GeneratedText *string `json:"generated_text"`
}

// Generator calls the inference endpoint and never fails past its boundary.
type Generator struct {
	cfg        config.TextGenerationConfig
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a Generator from its configuration section.
func New(cfg config.TextGenerationConfig, log *logger.Logger) *Generator {
	return NewWithClient(cfg, log, &http.Client{Timeout: cfg.Timeout()})
}

// NewWithClient creates a Generator with a caller-supplied HTTP client.
func NewWithClient(cfg config.TextGenerationConfig, log *logger.Logger, httpClient *http.Client) *Generator {
	return &Generator{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
	}
}

// Generate returns the reply for prompt. Any failure yields the configured
// fallback reply and degraded=true.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, bool) {
	reply, err := g.Complete(ctx, prompt)
	if err == nil {
		return reply, false
	}

	if errors.Is(err, ErrNoGeneratedText) {
		g.log.Warn("Text generation returned no text: %v", err)

		return EmptyGenerationReply, true
	}

	g.log.Warn("Text generation failed, using fallback reply: %v", err)

	return g.cfg.FallbackReply, true
}

// Complete performs one inference call and returns the generated text.
func (g *Generator) Complete(ctx context.Context, prompt string) (string, error) {
	requestBody, err := json.Marshal(inferenceRequest{Inputs: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(g.cfg.BaseURL, "/") + "/" + g.cfg.Model

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	if g.cfg.APIKey != "" {
		httpReq.Header.Set(headerAuthorization, bearerPrefix+g.cfg.APIKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request to text generation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return "", fmt.Errorf("%w: %s, body: %s", ErrServiceStatus, resp.Status, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	return parseGeneratedText(body)
}

// parseGeneratedText accepts both the single-object and the list response shapes.
func parseGeneratedText(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)

	if bytes.HasPrefix(trimmed, []byte("[")) {
		var results []inferenceResult

		err := json.Unmarshal(trimmed, &results)
		if err != nil {
			return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
		}

		if len(results) == 0 || results[0].GeneratedText == nil {
			return "", ErrNoGeneratedText
		}

		return *results[0].GeneratedText, nil
	}

	var result inferenceResult

	err := json.Unmarshal(trimmed, &result)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if result.GeneratedText == nil {
		return "", ErrNoGeneratedText
	}

	return *result.GeneratedText, nil
}

var _ core.TextGenerator = (*Generator)(nil)
