// Package speech renders the reply text to an audio file through the
// ElevenLabs text-to-speech API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/media"
	"github.com/book-expert/logger"
)

const (
	headerAPIKey      = "xi-api-key"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"

	filePermissions = 0o600
	dirPermissions  = 0o750

	maxErrorBodyBytes = 4096
)

// voiceSettings controls voice consistency.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// synthesisRequest is the JSON payload sent to the text-to-speech endpoint.
type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// ElevenLabs synthesises speech with a fixed voice and stability settings.
// It does not retry.
type ElevenLabs struct {
	cfg        config.SpeechConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewElevenLabs creates a synthesiser from its configuration section.
func NewElevenLabs(cfg config.SpeechConfig, log *logger.Logger) (*ElevenLabs, error) {
	return NewElevenLabsWithClient(cfg, log, &http.Client{Timeout: cfg.Timeout()})
}

// NewElevenLabsWithClient creates a synthesiser with a caller-supplied HTTP client.
func NewElevenLabsWithClient(
	cfg config.SpeechConfig,
	log *logger.Logger,
	httpClient *http.Client,
) (*ElevenLabs, error) {
	if cfg.VoiceID == "" {
		return nil, ErrNoVoiceID
	}

	return &ElevenLabs{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
	}, nil
}

// Synthesize converts text to audio and writes the response bytes to destination.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, destination string) error {
	if destination == "" {
		return ErrDestinationEmpty
	}

	start := time.Now()

	audio, err := e.request(ctx, text)
	if err != nil {
		e.logFailure(err)

		return err
	}

	dirErr := os.MkdirAll(filepath.Dir(destination), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	writeErr := os.WriteFile(destination, audio, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	e.log.Info("Synthesized speech: %d chars, %d bytes in %s", len(text), len(audio), time.Since(start))

	return nil
}

func (e *ElevenLabs) logFailure(err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return
	}

	switch {
	case apiErr.IsUnauthorized():
		e.log.Error("Speech service rejected the API key")
	case apiErr.IsRateLimited():
		e.log.Warn("Speech service rate limit reached")
	}
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.cfg.VoiceID
}

func (e *ElevenLabs) request(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", strings.TrimSuffix(e.cfg.BaseURL, "/"), e.cfg.VoiceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAPIKey, e.cfg.APIKey)
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, media.MIMETypeMPEG)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to voice service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return audio, nil
}

// parseError reads and parses an error response.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

var _ core.SpeechSynthesizer = (*ElevenLabs)(nil)
