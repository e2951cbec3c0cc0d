package speech

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoVoiceID is returned when the voice ID is missing.
	ErrNoVoiceID = errors.New("speech: voice ID required")
	// ErrDestinationEmpty is returned when no output path is given.
	ErrDestinationEmpty = errors.New("speech: destination cannot be empty")
	// ErrEmptyAudio is returned when the service answers 200 with no audio.
	ErrEmptyAudio = errors.New("speech: received empty audio data")
)

// APIError represents an error response from the voice service.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("speech: API error %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}
