package speech_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/speech"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAudioData = "mock-mp3-audio-data"

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speech-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func createTestConfig(serverURL string) config.SpeechConfig {
	return config.SpeechConfig{
		BaseURL:         serverURL,
		APIKey:          "xi_test",
		VoiceID:         "voice-123",
		ModelID:         "eleven_monolingual_v1",
		Stability:       0.5,
		SimilarityBoost: 0.5,
		TimeoutSeconds:  5,
	}
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/voice-123", r.URL.Path)
		assert.Equal(t, "xi_test", r.Header.Get("xi-api-key"))

		var payload struct {
			Text          string `json:"text"`
			VoiceSettings struct {
				Stability       float64 `json:"stability"`
				SimilarityBoost float64 `json:"similarity_boost"`
			} `json:"voice_settings"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello, this is a test.", payload.Text)
		assert.InEpsilon(t, 0.5, payload.VoiceSettings.Stability, 0.001)
		assert.InEpsilon(t, 0.5, payload.VoiceSettings.SimilarityBoost, 0.001)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	synth, err := speech.NewElevenLabs(createTestConfig(server.URL), createTestLogger(t))
	require.NoError(t, err)

	outputPath := filepath.Join(t.TempDir(), "nested", "audio.mp3")

	err = synth.Synthesize(context.Background(), "Hello, this is a test.", outputPath)
	require.NoError(t, err)

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, testAudioData, string(content))
}

func TestSynthesize_EmptyTextIsForwarded(t *testing.T) {
	t.Parallel()

	var received atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		text, _ := payload["text"].(string)
		received.Store(text)

		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	synth, err := speech.NewElevenLabs(createTestConfig(server.URL), createTestLogger(t))
	require.NoError(t, err)

	err = synth.Synthesize(context.Background(), "", filepath.Join(t.TempDir(), "audio.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "", received.Load())
}

func TestSynthesize_APIErrorDoesNotWriteFile(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)

		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`))
	}))
	defer server.Close()

	synth, err := speech.NewElevenLabs(createTestConfig(server.URL), createTestLogger(t))
	require.NoError(t, err)

	outputPath := filepath.Join(t.TempDir(), "audio.mp3")

	err = synth.Synthesize(context.Background(), "hello", outputPath)
	require.Error(t, err)

	var apiErr *speech.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsUnauthorized())
	assert.Equal(t, "Invalid API key", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load(), "synthesis must not retry")

	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	synth, err := speech.NewElevenLabs(createTestConfig(server.URL), createTestLogger(t))
	require.NoError(t, err)

	err = synth.Synthesize(context.Background(), "hello", filepath.Join(t.TempDir(), "audio.mp3"))
	require.ErrorIs(t, err, speech.ErrEmptyAudio)
}

func TestNewElevenLabs_Validation(t *testing.T) {
	t.Parallel()

	cfg := createTestConfig("http://localhost")
	cfg.VoiceID = ""

	_, err := speech.NewElevenLabs(cfg, createTestLogger(t))
	require.ErrorIs(t, err, speech.ErrNoVoiceID)

	synth, err := speech.NewElevenLabs(createTestConfig("http://localhost"), createTestLogger(t))
	require.NoError(t, err)

	err = synth.Synthesize(context.Background(), "hello", "")
	require.ErrorIs(t, err, speech.ErrDestinationEmpty)
}
