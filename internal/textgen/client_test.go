package textgen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/textgen"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "textgen-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newGenerator(t *testing.T, serverURL string) *textgen.Generator {
	t.Helper()

	cfg := config.TextGenerationConfig{
		BaseURL:        serverURL,
		Model:          "facebook/blenderbot-400M-distill",
		APIKey:         "hf_test",
		TimeoutSeconds: 5,
		FallbackReply:  config.DefaultFallbackReply,
	}

	return textgen.New(cfg, createTestLogger(t))
}

func TestGenerate_ObjectResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/facebook/blenderbot-400M-distill", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello there", payload["inputs"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"generated_text":"Hi! How are you?"}`))
	}))
	defer server.Close()

	reply, degraded := newGenerator(t, server.URL).Generate(context.Background(), "Hello there")

	assert.False(t, degraded)
	assert.Equal(t, "Hi! How are you?", reply)
}

func TestGenerate_ListResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"generated_text":"Nice to meet you."}]`))
	}))
	defer server.Close()

	reply, degraded := newGenerator(t, server.URL).Generate(context.Background(), "hey")

	assert.False(t, degraded)
	assert.Equal(t, "Nice to meet you.", reply)
}

func TestGenerate_EmptyGeneratedTextIsValid(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"generated_text":""}`))
	}))
	defer server.Close()

	reply, degraded := newGenerator(t, server.URL).Generate(context.Background(), "hey")

	assert.False(t, degraded)
	assert.Empty(t, reply)
}

func TestGenerate_MissingGeneratedText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"warnings":["none"]}`))
	}))
	defer server.Close()

	reply, degraded := newGenerator(t, server.URL).Generate(context.Background(), "hey")

	assert.True(t, degraded)
	assert.Equal(t, textgen.EmptyGenerationReply, reply)
}

func TestGenerate_NonOKStatusFallsBack(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer server.Close()

	generator := newGenerator(t, server.URL)

	_, err := generator.Complete(context.Background(), "hey")
	require.ErrorIs(t, err, textgen.ErrServiceStatus)

	reply, degraded := generator.Generate(context.Background(), "hey")
	assert.True(t, degraded)
	assert.Equal(t, config.DefaultFallbackReply, reply)
}

func TestGenerate_UnreachableServiceFallsBack(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serverURL := server.URL
	server.Close()

	cfg := config.TextGenerationConfig{
		BaseURL:       serverURL,
		Model:         "m",
		FallbackReply: "fallback",
	}
	generator := textgen.NewWithClient(cfg, createTestLogger(t), &http.Client{Timeout: time.Second})

	reply, degraded := generator.Generate(context.Background(), "hey")
	assert.True(t, degraded)
	assert.Equal(t, "fallback", reply)
}
