// Package config provides the configuration structure for the avatar-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Environment variables that override empty credentials from the config file.
const (
	EnvReplicateAPIKey   = "REPLICATE_API_KEY"
	EnvHuggingFaceAPIKey = "HUGGINGFACE_API_KEY"
	EnvElevenLabsAPIKey  = "ELEVENLABS_API_KEY"
)

// DefaultFallbackReply is substituted when text generation fails.
const DefaultFallbackReply = "I'm having trouble responding right now."

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ServerConfig holds the configuration for the HTTP front end.
type ServerConfig struct {
	ListenAddr         string   `toml:"listen_addr"`
	AllowedOrigins     []string `toml:"allowed_origins"`
	BodyLimitBytes     int      `toml:"body_limit_bytes"`
	ReadTimeoutSeconds int      `toml:"read_timeout_seconds"`
}

// NATSConfig holds the configuration for the optional NATS front end.
type NATSConfig struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	RequestSubject string `toml:"request_subject"`
	ArtifactBucket string `toml:"artifact_bucket"`
}

// TextGenerationConfig configures the language-generation service.
type TextGenerationConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	FallbackReply  string `toml:"fallback_reply"`
}

// AvatarConfig configures the image-to-image generation service. Strength,
// GuidanceScale and InferenceSteps are quality knobs passed through verbatim.
type AvatarConfig struct {
	APIURL              string  `toml:"api_url"`
	APIKey              string  `toml:"api_key"`
	ModelVersion        string  `toml:"model_version"`
	StyleSuffix         string  `toml:"style_suffix"`
	Strength            float64 `toml:"strength"`
	GuidanceScale       float64 `toml:"guidance_scale"`
	InferenceSteps      int     `toml:"inference_steps"`
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
}

// SpeechConfig configures the voice-synthesis service.
type SpeechConfig struct {
	BaseURL         string  `toml:"base_url"`
	APIKey          string  `toml:"api_key"`
	VoiceID         string  `toml:"voice_id"`
	ModelID         string  `toml:"model_id"`
	Stability       float64 `toml:"stability"`
	SimilarityBoost float64 `toml:"similarity_boost"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
}

// LipSyncConfig configures the external lip-sync executable.
type LipSyncConfig struct {
	PythonBinary   string `toml:"python_binary"`
	Wav2LipDir     string `toml:"wav2lip_dir"`
	CheckpointPath string `toml:"checkpoint_path"`
	Pads           []int  `toml:"pads"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PipelineConfig bounds concurrent runs.
type PipelineConfig struct {
	MaxConcurrentRuns int `toml:"max_concurrent_runs"`
	RunTimeoutSeconds int `toml:"run_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	TempDir     string `toml:"temp_dir"`
}

// Config is the root configuration structure. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Server   ServerConfig         `toml:"server"`
	NATS     NATSConfig           `toml:"nats"`
	TextGen  TextGenerationConfig `toml:"text_generation"`
	Avatar   AvatarConfig         `toml:"avatar"`
	Speech   SpeechConfig         `toml:"speech"`
	LipSync  LipSyncConfig        `toml:"lip_sync"`
	Pipeline PipelineConfig       `toml:"pipeline"`
	Paths    PathsConfig          `toml:"paths"`
}

// Load loads the configuration for the avatar-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyEnv fills empty credentials from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Avatar.APIKey == "" {
		c.Avatar.APIKey = getenv(EnvReplicateAPIKey)
	}

	if c.TextGen.APIKey == "" {
		c.TextGen.APIKey = getenv(EnvHuggingFaceAPIKey)
	}

	if c.Speech.APIKey == "" {
		c.Speech.APIKey = getenv(EnvElevenLabsAPIKey)
	}
}

// ApplyDefaults replaces zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	c.Server.applyDefaults()
	c.NATS.applyDefaults()
	c.TextGen.applyDefaults()
	c.Avatar.applyDefaults()
	c.Speech.applyDefaults()
	c.LipSync.applyDefaults()
	c.Pipeline.applyDefaults()
	c.Paths.applyDefaults()
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Avatar.Strength < 0 || c.Avatar.Strength > 1:
		return fmt.Errorf("%w: avatar.strength must be between 0 and 1, got %f", ErrInvalidConfig, c.Avatar.Strength)
	case c.Avatar.GuidanceScale < 0:
		return fmt.Errorf("%w: avatar.guidance_scale must be >= 0, got %f", ErrInvalidConfig, c.Avatar.GuidanceScale)
	case c.Avatar.InferenceSteps < 1:
		return fmt.Errorf("%w: avatar.inference_steps must be >= 1, got %d", ErrInvalidConfig, c.Avatar.InferenceSteps)
	case c.Speech.Stability < 0 || c.Speech.Stability > 1:
		return fmt.Errorf("%w: speech.stability must be between 0 and 1, got %f", ErrInvalidConfig, c.Speech.Stability)
	case c.Speech.SimilarityBoost < 0 || c.Speech.SimilarityBoost > 1:
		return fmt.Errorf("%w: speech.similarity_boost must be between 0 and 1, got %f",
			ErrInvalidConfig, c.Speech.SimilarityBoost)
	case c.Speech.VoiceID == "":
		return fmt.Errorf("%w: speech.voice_id is required", ErrInvalidConfig)
	case len(c.LipSync.Pads) != 4:
		return fmt.Errorf("%w: lip_sync.pads needs 4 values, got %d", ErrInvalidConfig, len(c.LipSync.Pads))
	case c.Pipeline.MaxConcurrentRuns < 1:
		return fmt.Errorf("%w: pipeline.max_concurrent_runs must be >= 1", ErrInvalidConfig)
	case c.NATS.Enabled && c.NATS.URL == "":
		return fmt.Errorf("%w: nats.url is required when nats is enabled", ErrInvalidConfig)
	}

	return nil
}

// Timeout returns the configured timeout as a duration.
func (c TextGenerationConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// Timeout returns the configured timeout as a duration.
func (c AvatarConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// PollInterval returns the prediction poll interval as a duration.
func (c AvatarConfig) PollInterval() time.Duration {
	return seconds(c.PollIntervalSeconds)
}

// Timeout returns the configured timeout as a duration.
func (c SpeechConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// Timeout returns the configured subprocess deadline as a duration.
func (c LipSyncConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// RunTimeout returns the whole-run deadline, or zero when runs are unbounded.
func (c PipelineConfig) RunTimeout() time.Duration {
	return seconds(c.RunTimeoutSeconds)
}

// ReadTimeout returns the HTTP read timeout as a duration.
func (c ServerConfig) ReadTimeout() time.Duration {
	return seconds(c.ReadTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
