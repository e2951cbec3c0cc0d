// Package config_test tests the configuration loading for the avatar-service.
package config_test

import (
	"testing"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[server]
listen_addr = ":8080"
allowed_origins = ["http://localhost:3000"]

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
request_subject = "avatar.requested"
artifact_bucket = "AVATARS"

[text_generation]
model = "facebook/blenderbot-400M-distill"
timeout_seconds = 20

[avatar]
model_version = "abc123"
strength = 0.65
guidance_scale = 7.5
inference_steps = 30

[speech]
voice_id = "21m00Tcm4TlvDq8ikWAM"
stability = 0.5
similarity_boost = 0.5

[lip_sync]
wav2lip_dir = "/opt/Wav2Lip"
pads = [0, 10, 0, 0]
timeout_seconds = 600

[pipeline]
max_concurrent_runs = 8

[paths]
temp_dir = "/var/tmp/avatar"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "AVATARS", cfg.NATS.ArtifactBucket)
	assert.Equal(t, 20, cfg.TextGen.TimeoutSeconds)
	assert.Equal(t, "abc123", cfg.Avatar.ModelVersion)
	assert.InEpsilon(t, 0.65, cfg.Avatar.Strength, 0.001)
	assert.InEpsilon(t, 7.5, cfg.Avatar.GuidanceScale, 0.001)
	assert.Equal(t, 30, cfg.Avatar.InferenceSteps)
	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", cfg.Speech.VoiceID)
	assert.Equal(t, []int{0, 10, 0, 0}, cfg.LipSync.Pads)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentRuns)
	assert.Equal(t, "/var/tmp/avatar", cfg.Paths.TempDir)

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/opt/Wav2Lip/checkpoints/wav2lip_gan.pth", cfg.LipSync.CheckpointPath)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.DefaultFallbackReply, cfg.TextGen.FallbackReply)
	assert.Equal(t, "high-quality digital avatar, detailed facial features", cfg.Avatar.StyleSuffix)
	assert.Equal(t, []int{0, 10, 0, 0}, cfg.LipSync.Pads)
	assert.Equal(t, "./Wav2Lip/checkpoints/wav2lip_gan.pth", cfg.LipSync.CheckpointPath)
	assert.Positive(t, cfg.LipSync.Timeout())
	assert.Zero(t, cfg.Pipeline.RunTimeout())
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		config.EnvReplicateAPIKey:   "r8_key",
		config.EnvHuggingFaceAPIKey: "hf_key",
		config.EnvElevenLabsAPIKey:  "xi_key",
	}

	var cfg config.Config

	cfg.Speech.APIKey = "from-file"
	cfg.ApplyEnv(func(key string) string { return env[key] })

	assert.Equal(t, "r8_key", cfg.Avatar.APIKey)
	assert.Equal(t, "hf_key", cfg.TextGen.APIKey)
	assert.Equal(t, "from-file", cfg.Speech.APIKey, "file values win over the environment")
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "strength above one", mutate: func(c *config.Config) { c.Avatar.Strength = 1.5 }},
		{name: "negative guidance", mutate: func(c *config.Config) { c.Avatar.GuidanceScale = -1 }},
		{name: "stability out of range", mutate: func(c *config.Config) { c.Speech.Stability = 2 }},
		{name: "wrong pad count", mutate: func(c *config.Config) { c.LipSync.Pads = []int{0, 10} }},
		{name: "nats without url", mutate: func(c *config.Config) { c.NATS.Enabled = true }},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			cfg.ApplyDefaults()
			testCase.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}
