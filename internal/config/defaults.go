package config

import "os"

const (
	defaultListenAddr       = ":5001"
	defaultBodyLimitBytes   = 16 << 20
	defaultReadTimeoutSecs  = 60
	defaultRequestSubject   = "avatar.requested"
	defaultArtifactBucket   = "AVATAR_ARTIFACTS"
	defaultTextGenBaseURL   = "https://api-inference.huggingface.co/models"
	defaultTextGenModel     = "facebook/blenderbot-400M-distill"
	defaultTextGenTimeout   = 30
	defaultAvatarAPIURL     = "https://api.replicate.com/v1"
	defaultStyleSuffix      = "high-quality digital avatar, detailed facial features"
	defaultStrength         = 0.65
	defaultGuidanceScale    = 7.5
	defaultInferenceSteps   = 30
	defaultPollInterval     = 1
	defaultAvatarTimeout    = 120
	defaultSpeechBaseURL    = "https://api.elevenlabs.io/v1"
	defaultVoiceID          = "21m00Tcm4TlvDq8ikWAM"
	defaultSpeechModelID    = "eleven_monolingual_v1"
	defaultStability        = 0.5
	defaultSimilarityBoost  = 0.5
	defaultSpeechTimeout    = 60
	defaultPythonBinary     = "python"
	defaultWav2LipDir       = "./Wav2Lip"
	defaultCheckpointSuffix = "/checkpoints/wav2lip_gan.pth"
	defaultLipSyncTimeout   = 300
	defaultMaxConcurrent    = 4
	defaultTempDir          = "./temp"
)

// defaultAllowedOrigins mirrors the development front end.
var defaultAllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// defaultPads is top, bottom, left, right padding around the detected face.
var defaultPads = []int{0, 10, 0, 0}

func (c *ServerConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = append([]string(nil), defaultAllowedOrigins...)
	}

	if c.BodyLimitBytes == 0 {
		c.BodyLimitBytes = defaultBodyLimitBytes
	}

	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = defaultReadTimeoutSecs
	}
}

func (c *NATSConfig) applyDefaults() {
	if c.RequestSubject == "" {
		c.RequestSubject = defaultRequestSubject
	}

	if c.ArtifactBucket == "" {
		c.ArtifactBucket = defaultArtifactBucket
	}
}

func (c *TextGenerationConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultTextGenBaseURL
	}

	if c.Model == "" {
		c.Model = defaultTextGenModel
	}

	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultTextGenTimeout
	}

	if c.FallbackReply == "" {
		c.FallbackReply = DefaultFallbackReply
	}
}

func (c *AvatarConfig) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = defaultAvatarAPIURL
	}

	if c.StyleSuffix == "" {
		c.StyleSuffix = defaultStyleSuffix
	}

	if c.Strength == 0 {
		c.Strength = defaultStrength
	}

	if c.GuidanceScale == 0 {
		c.GuidanceScale = defaultGuidanceScale
	}

	if c.InferenceSteps == 0 {
		c.InferenceSteps = defaultInferenceSteps
	}

	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = defaultPollInterval
	}

	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultAvatarTimeout
	}
}

func (c *SpeechConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultSpeechBaseURL
	}

	if c.VoiceID == "" {
		c.VoiceID = defaultVoiceID
	}

	if c.ModelID == "" {
		c.ModelID = defaultSpeechModelID
	}

	if c.Stability == 0 {
		c.Stability = defaultStability
	}

	if c.SimilarityBoost == 0 {
		c.SimilarityBoost = defaultSimilarityBoost
	}

	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultSpeechTimeout
	}
}

func (c *LipSyncConfig) applyDefaults() {
	if c.PythonBinary == "" {
		c.PythonBinary = defaultPythonBinary
	}

	if c.Wav2LipDir == "" {
		c.Wav2LipDir = defaultWav2LipDir
	}

	if c.CheckpointPath == "" {
		c.CheckpointPath = c.Wav2LipDir + defaultCheckpointSuffix
	}

	if len(c.Pads) == 0 {
		c.Pads = append([]int(nil), defaultPads...)
	}

	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultLipSyncTimeout
	}
}

func (c *PipelineConfig) applyDefaults() {
	if c.MaxConcurrentRuns == 0 {
		c.MaxConcurrentRuns = defaultMaxConcurrent
	}
}

func (c *PathsConfig) applyDefaults() {
	if c.BaseLogsDir == "" {
		c.BaseLogsDir = os.TempDir()
	}

	if c.TempDir == "" {
		c.TempDir = defaultTempDir
	}
}
