// Package core defines the domain types and stage interfaces of the avatar pipeline.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// TextGenerator turns a user utterance into a reply. Implementations never fail;
// they substitute a fallback reply and report degraded=true instead.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (reply string, degraded bool)
}

// AvatarGenerator turns a selfie and a prompt into a stylised avatar. On any
// failure it returns the selfie itself with degraded=true.
type AvatarGenerator interface {
	Generate(ctx context.Context, prompt string, selfie SelfieImage) (avatar AvatarImage, degraded bool)
}

// SpeechSynthesizer renders text to an audio file at destination.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, destination string) error
}

// LipSyncCompositor combines a face image and speech audio into a video at outputPath.
type LipSyncCompositor interface {
	Compose(ctx context.Context, facePath, audioPath, outputPath string) error
}

// SelfieResolver parses the caller's image field, fetching it when it is a URL,
// and guarantees the result decodes as an image.
type SelfieResolver interface {
	Resolve(ctx context.Context, raw string) (SelfieImage, error)
}
