package worker

import "github.com/book-expert/events"

// AvatarRequestedEvent asks for one pipeline run. The selfie is read from the
// object store when SelfieKey is set, otherwise Image carries it inline.
type AvatarRequestedEvent struct {
	Header    events.EventHeader `json:"header"`
	Text      *string            `json:"text"`
	Image     *string            `json:"image,omitempty"`
	SelfieKey string             `json:"selfie_key,omitempty"`
}

// AvatarVideoCreatedEvent is the reply to an AvatarRequestedEvent.
type AvatarVideoCreatedEvent struct {
	Header    events.EventHeader `json:"header"`
	Success   bool               `json:"success"`
	Text      string             `json:"text,omitempty"`
	AvatarKey string             `json:"avatar_key,omitempty"`
	VideoKey  string             `json:"video_key,omitempty"`
	Degraded  []string           `json:"degraded,omitempty"`
	Error     string             `json:"error,omitempty"`
}
