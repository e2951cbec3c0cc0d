package core

// SelfieImage is the caller's input image. Exactly one of DataURI or URL is set
// once it has been parsed; Raw preserves the caller's original string so that a
// fallback avatar is byte-identical to the input.
type SelfieImage struct {
	Raw     string
	DataURI string
	URL     string
	Data    []byte
	MIME    string
}

// IsInline reports whether the selfie was supplied as an encoded data URI.
func (s SelfieImage) IsInline() bool {
	return s.DataURI != ""
}

// AvatarImage is the stylised image used as the face for lip sync.
type AvatarImage struct {
	DataURI string
	Data    []byte
	MIME    string
}

// Result is the externally visible outcome of a successful run.
type Result struct {
	SessionID string
	ReplyText string
	AvatarURI string
	VideoURI  string
	Degraded  []string
}
