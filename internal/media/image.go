package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"path/filepath"

	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Image format names as reported by image.DecodeConfig.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
)

// MIME type constants.
const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeGIF  = "image/gif"
	MIMETypeWebP = "image/webp"
	MIMETypeMP4  = "video/mp4"
	MIMETypeWAV  = "audio/wav"
	MIMETypeMPEG = "audio/mpeg"
)

// Artifact file extensions.
const (
	ExtJPEG = ".jpg"
	ExtPNG  = ".png"
	ExtGIF  = ".gif"
	ExtWebP = ".webp"
	ExtMP4  = ".mp4"
	ExtWAV  = ".wav"
	ExtMP3  = ".mp3"
)

var (
	// ErrEmptyImage is returned when image data is empty.
	ErrEmptyImage = errors.New("empty image data")
	// ErrInvalidImage is returned when image data cannot be decoded.
	ErrInvalidImage = errors.New("invalid image data")
)

// ImageInfo describes a decoded image header.
type ImageInfo struct {
	Format   string
	MIMEType string
	Width    int
	Height   int
}

// InspectImage decodes the image header and reports its format and size.
func InspectImage(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, ErrEmptyImage
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("%w: zero dimensions", ErrInvalidImage)
	}

	return ImageInfo{
		Format:   format,
		MIMEType: FormatToMIMEType(format),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// FormatToMIMEType converts an image format name to its MIME type.
func FormatToMIMEType(format string) string {
	switch format {
	case FormatJPEG:
		return MIMETypeJPEG
	case FormatPNG:
		return MIMETypePNG
	case FormatGIF:
		return MIMETypeGIF
	case FormatWebP:
		return MIMETypeWebP
	default:
		return MIMETypeJPEG
	}
}

// ExtensionForMIME returns the artifact file extension for a MIME type.
func ExtensionForMIME(mimeType string) string {
	switch mimeType {
	case MIMETypePNG:
		return ExtPNG
	case MIMETypeGIF:
		return ExtGIF
	case MIMETypeWebP:
		return ExtWebP
	case MIMETypeMP4:
		return ExtMP4
	case MIMETypeWAV:
		return ExtWAV
	case MIMETypeMPEG:
		return ExtMP3
	default:
		return ExtJPEG
	}
}

// IsAudioFile checks if a filename has an audio extension the lip-sync tool accepts.
func IsAudioFile(filename string) bool {
	switch filepath.Ext(filename) {
	case ExtWAV, ExtMP3:
		return true
	default:
		return false
	}
}
