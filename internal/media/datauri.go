// Package media handles the encoded representations of pipeline artifacts:
// data URIs, image validation, MIME types and artifact file extensions.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	dataURIPrefix   = "data:"
	base64Marker    = ";base64"
	dataURISep      = ","
	defaultDataMIME = "application/octet-stream"
)

var (
	// ErrNotDataURI is returned when a string does not start with "data:".
	ErrNotDataURI = errors.New("not a data URI")
	// ErrMalformedDataURI is returned when a data URI has no payload separator.
	ErrMalformedDataURI = errors.New("malformed data URI")
	// ErrNotBase64 is returned for data URIs that are not base64 encoded.
	ErrNotBase64 = errors.New("data URI is not base64 encoded")
)

// IsDataURI reports whether s looks like a data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, dataURIPrefix)
}

// ParseDataURI decodes a base64 data URI into its MIME type and payload.
func ParseDataURI(uri string) (mimeType string, data []byte, err error) {
	if !IsDataURI(uri) {
		return "", nil, ErrNotDataURI
	}

	header, payload, found := strings.Cut(strings.TrimPrefix(uri, dataURIPrefix), dataURISep)
	if !found {
		return "", nil, ErrMalformedDataURI
	}

	if !strings.HasSuffix(header, base64Marker) {
		return "", nil, ErrNotBase64
	}

	mimeType = strings.TrimSuffix(header, base64Marker)
	if mimeType == "" {
		mimeType = defaultDataMIME
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data URI payload: %w", err)
	}

	return mimeType, data, nil
}

// EncodeDataURI renders data as a base64 data URI of the given MIME type.
func EncodeDataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = defaultDataMIME
	}

	return dataURIPrefix + mimeType + base64Marker + dataURISep + base64.StdEncoding.EncodeToString(data)
}
