package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
)

const (
	defaultFetchTimeout = 30 * time.Second
	// DefaultMaxImageBytes caps the size of a selfie fetched by URL.
	DefaultMaxImageBytes = 16 << 20
)

var (
	// ErrEmptySelfie is returned when the image field is empty.
	ErrEmptySelfie = errors.New("selfie image is empty")
	// ErrUnsupportedURL is returned for references that are neither data URIs nor http(s) URLs.
	ErrUnsupportedURL = errors.New("selfie reference must be a data URI or an http(s) URL")
	// ErrImageTooLarge is returned when a fetched selfie exceeds the size limit.
	ErrImageTooLarge = errors.New("selfie image too large")
	// ErrFetchFailed is returned when a selfie URL answers with a non-200 status.
	ErrFetchFailed = errors.New("failed to fetch selfie")
	// ErrForbiddenAddress is returned when a selfie URL resolves to a loopback,
	// private, link-local or otherwise non-public address.
	ErrForbiddenAddress = errors.New("selfie host resolves to a non-public address")
)

// cgnatPrefix is the shared address space of RFC 6598.
var cgnatPrefix = netip.MustParsePrefix("100.64.0.0/10")

// Resolver turns the caller's image field into a validated core.SelfieImage.
type Resolver struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewResolver creates a Resolver. A nil client gets NewPublicHTTPClient with a
// 30s timeout.
func NewResolver(httpClient *http.Client, maxBytes int64) *Resolver {
	if httpClient == nil {
		httpClient = NewPublicHTTPClient(defaultFetchTimeout)
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	return &Resolver{httpClient: httpClient, maxBytes: maxBytes}
}

// Resolve parses raw as a data URI or fetches it as a URL, then checks that the
// bytes decode as an image.
func (r *Resolver) Resolve(ctx context.Context, raw string) (core.SelfieImage, error) {
	if raw == "" {
		return core.SelfieImage{}, ErrEmptySelfie
	}

	if IsDataURI(raw) {
		return r.resolveInline(raw)
	}

	return r.resolveRemote(ctx, raw)
}

func (r *Resolver) resolveInline(raw string) (core.SelfieImage, error) {
	_, data, err := ParseDataURI(raw)
	if err != nil {
		return core.SelfieImage{}, err
	}

	info, err := InspectImage(data)
	if err != nil {
		return core.SelfieImage{}, err
	}

	return core.SelfieImage{
		Raw:     raw,
		DataURI: raw,
		Data:    data,
		MIME:    info.MIMEType,
	}, nil
}

// IsHTTPURL reports whether s is an absolute http or https URL.
func IsHTTPURL(s string) bool {
	parsed, err := url.Parse(s)
	if err != nil {
		return false
	}

	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func (r *Resolver) resolveRemote(ctx context.Context, raw string) (core.SelfieImage, error) {
	if !IsHTTPURL(raw) {
		return core.SelfieImage{}, ErrUnsupportedURL
	}

	data, err := r.fetch(ctx, raw)
	if err != nil {
		return core.SelfieImage{}, err
	}

	info, err := InspectImage(data)
	if err != nil {
		return core.SelfieImage{}, err
	}

	return core.SelfieImage{
		Raw:  raw,
		URL:  raw,
		Data: data,
		MIME: info.MIMEType,
	}, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create selfie request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", ErrFetchFailed, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read selfie body: %w", err)
	}

	if int64(len(data)) > r.maxBytes {
		return nil, ErrImageTooLarge
	}

	return data, nil
}

// NewPublicHTTPClient returns a client that only connects to public unicast
// addresses. The check runs on the resolved address at dial time, so redirects
// and DNS answers pointing inward are refused too. Proxies from the environment
// are ignored.
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: rejectNonPublic,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}

func rejectNonPublic(_, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}

	if !IsPublicAddr(addrPort.Addr()) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, addrPort.Addr())
	}

	return nil
}

// IsPublicAddr reports whether addr is a globally routable unicast address.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()

	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		cgnatPrefix.Contains(addr):
		return false
	}

	return addr.IsGlobalUnicast()
}

var _ core.SelfieResolver = (*Resolver)(nil)
