// Package avatar turns the caller's selfie into a stylised avatar through the
// Replicate image-to-image prediction API.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/media"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerPrefer        = "Prefer"
	contentTypeJSON     = "application/json"
	tokenPrefix         = "Token "
	preferWait          = "wait"
)

// API paths.
const (
	apiUploads     = "/uploads"
	apiPredictions = "/predictions"
)

// Prediction statuses.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

const (
	uploadNameFormat  = "avatar_input_%s%s"
	maxErrorBodyBytes = 4096
	maxImageBytes     = 32 << 20
)

var (
	// ErrServiceStatus is returned when the image service answers with an unexpected status.
	ErrServiceStatus = errors.New("image service returned non-OK status")
	// ErrPredictionFailed is returned when a prediction ends failed or canceled.
	ErrPredictionFailed = errors.New("avatar prediction failed")
	// ErrNoOutput is returned when a successful prediction has no output image.
	ErrNoOutput = errors.New("avatar prediction returned no output")
	// ErrNoImageReference is returned when the selfie has neither data nor URL.
	ErrNoImageReference = errors.New("selfie has no image reference")
	// ErrNoSelfieData is returned when a fallback is needed but the selfie carries no bytes.
	ErrNoSelfieData = errors.New("selfie has no image data")
	// ErrOutputTooLarge is returned when the generated image exceeds the download limit.
	ErrOutputTooLarge = errors.New("avatar output too large")
)

type uploadRequest struct {
	Name string `json:"name"`
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
	URL       string `json:"url"`
}

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	Image             string  `json:"image"`
	Strength          float64 `json:"strength"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Generator implements core.AvatarGenerator against the Replicate API.
type Generator struct {
	cfg        config.AvatarConfig
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a Generator from its configuration section.
func New(cfg config.AvatarConfig, log *logger.Logger) *Generator {
	return NewWithClient(cfg, log, &http.Client{Timeout: cfg.Timeout()})
}

// NewWithClient creates a Generator with a caller-supplied HTTP client.
func NewWithClient(cfg config.AvatarConfig, log *logger.Logger, httpClient *http.Client) *Generator {
	return &Generator{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
	}
}

// Generate returns a stylised avatar for selfie. It never fails: on any error
// the selfie itself is returned unchanged with degraded=true.
func (g *Generator) Generate(ctx context.Context, prompt string, selfie core.SelfieImage) (core.AvatarImage, bool) {
	avatarImage, err := g.Stylize(ctx, prompt, selfie)
	if err == nil {
		return avatarImage, false
	}

	g.log.Warn("Avatar generation failed, reusing the selfie: %v", err)

	fallback, fallbackErr := Passthrough(selfie)
	if fallbackErr != nil {
		g.log.Error("Selfie passthrough failed: %v", fallbackErr)
	}

	return fallback, true
}

// Passthrough presents the selfie as the avatar. An inline selfie keeps its
// original data URI byte for byte.
func Passthrough(selfie core.SelfieImage) (core.AvatarImage, error) {
	if len(selfie.Data) == 0 {
		return core.AvatarImage{DataURI: selfie.Raw, MIME: selfie.MIME}, ErrNoSelfieData
	}

	dataURI := selfie.DataURI
	if dataURI == "" {
		dataURI = media.EncodeDataURI(selfie.MIME, selfie.Data)
	}

	return core.AvatarImage{
		DataURI: dataURI,
		Data:    selfie.Data,
		MIME:    selfie.MIME,
	}, nil
}

// Stylize performs the upload, prediction and download steps and returns the
// first output image.
func (g *Generator) Stylize(ctx context.Context, prompt string, selfie core.SelfieImage) (core.AvatarImage, error) {
	if timeout := g.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	imageRef, err := g.imageReference(ctx, selfie)
	if err != nil {
		return core.AvatarImage{}, err
	}

	outputURL, err := g.predict(ctx, g.stylePrompt(prompt), imageRef)
	if err != nil {
		return core.AvatarImage{}, err
	}

	data, err := g.download(ctx, outputURL)
	if err != nil {
		return core.AvatarImage{}, err
	}

	info, err := media.InspectImage(data)
	if err != nil {
		return core.AvatarImage{}, fmt.Errorf("avatar output is not an image: %w", err)
	}

	return core.AvatarImage{
		DataURI: media.EncodeDataURI(info.MIMEType, data),
		Data:    data,
		MIME:    info.MIMEType,
	}, nil
}

func (g *Generator) stylePrompt(prompt string) string {
	if g.cfg.StyleSuffix == "" {
		return prompt
	}

	return prompt + ", " + g.cfg.StyleSuffix
}

// imageReference returns a URL the image service can read the selfie from,
// uploading inline selfies first.
func (g *Generator) imageReference(ctx context.Context, selfie core.SelfieImage) (string, error) {
	if !selfie.IsInline() {
		if selfie.URL == "" {
			return "", ErrNoImageReference
		}

		return selfie.URL, nil
	}

	return g.upload(ctx, selfie.Data, selfie.MIME)
}

// upload stages image bytes on the service's temporary storage.
func (g *Generator) upload(ctx context.Context, data []byte, mimeType string) (string, error) {
	name := fmt.Sprintf(uploadNameFormat, uuid.NewString(), media.ExtensionForMIME(mimeType))

	var staged uploadResponse

	err := g.doJSON(ctx, http.MethodPost, g.endpoint(apiUploads), uploadRequest{Name: name}, &staged, false)
	if err != nil {
		return "", fmt.Errorf("failed to create upload: %w", err)
	}

	if staged.UploadURL == "" || staged.URL == "" {
		return "", fmt.Errorf("%w: upload response missing urls", ErrServiceStatus)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, staged.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set(headerContentType, mimeType)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload selfie: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", statusError(resp)
	}

	return staged.URL, nil
}

// predict starts a prediction and polls it until it reaches a terminal status.
func (g *Generator) predict(ctx context.Context, prompt, imageRef string) (string, error) {
	body := predictionRequest{
		Version: g.cfg.ModelVersion,
		Input: predictionInput{
			Prompt:            prompt,
			Image:             imageRef,
			Strength:          g.cfg.Strength,
			GuidanceScale:     g.cfg.GuidanceScale,
			NumInferenceSteps: g.cfg.InferenceSteps,
		},
	}

	var current prediction

	err := g.doJSON(ctx, http.MethodPost, g.endpoint(apiPredictions), body, &current, true)
	if err != nil {
		return "", fmt.Errorf("failed to start prediction: %w", err)
	}

	for {
		switch current.Status {
		case statusSucceeded:
			return firstOutput(current.Output)
		case statusFailed, statusCanceled:
			return "", fmt.Errorf("%w: %s (%v)", ErrPredictionFailed, current.Status, current.Error)
		}

		if current.URLs.Get == "" {
			return "", fmt.Errorf("%w: prediction %s has no poll url", ErrServiceStatus, current.ID)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("prediction %s did not finish: %w", current.ID, ctx.Err())
		case <-time.After(g.cfg.PollInterval()):
		}

		pollURL := current.URLs.Get
		current = prediction{}

		err = g.doJSON(ctx, http.MethodGet, pollURL, nil, &current, false)
		if err != nil {
			return "", fmt.Errorf("failed to poll prediction: %w", err)
		}
	}
}

// firstOutput accepts either a single URL or a list of URLs.
func firstOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrNoOutput
	}

	var single string
	if json.Unmarshal(raw, &single) == nil {
		if single == "" {
			return "", ErrNoOutput
		}

		return single, nil
	}

	var list []string

	err := json.Unmarshal(raw, &list)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal prediction output: %w", err)
	}

	if len(list) == 0 || list[0] == "" {
		return "", ErrNoOutput
	}

	return list[0], nil
}

// download fetches the generated image bytes.
func (g *Generator) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar: %w", err)
	}

	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrOutputTooLarge, maxImageBytes)
	}

	return data, nil
}

func (g *Generator) endpoint(path string) string {
	return strings.TrimSuffix(g.cfg.APIURL, "/") + path
}

// doJSON sends an authenticated JSON request and decodes a 2xx JSON response into out.
func (g *Generator) doJSON(ctx context.Context, method, url string, in, out any, wait bool) error {
	var body io.Reader = http.NoBody

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAuthorization, tokenPrefix+g.cfg.APIKey)
	req.Header.Set(headerContentType, contentTypeJSON)

	if wait {
		req.Header.Set(headerPrefer, preferWait)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to image service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	return fmt.Errorf("%w: %s, body: %s", ErrServiceStatus, resp.Status, string(body))
}

var _ core.AvatarGenerator = (*Generator)(nil)
