package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a run did not produce a result.
type Kind int

// Failure kinds surfaced to callers. Degraded stages are not failures.
const (
	KindValidation Kind = iota + 1
	KindFatalUpstream
	KindInternal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindFatalUpstream:
		return "fatal_upstream"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Stage names used in errors, logs and metrics.
const (
	StageRun     = "run"
	StageInput   = "input"
	StageQueue   = "queue"
	StageSession = "session"
	StageSelfie  = "selfie"
	StageText    = "text"
	StageAvatar  = "avatar"
	StageSpeech  = "speech"
	StageLipSync = "lip_sync"
	StageEncode  = "encode"
)

// User-facing messages. They never carry paths, credentials or upstream detail.
const (
	MessageMissingInput  = "Missing required fields"
	MessageSpeechFailed  = "TTS service failed"
	MessageLipSyncFailed = "Lip sync failed"
	MessageInternal      = "Internal server error"
)

var (
	// ErrMissingInput is returned when the utterance or the selfie is absent.
	ErrMissingInput = errors.New("missing required input")
	// ErrSpeechSynthesisFailed is returned when speech synthesis fails.
	ErrSpeechSynthesisFailed = errors.New("speech synthesis failed")
	// ErrLipSyncFailed is returned when lip sync fails or times out.
	ErrLipSyncFailed = errors.New("lip sync failed")
	// ErrInternal is returned for any unexpected failure.
	ErrInternal = errors.New("internal error")
)

// Error is the typed failure of a run. It matches its kind's sentinel and its
// underlying cause with errors.Is.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("pipeline %s failure in %s stage: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap exposes the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

// UserMessage returns the message safe to show to the caller.
func (e *Error) UserMessage() string {
	switch {
	case e.Kind == KindValidation:
		return MessageMissingInput
	case e.Kind == KindFatalUpstream && e.Stage == StageSpeech:
		return MessageSpeechFailed
	case e.Kind == KindFatalUpstream && e.Stage == StageLipSync:
		return MessageLipSyncFailed
	default:
		return MessageInternal
	}
}

func (e *Error) sentinel() error {
	switch {
	case e.Kind == KindValidation:
		return ErrMissingInput
	case e.Kind == KindFatalUpstream && e.Stage == StageSpeech:
		return ErrSpeechSynthesisFailed
	case e.Kind == KindFatalUpstream && e.Stage == StageLipSync:
		return ErrLipSyncFailed
	default:
		return ErrInternal
	}
}

// AsError converts any error into a *Error, classifying unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return pipelineErr
	}

	return &Error{Kind: KindInternal, Stage: StageRun, Err: err}
}

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Stage: StageInput, Err: err}
}

func fatalError(stage string, err error) *Error {
	return &Error{Kind: KindFatalUpstream, Stage: stage, Err: err}
}

func internalError(stage string, err error) *Error {
	return &Error{Kind: KindInternal, Stage: stage, Err: err}
}
