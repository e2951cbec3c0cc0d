// Package pipeline sequences text generation, avatar generation, speech
// synthesis and lip sync into a single run with a session-scoped working
// directory that is always reclaimed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/media"
	"github.com/book-expert/avatar-service/internal/metrics"
	"github.com/book-expert/logger"
	"golang.org/x/sync/semaphore"
)

var _ SessionStore = (*artifact.Store)(nil)

var (
	// ErrMissingDependency is returned by New when a stage is not provided.
	ErrMissingDependency = errors.New("pipeline dependency is nil")
	// ErrEmptyAvatar is returned when the avatar stage yields no bytes to animate.
	ErrEmptyAvatar = errors.New("avatar image is empty")
	// ErrRunPanicked wraps a recovered panic from any stage.
	ErrRunPanicked = errors.New("pipeline run panicked")
)

// Request carries the caller's inputs. A nil field means the caller omitted it;
// an empty Text is a valid utterance.
type Request struct {
	Text  *string
	Image *string
}

// SessionStore allocates and reclaims per-run working directories.
// *artifact.Store implements it.
type SessionStore interface {
	NewSession() (*artifact.Session, error)
	Release(sessionID string) error
}

// Dependencies are the stage implementations an Orchestrator sequences.
type Dependencies struct {
	Resolver  core.SelfieResolver
	Text      core.TextGenerator
	Avatar    core.AvatarGenerator
	Speech    core.SpeechSynthesizer
	LipSync   core.LipSyncCompositor
	Artifacts SessionStore
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// Options bound how runs execute.
type Options struct {
	MaxConcurrentRuns int
	RunTimeout        time.Duration
}

// Orchestrator runs the pipeline. It is safe for concurrent use.
type Orchestrator struct {
	resolver   core.SelfieResolver
	text       core.TextGenerator
	avatar     core.AvatarGenerator
	speech     core.SpeechSynthesizer
	lipSync    core.LipSyncCompositor
	artifacts  SessionStore
	metrics    *metrics.Metrics
	log        *logger.Logger
	slots      *semaphore.Weighted
	runTimeout time.Duration
}

// New validates the dependencies and returns an Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Resolver == nil:
		return nil, fmt.Errorf("%w: selfie resolver", ErrMissingDependency)
	case deps.Text == nil:
		return nil, fmt.Errorf("%w: text generator", ErrMissingDependency)
	case deps.Avatar == nil:
		return nil, fmt.Errorf("%w: avatar generator", ErrMissingDependency)
	case deps.Speech == nil:
		return nil, fmt.Errorf("%w: speech synthesizer", ErrMissingDependency)
	case deps.LipSync == nil:
		return nil, fmt.Errorf("%w: lip sync compositor", ErrMissingDependency)
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("%w: artifact store", ErrMissingDependency)
	case deps.Logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	maxRuns := opts.MaxConcurrentRuns
	if maxRuns < 1 {
		maxRuns = 1
	}

	return &Orchestrator{
		resolver:   deps.Resolver,
		text:       deps.Text,
		avatar:     deps.Avatar,
		speech:     deps.Speech,
		lipSync:    deps.LipSync,
		artifacts:  deps.Artifacts,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		slots:      semaphore.NewWeighted(int64(maxRuns)),
		runTimeout: opts.RunTimeout,
	}, nil
}

// Run executes one pipeline run. Missing input fails before any stage is
// invoked. Text and avatar failures degrade to fallbacks; speech and lip sync
// failures abort the run. Every returned error is a *Error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (result *core.Result, err error) {
	o.metrics.RunStarted()

	defer func() {
		if recovered := recover(); recovered != nil {
			o.log.Error("Pipeline run panicked: %v", recovered)
			result = nil
			err = internalError(StageRun, fmt.Errorf("%w: %v", ErrRunPanicked, recovered))
		}

		o.metrics.RunFinished(outcomeOf(err))
	}()

	if req.Text == nil || req.Image == nil || *req.Image == "" {
		return nil, validationError(ErrMissingInput)
	}

	acquireErr := o.slots.Acquire(ctx, 1)
	if acquireErr != nil {
		return nil, internalError(StageQueue, acquireErr)
	}
	defer o.slots.Release(1)

	if o.runTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	session, sessionErr := o.artifacts.NewSession()
	if sessionErr != nil {
		return nil, internalError(StageSession, sessionErr)
	}
	defer o.release(session)

	o.log.Info("Session %s: starting run", session.ID)

	return o.execute(ctx, session, *req.Text, *req.Image)
}

func (o *Orchestrator) execute(
	ctx context.Context,
	session *artifact.Session,
	utterance, rawImage string,
) (*core.Result, error) {
	var degraded []string

	var selfie core.SelfieImage

	resolveErr := o.timeStage(StageSelfie, func() error {
		var err error

		selfie, err = o.resolver.Resolve(ctx, rawImage)

		return err
	})
	if resolveErr != nil {
		o.log.Error("Session %s: selfie rejected: %v", session.ID, resolveErr)

		return nil, internalError(StageSelfie, resolveErr)
	}

	var reply string

	_ = o.timeStage(StageText, func() error {
		var textDegraded bool

		reply, textDegraded = o.text.Generate(ctx, utterance)
		if textDegraded {
			degraded = append(degraded, StageText)
		}

		return nil
	})

	var avatarImage core.AvatarImage

	_ = o.timeStage(StageAvatar, func() error {
		var avatarDegraded bool

		avatarImage, avatarDegraded = o.avatar.Generate(ctx, reply, selfie)
		if avatarDegraded {
			degraded = append(degraded, StageAvatar)
		}

		return nil
	})

	for _, stage := range degraded {
		o.metrics.StageDegraded(stage)
		o.log.Warn("Session %s: %s stage degraded to fallback", session.ID, stage)
	}

	if len(avatarImage.Data) == 0 || avatarImage.DataURI == "" {
		return nil, internalError(StageAvatar, ErrEmptyAvatar)
	}

	writeErr := session.Write(artifact.KindAvatar, avatarImage.Data)
	if writeErr != nil {
		return nil, internalError(StageAvatar, writeErr)
	}

	speechErr := o.timeStage(StageSpeech, func() error {
		return o.speech.Synthesize(ctx, reply, session.Path(artifact.KindAudio))
	})
	if speechErr != nil {
		o.log.Error("Session %s: speech synthesis failed: %v", session.ID, speechErr)

		return nil, fatalError(StageSpeech, speechErr)
	}

	lipSyncErr := o.timeStage(StageLipSync, func() error {
		return o.lipSync.Compose(
			ctx,
			session.Path(artifact.KindAvatar),
			session.Path(artifact.KindAudio),
			session.Path(artifact.KindVideo),
		)
	})
	if lipSyncErr != nil {
		o.log.Error("Session %s: lip sync failed: %v", session.ID, lipSyncErr)

		return nil, fatalError(StageLipSync, lipSyncErr)
	}

	removeErr := session.Remove(artifact.KindAudio)
	if removeErr != nil {
		o.log.Warn("Session %s: %v", session.ID, removeErr)
	}

	video, readErr := session.Read(artifact.KindVideo)
	if readErr != nil {
		return nil, internalError(StageEncode, readErr)
	}

	o.log.Info("Session %s: run complete (%d video bytes, degraded=%v)", session.ID, len(video), degraded)

	return &core.Result{
		SessionID: session.ID,
		ReplyText: reply,
		AvatarURI: avatarImage.DataURI,
		VideoURI:  media.EncodeDataURI(media.MIMETypeMP4, video),
		Degraded:  degraded,
	}, nil
}

// release reclaims the session. A cleanup failure is logged and never replaces
// the run's own outcome.
func (o *Orchestrator) release(session *artifact.Session) {
	err := o.artifacts.Release(session.ID)
	if err != nil {
		o.log.Error("Session %s: failed to clean up artifacts: %v", session.ID, err)

		return
	}

	o.log.Info("Session %s: artifacts cleaned up", session.ID)
}

func (o *Orchestrator) timeStage(stage string, run func() error) error {
	started := time.Now()
	err := run()
	o.metrics.ObserveStage(stage, time.Since(started))

	return err
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}

	switch AsError(err).Kind {
	case KindValidation:
		return metrics.OutcomeValidation
	case KindFatalUpstream:
		return metrics.OutcomeFatal
	default:
		return metrics.OutcomeInternal
	}
}
