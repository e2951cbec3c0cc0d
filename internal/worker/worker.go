// Package worker serves pipeline runs requested over NATS, exchanging media
// through the object store.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/media"
	"github.com/book-expert/avatar-service/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// QueueGroup load-balances requests across service instances.
const QueueGroup = "avatar-workers"

const defaultMessageTimeout = 10 * time.Minute

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*core.Result, error)
}

// typedUploader is implemented by stores that record a content type.
type typedUploader interface {
	UploadWithContentType(ctx context.Context, key string, data []byte, contentType string) error
}

// NatsWorker listens for AvatarRequestedEvent messages and replies with an
// AvatarVideoCreatedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	runner         Runner
	log            *logger.Logger
	messageTimeout time.Duration
}

// NewNatsWorker creates a worker. A non-positive messageTimeout uses a
// ten minute default.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	runner Runner,
	log *logger.Logger,
	messageTimeout time.Duration,
) *NatsWorker {
	if messageTimeout <= 0 {
		messageTimeout = defaultMessageTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		runner:         runner,
		log:            log,
		messageTimeout: messageTimeout,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("NATS worker listening on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.messageTimeout)
	defer cancel()

	var event AvatarRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal avatar request: %v", err)
		w.respond(msg, &AvatarVideoCreatedEvent{Error: pipeline.MessageMissingInput})

		return
	}

	reply, err := w.process(ctx, &event)
	if err != nil {
		pipelineErr := pipeline.AsError(err)
		w.log.Error("Avatar request for workflow %s failed: %v", event.Header.WorkflowID, err)

		reply = &AvatarVideoCreatedEvent{Header: event.Header, Error: pipelineErr.UserMessage()}
	}

	w.respond(msg, reply)
}

// process resolves the selfie, runs the pipeline and uploads its outputs.
func (w *NatsWorker) process(ctx context.Context, event *AvatarRequestedEvent) (*AvatarVideoCreatedEvent, error) {
	if event.Text == nil {
		return nil, &pipeline.Error{Kind: pipeline.KindValidation, Stage: pipeline.StageInput, Err: pipeline.ErrMissingInput}
	}

	image, err := w.selfie(ctx, event)
	if err != nil {
		return nil, err
	}

	result, err := w.runner.Run(ctx, pipeline.Request{Text: event.Text, Image: image})
	if err != nil {
		return nil, err
	}

	avatarKey, err := w.uploadDataURI(ctx, result.AvatarURI)
	if err != nil {
		return nil, err
	}

	videoKey, err := w.uploadDataURI(ctx, result.VideoURI)
	if err != nil {
		w.discard(ctx, avatarKey)

		return nil, err
	}

	w.log.Info("Workflow %s: uploaded avatar %s and video %s", event.Header.WorkflowID, avatarKey, videoKey)

	return &AvatarVideoCreatedEvent{
		Header:    event.Header,
		Success:   true,
		Text:      result.ReplyText,
		AvatarKey: avatarKey,
		VideoKey:  videoKey,
		Degraded:  result.Degraded,
	}, nil
}

func (w *NatsWorker) selfie(ctx context.Context, event *AvatarRequestedEvent) (*string, error) {
	if event.SelfieKey == "" {
		return event.Image, nil
	}

	data, err := w.store.Download(ctx, event.SelfieKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download selfie '%s': %w", event.SelfieKey, err)
	}

	info, err := media.InspectImage(data)
	if err != nil {
		return nil, fmt.Errorf("selfie '%s': %w", event.SelfieKey, err)
	}

	image := media.EncodeDataURI(info.MIMEType, data)

	return &image, nil
}

func (w *NatsWorker) uploadDataURI(ctx context.Context, dataURI string) (string, error) {
	mimeType, data, err := media.ParseDataURI(dataURI)
	if err != nil {
		return "", fmt.Errorf("failed to decode pipeline output: %w", err)
	}

	key := uuid.NewString() + media.ExtensionForMIME(mimeType)

	if typed, ok := w.store.(typedUploader); ok {
		err = typed.UploadWithContentType(ctx, key, data, mimeType)
	} else {
		err = w.store.Upload(ctx, key, data)
	}

	if err != nil {
		return "", fmt.Errorf("failed to upload '%s': %w", key, err)
	}

	return key, nil
}

// discard removes an output whose sibling failed to upload, so a failed run
// leaves nothing behind in the bucket.
func (w *NatsWorker) discard(ctx context.Context, key string) {
	err := w.store.Delete(ctx, key)
	if err != nil {
		w.log.Warn("Failed to delete orphaned object '%s': %v", key, err)

		return
	}

	w.log.Info("Deleted orphaned object '%s'", key)
}

func (w *NatsWorker) respond(msg *nats.Msg, reply *AvatarVideoCreatedEvent) {
	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}
