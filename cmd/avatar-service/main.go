// main package for the avatar-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/avatar"
	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/lipsync"
	"github.com/book-expert/avatar-service/internal/media"
	"github.com/book-expert/avatar-service/internal/metrics"
	"github.com/book-expert/avatar-service/internal/objectstore"
	"github.com/book-expert/avatar-service/internal/pipeline"
	"github.com/book-expert/avatar-service/internal/server"
	"github.com/book-expert/avatar-service/internal/speech"
	"github.com/book-expert/avatar-service/internal/textgen"
	"github.com/book-expert/avatar-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), "avatar-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "avatar-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orchestrator, err := buildOrchestrator(cfg, log, metrics.New(registry))
	if err != nil {
		return err
	}

	// The NATS worker is built before anything listens so a failed connection
	// leaves no listener behind.
	var natsWorker *worker.NatsWorker

	if cfg.NATS.Enabled {
		var closeNATS func()

		natsWorker, closeNATS, err = buildWorker(cfg, orchestrator, log)
		if err != nil {
			return err
		}
		defer closeNATS()
	}

	httpServer := server.New(cfg.Server, orchestrator, registry, log)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(httpServer.Listen)
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("Shutting down HTTP server")

		return httpServer.Shutdown(shutdownCtx)
	})

	if natsWorker != nil {
		group.Go(func() error { return natsWorker.Run(groupCtx) })
	}

	log.System("Avatar-Service successfully initialized. Listening on %s", cfg.Server.ListenAddr)

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("service stopped: %w", err)
	}

	return nil
}

func buildOrchestrator(cfg *config.Config, log *logger.Logger, recorder *metrics.Metrics) (*pipeline.Orchestrator, error) {
	store, err := artifact.NewStore(cfg.Paths.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	synthesizer, err := speech.NewElevenLabs(cfg.Speech, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech synthesizer: %w", err)
	}

	orchestrator, err := pipeline.New(pipeline.Dependencies{
		Resolver:  media.NewResolver(nil, int64(cfg.Server.BodyLimitBytes)),
		Text:      textgen.New(cfg.TextGen, log),
		Avatar:    avatar.New(cfg.Avatar, log),
		Speech:    synthesizer,
		LipSync:   lipsync.NewWav2Lip(cfg.LipSync, log),
		Artifacts: store,
		Metrics:   recorder,
		Logger:    log,
	}, pipeline.Options{
		MaxConcurrentRuns: cfg.Pipeline.MaxConcurrentRuns,
		RunTimeout:        cfg.Pipeline.RunTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return orchestrator, nil
}

func buildWorker(cfg *config.Config, runner worker.Runner, log *logger.Logger) (*worker.NatsWorker, func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.RequestSubject,
		store,
		runner,
		log,
		cfg.Pipeline.RunTimeout(),
	)

	return natsWorker, natsConnection.Close, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
