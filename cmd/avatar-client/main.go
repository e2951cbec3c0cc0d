package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/book-expert/avatar-service/internal/client"
	"github.com/book-expert/logger"
)

// Flag descriptions.
const (
	flagTextDesc    = "Utterance to send to the avatar"
	flagImageDesc   = "Selfie as a file path, http(s) URL or data URI"
	flagServerDesc  = "Base URL of the avatar service"
	flagVideoDesc   = "Output path for the lip-synced video (.mp4)"
	flagAvatarDesc  = "Optional output path for the avatar image"
	flagTimeoutDesc = "Request timeout"
	flagHealthDesc  = "Check avatar service health and exit"
)

// Flag names.
const (
	flagText    = "text"
	flagImage   = "image"
	flagServer  = "server"
	flagVideo   = "video"
	flagAvatar  = "avatar"
	flagTimeout = "timeout"
	flagHealth  = "health"
)

// Error and log messages.
const (
	errImageRequired      = "--image must be provided"
	errFailedToInitLogger = "failed to initialize logger: %w"
	errHealthCheckFailed  = "Health check failed: %v"
	msgServiceNotHealthy  = "Avatar service is not healthy: %v\n"
	msgServiceHealthy     = "Avatar service is healthy"
	logClientInitialized  = "Avatar client initialized (server: %s)"
	logSubmitting         = "Submitting utterance (%d chars)"
	logRequestFailed      = "Request failed: %v"
	msgReply              = "Reply: %s\n"
	msgDegraded           = "Degraded stages: %v\n"
	msgWrote              = "Wrote %s\n"
)

// Defaults.
const (
	defaultServer      = "http://localhost:5001"
	defaultVideoPath   = "output.mp4"
	defaultTimeout     = 10 * time.Minute
	healthCheckTimeout = 10 * time.Second
	logFileName        = "avatar-client.log"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text    string
	image   string
	server  string
	video   string
	avatar  string
	timeout time.Duration
	health  bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer clientLog.Close()

	clientLog.Info(logClientInitialized, flags.server)

	if flags.health {
		return handleHealthCheck(flags, clientLog, out)
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	return processUtterance(flags, clientLog, out)
}

// parseFlags parses args into appFlags.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("avatar-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.image, flagImage, "", flagImageDesc)
	flagSet.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	flagSet.StringVar(&flags.video, flagVideo, defaultVideoPath, flagVideoDesc)
	flagSet.StringVar(&flags.avatar, flagAvatar, "", flagAvatarDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags checks the flags needed to submit a request. An empty
// utterance is allowed.
func validateFlags(flags appFlags) error {
	if flags.image == "" {
		return errors.New(errImageRequired)
	}

	return nil
}

func handleHealthCheck(flags appFlags, clientLog *logger.Logger, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	httpClient := client.NewHTTPClient(flags.server, healthCheckTimeout)

	err := httpClient.HealthCheck(ctx)
	if err != nil {
		clientLog.Error(errHealthCheckFailed, err)
		_, _ = fmt.Fprintf(out, msgServiceNotHealthy, err)

		return err
	}

	_, _ = fmt.Fprintln(out, msgServiceHealthy)

	return nil
}

func processUtterance(flags appFlags, clientLog *logger.Logger, out io.Writer) error {
	image, err := client.LoadImage(flags.image)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	clientLog.Info(logSubmitting, len(flags.text))

	httpClient := client.NewHTTPClient(flags.server, flags.timeout)

	resp, err := httpClient.Process(ctx, client.ProcessRequest{Text: flags.text, Image: image})
	if err != nil {
		clientLog.Error(logRequestFailed, err)

		return err
	}

	_, _ = fmt.Fprintf(out, msgReply, resp.Text)

	if len(resp.Degraded) > 0 {
		_, _ = fmt.Fprintf(out, msgDegraded, resp.Degraded)
	}

	err = client.SaveDataURI(resp.Video, flags.video)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, msgWrote, flags.video)

	if flags.avatar != "" {
		err = client.SaveDataURI(resp.Avatar, flags.avatar)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out, msgWrote, flags.avatar)
	}

	return nil
}
