// Package server exposes the avatar pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	appName        = "avatar-service"
	processRoute   = "/api/process"
	allowedMethods = "GET,POST,OPTIONS"
	allowedHeaders = "Content-Type,Authorization"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*core.Result, error)
}

// processRequest is the JSON body of POST /api/process. Pointers distinguish
// an omitted field from an empty one.
type processRequest struct {
	Text  *string `json:"text"`
	Image *string `json:"image"`
}

// processResponse is the JSON body of a successful run.
type processResponse struct {
	Success  bool     `json:"success"`
	Text     string   `json:"text"`
	Video    string   `json:"video"`
	Avatar   string   `json:"avatar"`
	Degraded []string `json:"degraded,omitempty"`
}

// errorResponse is the JSON body of a failed run. Success is only reported
// for internal errors.
type errorResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
}

// Server wires the HTTP routes to a Runner.
type Server struct {
	app    *fiber.App
	runner Runner
	log    *logger.Logger
	addr   string
}

// New builds the fiber application. gatherer may be nil, in which case
// /metrics is not served.
func New(cfg config.ServerConfig, runner Runner, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	srv := &Server{
		runner: runner,
		log:    log,
		addr:   cfg.ListenAddr,
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimitBytes,
		ReadTimeout:           cfg.ReadTimeout(),
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: allowedMethods,
		AllowHeaders: allowedHeaders,
	}))

	app.Get("/", srv.handleRoot)
	app.Get("/health", srv.handleHealth)
	app.Post(processRoute, srv.handleProcess)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	srv.app = app

	return srv
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	s.log.Info("HTTP server listening on %s", s.addr)

	return s.app.Listen(s.addr)
}

// Shutdown stops accepting requests and waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": appName,
		"process": processRoute,
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleProcess(c *fiber.Ctx) error {
	var body processRequest

	decodeErr := json.Unmarshal(c.Body(), &body)
	if decodeErr != nil {
		s.log.Warn("Rejected malformed request body: %v", decodeErr)

		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: pipeline.MessageMissingInput})
	}

	result, err := s.runner.Run(c.UserContext(), pipeline.Request{Text: body.Text, Image: body.Image})
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(processResponse{
		Success:  true,
		Text:     result.ReplyText,
		Video:    result.VideoURI,
		Avatar:   result.AvatarURI,
		Degraded: result.Degraded,
	})
}

func (s *Server) writeError(c *fiber.Ctx, err error) error {
	pipelineErr := pipeline.AsError(err)
	status := StatusFor(pipelineErr)

	s.log.Error("Request failed with status %d: %v", status, err)

	response := errorResponse{Error: pipelineErr.UserMessage()}
	if pipelineErr.Kind == pipeline.KindInternal {
		failed := false
		response.Success = &failed
	}

	return c.Status(status).JSON(response)
}

// StatusFor maps a pipeline failure to its HTTP status.
func StatusFor(err *pipeline.Error) int {
	if err == nil {
		return fiber.StatusOK
	}

	if err.Kind == pipeline.KindValidation {
		return fiber.StatusBadRequest
	}

	return fiber.StatusInternalServerError
}
