package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	"github.com/mohantyajitesh/docuextract-pro/internal/export"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
	"github.com/mohantyajitesh/docuextract-pro/internal/metrics"
	"github.com/mohantyajitesh/docuextract-pro/internal/store"
	"github.com/mohantyajitesh/docuextract-pro/internal/vision"
)

// Server is the HTTP front end for uploads, job tracking and exports.
type Server struct {
	app      *fiber.App
	config   *config.Config
	manager  *jobs.Manager
	queue    *jobs.Queue
	store    *store.Store
	exporter *export.Exporter
	vision   *vision.Client
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates the API server and registers all routes.
func New(cfg *config.Config, deps Deps, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:      ServiceName,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
		// Multipart framing adds overhead on top of the file itself.
		BodyLimit: int(cfg.Processing.MaxUploadSize) + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	s := &Server{
		app:      app,
		config:   cfg,
		manager:  deps.Manager,
		queue:    deps.Queue,
		store:    deps.Store,
		exporter: deps.Exporter,
		vision:   deps.Vision,
		metrics:  deps.Metrics,
		logger:   log,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Server.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())
}

func (s *Server) setupRoutes() {
	s.app.Get("/", s.handleRoot)

	api := s.app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Post("/process", s.handleProcess)
	api.Get("/status/:job_id", s.handleStatus)
	api.Get("/result/:job_id", s.handleResult)
	api.Get("/jobs", s.handleListJobs)
	api.Get("/jobs/history", s.handleJobHistory)
	api.Delete("/jobs/:job_id", s.handleDeleteJob)
	api.Post("/export/:job_id", s.handleExport)

	if s.config.Metrics.Enabled {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}
}

// Start starts the server. It blocks until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
