// Package api assembles the fiber application: global middleware, the
// authenticated routes and the unauthenticated probes.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/doc-grader/backend/internal/api/handlers"
	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/internal/middleware/ratelimit"
	"github.com/doc-grader/backend/internal/middleware/security"
	"github.com/doc-grader/backend/internal/middleware/validation"
)

type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BodyLimit      int
	MaxUploadSize  int64
	AllowedOrigins []string
	Development    bool

	AuthHeader           string
	AuthKey              string
	ProtectImageAnalysis bool

	// RateLimiter is optional; nil disables limiting.
	RateLimiter *ratelimit.RateLimiter
	// MetricsPath is empty when metrics are disabled.
	MetricsPath string
	// Secrets are scrubbed from error details.
	Secrets []string
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

type Handlers struct {
	Documents *handlers.DocumentHandler
	Grading   *handlers.GradingHandler
	Rubrics   *handlers.RubricHandler
	Health    *handlers.HealthHandler
}

func NewServer(cfg Config, h Handlers) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          handlers.NewErrorHandler(cfg.Secrets...),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: joinOrigins(cfg.AllowedOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + authHeader(cfg),
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.Development,
	}))
	if cfg.RateLimiter != nil {
		app.Use(cfg.RateLimiter.Middleware())
	}

	app.Get("/health", h.Health.Health)
	app.Get("/ready", h.Health.Ready)
	if cfg.MetricsPath != "" {
		app.Get(cfg.MetricsPath, metrics.MetricsHandler())
	}

	auth := security.AuthMiddleware(security.AuthConfig{Header: authHeader(cfg), Key: cfg.AuthKey})
	multipart := validation.ContentType(validation.MIMEMultipartForm)
	upload := validation.Upload(validation.UploadConfig{Field: "file", MaxFileSize: cfg.MaxUploadSize})
	jsonBody := validation.ContentType(validation.MIMEJSON)

	app.Post("/analyze-document/", auth, multipart, upload, h.Documents.AnalyzeDocument)
	if cfg.ProtectImageAnalysis {
		app.Post("/analyze-images/", auth, multipart, upload, h.Documents.AnalyzeImages)
	} else {
		app.Post("/analyze-images/", multipart, upload, h.Documents.AnalyzeImages)
	}

	app.Post("/grade-document/", auth, multipart, upload, validation.RequireFormValue("rubric_id"), h.Grading.GradeDocument)

	rubrics := app.Group("/rubrics", auth)
	rubrics.Post("/", jsonBody, h.Rubrics.CreateRubric)
	rubrics.Get("/", h.Rubrics.ListRubrics)
	rubrics.Get("/:id", h.Rubrics.GetRubric)
	rubrics.Put("/:id", jsonBody, h.Rubrics.UpdateRubric)
	rubrics.Delete("/:id", h.Rubrics.DeleteRubric)

	return app
}

func authHeader(cfg Config) string {
	if cfg.AuthHeader == "" {
		return security.DefaultAuthHeader
	}
	return cfg.AuthHeader
}

func joinOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ", ")
}
