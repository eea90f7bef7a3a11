package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/storage/jsonfile"
	"github.com/doc-grader/backend/pkg/logger"
)

type LoadReporter interface {
	LoadReport() jsonfile.LoadReport
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store LoadReporter
	cache Pinger
}

// NewHealthHandler builds the probes. cache may be nil when caching is off.
func NewHealthHandler(store LoadReporter, cache Pinger) *HealthHandler {
	return &HealthHandler{
		store: store,
		cache: cache,
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready reports the rubric load outcome. A store that was reset is still
// ready; an unreachable cache is not.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	report := h.store.LoadReport()
	rubrics := fiber.Map{
		"loaded": report.Loaded,
		"reset":  report.Reset,
	}
	if report.Reset {
		rubrics["reason"] = report.Reason
	}

	if h.cache != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.cache.Ping(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("component", "redis"), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "unavailable",
				"rubrics": rubrics,
				"cache":   "unreachable",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status":  "ready",
		"rubrics": rubrics,
	})
}
