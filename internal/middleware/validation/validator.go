package validation

import (
	"mime"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/pkg/logger"
)

const (
	MIMEMultipartForm = "multipart/form-data"
	MIMEJSON          = "application/json"
)

type UploadConfig struct {
	Field       string
	MaxFileSize int64
}

// ContentType rejects bodies whose media type is not in allowed.
func ContentType(allowed ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mediaType, _, err := mime.ParseMediaType(c.Get(fiber.HeaderContentType))
		if err == nil {
			for _, a := range allowed {
				if strings.EqualFold(mediaType, a) {
					return c.Next()
				}
			}
		}

		logger.Debug("Unsupported content type",
			zap.String("path", c.Path()),
			zap.String("content_type", c.Get(fiber.HeaderContentType)),
		)
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"detail": "Unsupported content type",
		})
	}
}

// Upload requires a multipart form carrying a non-empty file under
// cfg.Field within the size limit.
func Upload(cfg UploadConfig) fiber.Handler {
	if cfg.Field == "" {
		cfg.Field = "file"
	}
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile(cfg.Field)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"detail": "File is required",
			})
		}
		if fh.Filename == "" || fh.Size == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"detail": "Uploaded file is empty",
			})
		}
		if cfg.MaxFileSize > 0 && fh.Size > cfg.MaxFileSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"detail": "Uploaded file exceeds maximum size",
			})
		}
		return c.Next()
	}
}

// RequireFormValue rejects multipart requests missing a form field.
func RequireFormValue(field string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.TrimSpace(c.FormValue(field)) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"detail": field + " is required",
			})
		}
		return c.Next()
	}
}
