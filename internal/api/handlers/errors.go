package handlers

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/apperror"
	"github.com/doc-grader/backend/pkg/logger"
)

var apiKeyPattern = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}|AIza[0-9A-Za-z_\-]{20,}`)

const redacted = "[REDACTED]"

// NewErrorHandler renders every error as {"detail": ...}. Secrets and
// anything shaped like a provider API key are scrubbed from the detail.
func NewErrorHandler(secrets ...string) fiber.ErrorHandler {
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			kept = append(kept, s)
		}
	}

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{"detail": fiberErr.Message})
		}

		status := apperror.StatusCode(err)
		detail := redact(apperror.Detail(err), kept)

		if status >= fiber.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.String("kind", apperror.KindOf(err).String()),
				zap.String("error", redact(err.Error(), kept)),
			)
		}

		return c.Status(status).JSON(fiber.Map{"detail": detail})
	}
}

func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return apiKeyPattern.ReplaceAllString(s, redacted)
}

// readUpload returns the filename and bytes of a multipart file field.
func readUpload(c *fiber.Ctx, field string) (string, []byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", nil, apperror.Invalid("File is required")
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, apperror.Processing("failed to open upload", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return "", nil, apperror.Processing("failed to read upload", err)
	}
	return fh.Filename, content, nil
}
