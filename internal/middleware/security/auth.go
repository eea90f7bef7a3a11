package security

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/pkg/logger"
)

const DefaultAuthHeader = "auth-key"

type AuthConfig struct {
	// Header carries the shared key, e.g. "auth-key".
	Header string
	Key    string
}

// AuthMiddleware rejects requests whose header does not match the configured
// key. An empty configured key rejects every request.
func AuthMiddleware(cfg AuthConfig) fiber.Handler {
	if cfg.Header == "" {
		cfg.Header = DefaultAuthHeader
	}
	expected := []byte(cfg.Key)

	return keyauth.New(keyauth.Config{
		KeyLookup: "header:" + cfg.Header,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Warn("Rejected unauthenticated request",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"detail": "Unauthorized",
			})
		},
	})
}
