package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets response hardening headers. The service only serves
// JSON, so the content security policy forbids everything but API calls from
// the allowed origins.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	connectSrc := "'self'"
	if origins := buildConnectSrc(cfg.AllowedOrigins); origins != "" {
		connectSrc += " " + origins
	}
	csp := "default-src 'none'; " +
		"connect-src " + connectSrc + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'; " +
		"form-action 'none'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")
		c.Set("Content-Security-Policy", csp)

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}

func buildConnectSrc(origins []string) string {
	kept := make([]string, 0, len(origins))
	for _, origin := range origins {
		// "*" is a CORS wildcard, not a CSP source.
		if origin == "" || origin == "*" {
			continue
		}
		kept = append(kept, origin)
	}
	return strings.Join(kept, " ")
}
