package security

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newAuthApp(key string) *fiber.App {
	app := fiber.New()
	app.Get("/rubrics/", AuthMiddleware(AuthConfig{Header: "auth-key", Key: key}), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		wantStatus int
	}{
		{"matching key", "s3cret", "s3cret", fiber.StatusOK},
		{"wrong key", "s3cret", "guess", fiber.StatusForbidden},
		{"prefix of key", "s3cret", "s3c", fiber.StatusForbidden},
		{"missing header", "s3cret", "", fiber.StatusForbidden},
		{"unconfigured key rejects everything", "", "anything", fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newAuthApp(tt.configured)

			req := httptest.NewRequest("GET", "/rubrics/", nil)
			if tt.sent != "" {
				req.Header.Set("auth-key", tt.sent)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			if tt.wantStatus == fiber.StatusForbidden {
				var body map[string]string
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					t.Fatal(err)
				}
				if body["detail"] != "Unauthorized" {
					t.Fatalf("body = %v", body)
				}
			}
		})
	}
}

func TestHeadersMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{AllowedOrigins: []string{"*", "https://grader.example.com"}}))
	app.Get("/health/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/health/", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff")
	}
	if resp.Header.Get("Strict-Transport-Security") == "" {
		t.Fatal("HSTS expected outside development")
	}
	csp := resp.Header.Get("Content-Security-Policy")
	if !strings.Contains(csp, "connect-src 'self' https://grader.example.com;") {
		t.Fatalf("csp = %q", csp)
	}
	if strings.Contains(csp, "*") {
		t.Fatalf("wildcard leaked into csp: %q", csp)
	}
}

func TestHeadersMiddlewareDevelopment(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{IsDevelopment: true}))
	app.Get("/", func(c *fiber.Ctx) error { return nil })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must be off in development")
	}
}
