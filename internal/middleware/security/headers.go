package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'self'; " +
		"img-src 'self' data: blob:; " +
		"connect-src 'self' " + buildConnectSrc(cfg.AllowedOrigins) + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

// buildConnectSrc also admits websocket origins for each http(s) origin.
func buildConnectSrc(origins []string) string {
	var b strings.Builder
	for _, origin := range origins {
		b.WriteString(origin)
		b.WriteByte(' ')
		switch {
		case strings.HasPrefix(origin, "https://"):
			b.WriteString("wss://" + strings.TrimPrefix(origin, "https://") + " ")
		case strings.HasPrefix(origin, "http://"):
			b.WriteString("ws://" + strings.TrimPrefix(origin, "http://") + " ")
		}
	}
	return strings.TrimSpace(b.String())
}
