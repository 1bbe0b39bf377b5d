package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	FileField     string
	MaxUploadSize int64
	Logger        *zap.Logger
}

// UploadMiddleware rejects photo uploads that are not multipart, carry no
// file, declare a non-image part type, or exceed MaxUploadSize.
func UploadMiddleware(cfg Config) fiber.Handler {
	if cfg.FileField == "" {
		cfg.FileField = "file"
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 10 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Expected multipart/form-data upload",
			})
		}

		header, err := c.FormFile(cfg.FileField)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "No file uploaded",
			})
		}

		if header.Size > cfg.MaxUploadSize {
			cfg.Logger.Warn("Upload too large",
				zap.String("ip", c.IP()),
				zap.Int64("size", header.Size),
			)
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Image exceeds maximum size",
			})
		}

		if !isImagePart(header.Header.Get(fiber.HeaderContentType)) {
			cfg.Logger.Warn("Rejected non-image upload",
				zap.String("ip", c.IP()),
				zap.String("filename", header.Filename),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Uploaded file must be an image",
			})
		}

		return c.Next()
	}
}

// isImagePart accepts image/* and the generic types browsers and curl send
// when they cannot tell.
func isImagePart(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "", ct == "application/octet-stream":
		return true
	case strings.HasPrefix(ct, "image/"):
		return true
	}
	return false
}
