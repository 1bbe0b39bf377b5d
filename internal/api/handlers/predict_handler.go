package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gutlog/backend/internal/storage/models"
	"github.com/gutlog/backend/internal/storage/sqlite"
	"github.com/gutlog/backend/internal/storage/uploads"
	"github.com/gutlog/backend/internal/tracker"
	"github.com/gutlog/backend/pkg/logger"
)

// Tracker is the pipeline the HTTP and websocket handlers drive.
type Tracker interface {
	ClassifyAndLog(ctx context.Context, image []byte, displayRef string) (*models.Prediction, error)
	History(ctx context.Context) ([]models.LogEntry, error)
	WeeklyView(ctx context.Context, now time.Time) ([]models.WeeklyDay, error)
	CalendarCounts(ctx context.Context) (map[string]int, error)
	DailyTip(ctx context.Context, now time.Time) (models.Tip, error)
}

type PredictHandler struct {
	tracker Tracker
	uploads *uploads.Store
	now     func() time.Time
}

func NewPredictHandler(t Tracker, store *uploads.Store) *PredictHandler {
	return &PredictHandler{
		tracker: t,
		uploads: store,
		now:     time.Now,
	}
}

// Predict stores the uploaded photo, classifies it and logs the result.
// The stored file is removed again if no log row was written.
func (h *PredictHandler) Predict(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
		})
	}

	file, err := header.Open()
	if err != nil {
		logger.Error("Failed to open upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		logger.Error("Failed to read upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}

	saved, err := h.uploads.Save(header.Filename, data, h.now())
	if err != nil {
		logger.Error("Failed to store upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store image",
		})
	}

	prediction, err := h.tracker.ClassifyAndLog(c.UserContext(), data, saved.Ref)
	if err != nil {
		if rmErr := h.uploads.Remove(saved); rmErr != nil {
			logger.Warn("Failed to remove orphaned upload", zap.String("path", saved.Path), zap.Error(rmErr))
		}
		return predictError(c, err)
	}

	return c.JSON(prediction)
}

func predictError(c *fiber.Ctx, err error) error {
	switch {
	case tracker.IsClientError(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid image file",
		})
	case errors.Is(err, sqlite.ErrStoreUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Log store unavailable",
		})
	default:
		logger.Error("Prediction failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Prediction failed",
		})
	}
}
