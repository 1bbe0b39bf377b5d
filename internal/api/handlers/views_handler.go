package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gutlog/backend/internal/storage/sqlite"
	"github.com/gutlog/backend/pkg/logger"
)

type ViewsHandler struct {
	tracker Tracker
	now     func() time.Time
}

func NewViewsHandler(t Tracker) *ViewsHandler {
	return &ViewsHandler{
		tracker: t,
		now:     time.Now,
	}
}

func (h *ViewsHandler) History(c *fiber.Ctx) error {
	entries, err := h.tracker.History(c.UserContext())
	if err != nil {
		return viewError(c, "history", err)
	}
	return c.JSON(entries)
}

func (h *ViewsHandler) Weekly(c *fiber.Ctx) error {
	week, err := h.tracker.WeeklyView(c.UserContext(), h.now())
	if err != nil {
		return viewError(c, "weekly", err)
	}
	return c.JSON(fiber.Map{
		"week_logs": week,
	})
}

func (h *ViewsHandler) Calendar(c *fiber.Ctx) error {
	counts, err := h.tracker.CalendarCounts(c.UserContext())
	if err != nil {
		return viewError(c, "calendar", err)
	}
	return c.JSON(counts)
}

func (h *ViewsHandler) Tip(c *fiber.Ctx) error {
	tip, err := h.tracker.DailyTip(c.UserContext(), h.now())
	if err != nil {
		return viewError(c, "tip", err)
	}
	return c.JSON(tip)
}

func viewError(c *fiber.Ctx, view string, err error) error {
	logger.Error("Failed to build view", zap.String("view", view), zap.Error(err))
	if errors.Is(err, sqlite.ErrStoreUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Log store unavailable",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to load " + view,
	})
}
