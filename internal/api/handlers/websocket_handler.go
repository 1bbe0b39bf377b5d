package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gutlog/backend/pkg/logger"
)

const (
	msgHistory  = "history"
	msgWeekly   = "weekly"
	msgCalendar = "calendar"
	msgTip      = "tip"
	msgError    = "error"
)

var knownViews = map[string]bool{
	msgHistory:  true,
	msgWeekly:   true,
	msgCalendar: true,
	msgTip:      true,
}

type WebSocketHandler struct {
	tracker Tracker
	now     func() time.Time
}

func NewWebSocketHandler(t Tracker) *WebSocketHandler {
	return &WebSocketHandler{
		tracker: t,
		now:     time.Now,
	}
}

// HandleConnection answers one view request per message until the client
// disconnects.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type string `json:"type"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if err := c.WriteJSON(h.reply(context.Background(), msg.Type)); err != nil {
			logger.Error("Failed to write websocket message", zap.Error(err))
			break
		}
	}
}

// reply builds the response for one request. Error details stay in the log;
// the client only sees a fixed message per view.
func (h *WebSocketHandler) reply(ctx context.Context, kind string) map[string]interface{} {
	data, err := h.view(ctx, kind)
	if err != nil {
		logger.Error("Failed to serve websocket view", zap.String("type", kind), zap.Error(err))

		msg := "Failed to load " + kind
		if !knownViews[kind] {
			msg = "Unknown message type"
		}
		return map[string]interface{}{
			"type":  msgError,
			"error": msg,
		}
	}

	return map[string]interface{}{
		"type": kind,
		"data": data,
	}
}

func (h *WebSocketHandler) view(ctx context.Context, kind string) (interface{}, error) {
	switch kind {
	case msgHistory:
		return h.tracker.History(ctx)
	case msgWeekly:
		return h.tracker.WeeklyView(ctx, h.now())
	case msgCalendar:
		return h.tracker.CalendarCounts(ctx)
	case msgTip:
		return h.tracker.DailyTip(ctx, h.now())
	default:
		return nil, fmt.Errorf("unknown message type %q", kind)
	}
}
