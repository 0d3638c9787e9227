package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestone-tracker/pkg/outbox"
)

type replayer interface {
	ListFailed(ctx context.Context, limit int) ([]*outbox.Event, error)
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type AdminHandler struct {
	replay replayer
	logger *zap.Logger
}

func NewAdminHandler(replay replayer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{replay: replay, logger: logger}
}

// ListFailedEvents 列出发送失败的 outbox 事件
// GET /api/admin/outbox/failed?limit=100
func (h *AdminHandler) ListFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		badRequest(c, "invalid limit parameter")
		return
	}

	events, err := h.replay.ListFailed(c.Request.Context(), limit)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if events == nil {
		events = []*outbox.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// ReplayEvents 重放 outbox 事件；不带 eventId 时重放所有失败事件
// POST /api/admin/outbox/replay {"eventId": 12}
func (h *AdminHandler) ReplayEvents(c *gin.Context) {
	var req struct {
		EventID *int64 `json:"eventId"`
		Limit   int    `json:"limit"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}

	if req.EventID != nil {
		if err := h.replay.ReplayEvent(c.Request.Context(), *req.EventID); err != nil {
			RespondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "replayed", "eventId": *req.EventID})
		return
	}

	count, err := h.replay.ReplayFailedEvents(c.Request.Context(), req.Limit)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "replayed": count})
}
