package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/bot"
	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/httpapi/middleware"
)

// accept binds an event, acknowledges it and hands it to the bot in the background.
func accept[T any](h *Handler, c *gin.Context, kind string, run func(ctx context.Context, ev T)) {
	var ev T
	if err := c.ShouldBindJSON(&ev); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid event: "+err.Error())
		return
	}
	rid := c.GetString(middleware.RequestIDKey)
	h.Log.Debug("event accepted", zap.String("kind", kind), zap.String("request_id", rid))

	h.pool.Go(c.Request.Context(), func(ctx context.Context) {
		run(ctx, ev)
	})
	common.OK(c, gin.H{"accepted": true, "request_id": rid})
}

func (h *Handler) TextEvent(c *gin.Context) {
	accept(h, c, "text", h.Bot.HandleText)
}

func (h *Handler) PhotoEvent(c *gin.Context) {
	accept(h, c, "photo", h.Bot.HandlePhoto)
}

func (h *Handler) CallbackEvent(c *gin.Context) {
	accept(h, c, "callback", h.Bot.HandleCallback)
}

func (h *Handler) CancelEvent(c *gin.Context) {
	accept(h, c, "cancel", h.Bot.HandleCancel)
}

func (h *Handler) CommandEvent(c *gin.Context) {
	accept(h, c, "command", h.Bot.HandleCommand)
}

// compile-time check
var _ EventHandler = (*bot.Bot)(nil)
