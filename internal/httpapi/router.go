package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/httpapi/handlers"
	"github.com/suPer8Hu/relay-bot/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(h.Log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// inbound transport events
	events := r.Group("/v1/events")
	events.Use(middleware.WebhookSecret(h.Cfg.WebhookSecret))
	events.POST("/text", h.TextEvent)
	events.POST("/photo", h.PhotoEvent)
	events.POST("/callback", h.CallbackEvent)
	events.POST("/cancel", h.CancelEvent)
	events.POST("/command", h.CommandEvent)

	// admin
	r.POST("/admin/login", h.Login)
	admin := r.Group("/admin")
	admin.Use(middleware.AuthRequired(h.Cfg.JWTSecret), middleware.AdminOnly(h.Cfg.IsAdmin))
	admin.GET("/models", h.ListModels)
	admin.POST("/models/:id/toggle", h.ToggleModel)
	admin.GET("/stats", h.Stats)
	admin.GET("/activity", h.Activity)
	return r
}
