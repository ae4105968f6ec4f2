package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/auth"
	"github.com/suPer8Hu/relay-bot/internal/catalog"
	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/httpapi/middleware"
)

type loginReq struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !h.Cfg.IsAdmin(req.UserID) || !auth.CheckPassword(h.Cfg.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40104, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(req.UserID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token, "user_id": req.UserID})
}

func (h *Handler) ListModels(c *gin.Context) {
	all, err := h.Catalog.ListModels(c.Request.Context())
	if err != nil {
		h.Log.Error("list models failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"models": all, "default": h.Catalog.DefaultModel()})
}

func (h *Handler) ToggleModel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid model id")
		return
	}
	m, err := h.Catalog.ToggleModelActive(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownModel) {
			common.Fail(c, http.StatusNotFound, 40402, "model not found")
			return
		}
		h.Log.Error("toggle model failed", zap.Uint64("model_id", id), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	uid, _ := middleware.UserID(c)
	h.Log.Info("model toggled via api", zap.Int64("admin_id", uid), zap.String("model", m.Name), zap.Bool("active", m.IsActive))
	common.OK(c, m)
}

func (h *Handler) Stats(c *gin.Context) {
	date := c.DefaultQuery("date", h.Usage.Today())
	if _, err := time.Parse("2006-01-02", date); err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "date must be YYYY-MM-DD")
		return
	}
	rows, err := h.Usage.Daily(c.Request.Context(), date)
	if err != nil {
		h.Log.Error("daily stats failed", zap.String("date", date), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	var total int64
	for _, r := range rows {
		total += r.Total
	}
	common.OK(c, gin.H{"date": date, "total": total, "rows": rows})
}

func (h *Handler) Activity(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "invalid limit")
		return
	}
	top, err := h.Usage.TopUsers(c.Request.Context(), limit)
	if err != nil {
		h.Log.Error("activity failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"users": top})
}
