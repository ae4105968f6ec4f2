package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/auth"
	"github.com/suPer8Hu/relay-bot/internal/common"
)

const (
	UserIDKey       = "user_id"
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
	WebhookHeader   = "X-Webhook-Secret"
)

// Recovery turns a panic into a 500 envelope and logs it.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Stack("stack"),
				)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}

// RequestID keeps an inbound X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}
		uid, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

// AdminOnly must run after AuthRequired.
func AdminOnly(isAdmin func(int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := UserID(c)
		if !ok || !isAdmin(uid) {
			common.Fail(c, http.StatusForbidden, 40301, "admin only")
			return
		}
		c.Next()
	}
}

// WebhookSecret guards inbound transport events. An empty secret disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(WebhookHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid webhook secret")
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
