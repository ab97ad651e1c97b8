package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"branch-ops-service/internal/models"
	"branch-ops-service/internal/redisclient"
	"branch-ops-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sessionKey = "session"

// SessionProvider resolves a bearer token to a session
type SessionProvider interface {
	GetSession(ctx context.Context, token string) (*models.Session, error)
}

// SessionFromContext returns the session attached by the auth middleware
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*models.Session)
	return session, ok
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// sessionMiddleware rejects requests without a live session
func sessionMiddleware(sessions SessionProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		session, err := sessions.GetSession(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, redisclient.ErrCacheMiss) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
				return
			}
			util.GetLogger().Error("Session lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Session lookup failed"})
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
