package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tallyhq/tally/internal/observability/obscontext"
)

const (
	HeaderInternalToken = "X-Internal-Token"
	HeaderUserID        = "X-User-ID"

	contextUserIDKey = "user_id"
)

// UserRequired trusts the authenticating gateway in front of this service to
// have resolved the end user into the X-User-ID header.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(
			obscontext.WithActor(c.Request.Context(), userID),
		)
		c.Next()
	}
}

// InternalAuthRequired guards service-to-service endpoints with the shared
// internal token.
func (s *Server) InternalAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := s.cfg.InternalAPIKey
		if expected == "" {
			AbortWithError(c, ErrInternal)
			return
		}

		token := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// WebhookRateLimit throttles unauthenticated webhook traffic per source.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.Param("provider")
		if !s.webhookLimiter.Allow(key) {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func (s *Server) currentUserID(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
