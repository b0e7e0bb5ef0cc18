package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shortyai/creditdesk/internal/observability/logger"
	"go.uber.org/zap"
)

// allowSubmit throttles payment notifications per signed-in user. It runs
// after request binding so malformed bodies do not spend the quota. On deny
// the request is aborted and false is returned.
func (s *Server) allowSubmit(c *gin.Context) bool {
	if s.submitLimiter == nil || !s.submitLimiter.Enabled() {
		return true
	}

	userID := strings.TrimSpace(c.GetString(contextUserIDKey))
	if userID == "" {
		AbortWithError(c, ErrUnauthorized)
		return false
	}

	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)

	result, err := s.submitLimiter.Allow(ctx, userID)
	if err != nil {
		logger.FromContext(ctx).Warn("payment submit rate limit check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}
	if result.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	}
	if !result.Allowed {
		logger.FromContext(ctx).Warn("payment submit rate limit exceeded", zap.String("endpoint", endpoint))
		s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter.Seconds())))
		AbortWithError(c, ErrRateLimited)
		return false
	}
	return true
}

func retryAfterSeconds(seconds float64) int {
	if seconds <= 1 {
		return 1
	}
	return int(math.Ceil(seconds))
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
