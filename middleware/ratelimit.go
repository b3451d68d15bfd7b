package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/pgsync/models"
	"zh.xyz/dv/pgsync/ratelimit"
)

// RateLimitMiddleware 按请求类别限流，必须在 AuthMiddleware 之后
// 所有产生写入的入口都要先过这一层
func RateLimitMiddleware(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证信息"})
			c.Abort()
			return
		}

		result := ratelimit.Default.CheckLimit(userID.(uint), class)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			limitErr := &models.RateLimitedError{RetryAfterSeconds: result.RetryAfterSeconds}
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":               limitErr.Error(),
				"retry_after_seconds": result.RetryAfterSeconds,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
