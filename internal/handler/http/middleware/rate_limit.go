package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/schoolcore/identity-service/internal/service"
)

// RateLimitMiddleware charges one unit from the bucket per request, keyed by
// client IP for anonymous traffic and by user id once authenticated.
func RateLimitMiddleware(limiter *service.RateLimiter, bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.ClientIP()
		superuser := false
		if principal := PrincipalFrom(c); principal != nil {
			subject = principal.UserID.String()
			superuser = principal.IsSuperuser
		}

		decision, err := limiter.Allow(c.Request.Context(), bucket, subject, superuser)
		if err != nil {
			if decision.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}
		if decision.Remaining >= 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		c.Next()
	}
}
