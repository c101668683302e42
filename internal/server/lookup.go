package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LookupRateLimit bounds returning-family lookups per client address.
func (s *Server) LookupRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.limiter.AllowLookup(c.Request.Context(), c.ClientIP())
		if err != nil {
			// fail open when the limiter backend is down
			s.log.Warn("lookup rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if res == nil {
			c.Next()
			return
		}

		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Lookup prefills the wizard for a returning family.
func (s *Server) Lookup(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		AbortWithError(c, newValidationError("email", "invalid_email", "email is required"))
		return
	}

	res, err := s.enrollmentSvc.Lookup(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}
