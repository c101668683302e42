package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// VerifyCheckout reports the state of a hosted checkout session for the
// confirmation page. Settlement itself arrives through the webhook.
func (s *Server) VerifyCheckout(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		AbortWithError(c, newValidationError("session_id", "invalid_session_id", "session_id is required"))
		return
	}

	res, err := s.gateway.VerifySession(c.Request.Context(), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}
